package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Notification types emitted by the attendance core
const (
	TypeRSVPCreated     = "rsvp.created"
	TypeRSVPCancelled   = "rsvp.cancelled"
	TypeRSVPPromoted    = "rsvp.promoted"
	TypeCheckinRecorded = "checkin.recorded"
)

// Notification is the envelope consumed downstream (achievements, webhooks).
type Notification struct {
	Type                 string     `json:"type"`
	EventID              uuid.UUID  `json:"event_id"`
	UserID               uuid.UUID  `json:"user_id"`
	Status               string     `json:"status,omitempty"`
	WaitlistPosition     *int       `json:"waitlist_position,omitempty"`
	PromotedFromWaitlist bool       `json:"promoted_from_waitlist,omitempty"`
	Method               string     `json:"method,omitempty"`
	CheckinCodeID        *uuid.UUID `json:"checkin_code_id,omitempty"`
	ActorID              uuid.UUID  `json:"actor_id"`
	Operation            string     `json:"operation"`
	OccurredAt           time.Time  `json:"occurred_at"`
}

// Notifier delivers domain notifications. Implementations must never block
// or fail the calling admission/redemption operation: delivery is
// best-effort and failures are logged, not surfaced.
type Notifier interface {
	Notify(n Notification)
	Close()
}

// AsyncNotifier hands notifications to a background goroutine over a
// buffered channel and relays them to the Service Bus queue. A full buffer
// drops the notification rather than applying backpressure to the
// admission/redemption critical path.
type AsyncNotifier struct {
	client  ServiceBusClient
	queue   chan Notification
	done    chan struct{}
	wg      sync.WaitGroup
	timeout time.Duration
	once    sync.Once
}

// NewAsyncNotifier creates a notifier and starts its relay goroutine
func NewAsyncNotifier(client ServiceBusClient, bufferSize int) *AsyncNotifier {
	if bufferSize <= 0 {
		bufferSize = 256
	}

	n := &AsyncNotifier{
		client:  client,
		queue:   make(chan Notification, bufferSize),
		done:    make(chan struct{}),
		timeout: 10 * time.Second,
	}

	n.wg.Add(1)
	go n.relay()

	return n
}

// Notify enqueues a notification for delivery. Never blocks.
func (n *AsyncNotifier) Notify(notification Notification) {
	if notification.OccurredAt.IsZero() {
		notification.OccurredAt = time.Now().UTC()
	}

	select {
	case n.queue <- notification:
	default:
		log.Warn().
			Str("type", notification.Type).
			Str("event_id", notification.EventID.String()).
			Msg("Notification buffer full, dropping notification")
	}
}

// relay drains the queue and sends each notification to the Service Bus
func (n *AsyncNotifier) relay() {
	defer n.wg.Done()

	for {
		select {
		case notification := <-n.queue:
			n.send(notification)
		case <-n.done:
			// Drain whatever is still buffered before exiting
			for {
				select {
				case notification := <-n.queue:
					n.send(notification)
				default:
					return
				}
			}
		}
	}
}

func (n *AsyncNotifier) send(notification Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.client.SendMessage(ctx, notification); err != nil {
		log.Error().
			Err(err).
			Str("type", notification.Type).
			Str("event_id", notification.EventID.String()).
			Str("user_id", notification.UserID.String()).
			Msg("Failed to deliver notification")
		return
	}

	log.Debug().
		Str("type", notification.Type).
		Str("event_id", notification.EventID.String()).
		Msg("Notification delivered")
}

// Close stops the relay goroutine after draining buffered notifications
func (n *AsyncNotifier) Close() {
	n.once.Do(func() {
		close(n.done)
	})
	n.wg.Wait()

	if err := n.client.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close Service Bus client")
	}
}
