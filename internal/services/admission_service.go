package services

import (
	"context"
	"time"

	"example.com/gatherly/services/attendance/internal/cache"
	"example.com/gatherly/services/attendance/internal/metrics"
	"example.com/gatherly/services/attendance/internal/models"
	"example.com/gatherly/services/attendance/internal/notifier"
	"example.com/gatherly/services/attendance/internal/repositories"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// eventStore is the slice of EventRepository the admission service needs
type eventStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	SetConfirmedCount(ctx context.Context, id uuid.UUID, count int) error
	ListWithRSVPActivitySince(ctx context.Context, since time.Time, limit int) ([]models.Event, error)
}

// rsvpLedger is the slice of RSVPRepository the admission service needs
type rsvpLedger interface {
	Create(ctx context.Context, rsvp *models.RSVP) error
	GetActive(ctx context.Context, eventID, userID uuid.UUID) (*models.RSVP, error)
	GetLatest(ctx context.Context, eventID, userID uuid.UUID) (*models.RSVP, error)
	DeleteCancelled(ctx context.Context, eventID, userID uuid.UUID) error
	CountByStatus(ctx context.Context, eventID uuid.UUID, status string) (int, error)
	MaxWaitlistPosition(ctx context.Context, eventID uuid.UUID) (int, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time) error
	NextWaitlisted(ctx context.Context, eventID uuid.UUID) (*models.RSVP, error)
	Promote(ctx context.Context, id uuid.UUID) error
}

// summaryCache is the slice of the Redis cache used for RSVP summaries
type summaryCache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
}

// AdmissionService decides confirmed-vs-waitlisted on RSVP creation and
// performs FIFO waitlist promotion on cancellation.
//
// Each decision is made from a fresh read immediately preceding the write.
// Reads and writes are individual statements, so the read-then-decide-then-
// write sequence is not atomic as a whole: two concurrent CreateRSVP calls
// racing for the last seat can both observe count < capacity and both
// confirm. ReconcileConfirmedCounts self-heals the denormalized count; the
// ledger rows themselves are left as admitted.
type AdmissionService struct {
	events   eventStore
	rsvps    rsvpLedger
	cache    summaryCache
	notifier notifier.Notifier
	metrics  *metrics.Metrics
}

// NewAdmissionService creates a new admission service
func NewAdmissionService(
	events *repositories.EventRepository,
	rsvps *repositories.RSVPRepository,
	summaries *cache.RedisCache,
	n notifier.Notifier,
	m *metrics.Metrics,
) *AdmissionService {
	s := &AdmissionService{
		events:   events,
		rsvps:    rsvps,
		notifier: n,
		metrics:  m,
	}
	// Keep the interface nil when no cache was constructed
	if summaries != nil {
		s.cache = summaries
	}
	return s
}

// CreateRSVP records an attendance intent for (event, user). The result is
// confirmed when capacity allows, otherwise waitlisted at the tail of the
// FIFO queue.
func (s *AdmissionService) CreateRSVP(ctx context.Context, eventID, userID uuid.UUID) (*models.RSVP, error) {
	start := time.Now()
	defer func() {
		s.recordTimer(metrics.TimerCreateRSVP, start)
	}()

	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, errors.WithMessage(ErrNotFound, "event not found")
		}
		return nil, errors.Wrap(err, "failed to load event")
	}

	if event.Status == models.EventStatusCancelled {
		return nil, errors.WithMessage(ErrInvalidState, "event is cancelled")
	}

	existing, err := s.rsvps.GetActive(ctx, eventID, userID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, errors.Wrap(err, "failed to look up existing RSVP")
	}
	if existing != nil {
		return nil, errors.WithMessage(ErrConflict, "already RSVP'd")
	}

	// A previously cancelled RSVP is discarded so the pair can re-enter
	// with a clean row.
	if err := s.rsvps.DeleteCancelled(ctx, eventID, userID); err != nil {
		return nil, errors.Wrap(err, "failed to discard cancelled RSVP")
	}

	confirmed, err := s.rsvps.CountByStatus(ctx, eventID, models.RSVPStatusConfirmed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count confirmed RSVPs")
	}

	rsvp := &models.RSVP{
		ID:      uuid.New(),
		EventID: eventID,
		UserID:  userID,
		RSVPAt:  time.Now(),
	}

	if event.MaxAttendees == nil || confirmed < *event.MaxAttendees {
		rsvp.Status = models.RSVPStatusConfirmed

		if err := s.rsvps.Create(ctx, rsvp); err != nil {
			if errors.Is(err, repositories.ErrDuplicateKey) {
				return nil, errors.WithMessage(ErrConflict, "already RSVP'd")
			}
			return nil, errors.Wrap(err, "failed to create RSVP")
		}

		if err := s.events.SetConfirmedCount(ctx, eventID, confirmed+1); err != nil {
			// The ledger row is authoritative; the reconciliation job
			// repairs the cached count.
			log.Warn().
				Err(err).
				Str("event_id", eventID.String()).
				Msg("Failed to update confirmed count cache")
		}

		s.incrementCounter(metrics.CounterRSVPsConfirmed)
	} else {
		// The tail is max position + 1, not count + 1: promotion clears
		// the promoted row's position without renumbering the rest, so
		// the count can lag behind the highest held position.
		maxPos, err := s.rsvps.MaxWaitlistPosition(ctx, eventID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get waitlist tail")
		}

		position := maxPos + 1
		rsvp.Status = models.RSVPStatusWaitlisted
		rsvp.WaitlistPosition = &position

		if err := s.rsvps.Create(ctx, rsvp); err != nil {
			if errors.Is(err, repositories.ErrDuplicateKey) {
				return nil, errors.WithMessage(ErrConflict, "already RSVP'd")
			}
			return nil, errors.Wrap(err, "failed to create RSVP")
		}

		s.incrementCounter(metrics.CounterRSVPsWaitlisted)
	}

	s.invalidateSummary(ctx, eventID)

	s.notify(notifier.Notification{
		Type:             notifier.TypeRSVPCreated,
		EventID:          eventID,
		UserID:           userID,
		Status:           rsvp.Status,
		WaitlistPosition: rsvp.WaitlistPosition,
		ActorID:          userID,
		Operation:        "create_rsvp",
	})

	log.Info().
		Str("event_id", eventID.String()).
		Str("user_id", userID.String()).
		Str("status", rsvp.Status).
		Msg("RSVP created")

	return rsvp, nil
}

// CancelResult reports the outcome of an RSVP cancellation
type CancelResult struct {
	PromotedUserID *uuid.UUID `json:"promoted_user_id,omitempty"`
}

// CancelRSVP cancels the caller's RSVP. When the cancelled RSVP held a
// confirmed seat, the waitlisted RSVP with the lowest position is promoted.
// Cancelling a waitlisted RSVP never promotes; it only vacates a queue slot.
func (s *AdmissionService) CancelRSVP(ctx context.Context, eventID, userID uuid.UUID) (*CancelResult, error) {
	start := time.Now()
	defer func() {
		s.recordTimer(metrics.TimerCancelRSVP, start)
	}()

	rsvp, err := s.rsvps.GetActive(ctx, eventID, userID)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, errors.Wrap(err, "failed to look up RSVP")
		}

		// Distinguish "never RSVP'd" from "already cancelled"
		latest, latestErr := s.rsvps.GetLatest(ctx, eventID, userID)
		if latestErr == nil && latest.Status == models.RSVPStatusCancelled {
			return nil, errors.WithMessage(ErrInvalidState, "RSVP already cancelled")
		}
		return nil, errors.WithMessage(ErrNotFound, "no RSVP for this event")
	}

	wasConfirmed := rsvp.Status == models.RSVPStatusConfirmed

	if err := s.rsvps.MarkCancelled(ctx, rsvp.ID, time.Now()); err != nil {
		if errors.Is(err, repositories.ErrUpdateFailed) {
			// Lost a race with another cancel for the same row
			return nil, errors.WithMessage(ErrInvalidState, "RSVP already cancelled")
		}
		return nil, errors.Wrap(err, "failed to cancel RSVP")
	}

	result := &CancelResult{}

	if wasConfirmed {
		next, err := s.rsvps.NextWaitlisted(ctx, eventID)
		if err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return nil, errors.Wrap(err, "failed to find next waitlisted RSVP")
		}

		if next != nil {
			if err := s.rsvps.Promote(ctx, next.ID); err != nil {
				return nil, errors.Wrap(err, "failed to promote waitlisted RSVP")
			}

			result.PromotedUserID = &next.UserID
			s.incrementCounter(metrics.CounterWaitlistPromotions)

			s.notify(notifier.Notification{
				Type:                 notifier.TypeRSVPPromoted,
				EventID:              eventID,
				UserID:               next.UserID,
				Status:               models.RSVPStatusConfirmed,
				PromotedFromWaitlist: true,
				ActorID:              userID,
				Operation:            "cancel_rsvp",
			})

			log.Info().
				Str("event_id", eventID.String()).
				Str("promoted_user_id", next.UserID.String()).
				Msg("Waitlisted RSVP promoted")
		}
	}

	// Recompute the cached count from the ledger instead of decrementing
	// in place, so any prior drift heals here.
	confirmed, err := s.rsvps.CountByStatus(ctx, eventID, models.RSVPStatusConfirmed)
	if err != nil {
		log.Warn().Err(err).Str("event_id", eventID.String()).Msg("Failed to recount confirmed RSVPs")
	} else if err := s.events.SetConfirmedCount(ctx, eventID, confirmed); err != nil {
		log.Warn().Err(err).Str("event_id", eventID.String()).Msg("Failed to update confirmed count cache")
	}

	s.invalidateSummary(ctx, eventID)
	s.incrementCounter(metrics.CounterRSVPsCancelled)

	s.notify(notifier.Notification{
		Type:      notifier.TypeRSVPCancelled,
		EventID:   eventID,
		UserID:    userID,
		Status:    models.RSVPStatusCancelled,
		ActorID:   userID,
		Operation: "cancel_rsvp",
	})

	log.Info().
		Str("event_id", eventID.String()).
		Str("user_id", userID.String()).
		Bool("was_confirmed", wasConfirmed).
		Msg("RSVP cancelled")

	return result, nil
}

// GetRSVPStatus returns the caller's current non-cancelled RSVP, or nil
// when none exists
func (s *AdmissionService) GetRSVPStatus(ctx context.Context, eventID, userID uuid.UUID) (*models.RSVP, error) {
	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, errors.WithMessage(ErrNotFound, "event not found")
		}
		return nil, errors.Wrap(err, "failed to load event")
	}

	rsvp, err := s.rsvps.GetActive(ctx, eventID, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to look up RSVP")
	}

	return rsvp, nil
}

// GetRSVPSummary returns aggregate counts for an event, served from the
// Redis cache when fresh
func (s *AdmissionService) GetRSVPSummary(ctx context.Context, eventID uuid.UUID) (*models.RSVPSummary, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, errors.WithMessage(ErrNotFound, "event not found")
		}
		return nil, errors.Wrap(err, "failed to load event")
	}

	key := cache.GetSummaryCacheKey(eventID)

	if s.cache != nil {
		var cached models.RSVPSummary
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	confirmed, err := s.rsvps.CountByStatus(ctx, eventID, models.RSVPStatusConfirmed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count confirmed RSVPs")
	}

	waitlisted, err := s.rsvps.CountByStatus(ctx, eventID, models.RSVPStatusWaitlisted)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count waitlisted RSVPs")
	}

	summary := &models.RSVPSummary{
		EventID:    eventID,
		Confirmed:  confirmed,
		Waitlisted: waitlisted,
		Capacity:   event.MaxAttendees,
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, summary, cache.SummaryTTL); err != nil {
			log.Debug().Err(err).Str("event_id", eventID.String()).Msg("Failed to cache RSVP summary")
		}
	}

	return summary, nil
}

// ReconcileConfirmedCounts recomputes the denormalized confirmed count for
// events with recent RSVP activity. Run periodically by the worker as the
// self-healing half of the admission design.
func (s *AdmissionService) ReconcileConfirmedCounts(ctx context.Context, since time.Time, limit int) error {
	events, err := s.events.ListWithRSVPActivitySince(ctx, since, limit)
	if err != nil {
		return errors.Wrap(err, "failed to list events for reconciliation")
	}

	for _, event := range events {
		confirmed, err := s.rsvps.CountByStatus(ctx, event.ID, models.RSVPStatusConfirmed)
		if err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("Failed to recount confirmed RSVPs during reconciliation")
			continue
		}

		if confirmed == event.ConfirmedCount {
			continue
		}

		log.Warn().
			Str("event_id", event.ID.String()).
			Int("cached", event.ConfirmedCount).
			Int("actual", confirmed).
			Msg("Confirmed count drift detected, repairing")

		if err := s.events.SetConfirmedCount(ctx, event.ID, confirmed); err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("Failed to repair confirmed count")
			continue
		}

		s.invalidateSummary(ctx, event.ID)
		s.incrementCounter(metrics.CounterConfirmedCountDrift)
	}

	s.incrementCounter(metrics.CounterReconciledEvents)
	return nil
}

func (s *AdmissionService) invalidateSummary(ctx context.Context, eventID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.GetSummaryCacheKey(eventID)); err != nil {
		log.Debug().Err(err).Str("event_id", eventID.String()).Msg("Failed to invalidate RSVP summary cache")
	}
}

func (s *AdmissionService) notify(n notifier.Notification) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(n)
}

func (s *AdmissionService) incrementCounter(name string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncrementCounter(name)
}

func (s *AdmissionService) recordTimer(name string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordTimer(name, time.Since(start).Milliseconds())
}
