package services

import (
	"context"
	"crypto/rand"
	"time"

	"example.com/gatherly/services/attendance/internal/metrics"
	"example.com/gatherly/services/attendance/internal/models"
	"example.com/gatherly/services/attendance/internal/notifier"
	"example.com/gatherly/services/attendance/internal/repositories"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// codeRegistry is the slice of CheckinCodeRepository the redemption service needs
type codeRegistry interface {
	Create(ctx context.Context, code *models.CheckinCode) error
	GetByCode(ctx context.Context, code string) (*models.CheckinCode, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.CheckinCode, error)
	IncrementUses(ctx context.Context, id uuid.UUID) error
}

// checkinLedger is the slice of CheckinRepository the redemption service needs
type checkinLedger interface {
	Create(ctx context.Context, checkin *models.Checkin) error
	GetByEventAndUser(ctx context.Context, eventID, userID uuid.UUID) (*models.Checkin, error)
}

// RedemptionService validates check-in codes against their constraints and
// records exactly-once check-ins.
type RedemptionService struct {
	events   eventStore
	codes    codeRegistry
	checkins checkinLedger
	notifier notifier.Notifier
	metrics  *metrics.Metrics
}

// NewRedemptionService creates a new redemption service
func NewRedemptionService(
	events *repositories.EventRepository,
	codes *repositories.CheckinCodeRepository,
	checkins *repositories.CheckinRepository,
	n notifier.Notifier,
	m *metrics.Metrics,
) *RedemptionService {
	return &RedemptionService{
		events:   events,
		codes:    codes,
		checkins: checkins,
		notifier: n,
		metrics:  m,
	}
}

// Redeem validates a check-in code and records the check-in. Checks run in
// a fixed order and the first failing check wins: existence, expiry, usage
// limit, duplicate check-in.
func (s *RedemptionService) Redeem(ctx context.Context, code string, userID uuid.UUID, method string) (*models.Checkin, error) {
	start := time.Now()
	defer func() {
		s.recordTimer(metrics.TimerRedeem, start)
	}()

	record, err := s.codes.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			s.incrementCounter(metrics.CounterRedemptionsRejected)
			return nil, errors.WithMessage(ErrNotFound, "check-in code not found")
		}
		return nil, errors.Wrap(err, "failed to look up check-in code")
	}

	if record.ExpiresAt != nil && record.ExpiresAt.Before(time.Now()) {
		s.incrementCounter(metrics.CounterRedemptionsRejected)
		return nil, errors.WithMessage(ErrGone, "code has expired")
	}

	if record.MaxUses != nil && record.CurrentUses >= *record.MaxUses {
		s.incrementCounter(metrics.CounterRedemptionsRejected)
		return nil, errors.WithMessage(ErrGone, "usage limit reached")
	}

	existing, err := s.checkins.GetByEventAndUser(ctx, record.EventID, userID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, errors.Wrap(err, "failed to look up check-in")
	}
	if existing != nil {
		s.incrementCounter(metrics.CounterRedemptionsRejected)
		return nil, errors.WithMessage(ErrConflict, "already checked in")
	}

	checkin := &models.Checkin{
		ID:            uuid.New(),
		EventID:       record.EventID,
		UserID:        userID,
		CheckinCodeID: record.ID,
		Method:        models.NormalizeCheckinMethod(method),
		CheckedInAt:   time.Now(),
	}

	if err := s.checkins.Create(ctx, checkin); err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			// Lost a race with a concurrent redemption by the same user;
			// the unique index keeps the ledger exactly-once.
			s.incrementCounter(metrics.CounterRedemptionsRejected)
			return nil, errors.WithMessage(ErrConflict, "already checked in")
		}
		return nil, errors.Wrap(err, "failed to record check-in")
	}

	// Relative increment: concurrent redemptions serialize at the storage
	// layer instead of overwriting each other. The check-in row above is
	// the authoritative ledger, so a failed bump is drift to reconcile,
	// not a failed check-in.
	if err := s.codes.IncrementUses(ctx, record.ID); err != nil {
		log.Warn().
			Err(err).
			Str("code_id", record.ID.String()).
			Msg("Failed to increment code usage count")
	}

	s.incrementCounter(metrics.CounterCheckins)

	s.notify(notifier.Notification{
		Type:          notifier.TypeCheckinRecorded,
		EventID:       record.EventID,
		UserID:        userID,
		Method:        checkin.Method,
		CheckinCodeID: &record.ID,
		ActorID:       userID,
		Operation:     "redeem",
	})

	log.Info().
		Str("event_id", record.EventID.String()).
		Str("user_id", userID.String()).
		Str("method", checkin.Method).
		Msg("Check-in recorded")

	return checkin, nil
}

// CreateCode registers a new check-in code for an event. The code string is
// generated server-side, opaque and human-typeable.
func (s *RedemptionService) CreateCode(ctx context.Context, eventID, createdBy uuid.UUID, maxUses *int, expiresAt *time.Time) (*models.CheckinCode, error) {
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

	if maxUses != nil && *maxUses <= 0 {
		return nil, errors.WithMessage(ErrInvalidState, "max uses must be positive")
	}

	code := &models.CheckinCode{
		ID:        uuid.New(),
		EventID:   eventID,
		Code:      generateCode(8),
		CreatedBy: createdBy,
		MaxUses:   maxUses,
		ExpiresAt: expiresAt,
	}

	if err := s.codes.Create(ctx, code); err != nil {
		return nil, errors.Wrap(err, "failed to create check-in code")
	}

	log.Info().
		Str("event_id", eventID.String()).
		Str("code_id", code.ID.String()).
		Msg("Check-in code created")

	return code, nil
}

// ListCodes returns the check-in codes registered for an event
func (s *RedemptionService) ListCodes(ctx context.Context, eventID uuid.UUID) ([]models.CheckinCode, error) {
	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, errors.WithMessage(ErrNotFound, "event not found")
		}
		return nil, errors.Wrap(err, "failed to load event")
	}

	codes, err := s.codes.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list check-in codes")
	}

	return codes, nil
}

// codeAlphabet avoids characters that read ambiguously when typed by hand
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

func generateCode(length int) string {
	buf := make([]byte, length)
	rand.Read(buf)
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}

func (s *RedemptionService) notify(n notifier.Notification) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(n)
}

func (s *RedemptionService) incrementCounter(name string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncrementCounter(name)
}

func (s *RedemptionService) recordTimer(name string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordTimer(name, time.Since(start).Milliseconds())
}
