package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/gatherly/services/attendance/internal/models"
)

// Every method here is a single statement against the store. There is no
// multi-statement transactional envelope: the services layer composes these
// calls as read-then-decide-then-write sequences and documents the windows
// that leaves open.

// EventRepository provides access to event records
type EventRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *gorm.DB, readOnlyDB *gorm.DB) *EventRepository {
	return &EventRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetByID gets an event by ID
func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	// Use read-only DB for reads
	err := r.readOnlyDB.WithContext(ctx).First(&event, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get event by ID")
	}
	return &event, nil
}

// SetConfirmedCount persists the denormalized confirmed attendee count.
// The admission service is the only writer of this column.
func (r *EventRepository) SetConfirmedCount(ctx context.Context, id uuid.UUID, count int) error {
	result := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", id).
		Update("confirmed_count", count)

	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to set confirmed count")
	}

	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// ListWithRSVPActivitySince lists events whose RSVP ledger changed after the
// given time, for confirmed-count reconciliation.
func (r *EventRepository) ListWithRSVPActivitySince(ctx context.Context, since time.Time, limit int) ([]models.Event, error) {
	var events []models.Event
	sub := r.readOnlyDB.
		Model(&models.RSVP{}).
		Select("event_id").
		Where("updated_at > ?", since)

	err := r.readOnlyDB.WithContext(ctx).
		Where("id IN (?)", sub).
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list events with recent RSVP activity")
	}
	return events, nil
}

// RSVPRepository provides access to the RSVP ledger
type RSVPRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewRSVPRepository creates a new RSVP repository
func NewRSVPRepository(db *gorm.DB, readOnlyDB *gorm.DB) *RSVPRepository {
	return &RSVPRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create inserts a new RSVP row
func (r *RSVPRepository) Create(ctx context.Context, rsvp *models.RSVP) error {
	err := r.db.WithContext(ctx).Create(rsvp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return errors.Wrap(err, "failed to create RSVP")
	}
	return nil
}

// GetLatest gets the most recent RSVP row for (event, user) regardless of status
func (r *RSVPRepository) GetLatest(ctx context.Context, eventID, userID uuid.UUID) (*models.RSVP, error) {
	var rsvp models.RSVP
	err := r.readOnlyDB.WithContext(ctx).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		Order("rsvp_at DESC").
		First(&rsvp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get RSVP")
	}
	return &rsvp, nil
}

// GetActive gets the non-cancelled RSVP for (event, user), if any
func (r *RSVPRepository) GetActive(ctx context.Context, eventID, userID uuid.UUID) (*models.RSVP, error) {
	var rsvp models.RSVP
	err := r.readOnlyDB.WithContext(ctx).
		Where("event_id = ? AND user_id = ? AND status <> ?", eventID, userID, models.RSVPStatusCancelled).
		First(&rsvp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get active RSVP")
	}
	return &rsvp, nil
}

// DeleteCancelled soft-deletes cancelled RSVP rows for (event, user),
// clearing the way for a fresh re-RSVP. Deleted rows stay queryable via
// Unscoped for audit.
func (r *RSVPRepository) DeleteCancelled(ctx context.Context, eventID, userID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND user_id = ? AND status = ?", eventID, userID, models.RSVPStatusCancelled).
		Delete(&models.RSVP{}).Error
	if err != nil {
		return errors.Wrap(err, "failed to delete cancelled RSVP")
	}
	return nil
}

// CountByStatus counts RSVP rows for an event with the given status
func (r *RSVPRepository) CountByStatus(ctx context.Context, eventID uuid.UUID, status string) (int, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.RSVP{}).
		Where("event_id = ? AND status = ?", eventID, status).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count RSVPs by status")
	}
	return int(count), nil
}

// MaxWaitlistPosition returns the highest position currently held by a
// waitlisted RSVP for an event, or 0 when the waitlist is empty. Promotion
// clears the promoted row's position, so the tail is the max over the
// remaining rows, not their count.
func (r *RSVPRepository) MaxWaitlistPosition(ctx context.Context, eventID uuid.UUID) (int, error) {
	var max int
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.RSVP{}).
		Where("event_id = ? AND status = ?", eventID, models.RSVPStatusWaitlisted).
		Select("COALESCE(MAX(waitlist_position), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to get max waitlist position")
	}
	return max, nil
}

// MarkCancelled sets an RSVP to cancelled. The waitlist position is kept on
// the row for audit.
func (r *RSVPRepository) MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.RSVP{}).
		Where("id = ? AND status <> ?", id, models.RSVPStatusCancelled).
		Updates(map[string]interface{}{
			"status":       models.RSVPStatusCancelled,
			"cancelled_at": at,
		})

	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to mark RSVP cancelled")
	}

	if result.RowsAffected == 0 {
		return ErrUpdateFailed
	}

	return nil
}

// NextWaitlisted returns the waitlisted RSVP with the lowest position for
// an event. rsvp_at breaks any tie left by a concurrent join so the pick
// stays deterministic.
func (r *RSVPRepository) NextWaitlisted(ctx context.Context, eventID uuid.UUID) (*models.RSVP, error) {
	var rsvp models.RSVP
	err := r.readOnlyDB.WithContext(ctx).
		Where("event_id = ? AND status = ?", eventID, models.RSVPStatusWaitlisted).
		Order("waitlist_position ASC, rsvp_at ASC").
		First(&rsvp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get next waitlisted RSVP")
	}
	return &rsvp, nil
}

// Promote moves a waitlisted RSVP to confirmed and clears its queue position
func (r *RSVPRepository) Promote(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.RSVP{}).
		Where("id = ? AND status = ?", id, models.RSVPStatusWaitlisted).
		Updates(map[string]interface{}{
			"status":            models.RSVPStatusConfirmed,
			"waitlist_position": nil,
		})

	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to promote RSVP")
	}

	if result.RowsAffected == 0 {
		return ErrUpdateFailed
	}

	return nil
}

// CheckinCodeRepository provides access to the check-in code registry
type CheckinCodeRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewCheckinCodeRepository creates a new check-in code repository
func NewCheckinCodeRepository(db *gorm.DB, readOnlyDB *gorm.DB) *CheckinCodeRepository {
	return &CheckinCodeRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create inserts a new check-in code
func (r *CheckinCodeRepository) Create(ctx context.Context, code *models.CheckinCode) error {
	err := r.db.WithContext(ctx).Create(code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return errors.Wrap(err, "failed to create check-in code")
	}
	return nil
}

// GetByCode looks a code up by its opaque string
func (r *CheckinCodeRepository) GetByCode(ctx context.Context, code string) (*models.CheckinCode, error) {
	var record models.CheckinCode
	err := r.readOnlyDB.WithContext(ctx).
		Where("code = ?", code).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get check-in code")
	}
	return &record, nil
}

// ListByEvent lists the codes registered for an event
func (r *CheckinCodeRepository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.CheckinCode, error) {
	var codes []models.CheckinCode
	err := r.readOnlyDB.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at ASC").
		Find(&codes).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list check-in codes")
	}
	return codes, nil
}

// IncrementUses bumps current_uses by one as a relative update. The
// storage engine serializes concurrent increments, so racers never
// overwrite each other's bump.
func (r *CheckinCodeRepository) IncrementUses(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.CheckinCode{}).
		Where("id = ?", id).
		UpdateColumn("current_uses", gorm.Expr("current_uses + ?", 1))

	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to increment code uses")
	}

	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// CheckinRepository provides access to the check-in ledger
type CheckinRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewCheckinRepository creates a new check-in repository
func NewCheckinRepository(db *gorm.DB, readOnlyDB *gorm.DB) *CheckinRepository {
	return &CheckinRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create inserts a check-in row. The unique index on (event_id, user_id)
// turns a concurrent double check-in into ErrDuplicateKey.
func (r *CheckinRepository) Create(ctx context.Context, checkin *models.Checkin) error {
	err := r.db.WithContext(ctx).Create(checkin).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return errors.Wrap(err, "failed to create check-in")
	}
	return nil
}

// GetByEventAndUser gets the check-in row for (event, user), if any
func (r *CheckinRepository) GetByEventAndUser(ctx context.Context, eventID, userID uuid.UUID) (*models.Checkin, error) {
	var checkin models.Checkin
	err := r.readOnlyDB.WithContext(ctx).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		First(&checkin).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get check-in")
	}
	return &checkin, nil
}
