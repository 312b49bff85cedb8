package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Event lifecycle statuses
const (
	EventStatusActive    = "active"
	EventStatusDraft     = "draft"
	EventStatusCancelled = "cancelled"
)

// RSVP statuses
const (
	RSVPStatusConfirmed  = "confirmed"
	RSVPStatusWaitlisted = "waitlisted"
	RSVPStatusCancelled  = "cancelled"
)

// Check-in methods
const (
	CheckinMethodLink = "link"
	CheckinMethodQR   = "qr"
	CheckinMethodNFC  = "nfc"
)

// Event represents a community event. The event record itself is owned by
// the events service; this service only reads capacity and lifecycle status,
// and maintains the denormalized ConfirmedCount.
type Event struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
	Title          string         `gorm:"not null" json:"title"`
	Status         string         `gorm:"not null;default:active" json:"status"`
	MaxAttendees   *int           `json:"max_attendees"`
	ConfirmedCount int            `gorm:"not null;default:0" json:"confirmed_count"`
	RSVPs          []RSVP         `gorm:"foreignKey:EventID" json:"-"`
	CheckinCodes   []CheckinCode  `gorm:"foreignKey:EventID" json:"-"`
}

// RSVP is one attendance intent per (event, user). Cancelled rows are kept
// for audit; the re-RSVP path soft-deletes the cancelled row and inserts a
// fresh one.
type RSVP struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
	EventID          uuid.UUID      `gorm:"type:uuid;not null;index:idx_rsvp_event_user" json:"event_id"`
	UserID           uuid.UUID      `gorm:"type:uuid;not null;index:idx_rsvp_event_user" json:"user_id"`
	Status           string         `gorm:"not null" json:"status"`
	WaitlistPosition *int           `json:"waitlist_position"`
	RSVPAt           time.Time      `gorm:"not null" json:"rsvp_at"`
	CancelledAt      *time.Time     `json:"cancelled_at"`
	Event            Event          `gorm:"foreignKey:EventID" json:"-"`
}

// CheckinCode is a per-event redemption code, usage-limited and optionally
// time-boxed. CurrentUses only ever increases.
type CheckinCode struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	EventID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"event_id"`
	Code        string         `gorm:"not null;uniqueIndex" json:"code"`
	CreatedBy   uuid.UUID      `gorm:"type:uuid;not null" json:"created_by"`
	MaxUses     *int           `json:"max_uses"`
	CurrentUses int            `gorm:"not null;default:0" json:"current_uses"`
	ExpiresAt   *time.Time     `json:"expires_at"`
	Event       Event          `gorm:"foreignKey:EventID" json:"-"`
}

// Checkin records a successful redemption. The unique index on
// (event_id, user_id) enforces exactly-once check-in at the storage layer.
type Checkin struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
	EventID       uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_checkin_event_user" json:"event_id"`
	UserID        uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_checkin_event_user" json:"user_id"`
	CheckinCodeID uuid.UUID      `gorm:"type:uuid;not null" json:"checkin_code_id"`
	Method        string         `gorm:"not null" json:"method"`
	CheckedInAt   time.Time      `gorm:"not null" json:"checked_in_at"`
	Event         Event          `gorm:"foreignKey:EventID" json:"-"`
	CheckinCode   CheckinCode    `gorm:"foreignKey:CheckinCodeID" json:"-"`
}

// RSVPSummary is the aggregate view of an event's ledger
type RSVPSummary struct {
	EventID    uuid.UUID `json:"event_id"`
	Confirmed  int       `json:"confirmed"`
	Waitlisted int       `json:"waitlisted"`
	Capacity   *int      `json:"capacity"`
}

// NormalizeCheckinMethod maps unrecognized method values to the link default.
// Permissive on purpose: clients send free-form method strings.
func NormalizeCheckinMethod(method string) string {
	switch method {
	case CheckinMethodLink, CheckinMethodQR, CheckinMethodNFC:
		return method
	default:
		return CheckinMethodLink
	}
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	// Apply all migrations
	err := db.AutoMigrate(
		&Event{},
		&RSVP{},
		&CheckinCode{},
		&Checkin{},
	)

	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
