package services

import (
	"context"
	"testing"
	"time"

	"example.com/gatherly/services/attendance/internal/models"
	"example.com/gatherly/services/attendance/internal/notifier"
	"example.com/gatherly/services/attendance/internal/repositories"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCodeRegistry struct {
	mock.Mock
}

func (m *MockCodeRegistry) Create(ctx context.Context, code *models.CheckinCode) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *MockCodeRegistry) GetByCode(ctx context.Context, code string) (*models.CheckinCode, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CheckinCode), args.Error(1)
}

func (m *MockCodeRegistry) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.CheckinCode, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.CheckinCode), args.Error(1)
}

func (m *MockCodeRegistry) IncrementUses(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockCheckinLedger struct {
	mock.Mock
}

func (m *MockCheckinLedger) Create(ctx context.Context, checkin *models.Checkin) error {
	args := m.Called(ctx, checkin)
	return args.Error(0)
}

func (m *MockCheckinLedger) GetByEventAndUser(ctx context.Context, eventID, userID uuid.UUID) (*models.Checkin, error) {
	args := m.Called(ctx, eventID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Checkin), args.Error(1)
}

func validCode(eventID uuid.UUID) *models.CheckinCode {
	return &models.CheckinCode{
		ID:        uuid.New(),
		EventID:   eventID,
		Code:      "WELCOME1",
		CreatedBy: uuid.New(),
	}
}

func TestRedeemSuccess(t *testing.T) {
	mockCodes := new(MockCodeRegistry)
	mockCheckins := new(MockCheckinLedger)
	sink := &recordingNotifier{}

	eventID := uuid.New()
	userID := uuid.New()
	code := validCode(eventID)

	mockCodes.On("GetByCode", mock.Anything, code.Code).Return(code, nil)
	mockCheckins.On("GetByEventAndUser", mock.Anything, eventID, userID).Return(nil, repositories.ErrNotFound)
	mockCheckins.On("Create", mock.Anything, mock.AnythingOfType("*models.Checkin")).Return(nil)
	mockCodes.On("IncrementUses", mock.Anything, code.ID).Return(nil)

	service := &RedemptionService{codes: mockCodes, checkins: mockCheckins, notifier: sink}

	checkin, err := service.Redeem(context.Background(), code.Code, userID, "qr")

	require.NoError(t, err)
	require.NotNil(t, checkin)
	require.Equal(t, eventID, checkin.EventID)
	require.Equal(t, userID, checkin.UserID)
	require.Equal(t, code.ID, checkin.CheckinCodeID)
	require.Equal(t, models.CheckinMethodQR, checkin.Method)

	require.Len(t, sink.sent, 1)
	require.Equal(t, notifier.TypeCheckinRecorded, sink.sent[0].Type)
	require.Equal(t, models.CheckinMethodQR, sink.sent[0].Method)

	mockCodes.AssertExpectations(t)
	mockCheckins.AssertExpectations(t)
}

func TestRedeemUnknownMethodFallsBackToLink(t *testing.T) {
	mockCodes := new(MockCodeRegistry)
	mockCheckins := new(MockCheckinLedger)

	eventID := uuid.New()
	userID := uuid.New()
	code := validCode(eventID)

	mockCodes.On("GetByCode", mock.Anything, code.Code).Return(code, nil)
	mockCheckins.On("GetByEventAndUser", mock.Anything, eventID, userID).Return(nil, repositories.ErrNotFound)
	mockCheckins.On("Create", mock.Anything, mock.AnythingOfType("*models.Checkin")).Return(nil)
	mockCodes.On("IncrementUses", mock.Anything, code.ID).Return(nil)

	service := &RedemptionService{codes: mockCodes, checkins: mockCheckins}

	checkin, err := service.Redeem(context.Background(), code.Code, userID, "carrier-pigeon")

	require.NoError(t, err)
	require.Equal(t, models.CheckinMethodLink, checkin.Method)
}

func TestRedeemCodeNotFound(t *testing.T) {
	mockCodes := new(MockCodeRegistry)

	mockCodes.On("GetByCode", mock.Anything, "NOSUCH").Return(nil, repositories.ErrNotFound)

	service := &RedemptionService{codes: mockCodes, checkins: new(MockCheckinLedger)}

	_, err := service.Redeem(context.Background(), "NOSUCH", uuid.New(), "link")

	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestRedeemExpiredCode(t *testing.T) {
	mockCodes := new(MockCodeRegistry)
	mockCheckins := new(MockCheckinLedger)

	code := validCode(uuid.New())
	past := time.Now().Add(-time.Hour)
	code.ExpiresAt = &past

	mockCodes.On("GetByCode", mock.Anything, code.Code).Return(code, nil)

	service := &RedemptionService{codes: mockCodes, checkins: mockCheckins}

	_, err := service.Redeem(context.Background(), code.Code, uuid.New(), "link")

	require.Error(t, err)
	require.True(t, errors.Is(err, ErrGone))

	// An expired code never reaches the ledger or the usage counter
	mockCheckins.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	mockCodes.AssertNotCalled(t, "IncrementUses", mock.Anything, mock.Anything)
}

func TestRedeemUsageLimitReached(t *testing.T) {
	mockCodes := new(MockCodeRegistry)
	mockCheckins := new(MockCheckinLedger)

	code := validCode(uuid.New())
	code.MaxUses = intPtr(1)
	code.CurrentUses = 1

	mockCodes.On("GetByCode", mock.Anything, code.Code).Return(code, nil)

	service := &RedemptionService{codes: mockCodes, checkins: mockCheckins}

	_, err := service.Redeem(context.Background(), code.Code, uuid.New(), "link")

	require.Error(t, err)
	require.True(t, errors.Is(err, ErrGone))
	mockCheckins.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRedeemAlreadyCheckedIn(t *testing.T) {
	mockCodes := new(MockCodeRegistry)
	mockCheckins := new(MockCheckinLedger)

	eventID := uuid.New()
	userID := uuid.New()
	code := validCode(eventID)

	prior := &models.Checkin{ID: uuid.New(), EventID: eventID, UserID: userID}

	mockCodes.On("GetByCode", mock.Anything, code.Code).Return(code, nil)
	mockCheckins.On("GetByEventAndUser", mock.Anything, eventID, userID).Return(prior, nil)

	service := &RedemptionService{codes: mockCodes, checkins: mockCheckins}

	_, err := service.Redeem(context.Background(), code.Code, userID, "link")

	require.Error(t, err)
	require.True(t, errors.Is(err, ErrConflict))
	mockCheckins.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	mockCodes.AssertNotCalled(t, "IncrementUses", mock.Anything, mock.Anything)
}

func TestRedeemDuplicateRace(t *testing.T) {
	mockCodes := new(MockCodeRegistry)
	mockCheckins := new(MockCheckinLedger)

	eventID := uuid.New()
	userID := uuid.New()
	code := validCode(eventID)

	mockCodes.On("GetByCode", mock.Anything, code.Code).Return(code, nil)
	mockCheckins.On("GetByEventAndUser", mock.Anything, eventID, userID).Return(nil, repositories.ErrNotFound)
	mockCheckins.On("Create", mock.Anything, mock.AnythingOfType("*models.Checkin")).Return(repositories.ErrDuplicateKey)

	service := &RedemptionService{codes: mockCodes, checkins: mockCheckins}

	_, err := service.Redeem(context.Background(), code.Code, userID, "link")

	require.Error(t, err)
	require.True(t, errors.Is(err, ErrConflict))
	mockCodes.AssertNotCalled(t, "IncrementUses", mock.Anything, mock.Anything)
}

func TestCreateCode(t *testing.T) {
	mockEvents := new(MockEventStore)
	mockCodes := new(MockCodeRegistry)

	event := activeEvent(intPtr(100), 0)
	createdBy := uuid.New()
	expires := time.Now().Add(24 * time.Hour)

	mockEvents.On("GetByID", mock.Anything, event.ID).Return(event, nil)
	mockCodes.On("Create", mock.Anything, mock.AnythingOfType("*models.CheckinCode")).Return(nil)

	service := &RedemptionService{events: mockEvents, codes: mockCodes}

	code, err := service.CreateCode(context.Background(), event.ID, createdBy, intPtr(50), &expires)

	require.NoError(t, err)
	require.Equal(t, event.ID, code.EventID)
	require.Equal(t, createdBy, code.CreatedBy)
	require.Len(t, code.Code, 8)
	require.Equal(t, 0, code.CurrentUses)
	mockCodes.AssertExpectations(t)
}

func TestCreateCodeInvalidMaxUses(t *testing.T) {
	mockEvents := new(MockEventStore)
	mockCodes := new(MockCodeRegistry)

	event := activeEvent(intPtr(100), 0)
	mockEvents.On("GetByID", mock.Anything, event.ID).Return(event, nil)

	service := &RedemptionService{events: mockEvents, codes: mockCodes}

	_, err := service.CreateCode(context.Background(), event.ID, uuid.New(), intPtr(0), nil)

	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidState))
	mockCodes.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateCodeCancelledEvent(t *testing.T) {
	mockEvents := new(MockEventStore)

	event := activeEvent(intPtr(100), 0)
	event.Status = models.EventStatusCancelled
	mockEvents.On("GetByID", mock.Anything, event.ID).Return(event, nil)

	service := &RedemptionService{events: mockEvents, codes: new(MockCodeRegistry)}

	_, err := service.CreateCode(context.Background(), event.ID, uuid.New(), nil, nil)

	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidState))
}

func TestListCodes(t *testing.T) {
	mockEvents := new(MockEventStore)
	mockCodes := new(MockCodeRegistry)

	event := activeEvent(nil, 0)
	codes := []models.CheckinCode{*validCode(event.ID), *validCode(event.ID)}

	mockEvents.On("GetByID", mock.Anything, event.ID).Return(event, nil)
	mockCodes.On("ListByEvent", mock.Anything, event.ID).Return(codes, nil)

	service := &RedemptionService{events: mockEvents, codes: mockCodes}

	got, err := service.ListCodes(context.Background(), event.ID)

	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestGenerateCodeAlphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		code := generateCode(8)
		require.Len(t, code, 8)
		for _, c := range code {
			require.Contains(t, codeAlphabet, string(c))
		}
	}
}
