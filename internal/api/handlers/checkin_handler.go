package handlers

import (
	"net/http"
	"time"

	"example.com/gatherly/services/attendance/internal/api/middleware"
	"example.com/gatherly/services/attendance/internal/services"
	"example.com/gatherly/services/attendance/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CheckinHandler handles check-in code HTTP requests
type CheckinHandler struct {
	redemption *services.RedemptionService
	tracer     tracing.Tracer
}

// NewCheckinHandler creates a new check-in handler
func NewCheckinHandler(redemption *services.RedemptionService, tracer tracing.Tracer) *CheckinHandler {
	return &CheckinHandler{
		redemption: redemption,
		tracer:     tracer,
	}
}

// RedeemRequest is the body for a code redemption
type RedeemRequest struct {
	Code   string `json:"code" binding:"required"`
	Method string `json:"method"`
}

// HandleRedeem handles POST /api/checkins/redeem
func (h *CheckinHandler) HandleRedeem(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-redeem-checkin-code")
	defer h.tracer.EndTransaction(txn)

	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.CallerID(c)
	h.tracer.AddAttribute(txn, "user_id", userID.String())

	checkin, err := h.redemption.Redeem(c.Request.Context(), req.Code, userID, req.Method)
	if err != nil {
		h.tracer.RecordError(txn, err)
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, checkin)
}

// CreateCodeRequest is the body for registering a check-in code
type CreateCodeRequest struct {
	MaxUses   *int       `json:"max_uses"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// HandleCreateCode handles POST /api/events/:eventId/checkin-codes
func (h *CheckinHandler) HandleCreateCode(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	var req CreateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	code, err := h.redemption.CreateCode(c.Request.Context(), eventID, middleware.CallerID(c), req.MaxUses, req.ExpiresAt)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, code)
}

// HandleListCodes handles GET /api/events/:eventId/checkin-codes
func (h *CheckinHandler) HandleListCodes(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	codes, err := h.redemption.ListCodes(c.Request.Context(), eventID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"codes": codes})
}

// RegisterRoutes registers the handler's routes
func (h *CheckinHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/checkins/redeem", h.HandleRedeem)
	router.POST("/events/:eventId/checkin-codes", h.HandleCreateCode)
	router.GET("/events/:eventId/checkin-codes", h.HandleListCodes)
}
