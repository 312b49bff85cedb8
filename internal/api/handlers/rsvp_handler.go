package handlers

import (
	"net/http"

	"example.com/gatherly/services/attendance/internal/api/middleware"
	"example.com/gatherly/services/attendance/internal/services"
	"example.com/gatherly/services/attendance/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RSVPHandler handles RSVP-related HTTP requests
type RSVPHandler struct {
	admission *services.AdmissionService
	tracer    tracing.Tracer
}

// NewRSVPHandler creates a new RSVP handler
func NewRSVPHandler(admission *services.AdmissionService, tracer tracing.Tracer) *RSVPHandler {
	return &RSVPHandler{
		admission: admission,
		tracer:    tracer,
	}
}

// HandleCreateRSVP handles POST /api/events/:eventId/rsvps
func (h *RSVPHandler) HandleCreateRSVP(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-create-rsvp")
	defer h.tracer.EndTransaction(txn)

	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	userID := middleware.CallerID(c)
	h.tracer.AddAttribute(txn, "event_id", eventID.String())
	h.tracer.AddAttribute(txn, "user_id", userID.String())

	rsvp, err := h.admission.CreateRSVP(c.Request.Context(), eventID, userID)
	if err != nil {
		h.tracer.RecordError(txn, err)
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rsvp)
}

// HandleCancelRSVP handles DELETE /api/events/:eventId/rsvps
func (h *RSVPHandler) HandleCancelRSVP(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-cancel-rsvp")
	defer h.tracer.EndTransaction(txn)

	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	userID := middleware.CallerID(c)
	h.tracer.AddAttribute(txn, "event_id", eventID.String())

	result, err := h.admission.CancelRSVP(c.Request.Context(), eventID, userID)
	if err != nil {
		h.tracer.RecordError(txn, err)
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleGetRSVPStatus handles GET /api/events/:eventId/rsvps/me
func (h *RSVPHandler) HandleGetRSVPStatus(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	rsvp, err := h.admission.GetRSVPStatus(c.Request.Context(), eventID, middleware.CallerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	// No RSVP is a valid answer, not an error
	c.JSON(http.StatusOK, gin.H{"rsvp": rsvp})
}

// HandleGetRSVPSummary handles GET /api/events/:eventId/rsvps/summary
func (h *RSVPHandler) HandleGetRSVPSummary(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	summary, err := h.admission.GetRSVPSummary(c.Request.Context(), eventID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// RegisterRoutes registers the handler's routes
func (h *RSVPHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/events/:eventId/rsvps", h.HandleCreateRSVP)
	router.DELETE("/events/:eventId/rsvps", h.HandleCancelRSVP)
	router.GET("/events/:eventId/rsvps/me", h.HandleGetRSVPStatus)
	router.GET("/events/:eventId/rsvps/summary", h.HandleGetRSVPSummary)
}
