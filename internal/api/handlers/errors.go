package handlers

import (
	"net/http"

	"example.com/gatherly/services/attendance/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// writeServiceError maps the domain error taxonomy onto HTTP statuses.
// All four kinds are permanent for the current state; none invite a retry.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidState):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrGone):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Msg("Unhandled service error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
