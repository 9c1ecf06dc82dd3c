package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/mtg-finder/internal/services"
)

// respondError maps service errors onto HTTP status codes
func respondError(c *gin.Context, err error) {
	var acqErr *services.AcquisitionError

	switch {
	case services.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidThreshold), errors.Is(err, services.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrUpdateInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &acqErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
