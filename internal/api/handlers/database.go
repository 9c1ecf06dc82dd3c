package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/codyseavey/mtg-finder/internal/models"
	"github.com/codyseavey/mtg-finder/internal/services"
)

type DatabaseHandler struct {
	finder  *services.FinderService
	updater *services.UpdateService
	baseCtx context.Context // cancelled on shutdown, parent of background updates
	timeout time.Duration
	log     zerolog.Logger
}

func NewDatabaseHandler(ctx context.Context, finder *services.FinderService, updater *services.UpdateService, timeout time.Duration, log zerolog.Logger) *DatabaseHandler {
	return &DatabaseHandler{
		finder:  finder,
		updater: updater,
		baseCtx: ctx,
		timeout: timeout,
		log:     log.With().Str("component", "database_handler").Logger(),
	}
}

// GetStatus reports dataset freshness and the update schedule
func (h *DatabaseHandler) GetStatus(c *gin.Context) {
	status, err := h.finder.DatabaseStatus(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type updateRequest struct {
	Type string `json:"type"`
}

// TriggerUpdate starts a background refresh of one dataset or all of them
func (h *DatabaseHandler) TriggerUpdate(c *gin.Context) {
	var req updateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	kinds, err := parseUpdateType(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for _, kind := range kinds {
		if h.updater.IsRunning(kind) {
			respondError(c, services.ErrUpdateInProgress)
			return
		}
	}

	go h.runUpdate(kinds)

	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message":  "update started",
		"datasets": names,
	})
}

func (h *DatabaseHandler) runUpdate(kinds []models.DatasetKind) {
	ctx := h.baseCtx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	if len(kinds) > 1 {
		if _, err := h.updater.UpdateAll(ctx); err != nil {
			h.log.Error().Err(err).Msg("Manual update failed")
		}
		return
	}
	result, err := h.updater.Update(ctx, kinds[0])
	if err != nil {
		h.log.Error().Err(err).Str("dataset", string(kinds[0])).Msg("Manual update failed")
		return
	}
	h.log.Info().Str("dataset", string(result.Dataset)).Int("entries", result.Entries).Msg("Manual update finished")
}

func parseUpdateType(s string) ([]models.DatasetKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all", "both":
		return models.AllDatasetKinds(), nil
	default:
		kind, err := models.ParseDatasetKind(strings.ToLower(strings.TrimSpace(s)))
		if err != nil {
			return nil, err
		}
		return []models.DatasetKind{kind}, nil
	}
}
