package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tomasv/fedipost/internal/daemon"
	"github.com/tomasv/fedipost/internal/domain"
	"github.com/tomasv/fedipost/internal/logger"
	"github.com/tomasv/fedipost/internal/repository"
)

// StatusHandler exposes the driver loop state and the reload trigger.
type StatusHandler struct {
	loop    *daemon.Loop
	history *repository.PublishRecordRepository
}

// NewStatusHandler creates a new status handler.
// Parameters:
//   - loop: running driver loop.
//   - history: publish history repository; nil when history is disabled.
// Returns:
//   - *StatusHandler: handler instance.
func NewStatusHandler(loop *daemon.Loop, history *repository.PublishRecordRepository) *StatusHandler {
	return &StatusHandler{loop: loop, history: history}
}

// Status returns the loop status snapshot plus, when history is
// enabled, the last published record.
func (h *StatusHandler) Status(c *gin.Context) {
	status := h.loop.Status()

	resp := gin.H{
		"next_fire":    status.NextFire,
		"retrying":     status.Retrying,
		"unused":       status.Unused,
		"used":         status.Used,
		"random_deck":  status.RandomDeck,
		"catalog_size": status.CatalogSize,
		"last_reload":  status.LastReload,
	}
	if status.Retrying {
		resp["retry_since"] = status.RetrySince
	}

	if h.history != nil {
		ctx := c.Request.Context()
		last, err := h.history.LastPublished(ctx)
		if err == nil && last != nil {
			resp["last_posted"] = gin.H{
				"location":  last.Location,
				"posted_at": last.CreatedAt,
			}
		}
		if published, err := h.history.CountByOutcome(ctx, domain.RecordPublished); err == nil {
			resp["published_total"] = published
		}
		if evicted, err := h.history.CountByOutcome(ctx, domain.RecordEvicted); err == nil {
			resp["evicted_total"] = evicted
		}
	}

	c.JSON(http.StatusOK, resp)
}

// History returns the most recent publish history rows, newest first.
// Returns 404 when history is disabled.
func (h *StatusHandler) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "publish history is not enabled"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	records, err := h.history.Recent(c.Request.Context(), limit)
	if err != nil {
		logger.CtxError(c.Request.Context(), "Failed to query publish history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": records})
}

// Reload asks the loop to refresh the catalog on its next wake. The
// same coalescing applies as for the SIGUSR1 path.
func (h *StatusHandler) Reload(c *gin.Context) {
	h.loop.RequestReload()
	logger.CtxInfo(c.Request.Context(), "Catalog reload requested")
	c.JSON(http.StatusAccepted, gin.H{"status": "reload requested"})
}
