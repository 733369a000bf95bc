package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mosaic-consulting/repo-analytics/internal/aggregator"
	"github.com/mosaic-consulting/repo-analytics/internal/domain"
	apperrors "github.com/mosaic-consulting/repo-analytics/internal/errors"
	"github.com/mosaic-consulting/repo-analytics/internal/storage"
	"github.com/mosaic-consulting/repo-analytics/internal/syncer"
)

// Handler handles API requests
type Handler struct {
	storage    storage.Storage
	syncer     *syncer.Syncer
	aggregator *aggregator.Aggregator
}

// NewHandler creates a new API handler
func NewHandler(store storage.Storage, sync *syncer.Syncer, agg *aggregator.Aggregator) *Handler {
	return &Handler{
		storage:    store,
		syncer:     sync,
		aggregator: agg,
	}
}

type syncRequest struct {
	Type         string `json:"type" binding:"required"`
	RepositoryID int64  `json:"repository_id"`
}

// StartSync accepts a new sync run
// POST /api/v1/sync
func (h *Handler) StartSync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError("invalid request body: "+err.Error()))
		return
	}

	log, err := h.syncer.Start(c.Request.Context(), domain.SyncType(req.Type), req.RepositoryID)
	if err != nil {
		respondError(c, err)
		return
	}

	// The run continues in the background; only its acceptance is synchronous.
	c.JSON(http.StatusAccepted, gin.H{
		"data": gin.H{
			"sync_log_id": log.ID,
			"status":      log.Status,
		},
	})
}

// GetSyncStatus returns the state of the latest runs
// GET /api/v1/sync/status
func (h *Handler) GetSyncStatus(c *gin.Context) {
	running, err := h.storage.GetRunningSyncLog(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	history, err := h.storage.ListSyncLogs(c.Request.Context(), 20)
	if err != nil {
		respondError(c, err)
		return
	}

	var lastSync *domain.SyncLog
	if len(history) > 0 {
		lastSync = history[0]
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"last_sync":  lastSync,
			"is_running": running != nil,
			"history":    history,
		},
	})
}

// ListRepositories returns stored repositories
// GET /api/v1/repos?tracked=true
func (h *Handler) ListRepositories(c *gin.Context) {
	trackedOnly := c.Query("tracked") == "true"

	repos, err := h.storage.ListRepositories(c.Request.Context(), trackedOnly)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": repos,
	})
}

type trackRequest struct {
	Tracked *bool `json:"tracked" binding:"required"`
}

// SetRepositoryTracked toggles a repository's analytics opt-in
// PATCH /api/v1/repos/:id
func (h *Handler) SetRepositoryTracked(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, apperrors.NewBadRequestError("invalid repository id"))
		return
	}

	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError("invalid request body: "+err.Error()))
		return
	}

	repo, err := h.storage.GetRepository(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if repo == nil {
		respondError(c, apperrors.NewNotFoundError("repository"))
		return
	}

	if err := h.storage.SetRepositoryTracked(c.Request.Context(), id, *req.Tracked); err != nil {
		respondError(c, err)
		return
	}
	repo.Tracked = *req.Tracked

	c.JSON(http.StatusOK, gin.H{
		"data": repo,
	})
}

// GetRepoDailyStats returns a repository's daily stat series
// GET /api/v1/repos/:id/stats/daily?start=YYYY-MM-DD&end=YYYY-MM-DD
func (h *Handler) GetRepoDailyStats(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, apperrors.NewBadRequestError("invalid repository id"))
		return
	}

	start, end := parseDateRange(c)
	stats, err := h.aggregator.RepoSeries(c.Request.Context(), id, start, end)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": stats,
	})
}

// GetOrgStats returns lifetime totals for an organization, derived from
// contributor aggregates.
// GET /api/v1/orgs/:org/stats
func (h *Handler) GetOrgStats(c *gin.Context) {
	org := c.Param("org")

	totals, err := h.aggregator.OrgTotals(c.Request.Context(), org)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": totals,
	})
}

// GetOrgRangeStats returns date-bounded totals for an organization, derived
// from the sampled commit table.
// GET /api/v1/orgs/:org/stats/range?start=YYYY-MM-DD&end=YYYY-MM-DD
func (h *Handler) GetOrgRangeStats(c *gin.Context) {
	org := c.Param("org")
	start, end := parseDateRange(c)

	totals, err := h.aggregator.RangeTotals(c.Request.Context(), org, start, end)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": totals,
	})
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// parseDateRange parses start/end query parameters, defaulting to the last 30
// days.
func parseDateRange(c *gin.Context) (time.Time, time.Time) {
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -30)
	end := now

	if s := c.Query("start"); s != "" {
		if t, err := time.ParseInLocation(domain.DateLayout, s, time.UTC); err == nil {
			start = t
		}
	}
	if e := c.Query("end"); e != "" {
		if t, err := time.ParseInLocation(domain.DateLayout, e, time.UTC); err == nil {
			// Include the whole end day.
			end = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
	}
	return start, end
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeUnauthorized:
			status = http.StatusUnauthorized
		case apperrors.ErrCodeConflict:
			status = http.StatusConflict
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case apperrors.ErrCodeRateLimited:
			status = http.StatusTooManyRequests
		case apperrors.ErrCodeUpstream:
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": err.Error(),
		},
	})
}
