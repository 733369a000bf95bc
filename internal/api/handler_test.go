package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mosaic-consulting/repo-analytics/internal/aggregator"
	"github.com/mosaic-consulting/repo-analytics/internal/domain"
	"github.com/mosaic-consulting/repo-analytics/internal/storage"
	"github.com/mosaic-consulting/repo-analytics/internal/storage/memory"
	"github.com/mosaic-consulting/repo-analytics/internal/syncer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// idleCollector satisfies the collector interface with empty results, which is
// all the API tests need: they trigger runs that touch no repositories.
type idleCollector struct{}

func (idleCollector) ListOrgRepositories(ctx context.Context, org string) ([]*domain.Repository, error) {
	return nil, nil
}

func (idleCollector) ListLanguages(ctx context.Context, owner, name string) (map[string]int64, error) {
	return nil, nil
}

func (idleCollector) ListCommits(ctx context.Context, owner, name string, since time.Time, cap int) ([]*domain.Commit, error) {
	return nil, nil
}

func (idleCollector) GetCommitDetail(ctx context.Context, owner, name, sha string) (int, int, error) {
	return 0, 0, nil
}

func (idleCollector) ListPullRequests(ctx context.Context, owner, name string, since time.Time) ([]*domain.PullRequest, error) {
	return nil, nil
}

func (idleCollector) ListContributorStats(ctx context.Context, owner, name string) ([]*domain.Contributor, error) {
	return nil, nil
}

func (idleCollector) ListCodeFrequency(ctx context.Context, owner, name string) ([]domain.WeeklyActivity, error) {
	return nil, nil
}

func newTestRouter(store storage.Storage, apiToken string) (*gin.Engine, *syncer.Syncer) {
	agg := aggregator.NewAggregator(store)
	sync := syncer.NewSyncer(store, idleCollector{}, agg, zap.NewNop(), []string{"acme"}, 1)
	handler := NewHandler(store, sync, agg)
	return SetupRoutes(handler, zap.NewNop(), apiToken), sync
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var payload *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		payload = bytes.NewReader(b)
	} else {
		payload = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestStartSync(t *testing.T) {
	t.Run("accepts a run", func(t *testing.T) {
		store := memory.NewMemoryStorage()
		router, sync := newTestRouter(store, "")

		w := doJSON(router, http.MethodPost, "/api/v1/sync", gin.H{"type": "incremental"})
		sync.Wait()

		require.Equal(t, http.StatusAccepted, w.Code)

		var resp struct {
			Data struct {
				SyncLogID string `json:"sync_log_id"`
				Status    string `json:"status"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Data.SyncLogID)
		assert.Equal(t, "running", resp.Data.Status)
	})

	t.Run("rejects an unknown type", func(t *testing.T) {
		store := memory.NewMemoryStorage()
		router, _ := newTestRouter(store, "")

		w := doJSON(router, http.MethodPost, "/api/v1/sync", gin.H{"type": "bogus"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects a missing body", func(t *testing.T) {
		store := memory.NewMemoryStorage()
		router, _ := newTestRouter(store, "")

		w := doJSON(router, http.MethodPost, "/api/v1/sync", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("conflicts with a running sync", func(t *testing.T) {
		store := memory.NewMemoryStorage()
		router, _ := newTestRouter(store, "")

		require.NoError(t, store.CreateSyncLog(context.Background(), &domain.SyncLog{
			ID:        "busy",
			Type:      domain.SyncTypeFull,
			Status:    domain.SyncStatusRunning,
			StartedAt: time.Now().UTC(),
		}))

		w := doJSON(router, http.MethodPost, "/api/v1/sync", gin.H{"type": "incremental"})
		require.Equal(t, http.StatusConflict, w.Code)

		var resp struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "CONFLICT", resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "busy")
	})
}

func TestGetSyncStatus(t *testing.T) {
	store := memory.NewMemoryStorage()
	router, _ := newTestRouter(store, "")

	completed := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.CreateSyncLog(context.Background(), &domain.SyncLog{
		ID:          "done",
		Type:        domain.SyncTypeIncremental,
		Status:      domain.SyncStatusCompleted,
		StartedAt:   completed.Add(-time.Minute),
		CompletedAt: &completed,
	}))

	w := doJSON(router, http.MethodGet, "/api/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			LastSync  *domain.SyncLog   `json:"last_sync"`
			IsRunning bool              `json:"is_running"`
			History   []*domain.SyncLog `json:"history"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Data.IsRunning)
	require.NotNil(t, resp.Data.LastSync)
	assert.Equal(t, "done", resp.Data.LastSync.ID)
	assert.Len(t, resp.Data.History, 1)
}

func TestRepositoryEndpoints(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	router, _ := newTestRouter(store, "")

	require.NoError(t, store.UpsertRepository(ctx, &domain.Repository{
		ID: 1, Owner: "acme", Name: "one", FullName: "acme/one", Tracked: true,
	}))
	require.NoError(t, store.UpsertRepository(ctx, &domain.Repository{
		ID: 2, Owner: "acme", Name: "two", FullName: "acme/two", Tracked: false,
	}))

	t.Run("lists all repositories", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/v1/repos", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data []*domain.Repository `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Data, 2)
	})

	t.Run("filters to tracked repositories", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/v1/repos?tracked=true", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data []*domain.Repository `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 1)
		assert.Equal(t, int64(1), resp.Data[0].ID)
	})

	t.Run("toggles tracked", func(t *testing.T) {
		w := doJSON(router, http.MethodPatch, "/api/v1/repos/2", gin.H{"tracked": true})
		require.Equal(t, http.StatusOK, w.Code)

		repo, err := store.GetRepository(ctx, 2)
		require.NoError(t, err)
		assert.True(t, repo.Tracked)
	})

	t.Run("unknown repository is a 404", func(t *testing.T) {
		w := doJSON(router, http.MethodPatch, "/api/v1/repos/999", gin.H{"tracked": true})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid id is a 400", func(t *testing.T) {
		w := doJSON(router, http.MethodPatch, "/api/v1/repos/abc", gin.H{"tracked": true})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestStatsEndpoints(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	router, _ := newTestRouter(store, "")

	require.NoError(t, store.UpsertRepository(ctx, &domain.Repository{
		ID: 1, Owner: "acme", Name: "one", FullName: "acme/one", Tracked: true,
	}))
	require.NoError(t, store.UpsertContributors(ctx, []*domain.Contributor{
		{RepoID: 1, Login: "alice", TotalCommits: 10, TotalAdditions: 100, TotalDeletions: 40},
	}))

	day, _ := time.ParseInLocation(domain.DateLayout, "2024-05-01", time.UTC)
	require.NoError(t, store.ReplaceDailyStats(ctx, 1, []*domain.DailyStat{
		{RepoID: 1, Date: day, CommitsCount: 3, Additions: 30, Deletions: 5, ContributorsCount: 1},
	}))

	t.Run("org lifetime totals", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/v1/orgs/acme/stats", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data *domain.OrgTotals `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(10), resp.Data.Commits)
		assert.Equal(t, int64(60), resp.Data.NetLines)
		assert.Equal(t, 1, resp.Data.Contributors)
	})

	t.Run("repo daily series", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/v1/repos/1/stats/daily?start=2024-05-01&end=2024-05-01", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data []*domain.DailyStat `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 1)
		assert.Equal(t, 3, resp.Data[0].CommitsCount)
	})

	t.Run("org range totals", func(t *testing.T) {
		login := "alice"
		committed, _ := time.Parse(time.RFC3339, "2024-05-01T10:00:00Z")
		require.NoError(t, store.UpsertCommits(ctx, []*domain.Commit{
			{RepoID: 1, SHA: "a", AuthorLogin: &login, CommittedAt: committed, Additions: 30, Deletions: 5},
		}))

		w := doJSON(router, http.MethodGet, "/api/v1/orgs/acme/stats/range?start=2024-05-01&end=2024-05-01", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data *domain.OrgTotals `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(1), resp.Data.Commits)
		assert.Equal(t, int64(30), resp.Data.Additions)
	})
}

func TestAuth(t *testing.T) {
	store := memory.NewMemoryStorage()
	router, _ := newTestRouter(store, "secret")

	t.Run("rejects requests without the token", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/v1/repos", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("accepts the configured token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/repos", nil)
		req.Header.Set("Authorization", "Bearer secret")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("health stays open", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
