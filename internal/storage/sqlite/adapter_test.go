package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaic-consulting/repo-analytics/internal/domain"
	"github.com/mosaic-consulting/repo-analytics/internal/storage"
)

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func strPtr(s string) *string { return &s }

func TestRepositoryUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	repo := &domain.Repository{
		ID:       1,
		Owner:    "acme",
		Name:     "one",
		FullName: "acme/one",
		Tracked:  true,
		Languages: map[string]int64{
			"Go": 12345,
		},
		StarsCount: 10,
	}
	require.NoError(t, store.UpsertRepository(ctx, repo))

	got, err := store.GetRepository(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "acme/one", got.FullName)
	assert.True(t, got.Tracked)
	assert.Equal(t, int64(12345), got.Languages["Go"])

	t.Run("re-upsert updates metadata without duplicating", func(t *testing.T) {
		require.NoError(t, store.UpsertRepository(ctx, &domain.Repository{
			ID: 1, Owner: "acme", Name: "one", FullName: "acme/one", Tracked: true, StarsCount: 20,
		}))

		repos, err := store.ListRepositories(ctx, false)
		require.NoError(t, err)
		require.Len(t, repos, 1)
		assert.Equal(t, 20, repos[0].StarsCount)
	})

	t.Run("re-upsert preserves the tracked opt-out", func(t *testing.T) {
		require.NoError(t, store.SetRepositoryTracked(ctx, 1, false))
		require.NoError(t, store.UpsertRepository(ctx, &domain.Repository{
			ID: 1, Owner: "acme", Name: "one", FullName: "acme/one", Tracked: true,
		}))

		got, err := store.GetRepository(ctx, 1)
		require.NoError(t, err)
		assert.False(t, got.Tracked, "a metadata refresh must not re-enable an opted-out repository")

		tracked, err := store.ListRepositories(ctx, true)
		require.NoError(t, err)
		assert.Empty(t, tracked)
	})

	t.Run("missing repository yields nil", func(t *testing.T) {
		got, err := store.GetRepository(ctx, 999)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestCommitUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	committed, _ := time.Parse(time.RFC3339, "2024-05-01T10:00:00Z")
	require.NoError(t, store.UpsertCommits(ctx, []*domain.Commit{
		{RepoID: 1, SHA: "a", AuthorLogin: strPtr("alice"), CommittedAt: committed},
	}))

	t.Run("duplicate sha stays a single row", func(t *testing.T) {
		require.NoError(t, store.UpsertCommits(ctx, []*domain.Commit{
			{RepoID: 1, SHA: "a", AuthorLogin: strPtr("alice"), CommittedAt: committed},
		}))

		commits, err := store.ListCommits(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, commits, 1)
	})

	t.Run("stat-less re-upsert preserves backfilled stats", func(t *testing.T) {
		require.NoError(t, store.UpdateCommitStats(ctx, 1, "a", 12, 4))

		require.NoError(t, store.UpsertCommits(ctx, []*domain.Commit{
			{RepoID: 1, SHA: "a", AuthorLogin: strPtr("alice"), CommittedAt: committed},
		}))

		commits, err := store.ListCommits(ctx, 1)
		require.NoError(t, err)
		require.Len(t, commits, 1)
		assert.Equal(t, 12, commits[0].Additions)
		assert.Equal(t, 4, commits[0].Deletions)
	})

	t.Run("re-upsert with stats overwrites", func(t *testing.T) {
		require.NoError(t, store.UpsertCommits(ctx, []*domain.Commit{
			{RepoID: 1, SHA: "a", AuthorLogin: strPtr("alice"), CommittedAt: committed, Additions: 30, Deletions: 6},
		}))

		commits, err := store.ListCommits(ctx, 1)
		require.NoError(t, err)
		require.Len(t, commits, 1)
		assert.Equal(t, 30, commits[0].Additions)
	})

	t.Run("zero stat listing", func(t *testing.T) {
		require.NoError(t, store.UpsertCommits(ctx, []*domain.Commit{
			{RepoID: 1, SHA: "b", CommittedAt: committed.Add(time.Hour)},
		}))

		zeroed, err := store.ListZeroStatCommits(ctx, 1)
		require.NoError(t, err)
		require.Len(t, zeroed, 1)
		assert.Equal(t, "b", zeroed[0].SHA)
		assert.Nil(t, zeroed[0].AuthorLogin)
	})

	t.Run("range listing is inclusive", func(t *testing.T) {
		commits, err := store.ListCommitsInRange(ctx, 1, committed, committed)
		require.NoError(t, err)
		require.Len(t, commits, 1)
		assert.Equal(t, "a", commits[0].SHA)
	})
}

func TestContributorUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	first, _ := time.Parse(time.RFC3339, "2023-01-01T00:00:00Z")
	require.NoError(t, store.UpsertContributors(ctx, []*domain.Contributor{
		{RepoID: 1, Login: "alice", TotalCommits: 5, TotalAdditions: 50, TotalDeletions: 10, FirstCommitAt: &first},
	}))

	// Lifetime aggregates are replaced wholesale on every sync.
	require.NoError(t, store.UpsertContributors(ctx, []*domain.Contributor{
		{RepoID: 1, Login: "alice", TotalCommits: 8, TotalAdditions: 80, TotalDeletions: 15, FirstCommitAt: &first},
	}))

	contributors, err := store.ListContributors(ctx, 1)
	require.NoError(t, err)
	require.Len(t, contributors, 1)
	assert.Equal(t, 8, contributors[0].TotalCommits)
	assert.Equal(t, 80, contributors[0].TotalAdditions)
	require.NotNil(t, contributors[0].FirstCommitAt)
	assert.Nil(t, contributors[0].LastCommitAt)
}

func TestPullRequestUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	opened, _ := time.Parse(time.RFC3339, "2024-05-01T10:00:00Z")
	require.NoError(t, store.UpsertPullRequests(ctx, []*domain.PullRequest{
		{ID: 100, RepoID: 1, Number: 1, State: domain.PullRequestOpen, OpenedAt: opened},
	}))

	// The same pull request later shows up merged.
	merged := opened.Add(24 * time.Hour)
	require.NoError(t, store.UpsertPullRequests(ctx, []*domain.PullRequest{
		{ID: 100, RepoID: 1, Number: 1, State: domain.PullRequestMerged, OpenedAt: opened, MergedAt: &merged},
	}))

	prs, err := store.ListPullRequests(ctx, 1)
	require.NoError(t, err)
	require.Len(t, prs, 1)
	assert.Equal(t, domain.PullRequestMerged, prs[0].State)
	require.NotNil(t, prs[0].MergedAt)
}

func TestReplaceDailyStats(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	day := func(s string) time.Time {
		t, _ := time.ParseInLocation(domain.DateLayout, s, time.UTC)
		return t
	}

	require.NoError(t, store.ReplaceDailyStats(ctx, 1, []*domain.DailyStat{
		{RepoID: 1, Date: day("2024-05-01"), CommitsCount: 3, Additions: 30},
		{RepoID: 1, Date: day("2024-05-02"), CommitsCount: 1, Additions: 5},
	}))
	require.NoError(t, store.ReplaceDailyStats(ctx, 2, []*domain.DailyStat{
		{RepoID: 2, Date: day("2024-05-01"), CommitsCount: 9},
	}))

	t.Run("replace swaps the whole series", func(t *testing.T) {
		require.NoError(t, store.ReplaceDailyStats(ctx, 1, []*domain.DailyStat{
			{RepoID: 1, Date: day("2024-05-03"), CommitsCount: 2, Additions: 7, ContributorsCount: 1},
		}))

		stats, err := store.ListDailyStats(ctx, 1, time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, "2024-05-03", stats[0].DateString())
		assert.Equal(t, 1, stats[0].ContributorsCount)
	})

	t.Run("other repositories are untouched", func(t *testing.T) {
		stats, err := store.ListDailyStats(ctx, 2, time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, 9, stats[0].CommitsCount)
	})

	t.Run("date filters bound the series", func(t *testing.T) {
		require.NoError(t, store.ReplaceDailyStats(ctx, 1, []*domain.DailyStat{
			{RepoID: 1, Date: day("2024-05-01"), CommitsCount: 1},
			{RepoID: 1, Date: day("2024-05-02"), CommitsCount: 2},
			{RepoID: 1, Date: day("2024-05-03"), CommitsCount: 3},
		}))

		stats, err := store.ListDailyStats(ctx, 1, day("2024-05-02"), day("2024-05-02"))
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, 2, stats[0].CommitsCount)
	})
}

func TestSyncLogLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	started, _ := time.Parse(time.RFC3339, "2024-06-01T10:00:00Z")
	log := &domain.SyncLog{
		ID:        "run-1",
		Type:      domain.SyncTypeIncremental,
		Status:    domain.SyncStatusRunning,
		StartedAt: started,
	}
	require.NoError(t, store.CreateSyncLog(ctx, log))

	running, err := store.GetRunningSyncLog(ctx)
	require.NoError(t, err)
	require.NotNil(t, running)
	assert.Equal(t, "run-1", running.ID)
	assert.Nil(t, running.CompletedAt)

	completed := started.Add(5 * time.Minute)
	log.Status = domain.SyncStatusCompleted
	log.CompletedAt = &completed
	log.ReposProcessed = 4
	log.CommitsProcessed = 120
	require.NoError(t, store.UpdateSyncLog(ctx, log))

	running, err = store.GetRunningSyncLog(ctx)
	require.NoError(t, err)
	assert.Nil(t, running)

	last, err := store.GetLastCompletedSyncLog(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "run-1", last.ID)
	require.NotNil(t, last.CompletedAt)
	assert.Equal(t, completed.UTC(), last.CompletedAt.UTC())
	assert.Equal(t, 4, last.ReposProcessed)
	assert.Equal(t, 120, last.CommitsProcessed)

	t.Run("list returns newest first", func(t *testing.T) {
		require.NoError(t, store.CreateSyncLog(ctx, &domain.SyncLog{
			ID:        "run-2",
			Type:      domain.SyncTypeFull,
			Status:    domain.SyncStatusFailed,
			StartedAt: started.Add(time.Hour),
			Error:     "boom",
		}))

		logs, err := store.ListSyncLogs(ctx, 10)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "run-2", logs[0].ID)
		assert.Equal(t, "boom", logs[0].Error)

		logs, err = store.ListSyncLogs(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, logs, 1)
	})
}
