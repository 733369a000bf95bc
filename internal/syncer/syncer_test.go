package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mosaic-consulting/repo-analytics/internal/aggregator"
	"github.com/mosaic-consulting/repo-analytics/internal/domain"
	apperrors "github.com/mosaic-consulting/repo-analytics/internal/errors"
	"github.com/mosaic-consulting/repo-analytics/internal/storage"
	"github.com/mosaic-consulting/repo-analytics/internal/storage/memory"
)

// fakeCollector serves canned results per repository name.
type fakeCollector struct {
	repos        []*domain.Repository
	commits      map[string][]*domain.Commit
	prs          map[string][]*domain.PullRequest
	contributors map[string][]*domain.Contributor
	weeks        map[string][]domain.WeeklyActivity
	failCommits  map[string]error
}

func (f *fakeCollector) ListOrgRepositories(ctx context.Context, org string) ([]*domain.Repository, error) {
	var out []*domain.Repository
	for _, r := range f.repos {
		if r.Owner == org {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeCollector) ListLanguages(ctx context.Context, owner, name string) (map[string]int64, error) {
	return map[string]int64{"Go": 1000}, nil
}

func (f *fakeCollector) ListCommits(ctx context.Context, owner, name string, since time.Time, cap int) ([]*domain.Commit, error) {
	if err := f.failCommits[name]; err != nil {
		return nil, err
	}
	commits := f.commits[name]
	if cap > 0 && len(commits) > cap {
		commits = commits[:cap]
	}
	return commits, nil
}

func (f *fakeCollector) GetCommitDetail(ctx context.Context, owner, name, sha string) (int, int, error) {
	return 0, 0, nil
}

func (f *fakeCollector) ListPullRequests(ctx context.Context, owner, name string, since time.Time) ([]*domain.PullRequest, error) {
	return f.prs[name], nil
}

func (f *fakeCollector) ListContributorStats(ctx context.Context, owner, name string) ([]*domain.Contributor, error) {
	return f.contributors[name], nil
}

func (f *fakeCollector) ListCodeFrequency(ctx context.Context, owner, name string) ([]domain.WeeklyActivity, error) {
	return f.weeks[name], nil
}

func newTestSyncer(store storage.Storage, coll *fakeCollector) *Syncer {
	agg := aggregator.NewAggregator(store)
	return NewSyncer(store, coll, agg, zap.NewNop(), []string{"acme"}, 2)
}

func commitAt(sha, login, ts string) *domain.Commit {
	t, _ := time.Parse(time.RFC3339, ts)
	return &domain.Commit{SHA: sha, AuthorLogin: &login, CommittedAt: t, Additions: 1}
}

func TestComputeSince(t *testing.T) {
	now, _ := time.Parse(time.RFC3339, "2024-06-15T12:00:00Z")

	t.Run("defaults to a thirty day lookback", func(t *testing.T) {
		since := computeSince(nil, now)
		assert.Equal(t, now.AddDate(0, 0, -30), since)
	})

	t.Run("backs off one hour from the last completed sync", func(t *testing.T) {
		completed, _ := time.Parse(time.RFC3339, "2024-06-10T10:00:00Z")
		last := &domain.SyncLog{Status: domain.SyncStatusCompleted, CompletedAt: &completed}

		since := computeSince(last, now)
		expected, _ := time.Parse(time.RFC3339, "2024-06-10T09:00:00Z")
		assert.Equal(t, expected, since)
	})

	t.Run("ignores a log without a completion time", func(t *testing.T) {
		last := &domain.SyncLog{Status: domain.SyncStatusCompleted}
		since := computeSince(last, now)
		assert.Equal(t, now.AddDate(0, 0, -30), since)
	})
}

func TestStartValidation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	s := newTestSyncer(store, &fakeCollector{})

	_, err := s.Start(ctx, domain.SyncType("bogus"), 0)
	require.Error(t, err)
	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeBadRequest, appErr.Code)
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	s := newTestSyncer(store, &fakeCollector{})

	require.NoError(t, store.CreateSyncLog(ctx, &domain.SyncLog{
		ID:        "already-running",
		Type:      domain.SyncTypeIncremental,
		Status:    domain.SyncStatusRunning,
		StartedAt: time.Now().UTC(),
	}))

	_, err := s.Start(ctx, domain.SyncTypeIncremental, 0)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	s.Wait()
}

func TestIncrementalSync(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()

	coll := &fakeCollector{
		repos: []*domain.Repository{
			{ID: 1, Owner: "acme", Name: "one", FullName: "acme/one"},
		},
		commits: map[string][]*domain.Commit{
			"one": {
				commitAt("a", "alice", "2024-06-14T10:00:00Z"),
				commitAt("b", "bob", "2024-06-14T11:00:00Z"),
			},
		},
		prs: map[string][]*domain.PullRequest{
			"one": {{ID: 100, Number: 1, State: domain.PullRequestOpen, OpenedAt: time.Now().UTC()}},
		},
		contributors: map[string][]*domain.Contributor{
			"one": {{Login: "alice", TotalCommits: 2, TotalAdditions: 10}},
		},
	}
	s := newTestSyncer(store, coll)

	log, err := s.Start(ctx, domain.SyncTypeIncremental, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusRunning, log.Status)
	s.Wait()

	logs, err := store.ListSyncLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	final := logs[0]
	assert.Equal(t, log.ID, final.ID)
	assert.Equal(t, domain.SyncStatusCompleted, final.Status)
	require.NotNil(t, final.CompletedAt)
	assert.Equal(t, 1, final.ReposProcessed)
	assert.Equal(t, 0, final.ReposFailed)
	assert.Equal(t, 2, final.CommitsProcessed)

	// The repository list refresh stored the repo as tracked with languages.
	repo, err := store.GetRepository(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, repo)
	assert.True(t, repo.Tracked)
	assert.Equal(t, int64(1000), repo.Languages["Go"])

	// Entities landed.
	commits, err := store.ListCommits(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, commits, 2)
	for _, c := range commits {
		assert.Equal(t, int64(1), c.RepoID)
	}

	prs, err := store.ListPullRequests(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, prs, 1)

	contributors, err := store.ListContributors(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, contributors, 1)

	// The daily series was rebuilt from commits.
	stats, err := store.ListDailyStats(ctx, 1, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "2024-06-14", stats[0].DateString())
	assert.Equal(t, 2, stats[0].CommitsCount)
}

func TestFullSyncUsesCodeFrequency(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()

	week, _ := time.Parse(time.RFC3339, "2024-06-09T00:00:00Z")
	coll := &fakeCollector{
		repos: []*domain.Repository{
			{ID: 1, Owner: "acme", Name: "one", FullName: "acme/one"},
		},
		weeks: map[string][]domain.WeeklyActivity{
			"one": {{Week: week, Additions: 200, Deletions: -80}},
		},
	}
	s := newTestSyncer(store, coll)

	_, err := s.Start(ctx, domain.SyncTypeFull, 0)
	require.NoError(t, err)
	s.Wait()

	stats, err := store.ListDailyStats(ctx, 1, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "2024-06-09", stats[0].DateString())
	assert.Equal(t, 200, stats[0].Additions)
	assert.Equal(t, 80, stats[0].Deletions)
}

func TestPerRepositoryFaultIsolation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()

	coll := &fakeCollector{
		repos: []*domain.Repository{
			{ID: 1, Owner: "acme", Name: "good", FullName: "acme/good"},
			{ID: 2, Owner: "acme", Name: "bad", FullName: "acme/bad"},
		},
		commits: map[string][]*domain.Commit{
			"good": {commitAt("a", "alice", "2024-06-14T10:00:00Z")},
		},
		failCommits: map[string]error{
			"bad": errors.New("boom"),
		},
	}
	s := newTestSyncer(store, coll)

	_, err := s.Start(ctx, domain.SyncTypeIncremental, 0)
	require.NoError(t, err)
	s.Wait()

	logs, err := store.ListSyncLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	final := logs[0]
	assert.Equal(t, domain.SyncStatusCompleted, final.Status, "one bad repository must not fail the run")
	assert.Equal(t, 2, final.ReposProcessed)
	assert.Equal(t, 1, final.ReposFailed)
	assert.Equal(t, 1, final.CommitsProcessed)

	commits, err := store.ListCommits(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, commits, 1)
}

func TestRepositoriesSyncOnlyRefreshesMetadata(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()

	coll := &fakeCollector{
		repos: []*domain.Repository{
			{ID: 1, Owner: "acme", Name: "one", FullName: "acme/one"},
		},
		commits: map[string][]*domain.Commit{
			"one": {commitAt("a", "alice", "2024-06-14T10:00:00Z")},
		},
	}
	s := newTestSyncer(store, coll)

	_, err := s.Start(ctx, domain.SyncTypeRepositories, 0)
	require.NoError(t, err)
	s.Wait()

	repo, err := store.GetRepository(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, repo)

	commits, err := store.ListCommits(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, commits, "a repositories sync fetches no entities")
}

func TestExplicitRepoBypassesTrackedGate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()

	require.NoError(t, store.UpsertRepository(ctx, &domain.Repository{
		ID: 7, Owner: "acme", Name: "quiet", FullName: "acme/quiet", Tracked: false,
	}))

	coll := &fakeCollector{
		commits: map[string][]*domain.Commit{
			"quiet": {commitAt("a", "alice", "2024-06-14T10:00:00Z")},
		},
	}
	s := newTestSyncer(store, coll)

	_, err := s.Start(ctx, domain.SyncTypeCommits, 7)
	require.NoError(t, err)
	s.Wait()

	commits, err := store.ListCommits(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, commits, 1)
}

func TestStartUnknownRepo(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	s := newTestSyncer(store, &fakeCollector{})

	_, err := s.Start(ctx, domain.SyncTypeCommits, 404)
	require.NoError(t, err, "resolution happens in the background run")
	s.Wait()

	logs, err := store.ListSyncLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.SyncStatusFailed, logs[0].Status)
	assert.Contains(t, logs[0].Error, "not found")
}
