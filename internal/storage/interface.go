package storage

import (
	"context"
	"time"

	"github.com/mosaic-consulting/repo-analytics/internal/domain"
)

// Storage is the abstract interface for the persistence layer.
//
// All upsert operations are idempotent: re-applying the same input produces
// the same stored state. Identity fields (ids, SHAs, logins) are immutable
// after creation; mutable fields resolve conflicts last-write-wins.
type Storage interface {
	// Repository operations
	UpsertRepository(ctx context.Context, repo *domain.Repository) error
	GetRepository(ctx context.Context, id int64) (*domain.Repository, error)
	ListRepositories(ctx context.Context, trackedOnly bool) ([]*domain.Repository, error)
	SetRepositoryTracked(ctx context.Context, id int64, tracked bool) error

	// Commit operations. Commits are append/update-only and never deleted
	// during normal sync.
	UpsertCommits(ctx context.Context, commits []*domain.Commit) error
	ListCommits(ctx context.Context, repoID int64) ([]*domain.Commit, error)
	ListCommitsInRange(ctx context.Context, repoID int64, start, end time.Time) ([]*domain.Commit, error)
	ListZeroStatCommits(ctx context.Context, repoID int64) ([]*domain.Commit, error)
	UpdateCommitStats(ctx context.Context, repoID int64, sha string, additions, deletions int) error

	// Contributor operations
	UpsertContributors(ctx context.Context, contributors []*domain.Contributor) error
	ListContributors(ctx context.Context, repoID int64) ([]*domain.Contributor, error)

	// Pull request operations
	UpsertPullRequests(ctx context.Context, prs []*domain.PullRequest) error
	ListPullRequests(ctx context.Context, repoID int64) ([]*domain.PullRequest, error)

	// Daily stat operations. DailyStat rows for a repository are only ever
	// replaced as a whole; partial patching is disallowed.
	ReplaceDailyStats(ctx context.Context, repoID int64, stats []*domain.DailyStat) error
	ListDailyStats(ctx context.Context, repoID int64, start, end time.Time) ([]*domain.DailyStat, error)

	// Sync log operations
	CreateSyncLog(ctx context.Context, log *domain.SyncLog) error
	UpdateSyncLog(ctx context.Context, log *domain.SyncLog) error
	GetRunningSyncLog(ctx context.Context) (*domain.SyncLog, error)
	GetLastCompletedSyncLog(ctx context.Context) (*domain.SyncLog, error)
	ListSyncLogs(ctx context.Context, limit int) ([]*domain.SyncLog, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}
