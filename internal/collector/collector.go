package collector

import (
	"context"
	"time"

	"github.com/mosaic-consulting/repo-analytics/internal/domain"
)

// Collector defines the interface for fetching repository data from GitHub
type Collector interface {
	// ListOrgRepositories retrieves all repositories of an organization
	ListOrgRepositories(ctx context.Context, org string) ([]*domain.Repository, error)

	// ListLanguages retrieves the language breakdown of a repository
	ListLanguages(ctx context.Context, owner, name string) (map[string]int64, error)

	// ListCommits retrieves commits since a given time, up to cap commits.
	// cap bounds the download per repository, which makes the stored commit
	// table a sample rather than the full history.
	ListCommits(ctx context.Context, owner, name string, since time.Time, cap int) ([]*domain.Commit, error)

	// GetCommitDetail retrieves additions/deletions for a single commit
	GetCommitDetail(ctx context.Context, owner, name, sha string) (additions, deletions int, err error)

	// ListPullRequests retrieves pull requests created since a given time
	ListPullRequests(ctx context.Context, owner, name string, since time.Time) ([]*domain.PullRequest, error)

	// ListContributorStats retrieves GitHub's lifetime per-author aggregates.
	// The provider computes these asynchronously; the call retries until the
	// result is ready, so callers should bound it with a context deadline.
	ListContributorStats(ctx context.Context, owner, name string) ([]*domain.Contributor, error)

	// ListCodeFrequency retrieves weekly additions/deletions buckets. Retries
	// like ListContributorStats while the provider is still computing.
	ListCodeFrequency(ctx context.Context, owner, name string) ([]domain.WeeklyActivity, error)
}
