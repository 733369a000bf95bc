package backfill

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mosaic-consulting/repo-analytics/internal/aggregator"
	"github.com/mosaic-consulting/repo-analytics/internal/collector"
	"github.com/mosaic-consulting/repo-analytics/internal/domain"
	apperrors "github.com/mosaic-consulting/repo-analytics/internal/errors"
	"github.com/mosaic-consulting/repo-analytics/internal/storage"
)

// Fixed pause between commit-detail calls, on top of normal rate-limit
// pacing, to keep the job inside acceptable API usage.
const defaultCallDelay = 500 * time.Millisecond

// Job repairs commits whose line stats were never fetched and then rebuilds
// the DailyStat series of every tracked repository from scratch. It runs
// offline, outside the live sync path.
type Job struct {
	storage    storage.Storage
	collector  collector.Collector
	aggregator *aggregator.Aggregator
	logger     *zap.Logger
	callDelay  time.Duration
}

// Result summarizes one backfill run
type Result struct {
	CommitsScanned int `json:"commits_scanned"`
	CommitsUpdated int `json:"commits_updated"`
	CommitsSkipped int `json:"commits_skipped"`
	CommitsFailed  int `json:"commits_failed"`
	ReposRebuilt   int `json:"repos_rebuilt"`
}

// NewJob creates a new backfill job
func NewJob(store storage.Storage, coll collector.Collector, agg *aggregator.Aggregator, logger *zap.Logger) *Job {
	return &Job{
		storage:    store,
		collector:  coll,
		aggregator: agg,
		logger:     logger,
		callDelay:  defaultCallDelay,
	}
}

// Run executes the backfill. With no repoIDs it covers every tracked
// repository; otherwise only the given ones. Individual commit failures are
// counted and swallowed so one bad record cannot halt reconciliation of the
// rest.
func (j *Job) Run(ctx context.Context, repoIDs ...int64) (*Result, error) {
	repos, err := j.targetRepos(ctx, repoIDs)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, repo := range repos {
		if err := j.backfillRepo(ctx, repo, result); err != nil {
			return result, err
		}
	}

	// Aggregates are rebuilt only after all repositories are repaired, so a
	// mid-job failure leaves the old series intact rather than half-updated.
	for _, repo := range repos {
		if err := j.aggregator.RebuildFromCommits(ctx, repo.ID); err != nil {
			return result, apperrors.NewInternalError("failed to rebuild daily stats for "+repo.FullName, err)
		}
		result.ReposRebuilt++
	}

	j.logger.Info("backfill finished",
		zap.Int("scanned", result.CommitsScanned),
		zap.Int("updated", result.CommitsUpdated),
		zap.Int("skipped", result.CommitsSkipped),
		zap.Int("failed", result.CommitsFailed),
		zap.Int("repos_rebuilt", result.ReposRebuilt))
	return result, nil
}

func (j *Job) targetRepos(ctx context.Context, repoIDs []int64) ([]*domain.Repository, error) {
	if len(repoIDs) == 0 {
		repos, err := j.storage.ListRepositories(ctx, true)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to list repositories", err)
		}
		return repos, nil
	}

	var repos []*domain.Repository
	for _, id := range repoIDs {
		repo, err := j.storage.GetRepository(ctx, id)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to load repository", err)
		}
		if repo == nil {
			return nil, apperrors.NewNotFoundError("repository")
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

// backfillRepo fetches detail for every commit of one repository that still
// has zeroed stats. Zeroed stats are a heuristic for "detail never fetched":
// a commit can legitimately have zero net change (a merge, say), which is why
// a zero detail response never overwrites the stored row.
func (j *Job) backfillRepo(ctx context.Context, repo *domain.Repository, result *Result) error {
	commits, err := j.storage.ListZeroStatCommits(ctx, repo.ID)
	if err != nil {
		return apperrors.NewInternalError("failed to list commits for "+repo.FullName, err)
	}

	for _, commit := range commits {
		result.CommitsScanned++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(j.callDelay):
		}

		additions, deletions, err := j.collector.GetCommitDetail(ctx, repo.Owner, repo.Name, commit.SHA)
		if err != nil {
			result.CommitsFailed++
			j.logger.Warn("failed to fetch commit detail",
				zap.String("repo", repo.FullName),
				zap.String("sha", commit.SHA),
				zap.Error(err))
			continue
		}

		if additions == 0 && deletions == 0 {
			result.CommitsSkipped++
			continue
		}

		if err := j.storage.UpdateCommitStats(ctx, repo.ID, commit.SHA, additions, deletions); err != nil {
			return apperrors.NewInternalError("failed to update commit stats for "+repo.FullName, err)
		}
		result.CommitsUpdated++
	}

	return nil
}
