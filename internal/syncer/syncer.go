package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mosaic-consulting/repo-analytics/internal/aggregator"
	"github.com/mosaic-consulting/repo-analytics/internal/collector"
	"github.com/mosaic-consulting/repo-analytics/internal/domain"
	apperrors "github.com/mosaic-consulting/repo-analytics/internal/errors"
	"github.com/mosaic-consulting/repo-analytics/internal/storage"
)

const (
	// Per-repository commit download caps. The commit table is a bounded
	// sample; lifetime totals come from contributor aggregates instead.
	fullCommitCap        = 1000
	incrementalCommitCap = 300

	// Overlap subtracted from the last completed sync's finish time, to
	// tolerate clock skew and late-arriving data.
	checkpointOverlap = time.Hour

	// Checkpoint window when no prior completed sync exists.
	defaultLookback = 30 * 24 * time.Hour

	// Outer bound on the statistics endpoints' retry-until-ready loop.
	statsTimeout = 5 * time.Minute
)

// Syncer owns the sync lifecycle: it accepts runs, checkpoints incremental
// syncs, isolates per-repository faults, and triggers aggregation for every
// repository a run touches.
type Syncer struct {
	storage     storage.Storage
	collector   collector.Collector
	aggregator  *aggregator.Aggregator
	logger      *zap.Logger
	orgs        []string
	concurrency int

	wg sync.WaitGroup
}

// NewSyncer creates a new Syncer
func NewSyncer(store storage.Storage, coll collector.Collector, agg *aggregator.Aggregator, logger *zap.Logger, orgs []string, concurrency int) *Syncer {
	if concurrency <= 0 {
		concurrency = 3
	}
	return &Syncer{
		storage:     store,
		collector:   coll,
		aggregator:  agg,
		logger:      logger,
		orgs:        orgs,
		concurrency: concurrency,
	}
}

// Start accepts a sync run. It rejects the request with a conflict error when
// another run is recorded as running, otherwise it creates a running SyncLog
// synchronously and continues the work in the background, detached from the
// caller's lifecycle. repoID limits the run to a single repository when
// non-zero.
//
// The running-check is read-then-write without a transactional guard: two
// near-simultaneous requests can both pass it. The window is accepted here
// rather than closed; triggers are human-paced.
func (s *Syncer) Start(ctx context.Context, typ domain.SyncType, repoID int64) (*domain.SyncLog, error) {
	if !typ.Valid() {
		return nil, apperrors.NewBadRequestError("unknown sync type: " + string(typ))
	}

	running, err := s.storage.GetRunningSyncLog(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to check running sync", err)
	}
	if running != nil {
		return nil, apperrors.NewConflictError("a sync is already running: " + running.ID)
	}

	log := &domain.SyncLog{
		ID:        uuid.New().String(),
		Type:      typ,
		Status:    domain.SyncStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.storage.CreateSyncLog(ctx, log); err != nil {
		return nil, apperrors.NewInternalError("failed to create sync log", err)
	}

	s.logger.Info("sync accepted",
		zap.String("sync_id", log.ID),
		zap.String("type", string(typ)),
		zap.Int64("repo_id", repoID))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(log, repoID)
	}()

	return log, nil
}

// Wait blocks until all in-flight sync runs have finished.
func (s *Syncer) Wait() {
	s.wg.Wait()
}

// run executes a sync to completion and finalizes its log. It never runs on a
// request context: a run outlives the request that triggered it.
func (s *Syncer) run(log *domain.SyncLog, repoID int64) {
	ctx := context.Background()

	err := s.execute(ctx, log, repoID)

	now := time.Now().UTC()
	log.CompletedAt = &now
	if err != nil {
		log.Status = domain.SyncStatusFailed
		log.Error = err.Error()
		s.logger.Error("sync failed", zap.String("sync_id", log.ID), zap.Error(err))
	} else {
		log.Status = domain.SyncStatusCompleted
		s.logger.Info("sync completed",
			zap.String("sync_id", log.ID),
			zap.Int("repos_processed", log.ReposProcessed),
			zap.Int("repos_failed", log.ReposFailed),
			zap.Int("commits_processed", log.CommitsProcessed))
	}

	if uerr := s.storage.UpdateSyncLog(ctx, log); uerr != nil {
		s.logger.Error("failed to finalize sync log", zap.String("sync_id", log.ID), zap.Error(uerr))
	}
}

// execute does the run's actual work. An error return marks the whole run
// failed; per-repository faults are recorded in the log's counters instead.
func (s *Syncer) execute(ctx context.Context, log *domain.SyncLog, repoID int64) error {
	since, err := s.checkpoint(ctx, log.Type)
	if err != nil {
		return err
	}

	repos, err := s.targetRepos(ctx, log.Type, repoID)
	if err != nil {
		return err
	}

	if log.Type == domain.SyncTypeRepositories {
		log.ReposProcessed = len(repos)
		return nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, repo := range repos {
		repo := repo
		g.Go(func() error {
			commits, err := s.syncRepo(gctx, repo, log.Type, since)
			mu.Lock()
			log.ReposProcessed++
			log.CommitsProcessed += commits
			if err != nil {
				log.ReposFailed++
			}
			mu.Unlock()
			if err != nil {
				// One repository's failure never aborts the run.
				s.logger.Error("repository sync failed",
					zap.String("sync_id", log.ID),
					zap.String("repo", repo.FullName),
					zap.Error(err))
			}
			return nil
		})
	}

	return g.Wait()
}

// checkpoint resolves the since timestamp for a run. Full and repository-list
// syncs re-walk everything.
func (s *Syncer) checkpoint(ctx context.Context, typ domain.SyncType) (time.Time, error) {
	if typ == domain.SyncTypeFull || typ == domain.SyncTypeRepositories {
		return time.Time{}, nil
	}

	last, err := s.storage.GetLastCompletedSyncLog(ctx)
	if err != nil {
		return time.Time{}, apperrors.NewInternalError("failed to load last completed sync", err)
	}
	return computeSince(last, time.Now().UTC()), nil
}

// computeSince derives the incremental checkpoint from the last completed
// sync, backing off one hour to tolerate clock skew and late-arriving data.
func computeSince(last *domain.SyncLog, now time.Time) time.Time {
	if last == nil || last.CompletedAt == nil {
		return now.Add(-defaultLookback)
	}
	return last.CompletedAt.Add(-checkpointOverlap)
}

// targetRepos resolves the repositories a run operates on. Repository-list
// refreshing sync types pull the organization lists and upsert metadata for
// every repository; deep fetches are then limited to tracked ones.
func (s *Syncer) targetRepos(ctx context.Context, typ domain.SyncType, repoID int64) ([]*domain.Repository, error) {
	if repoID != 0 {
		repo, err := s.storage.GetRepository(ctx, repoID)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to load repository", err)
		}
		if repo == nil {
			return nil, apperrors.NewNotFoundError("repository")
		}
		// Explicitly targeted runs bypass the tracked gate.
		return []*domain.Repository{repo}, nil
	}

	switch typ {
	case domain.SyncTypeFull, domain.SyncTypeIncremental, domain.SyncTypeRepositories:
		if err := s.refreshRepositories(ctx); err != nil {
			return nil, err
		}
	}

	repos, err := s.storage.ListRepositories(ctx, true)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list repositories", err)
	}
	return repos, nil
}

// refreshRepositories re-walks the organization repository lists and upserts
// metadata and language breakdowns. A failure here is run-fatal: it happens
// before any repository's entity sync is attempted.
func (s *Syncer) refreshRepositories(ctx context.Context) error {
	for _, org := range s.orgs {
		repos, err := s.collector.ListOrgRepositories(ctx, org)
		if err != nil {
			return err
		}
		for _, repo := range repos {
			languages, err := s.collector.ListLanguages(ctx, repo.Owner, repo.Name)
			if err != nil {
				s.logger.Warn("failed to fetch languages",
					zap.String("repo", repo.FullName),
					zap.Error(err))
			} else {
				repo.Languages = languages
			}
			// New repositories default to tracked; the upsert preserves an
			// existing opt-out.
			repo.Tracked = true
			if err := s.storage.UpsertRepository(ctx, repo); err != nil {
				return apperrors.NewInternalError("failed to upsert repository "+repo.FullName, err)
			}
		}
		s.logger.Info("repository list refreshed", zap.String("org", org), zap.Int("count", len(repos)))
	}
	return nil
}

// syncRepo fetches and persists one repository's entities in a fixed order:
// commits, then pull requests, then contributors. A crash mid-run therefore
// leaves commits without contributor reconciliation rather than the reverse,
// which is the safe side since contributor totals are canonical.
func (s *Syncer) syncRepo(ctx context.Context, repo *domain.Repository, typ domain.SyncType, since time.Time) (int, error) {
	doCommits := typ == domain.SyncTypeFull || typ == domain.SyncTypeIncremental || typ == domain.SyncTypeCommits
	doPRs := typ == domain.SyncTypeFull || typ == domain.SyncTypeIncremental || typ == domain.SyncTypePullRequests
	doContributors := typ == domain.SyncTypeFull || typ == domain.SyncTypeIncremental || typ == domain.SyncTypeContributors

	commitCap := incrementalCommitCap
	if typ == domain.SyncTypeFull {
		commitCap = fullCommitCap
	}

	var commitCount int
	if doCommits {
		commits, err := s.collector.ListCommits(ctx, repo.Owner, repo.Name, since, commitCap)
		if err != nil {
			return 0, err
		}
		for _, c := range commits {
			c.RepoID = repo.ID
		}
		if err := s.storage.UpsertCommits(ctx, commits); err != nil {
			return 0, err
		}
		commitCount = len(commits)
	}

	if doPRs {
		prs, err := s.collector.ListPullRequests(ctx, repo.Owner, repo.Name, since)
		if err != nil {
			return commitCount, err
		}
		for _, pr := range prs {
			pr.RepoID = repo.ID
		}
		if err := s.storage.UpsertPullRequests(ctx, prs); err != nil {
			return commitCount, err
		}
	}

	if doContributors {
		statsCtx, cancel := context.WithTimeout(ctx, statsTimeout)
		contributors, err := s.collector.ListContributorStats(statsCtx, repo.Owner, repo.Name)
		cancel()
		if err != nil {
			return commitCount, err
		}
		for _, c := range contributors {
			c.RepoID = repo.ID
		}
		if err := s.storage.UpsertContributors(ctx, contributors); err != nil {
			return commitCount, err
		}
	}

	return commitCount, s.rebuild(ctx, repo, typ)
}

// rebuild regenerates the repository's DailyStat series from the source that
// is authoritative for this run: code-frequency buckets for full syncs,
// sampled commits otherwise.
func (s *Syncer) rebuild(ctx context.Context, repo *domain.Repository, typ domain.SyncType) error {
	if typ == domain.SyncTypeFull {
		statsCtx, cancel := context.WithTimeout(ctx, statsTimeout)
		weeks, err := s.collector.ListCodeFrequency(statsCtx, repo.Owner, repo.Name)
		cancel()
		if err != nil {
			return err
		}
		return s.aggregator.RebuildFromCodeFrequency(ctx, repo.ID, weeks)
	}
	return s.aggregator.RebuildFromCommits(ctx, repo.ID)
}
