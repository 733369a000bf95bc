package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mosaic-consulting/repo-analytics/internal/domain"
	"github.com/mosaic-consulting/repo-analytics/internal/storage"
)

// memoryStorage implements the Storage interface in process memory. It backs
// tests and ephemeral runs where no database is wanted.
type memoryStorage struct {
	mu           sync.RWMutex
	repos        map[int64]*domain.Repository
	commits      map[int64]map[string]*domain.Commit      // repoID -> sha
	contributors map[int64]map[string]*domain.Contributor // repoID -> login
	pullRequests map[int64]*domain.PullRequest
	dailyStats   map[int64]map[string]*domain.DailyStat // repoID -> date
	syncLogs     []*domain.SyncLog
}

// NewMemoryStorage creates a new in-memory storage instance
func NewMemoryStorage() storage.Storage {
	return &memoryStorage{
		repos:        make(map[int64]*domain.Repository),
		commits:      make(map[int64]map[string]*domain.Commit),
		contributors: make(map[int64]map[string]*domain.Contributor),
		pullRequests: make(map[int64]*domain.PullRequest),
		dailyStats:   make(map[int64]map[string]*domain.DailyStat),
	}
}

func (s *memoryStorage) UpsertRepository(ctx context.Context, repo *domain.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.repos[repo.ID]; ok {
		// Identity and opt-in state survive metadata refreshes.
		repo.Tracked = existing.Tracked
		repo.CreatedAt = existing.CreatedAt
	} else {
		repo.CreatedAt = now
	}
	repo.UpdatedAt = now
	clone := *repo
	s.repos[repo.ID] = &clone
	return nil
}

func (s *memoryStorage) GetRepository(ctx context.Context, id int64) (*domain.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	repo, ok := s.repos[id]
	if !ok {
		return nil, nil
	}
	clone := *repo
	return &clone, nil
}

func (s *memoryStorage) ListRepositories(ctx context.Context, trackedOnly bool) ([]*domain.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Repository
	for _, repo := range s.repos {
		if trackedOnly && !repo.Tracked {
			continue
		}
		clone := *repo
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (s *memoryStorage) SetRepositoryTracked(ctx context.Context, id int64, tracked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, ok := s.repos[id]
	if !ok {
		return nil
	}
	repo.Tracked = tracked
	repo.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryStorage) UpsertCommits(ctx context.Context, commits []*domain.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range commits {
		byRepo, ok := s.commits[c.RepoID]
		if !ok {
			byRepo = make(map[string]*domain.Commit)
			s.commits[c.RepoID] = byRepo
		}
		clone := *c
		// A list-sync row without stats must not wipe previously fetched detail.
		if existing, ok := byRepo[c.SHA]; ok && !clone.HasStats() {
			clone.Additions = existing.Additions
			clone.Deletions = existing.Deletions
		}
		byRepo[c.SHA] = &clone
	}
	return nil
}

func (s *memoryStorage) ListCommits(ctx context.Context, repoID int64) ([]*domain.Commit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectCommits(repoID, func(c *domain.Commit) bool { return true }), nil
}

func (s *memoryStorage) ListCommitsInRange(ctx context.Context, repoID int64, start, end time.Time) ([]*domain.Commit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectCommits(repoID, func(c *domain.Commit) bool {
		return !c.CommittedAt.Before(start) && !c.CommittedAt.After(end)
	}), nil
}

func (s *memoryStorage) ListZeroStatCommits(ctx context.Context, repoID int64) ([]*domain.Commit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectCommits(repoID, func(c *domain.Commit) bool { return !c.HasStats() }), nil
}

// collectCommits returns commits of a repository matching keep, ordered by
// commit time. Callers must hold at least the read lock.
func (s *memoryStorage) collectCommits(repoID int64, keep func(*domain.Commit) bool) []*domain.Commit {
	var out []*domain.Commit
	for _, c := range s.commits[repoID] {
		if keep(c) {
			clone := *c
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommittedAt.Before(out[j].CommittedAt) })
	return out
}

func (s *memoryStorage) UpdateCommitStats(ctx context.Context, repoID int64, sha string, additions, deletions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.commits[repoID][sha]; ok {
		c.Additions = additions
		c.Deletions = deletions
	}
	return nil
}

func (s *memoryStorage) UpsertContributors(ctx context.Context, contributors []*domain.Contributor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range contributors {
		byRepo, ok := s.contributors[c.RepoID]
		if !ok {
			byRepo = make(map[string]*domain.Contributor)
			s.contributors[c.RepoID] = byRepo
		}
		clone := *c
		byRepo[c.Login] = &clone
	}
	return nil
}

func (s *memoryStorage) ListContributors(ctx context.Context, repoID int64) ([]*domain.Contributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Contributor
	for _, c := range s.contributors[repoID] {
		clone := *c
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Login < out[j].Login })
	return out, nil
}

func (s *memoryStorage) UpsertPullRequests(ctx context.Context, prs []*domain.PullRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pr := range prs {
		clone := *pr
		s.pullRequests[pr.ID] = &clone
	}
	return nil
}

func (s *memoryStorage) ListPullRequests(ctx context.Context, repoID int64) ([]*domain.PullRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.PullRequest
	for _, pr := range s.pullRequests {
		if pr.RepoID == repoID {
			clone := *pr
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *memoryStorage) ReplaceDailyStats(ctx context.Context, repoID int64, stats []*domain.DailyStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byDate := make(map[string]*domain.DailyStat, len(stats))
	for _, st := range stats {
		clone := *st
		byDate[st.DateString()] = &clone
	}
	s.dailyStats[repoID] = byDate
	return nil
}

func (s *memoryStorage) ListDailyStats(ctx context.Context, repoID int64, start, end time.Time) ([]*domain.DailyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.DailyStat
	for _, st := range s.dailyStats[repoID] {
		if !start.IsZero() && st.Date.Before(start) {
			continue
		}
		if !end.IsZero() && st.Date.After(end) {
			continue
		}
		clone := *st
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *memoryStorage) CreateSyncLog(ctx context.Context, log *domain.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *log
	s.syncLogs = append(s.syncLogs, &clone)
	return nil
}

func (s *memoryStorage) UpdateSyncLog(ctx context.Context, log *domain.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.syncLogs {
		if existing.ID == log.ID {
			clone := *log
			s.syncLogs[i] = &clone
			return nil
		}
	}
	return nil
}

func (s *memoryStorage) GetRunningSyncLog(ctx context.Context) (*domain.SyncLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.syncLogs) - 1; i >= 0; i-- {
		if s.syncLogs[i].Status == domain.SyncStatusRunning {
			clone := *s.syncLogs[i]
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *memoryStorage) GetLastCompletedSyncLog(ctx context.Context) (*domain.SyncLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *domain.SyncLog
	for _, log := range s.syncLogs {
		if log.Status != domain.SyncStatusCompleted || log.CompletedAt == nil {
			continue
		}
		if last == nil || log.CompletedAt.After(*last.CompletedAt) {
			last = log
		}
	}
	if last == nil {
		return nil, nil
	}
	clone := *last
	return &clone, nil
}

func (s *memoryStorage) ListSyncLogs(ctx context.Context, limit int) ([]*domain.SyncLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.SyncLog, 0, len(s.syncLogs))
	for _, log := range s.syncLogs {
		clone := *log
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStorage) Migrate(ctx context.Context) error {
	return nil
}

func (s *memoryStorage) Close() error {
	return nil
}
