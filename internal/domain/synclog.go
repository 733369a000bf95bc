package domain

import "time"

// SyncType selects which entities a sync run fetches.
type SyncType string

const (
	SyncTypeFull         SyncType = "full"
	SyncTypeIncremental  SyncType = "incremental"
	SyncTypeRepositories SyncType = "repositories"
	SyncTypeCommits      SyncType = "commits"
	SyncTypePullRequests SyncType = "pull_requests"
	SyncTypeContributors SyncType = "contributors"
)

// Valid reports whether t is a known sync type.
func (t SyncType) Valid() bool {
	switch t {
	case SyncTypeFull, SyncTypeIncremental, SyncTypeRepositories,
		SyncTypeCommits, SyncTypePullRequests, SyncTypeContributors:
		return true
	}
	return false
}

// SyncStatus is the state of one sync execution.
type SyncStatus string

const (
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncLog records one sync execution. It is created before any network I/O so
// status can be polled immediately, and transitions running -> completed (all
// repositories processed, possibly with per-repository errors) or
// running -> failed (run-level fault).
type SyncLog struct {
	ID               string     `json:"id"`
	Type             SyncType   `json:"type"`
	Status           SyncStatus `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Error            string     `json:"error,omitempty"`
	ReposProcessed   int        `json:"repos_processed"`
	ReposFailed      int        `json:"repos_failed"`
	CommitsProcessed int        `json:"commits_processed"`
}
