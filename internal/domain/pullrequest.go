package domain

import "time"

// PullRequestState is the lifecycle state of a pull request.
type PullRequestState string

const (
	PullRequestOpen   PullRequestState = "open"
	PullRequestMerged PullRequestState = "merged"
	PullRequestClosed PullRequestState = "closed"
)

// PullRequest represents a pull request, keyed by its GitHub-side id.
type PullRequest struct {
	ID       int64            `json:"id"`
	RepoID   int64            `json:"repo_id"`
	Number   int              `json:"number"`
	State    PullRequestState `json:"state"`
	OpenedAt time.Time        `json:"opened_at"`
	MergedAt *time.Time       `json:"merged_at,omitempty"`
}
