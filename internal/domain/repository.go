package domain

import "time"

// Repository represents a GitHub repository selected for analytics sync.
// ID is the stable GitHub-side numeric identifier.
type Repository struct {
	ID              int64            `json:"id"`
	Owner           string           `json:"owner"`
	Name            string           `json:"name"`
	FullName        string           `json:"full_name"`
	DefaultBranch   string           `json:"default_branch"`
	Tracked         bool             `json:"tracked"`
	Languages       map[string]int64 `json:"languages,omitempty"`
	StarsCount      int              `json:"stars_count"`
	ForksCount      int              `json:"forks_count"`
	OpenIssuesCount int              `json:"open_issues_count"`
	PushedAt        *time.Time       `json:"pushed_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Contributor holds GitHub's lifetime per-author aggregate for one repository.
// These totals come from the contributor-statistics endpoint and are not
// subject to the per-sync commit cap, so they are the canonical source for
// lifetime commit and line counts.
type Contributor struct {
	RepoID         int64      `json:"repo_id"`
	Login          string     `json:"login"`
	TotalCommits   int        `json:"total_commits"`
	TotalAdditions int        `json:"total_additions"`
	TotalDeletions int        `json:"total_deletions"`
	FirstCommitAt  *time.Time `json:"first_commit_at,omitempty"`
	LastCommitAt   *time.Time `json:"last_commit_at,omitempty"`
}
