package domain

import "time"

// Commit is one commit of a repository, keyed by (RepoID, SHA).
//
// The commit table is a bounded sample: each sync caps the number of commits
// fetched per repository, so totals computed from it are directional only.
// Lifetime totals must come from Contributor aggregates instead.
type Commit struct {
	RepoID      int64     `json:"repo_id"`
	SHA         string    `json:"sha"`
	AuthorLogin *string   `json:"author_login,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
	Additions   int       `json:"additions"`
	Deletions   int       `json:"deletions"`
}

// HasStats reports whether line stats were ever fetched for this commit.
// Both counters default to zero until the detail endpoint has been called.
func (c *Commit) HasStats() bool {
	return c.Additions != 0 || c.Deletions != 0
}
