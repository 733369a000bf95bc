package domain

import "time"

// DateLayout is the canonical format for DailyStat dates (UTC calendar days).
const DateLayout = "2006-01-02"

// DailyStat is the derived per-repository-per-date aggregate row, keyed by
// (RepoID, Date). It is always rebuilt as a whole for a repository and is safe
// to delete and regenerate from Commit, Contributor, and code-frequency data.
type DailyStat struct {
	RepoID            int64     `json:"repo_id"`
	Date              time.Time `json:"date"`
	CommitsCount      int       `json:"commits_count"`
	Additions         int       `json:"additions"`
	Deletions         int       `json:"deletions"`
	ContributorsCount int       `json:"contributors_count"`
}

// DateString returns the date formatted as a UTC calendar day.
func (d *DailyStat) DateString() string {
	return d.Date.UTC().Format(DateLayout)
}

// WeeklyActivity is one bucket of the provider's code-frequency statistics.
// Deletions are reported by the provider as negative deltas.
type WeeklyActivity struct {
	Week      time.Time `json:"week"`
	Additions int       `json:"additions"`
	Deletions int       `json:"deletions"`
}

// OrgTotals are aggregate counts across the tracked repositories of one
// organization. Depending on the accessor that produced them, the counts are
// either lifetime (contributor-derived) or date-bounded (commit-derived).
type OrgTotals struct {
	Org          string `json:"org"`
	Repos        int    `json:"repos"`
	Commits      int64  `json:"commits"`
	Additions    int64  `json:"additions"`
	Deletions    int64  `json:"deletions"`
	NetLines     int64  `json:"net_lines"`
	Contributors int    `json:"contributors"`
}
