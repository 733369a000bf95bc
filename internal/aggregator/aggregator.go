package aggregator

import (
	"context"
	"sort"
	"time"

	"github.com/mosaic-consulting/repo-analytics/internal/domain"
	"github.com/mosaic-consulting/repo-analytics/internal/storage"
)

// Aggregator produces the per-repository DailyStat series and the
// organization-level totals.
//
// Two totals accessors exist on purpose and are never merged: OrgTotals reads
// Contributor aggregates (canonical lifetime counts, immune to the per-sync
// commit cap) while RangeTotals filters the sampled Commit table (the only
// source with a date dimension). Date-filtered totals may undercount relative
// to lifetime totals; callers choose the semantics they need.
type Aggregator struct {
	storage storage.Storage
}

// NewAggregator creates a new aggregator
func NewAggregator(storage storage.Storage) *Aggregator {
	return &Aggregator{
		storage: storage,
	}
}

// RebuildFromCommits recomputes the full DailyStat series of a repository by
// bucketing stored commits into UTC calendar days. All existing rows are
// replaced.
func (a *Aggregator) RebuildFromCommits(ctx context.Context, repoID int64) error {
	commits, err := a.storage.ListCommits(ctx, repoID)
	if err != nil {
		return err
	}

	buckets := make(map[string]*domain.DailyStat)
	authors := make(map[string]map[string]struct{})

	for _, c := range commits {
		day := c.CommittedAt.UTC().Format(domain.DateLayout)
		st, ok := buckets[day]
		if !ok {
			date, err := time.ParseInLocation(domain.DateLayout, day, time.UTC)
			if err != nil {
				return err
			}
			st = &domain.DailyStat{RepoID: repoID, Date: date}
			buckets[day] = st
			authors[day] = make(map[string]struct{})
		}
		st.CommitsCount++
		st.Additions += c.Additions
		st.Deletions += c.Deletions
		if c.AuthorLogin != nil {
			authors[day][*c.AuthorLogin] = struct{}{}
		}
	}

	stats := make([]*domain.DailyStat, 0, len(buckets))
	for day, st := range buckets {
		st.ContributorsCount = len(authors[day])
		stats = append(stats, st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Date.Before(stats[j].Date) })

	return a.storage.ReplaceDailyStats(ctx, repoID, stats)
}

// RebuildFromCodeFrequency recomputes the full DailyStat series of a
// repository from the provider's weekly code-frequency buckets. Each week
// becomes one row keyed by the week's start date; deletions are stored as
// absolute values even though the provider reports them as negative deltas.
func (a *Aggregator) RebuildFromCodeFrequency(ctx context.Context, repoID int64, weeks []domain.WeeklyActivity) error {
	stats := make([]*domain.DailyStat, 0, len(weeks))
	for _, week := range weeks {
		day := week.Week.UTC().Format(domain.DateLayout)
		date, err := time.ParseInLocation(domain.DateLayout, day, time.UTC)
		if err != nil {
			return err
		}
		deletions := week.Deletions
		if deletions < 0 {
			deletions = -deletions
		}
		stats = append(stats, &domain.DailyStat{
			RepoID:    repoID,
			Date:      date,
			Additions: week.Additions,
			Deletions: deletions,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Date.Before(stats[j].Date) })

	return a.storage.ReplaceDailyStats(ctx, repoID, stats)
}

// OrgTotals returns lifetime totals for an organization's tracked
// repositories, read from Contributor aggregates.
func (a *Aggregator) OrgTotals(ctx context.Context, org string) (*domain.OrgTotals, error) {
	repos, err := a.trackedRepos(ctx, org)
	if err != nil {
		return nil, err
	}

	totals := &domain.OrgTotals{Org: org, Repos: len(repos)}
	logins := make(map[string]struct{})
	for _, repo := range repos {
		contributors, err := a.storage.ListContributors(ctx, repo.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range contributors {
			totals.Commits += int64(c.TotalCommits)
			totals.Additions += int64(c.TotalAdditions)
			totals.Deletions += int64(c.TotalDeletions)
			logins[c.Login] = struct{}{}
		}
	}
	totals.Contributors = len(logins)
	totals.NetLines = totals.Additions - totals.Deletions
	return totals, nil
}

// RangeTotals returns totals for an organization's tracked repositories
// bounded to [start, end], computed from the sampled Commit table. These may
// undercount relative to OrgTotals when the per-sync commit cap was hit.
func (a *Aggregator) RangeTotals(ctx context.Context, org string, start, end time.Time) (*domain.OrgTotals, error) {
	repos, err := a.trackedRepos(ctx, org)
	if err != nil {
		return nil, err
	}

	totals := &domain.OrgTotals{Org: org, Repos: len(repos)}
	logins := make(map[string]struct{})
	for _, repo := range repos {
		commits, err := a.storage.ListCommitsInRange(ctx, repo.ID, start, end)
		if err != nil {
			return nil, err
		}
		for _, c := range commits {
			totals.Commits++
			totals.Additions += int64(c.Additions)
			totals.Deletions += int64(c.Deletions)
			if c.AuthorLogin != nil {
				logins[*c.AuthorLogin] = struct{}{}
			}
		}
	}
	totals.Contributors = len(logins)
	totals.NetLines = totals.Additions - totals.Deletions
	return totals, nil
}

// RepoSeries returns the stored DailyStat series of a repository
func (a *Aggregator) RepoSeries(ctx context.Context, repoID int64, start, end time.Time) ([]*domain.DailyStat, error) {
	return a.storage.ListDailyStats(ctx, repoID, start, end)
}

func (a *Aggregator) trackedRepos(ctx context.Context, org string) ([]*domain.Repository, error) {
	all, err := a.storage.ListRepositories(ctx, true)
	if err != nil {
		return nil, err
	}
	var repos []*domain.Repository
	for _, repo := range all {
		if repo.Owner == org {
			repos = append(repos, repo)
		}
	}
	return repos, nil
}
