package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v55/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/mosaic-consulting/repo-analytics/internal/domain"
	apperrors "github.com/mosaic-consulting/repo-analytics/internal/errors"
)

// How long to wait before re-polling a statistics endpoint that answered 202.
const statsRetryDelay = 2 * time.Second

// githubCollector implements Collector using the GitHub REST API
type githubCollector struct {
	client      *github.Client
	rateLimiter RateLimiter
	logger      *zap.Logger
	retryDelay  time.Duration
}

// NewGitHubCollector creates a new GitHub collector
func NewGitHubCollector(token string, logger *zap.Logger) Collector {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &githubCollector{
		client:      github.NewClient(tc),
		rateLimiter: NewRateLimiter(logger),
		logger:      logger,
		retryDelay:  statsRetryDelay,
	}
}

// ListOrgRepositories retrieves all repositories of an organization
func (c *githubCollector) ListOrgRepositories(ctx context.Context, org string) ([]*domain.Repository, error) {
	var allRepos []*domain.Repository
	opts := &github.RepositoryListByOrgOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		repos, resp, err := c.client.Repositories.ListByOrg(ctx, org, opts)
		if err != nil {
			return nil, c.wrapError(fmt.Sprintf("list repositories for %s", org), err)
		}
		c.updateRateLimitFromResponse(resp)

		for _, repo := range repos {
			r := &domain.Repository{
				ID:              repo.GetID(),
				Owner:           repo.GetOwner().GetLogin(),
				Name:            repo.GetName(),
				FullName:        repo.GetFullName(),
				DefaultBranch:   repo.GetDefaultBranch(),
				StarsCount:      repo.GetStargazersCount(),
				ForksCount:      repo.GetForksCount(),
				OpenIssuesCount: repo.GetOpenIssuesCount(),
			}
			if pushed := repo.GetPushedAt(); !pushed.Time.IsZero() {
				t := pushed.Time
				r.PushedAt = &t
			}
			allRepos = append(allRepos, r)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allRepos, nil
}

// ListLanguages retrieves the language breakdown of a repository
func (c *githubCollector) ListLanguages(ctx context.Context, owner, name string) (map[string]int64, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	langs, resp, err := c.client.Repositories.ListLanguages(ctx, owner, name)
	if err != nil {
		return nil, c.wrapError(fmt.Sprintf("list languages for %s/%s", owner, name), err)
	}
	c.updateRateLimitFromResponse(resp)

	out := make(map[string]int64, len(langs))
	for lang, bytes := range langs {
		out[lang] = int64(bytes)
	}
	return out, nil
}

// ListCommits retrieves commits since a given time, up to cap commits
func (c *githubCollector) ListCommits(ctx context.Context, owner, name string, since time.Time, cap int) ([]*domain.Commit, error) {
	var allCommits []*domain.Commit
	opts := &github.CommitsListOptions{
		Since:       since,
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		commits, resp, err := c.client.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			// 409 means the repository is empty
			if resp != nil && resp.StatusCode == http.StatusConflict {
				return allCommits, nil
			}
			return nil, c.wrapError(fmt.Sprintf("list commits for %s/%s", owner, name), err)
		}
		c.updateRateLimitFromResponse(resp)

		for _, commit := range commits {
			dc := &domain.Commit{
				SHA:         commit.GetSHA(),
				CommittedAt: commit.GetCommit().GetAuthor().GetDate().Time,
			}
			// The author account may be unattributed (deleted user, bad email
			// mapping); the login stays null in that case.
			if commit.Author != nil {
				login := commit.Author.GetLogin()
				dc.AuthorLogin = &login
			}
			allCommits = append(allCommits, dc)
			if cap > 0 && len(allCommits) >= cap {
				c.logger.Debug("commit cap reached",
					zap.String("repo", owner+"/"+name),
					zap.Int("cap", cap))
				return allCommits, nil
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allCommits, nil
}

// GetCommitDetail retrieves additions/deletions for a single commit
func (c *githubCollector) GetCommitDetail(ctx context.Context, owner, name, sha string) (int, int, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return 0, 0, err
	}

	detail, resp, err := c.client.Repositories.GetCommit(ctx, owner, name, sha, nil)
	if err != nil {
		return 0, 0, c.wrapError(fmt.Sprintf("get commit %s/%s@%s", owner, name, sha), err)
	}
	c.updateRateLimitFromResponse(resp)

	stats := detail.GetStats()
	return stats.GetAdditions(), stats.GetDeletions(), nil
}

// ListPullRequests retrieves pull requests created since a given time
func (c *githubCollector) ListPullRequests(ctx context.Context, owner, name string, since time.Time) ([]*domain.PullRequest, error) {
	var allPRs []*domain.PullRequest
	opts := &github.PullRequestListOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		prs, resp, err := c.client.PullRequests.List(ctx, owner, name, opts)
		if err != nil {
			return nil, c.wrapError(fmt.Sprintf("list pull requests for %s/%s", owner, name), err)
		}
		c.updateRateLimitFromResponse(resp)

		for _, pr := range prs {
			openedAt := pr.GetCreatedAt().Time
			// Sorted by created desc, so everything past the checkpoint is done.
			if openedAt.Before(since) {
				return allPRs, nil
			}

			state := domain.PullRequestState(pr.GetState())
			var mergedAt *time.Time
			if pr.MergedAt != nil {
				t := pr.MergedAt.Time
				mergedAt = &t
				state = domain.PullRequestMerged
			}

			allPRs = append(allPRs, &domain.PullRequest{
				ID:       pr.GetID(),
				Number:   pr.GetNumber(),
				State:    state,
				OpenedAt: openedAt,
				MergedAt: mergedAt,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allPRs, nil
}

// ListContributorStats retrieves GitHub's lifetime per-author aggregates
func (c *githubCollector) ListContributorStats(ctx context.Context, owner, name string) ([]*domain.Contributor, error) {
	for {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		stats, resp, err := c.client.Repositories.ListContributorsStats(ctx, owner, name)
		if err != nil {
			if c.stillComputing(ctx, err, owner, name) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, c.wrapError(fmt.Sprintf("list contributor stats for %s/%s", owner, name), err)
		}
		c.updateRateLimitFromResponse(resp)

		var contributors []*domain.Contributor
		for _, cs := range stats {
			login := cs.GetAuthor().GetLogin()
			if login == "" {
				continue
			}
			contrib := &domain.Contributor{
				Login:        login,
				TotalCommits: cs.GetTotal(),
			}
			for _, week := range cs.Weeks {
				contrib.TotalAdditions += week.GetAdditions()
				contrib.TotalDeletions += week.GetDeletions()
				if week.GetCommits() == 0 {
					continue
				}
				t := week.GetWeek().Time
				if contrib.FirstCommitAt == nil {
					first := t
					contrib.FirstCommitAt = &first
				}
				last := t
				contrib.LastCommitAt = &last
			}
			contributors = append(contributors, contrib)
		}
		return contributors, nil
	}
}

// ListCodeFrequency retrieves weekly additions/deletions buckets
func (c *githubCollector) ListCodeFrequency(ctx context.Context, owner, name string) ([]domain.WeeklyActivity, error) {
	for {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		weeks, resp, err := c.client.Repositories.ListCodeFrequency(ctx, owner, name)
		if err != nil {
			if c.stillComputing(ctx, err, owner, name) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, c.wrapError(fmt.Sprintf("list code frequency for %s/%s", owner, name), err)
		}
		c.updateRateLimitFromResponse(resp)

		var activity []domain.WeeklyActivity
		for _, week := range weeks {
			activity = append(activity, domain.WeeklyActivity{
				Week:      week.GetWeek().Time,
				Additions: week.GetAdditions(),
				Deletions: week.GetDeletions(),
			})
		}
		return activity, nil
	}
}

// stillComputing reports whether err is the provider's "result not ready yet"
// answer and, if so, sleeps the retry delay. There is no attempt cap; callers
// bound the loop with a context deadline.
func (c *githubCollector) stillComputing(ctx context.Context, err error, owner, name string) bool {
	var accepted *github.AcceptedError
	if !errors.As(err, &accepted) {
		return false
	}

	c.logger.Debug("statistics still computing, retrying",
		zap.String("repo", owner+"/"+name),
		zap.Duration("delay", c.retryDelay))
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.retryDelay):
		return true
	}
}

// updateRateLimitFromResponse updates the rate limiter from API response
func (c *githubCollector) updateRateLimitFromResponse(resp *github.Response) {
	if resp != nil && resp.Rate.Remaining >= 0 {
		c.rateLimiter.UpdateLimit(resp.Rate.Remaining, resp.Rate.Reset.Time)
	}
}

// wrapError translates provider failures into typed application errors,
// preserving the upstream HTTP status.
func (c *githubCollector) wrapError(op string, err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return apperrors.NewRateLimitedError(op)
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusUnauthorized:
			return apperrors.NewUnauthorizedError("failed to " + op + ": bad credentials")
		case http.StatusNotFound:
			return apperrors.NewNotFoundError(op)
		default:
			return apperrors.NewUpstreamError(ghErr.Response.StatusCode, "failed to "+op, err)
		}
	}

	return apperrors.NewInternalError("failed to "+op, err)
}
