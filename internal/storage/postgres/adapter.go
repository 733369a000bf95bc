package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mosaic-consulting/repo-analytics/internal/domain"
	"github.com/mosaic-consulting/repo-analytics/internal/storage"
)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connURL string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS repositories (
		id BIGINT PRIMARY KEY,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		full_name TEXT NOT NULL,
		default_branch TEXT NOT NULL DEFAULT 'main',
		tracked BOOLEAN NOT NULL DEFAULT TRUE,
		languages JSONB NOT NULL DEFAULT '{}',
		stars_count INTEGER NOT NULL DEFAULT 0,
		forks_count INTEGER NOT NULL DEFAULT 0,
		open_issues_count INTEGER NOT NULL DEFAULT 0,
		pushed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_repositories_owner ON repositories(owner);
	CREATE INDEX IF NOT EXISTS idx_repositories_tracked ON repositories(tracked);

	CREATE TABLE IF NOT EXISTS commits (
		repo_id BIGINT NOT NULL,
		sha TEXT NOT NULL,
		author_login TEXT,
		committed_at TIMESTAMPTZ NOT NULL,
		additions INTEGER NOT NULL DEFAULT 0,
		deletions INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (repo_id, sha)
	);

	CREATE INDEX IF NOT EXISTS idx_commits_committed_at ON commits(repo_id, committed_at);

	CREATE TABLE IF NOT EXISTS contributors (
		repo_id BIGINT NOT NULL,
		login TEXT NOT NULL,
		total_commits INTEGER NOT NULL DEFAULT 0,
		total_additions INTEGER NOT NULL DEFAULT 0,
		total_deletions INTEGER NOT NULL DEFAULT 0,
		first_commit_at TIMESTAMPTZ,
		last_commit_at TIMESTAMPTZ,
		PRIMARY KEY (repo_id, login)
	);

	CREATE TABLE IF NOT EXISTS pull_requests (
		id BIGINT PRIMARY KEY,
		repo_id BIGINT NOT NULL,
		number INTEGER NOT NULL,
		state TEXT NOT NULL,
		opened_at TIMESTAMPTZ NOT NULL,
		merged_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_pull_requests_repo ON pull_requests(repo_id);

	CREATE TABLE IF NOT EXISTS daily_stats (
		repo_id BIGINT NOT NULL,
		date DATE NOT NULL,
		commits_count INTEGER NOT NULL DEFAULT 0,
		additions INTEGER NOT NULL DEFAULT 0,
		deletions INTEGER NOT NULL DEFAULT 0,
		contributors_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (repo_id, date)
	);

	CREATE TABLE IF NOT EXISTS sync_logs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		error TEXT NOT NULL DEFAULT '',
		repos_processed INTEGER NOT NULL DEFAULT 0,
		repos_failed INTEGER NOT NULL DEFAULT 0,
		commits_processed INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sync_logs_status ON sync_logs(status);
	CREATE INDEX IF NOT EXISTS idx_sync_logs_started_at ON sync_logs(started_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *postgresStorage) UpsertRepository(ctx context.Context, repo *domain.Repository) error {
	languages, err := json.Marshal(repo.Languages)
	if err != nil {
		return fmt.Errorf("failed to marshal languages: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO repositories (id, owner, name, full_name, default_branch, tracked, languages,
			stars_count, forks_count, open_issues_count, pushed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			owner = EXCLUDED.owner,
			name = EXCLUDED.name,
			full_name = EXCLUDED.full_name,
			default_branch = EXCLUDED.default_branch,
			languages = EXCLUDED.languages,
			stars_count = EXCLUDED.stars_count,
			forks_count = EXCLUDED.forks_count,
			open_issues_count = EXCLUDED.open_issues_count,
			pushed_at = EXCLUDED.pushed_at,
			updated_at = EXCLUDED.updated_at
	`, repo.ID, repo.Owner, repo.Name, repo.FullName, repo.DefaultBranch, repo.Tracked, string(languages),
		repo.StarsCount, repo.ForksCount, repo.OpenIssuesCount, nullTime(repo.PushedAt), now, now)
	return err
}

func (s *postgresStorage) GetRepository(ctx context.Context, id int64) (*domain.Repository, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, name, full_name, default_branch, tracked, languages,
			stars_count, forks_count, open_issues_count, pushed_at, created_at, updated_at
		FROM repositories WHERE id = $1
	`, id)

	repo, err := scanRepository(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return repo, err
}

func (s *postgresStorage) ListRepositories(ctx context.Context, trackedOnly bool) ([]*domain.Repository, error) {
	query := `
		SELECT id, owner, name, full_name, default_branch, tracked, languages,
			stars_count, forks_count, open_issues_count, pushed_at, created_at, updated_at
		FROM repositories
	`
	if trackedOnly {
		query += ` WHERE tracked = TRUE`
	}
	query += ` ORDER BY full_name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []*domain.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

func (s *postgresStorage) SetRepositoryTracked(ctx context.Context, id int64, tracked bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET tracked = $1, updated_at = $2 WHERE id = $3
	`, tracked, time.Now().UTC(), id)
	return err
}

func (s *postgresStorage) UpsertCommits(ctx context.Context, commits []*domain.Commit) error {
	if len(commits) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Line stats default to zero until the detail endpoint has been called;
	// a later list-sync must not wipe stats a backfill already filled in.
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO commits (repo_id, sha, author_login, committed_at, additions, deletions)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (repo_id, sha) DO UPDATE SET
			author_login = EXCLUDED.author_login,
			committed_at = EXCLUDED.committed_at,
			additions = CASE WHEN EXCLUDED.additions <> 0 OR EXCLUDED.deletions <> 0
				THEN EXCLUDED.additions ELSE commits.additions END,
			deletions = CASE WHEN EXCLUDED.additions <> 0 OR EXCLUDED.deletions <> 0
				THEN EXCLUDED.deletions ELSE commits.deletions END
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range commits {
		if _, err := stmt.ExecContext(ctx, c.RepoID, c.SHA, nullString(c.AuthorLogin), c.CommittedAt.UTC(), c.Additions, c.Deletions); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *postgresStorage) ListCommits(ctx context.Context, repoID int64) ([]*domain.Commit, error) {
	return s.queryCommits(ctx, `
		SELECT repo_id, sha, author_login, committed_at, additions, deletions
		FROM commits WHERE repo_id = $1 ORDER BY committed_at
	`, repoID)
}

func (s *postgresStorage) ListCommitsInRange(ctx context.Context, repoID int64, start, end time.Time) ([]*domain.Commit, error) {
	return s.queryCommits(ctx, `
		SELECT repo_id, sha, author_login, committed_at, additions, deletions
		FROM commits WHERE repo_id = $1 AND committed_at >= $2 AND committed_at <= $3
		ORDER BY committed_at
	`, repoID, start.UTC(), end.UTC())
}

func (s *postgresStorage) ListZeroStatCommits(ctx context.Context, repoID int64) ([]*domain.Commit, error) {
	return s.queryCommits(ctx, `
		SELECT repo_id, sha, author_login, committed_at, additions, deletions
		FROM commits WHERE repo_id = $1 AND additions = 0 AND deletions = 0
		ORDER BY committed_at
	`, repoID)
}

func (s *postgresStorage) queryCommits(ctx context.Context, query string, args ...interface{}) ([]*domain.Commit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commits []*domain.Commit
	for rows.Next() {
		var c domain.Commit
		var author sql.NullString
		if err := rows.Scan(&c.RepoID, &c.SHA, &author, &c.CommittedAt, &c.Additions, &c.Deletions); err != nil {
			return nil, err
		}
		if author.Valid {
			c.AuthorLogin = &author.String
		}
		commits = append(commits, &c)
	}
	return commits, rows.Err()
}

func (s *postgresStorage) UpdateCommitStats(ctx context.Context, repoID int64, sha string, additions, deletions int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE commits SET additions = $1, deletions = $2 WHERE repo_id = $3 AND sha = $4
	`, additions, deletions, repoID, sha)
	return err
}

func (s *postgresStorage) UpsertContributors(ctx context.Context, contributors []*domain.Contributor) error {
	if len(contributors) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO contributors (repo_id, login, total_commits, total_additions, total_deletions, first_commit_at, last_commit_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (repo_id, login) DO UPDATE SET
			total_commits = EXCLUDED.total_commits,
			total_additions = EXCLUDED.total_additions,
			total_deletions = EXCLUDED.total_deletions,
			first_commit_at = EXCLUDED.first_commit_at,
			last_commit_at = EXCLUDED.last_commit_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range contributors {
		if _, err := stmt.ExecContext(ctx, c.RepoID, c.Login, c.TotalCommits, c.TotalAdditions, c.TotalDeletions,
			nullTime(c.FirstCommitAt), nullTime(c.LastCommitAt)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *postgresStorage) ListContributors(ctx context.Context, repoID int64) ([]*domain.Contributor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repo_id, login, total_commits, total_additions, total_deletions, first_commit_at, last_commit_at
		FROM contributors WHERE repo_id = $1 ORDER BY login
	`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contributors []*domain.Contributor
	for rows.Next() {
		var c domain.Contributor
		var first, last sql.NullTime
		if err := rows.Scan(&c.RepoID, &c.Login, &c.TotalCommits, &c.TotalAdditions, &c.TotalDeletions, &first, &last); err != nil {
			return nil, err
		}
		if first.Valid {
			t := first.Time
			c.FirstCommitAt = &t
		}
		if last.Valid {
			t := last.Time
			c.LastCommitAt = &t
		}
		contributors = append(contributors, &c)
	}
	return contributors, rows.Err()
}

func (s *postgresStorage) UpsertPullRequests(ctx context.Context, prs []*domain.PullRequest) error {
	if len(prs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pull_requests (id, repo_id, number, state, opened_at, merged_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			opened_at = EXCLUDED.opened_at,
			merged_at = EXCLUDED.merged_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, pr := range prs {
		if _, err := stmt.ExecContext(ctx, pr.ID, pr.RepoID, pr.Number, string(pr.State), pr.OpenedAt.UTC(), nullTime(pr.MergedAt)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *postgresStorage) ListPullRequests(ctx context.Context, repoID int64) ([]*domain.PullRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_id, number, state, opened_at, merged_at
		FROM pull_requests WHERE repo_id = $1 ORDER BY number
	`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prs []*domain.PullRequest
	for rows.Next() {
		var pr domain.PullRequest
		var state string
		var merged sql.NullTime
		if err := rows.Scan(&pr.ID, &pr.RepoID, &pr.Number, &state, &pr.OpenedAt, &merged); err != nil {
			return nil, err
		}
		pr.State = domain.PullRequestState(state)
		if merged.Valid {
			t := merged.Time
			pr.MergedAt = &t
		}
		prs = append(prs, &pr)
	}
	return prs, rows.Err()
}

func (s *postgresStorage) ReplaceDailyStats(ctx context.Context, repoID int64, stats []*domain.DailyStat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Full rebuild only: any stale rows, including weekly-only artifacts from
	// prior partial syncs, go away before the new series is written.
	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_stats WHERE repo_id = $1`, repoID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_stats (repo_id, date, commits_count, additions, deletions, contributors_count)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, st := range stats {
		if _, err := stmt.ExecContext(ctx, repoID, st.DateString(), st.CommitsCount, st.Additions, st.Deletions, st.ContributorsCount); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *postgresStorage) ListDailyStats(ctx context.Context, repoID int64, start, end time.Time) ([]*domain.DailyStat, error) {
	query := `
		SELECT repo_id, date, commits_count, additions, deletions, contributors_count
		FROM daily_stats WHERE repo_id = $1
	`
	args := []interface{}{repoID}
	if !start.IsZero() {
		args = append(args, start.UTC().Format(domain.DateLayout))
		query += fmt.Sprintf(` AND date >= $%d`, len(args))
	}
	if !end.IsZero() {
		args = append(args, end.UTC().Format(domain.DateLayout))
		query += fmt.Sprintf(` AND date <= $%d`, len(args))
	}
	query += ` ORDER BY date`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*domain.DailyStat
	for rows.Next() {
		var st domain.DailyStat
		if err := rows.Scan(&st.RepoID, &st.Date, &st.CommitsCount, &st.Additions, &st.Deletions, &st.ContributorsCount); err != nil {
			return nil, err
		}
		st.Date = st.Date.UTC()
		stats = append(stats, &st)
	}
	return stats, rows.Err()
}

func (s *postgresStorage) CreateSyncLog(ctx context.Context, log *domain.SyncLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_logs (id, type, status, started_at, completed_at, error, repos_processed, repos_failed, commits_processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, log.ID, string(log.Type), string(log.Status), log.StartedAt.UTC(), nullTime(log.CompletedAt),
		log.Error, log.ReposProcessed, log.ReposFailed, log.CommitsProcessed)
	return err
}

func (s *postgresStorage) UpdateSyncLog(ctx context.Context, log *domain.SyncLog) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_logs SET status = $1, completed_at = $2, error = $3,
			repos_processed = $4, repos_failed = $5, commits_processed = $6
		WHERE id = $7
	`, string(log.Status), nullTime(log.CompletedAt), log.Error,
		log.ReposProcessed, log.ReposFailed, log.CommitsProcessed, log.ID)
	return err
}

func (s *postgresStorage) GetRunningSyncLog(ctx context.Context) (*domain.SyncLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, status, started_at, completed_at, error, repos_processed, repos_failed, commits_processed
		FROM sync_logs WHERE status = $1 ORDER BY started_at DESC LIMIT 1
	`, string(domain.SyncStatusRunning))

	log, err := scanSyncLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return log, err
}

func (s *postgresStorage) GetLastCompletedSyncLog(ctx context.Context) (*domain.SyncLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, status, started_at, completed_at, error, repos_processed, repos_failed, commits_processed
		FROM sync_logs WHERE status = $1 ORDER BY completed_at DESC LIMIT 1
	`, string(domain.SyncStatusCompleted))

	log, err := scanSyncLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return log, err
}

func (s *postgresStorage) ListSyncLogs(ctx context.Context, limit int) ([]*domain.SyncLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, status, started_at, completed_at, error, repos_processed, repos_failed, commits_processed
		FROM sync_logs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*domain.SyncLog
	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *postgresStorage) Close() error {
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRepository(row scanner) (*domain.Repository, error) {
	var repo domain.Repository
	var languages []byte
	var pushed sql.NullTime
	if err := row.Scan(&repo.ID, &repo.Owner, &repo.Name, &repo.FullName, &repo.DefaultBranch, &repo.Tracked,
		&languages, &repo.StarsCount, &repo.ForksCount, &repo.OpenIssuesCount, &pushed,
		&repo.CreatedAt, &repo.UpdatedAt); err != nil {
		return nil, err
	}
	if pushed.Valid {
		t := pushed.Time
		repo.PushedAt = &t
	}
	if err := json.Unmarshal(languages, &repo.Languages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal languages: %w", err)
	}
	return &repo, nil
}

func scanSyncLog(row scanner) (*domain.SyncLog, error) {
	var log domain.SyncLog
	var typ, status string
	var completed sql.NullTime
	if err := row.Scan(&log.ID, &typ, &status, &log.StartedAt, &completed, &log.Error,
		&log.ReposProcessed, &log.ReposFailed, &log.CommitsProcessed); err != nil {
		return nil, err
	}
	log.Type = domain.SyncType(typ)
	log.Status = domain.SyncStatus(status)
	if completed.Valid {
		t := completed.Time
		log.CompletedAt = &t
	}
	return &log, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
