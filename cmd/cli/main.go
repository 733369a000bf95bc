package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mosaic-consulting/repo-analytics/internal/aggregator"
	"github.com/mosaic-consulting/repo-analytics/internal/backfill"
	"github.com/mosaic-consulting/repo-analytics/internal/collector"
	"github.com/mosaic-consulting/repo-analytics/internal/config"
	"github.com/mosaic-consulting/repo-analytics/internal/domain"
	"github.com/mosaic-consulting/repo-analytics/internal/storage"
	"github.com/mosaic-consulting/repo-analytics/internal/storage/memory"
	"github.com/mosaic-consulting/repo-analytics/internal/storage/postgres"
	"github.com/mosaic-consulting/repo-analytics/internal/storage/sqlite"
	"github.com/mosaic-consulting/repo-analytics/internal/syncer"
	"github.com/mosaic-consulting/repo-analytics/pkg/client"
)

var (
	outputJSON bool
	remote     bool
	repoID     int64
	waitDone   bool
	startDate  string
	endDate    string
)

var rootCmd = &cobra.Command{
	Use:   "repo-analytics",
	Short: "GitHub repository analytics tool",
	Long: `A CLI tool for synchronizing GitHub organization data and viewing
aggregated repository statistics.

Data is pulled from the GitHub API into local storage, rolled up into
per-repository daily series, and queried from there.`,
}

var syncCmd = &cobra.Command{
	Use:   "sync [type]",
	Short: "Run a data sync",
	Long: `Synchronize GitHub data into storage. The optional type is one of
full, incremental, repositories, commits, pull_requests or contributors
(default incremental).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Long:  `Display the current sync state and recent sync history.`,
	RunE:  runStatus,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Repair commits with missing line stats",
	Long: `Re-fetch per-commit detail for stored commits whose addition and
deletion counts are both zero, then rebuild the daily series of the
affected repositories.`,
	RunE: runBackfill,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show stored analytics",
}

var showOrgCmd = &cobra.Command{
	Use:   "org [org]",
	Short: "Show organization totals",
	Long:  `Display lifetime contribution totals for an organization.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runShowOrg,
}

var showRepoCmd = &cobra.Command{
	Use:   "repo [id]",
	Short: "Show a repository's daily series",
	Long:  `Display the per-day commit and line-change series for a repository.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRepo,
}

var showReposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Show stored repositories",
	RunE:  runShowRepos,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&remote, "remote", false, "talk to a running API server instead of local storage")
	rootCmd.PersistentFlags().StringVar(&startDate, "start", "", "start date (YYYY-MM-DD)")
	rootCmd.PersistentFlags().StringVar(&endDate, "end", "", "end date (YYYY-MM-DD)")

	syncCmd.Flags().Int64Var(&repoID, "repo", 0, "restrict the sync to a single repository id")
	syncCmd.Flags().BoolVar(&waitDone, "wait", false, "block until the sync run finishes")
	backfillCmd.Flags().Int64Var(&repoID, "repo", 0, "restrict the backfill to a single repository id")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(showCmd)
	showCmd.AddCommand(showOrgCmd)
	showCmd.AddCommand(showRepoCmd)
	showCmd.AddCommand(showReposCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	case "memory":
		return memory.NewMemoryStorage(), nil
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

func getLogger(cfg *config.Config) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func getClient(cfg *config.Config) *client.Client {
	return client.NewClient(cfg.APIEndpoint, cfg.APIToken)
}

func getDateRange() (time.Time, time.Time) {
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -30)
	end := now

	if startDate != "" {
		if t, err := time.Parse(domain.DateLayout, startDate); err == nil {
			start = t
		}
	}
	if endDate != "" {
		if t, err := time.Parse(domain.DateLayout, endDate); err == nil {
			end = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
	}
	return start, end
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSync(cmd *cobra.Command, args []string) error {
	syncType := domain.SyncTypeIncremental
	if len(args) > 0 {
		syncType = domain.SyncType(args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if remote {
		c := getClient(cfg)
		id, err := c.TriggerSync(syncType, repoID)
		if err != nil {
			return err
		}
		fmt.Printf("Sync started: %s\n", id)
		if !waitDone {
			return nil
		}
		for {
			time.Sleep(2 * time.Second)
			status, err := c.GetSyncStatus()
			if err != nil {
				return err
			}
			if !status.IsRunning {
				if status.LastSync != nil {
					printSyncLog(status.LastSync)
				}
				return nil
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	logger, err := getLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	coll := collector.NewGitHubCollector(cfg.GitHubToken, logger)
	agg := aggregator.NewAggregator(store)
	sync := syncer.NewSyncer(store, coll, agg, logger, cfg.Orgs, cfg.SyncConcurrency)

	log, err := sync.Start(context.Background(), syncType, repoID)
	if err != nil {
		return err
	}
	fmt.Printf("Sync started: %s (%s)\n", log.ID, log.Type)

	// A local run dies with the process, so always block on it.
	sync.Wait()

	logs, err := store.ListSyncLogs(context.Background(), 1)
	if err != nil {
		return err
	}
	if len(logs) > 0 {
		printSyncLog(logs[0])
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var status *client.SyncStatus
	if remote {
		status, err = getClient(cfg).GetSyncStatus()
		if err != nil {
			return err
		}
	} else {
		store, err := getStorage(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer store.Close()

		ctx := context.Background()
		running, err := store.GetRunningSyncLog(ctx)
		if err != nil {
			return err
		}
		history, err := store.ListSyncLogs(ctx, 20)
		if err != nil {
			return err
		}
		status = &client.SyncStatus{IsRunning: running != nil, History: history}
		if len(history) > 0 {
			status.LastSync = history[0]
		}
	}

	if outputJSON {
		return printJSON(status)
	}

	if status.IsRunning {
		fmt.Println("A sync is currently running.")
	} else {
		fmt.Println("No sync is running.")
	}
	if len(status.History) == 0 {
		fmt.Println("No sync history.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Type", "Status", "Started", "Repos", "Failed", "Commits", "Error"})
	for _, l := range status.History {
		table.Append([]string{
			l.ID,
			string(l.Type),
			string(l.Status),
			l.StartedAt.Format(time.RFC3339),
			fmt.Sprintf("%d", l.ReposProcessed),
			fmt.Sprintf("%d", l.ReposFailed),
			fmt.Sprintf("%d", l.CommitsProcessed),
			l.Error,
		})
	}
	table.Render()
	return nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	logger, err := getLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	coll := collector.NewGitHubCollector(cfg.GitHubToken, logger)
	agg := aggregator.NewAggregator(store)
	job := backfill.NewJob(store, coll, agg, logger)

	var ids []int64
	if repoID != 0 {
		ids = append(ids, repoID)
	}

	result, err := job.Run(context.Background(), ids...)
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(result)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Commits Scanned", fmt.Sprintf("%d", result.CommitsScanned)})
	table.Append([]string{"Commits Updated", fmt.Sprintf("%d", result.CommitsUpdated)})
	table.Append([]string{"Commits Skipped", fmt.Sprintf("%d", result.CommitsSkipped)})
	table.Append([]string{"Commit Failures", fmt.Sprintf("%d", result.CommitsFailed)})
	table.Append([]string{"Repos Rebuilt", fmt.Sprintf("%d", result.ReposRebuilt)})
	table.Render()
	return nil
}

func runShowOrg(cmd *cobra.Command, args []string) error {
	org := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var totals *domain.OrgTotals
	if remote {
		totals, err = getClient(cfg).GetOrgStats(org)
		if err != nil {
			return err
		}
	} else {
		store, err := getStorage(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer store.Close()

		agg := aggregator.NewAggregator(store)
		totals, err = agg.OrgTotals(context.Background(), org)
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}
	}

	if outputJSON {
		return printJSON(totals)
	}

	fmt.Printf("\nOrganization Totals: %s\n\n", org)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Repositories", fmt.Sprintf("%d", totals.Repos)})
	table.Append([]string{"Contributors", fmt.Sprintf("%d", totals.Contributors)})
	table.Append([]string{"Commits", fmt.Sprintf("%d", totals.Commits)})
	table.Append([]string{"Lines Added", fmt.Sprintf("%d", totals.Additions)})
	table.Append([]string{"Lines Deleted", fmt.Sprintf("%d", totals.Deletions)})
	table.Append([]string{"Net Lines", fmt.Sprintf("%d", totals.NetLines)})
	table.Render()
	return nil
}

func runShowRepo(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid repository id: %s", args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	start, end := getDateRange()

	var stats []*domain.DailyStat
	if remote {
		stats, err = getClient(cfg).GetRepoDailyStats(id, start, end)
		if err != nil {
			return err
		}
	} else {
		store, err := getStorage(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer store.Close()

		agg := aggregator.NewAggregator(store)
		stats, err = agg.RepoSeries(context.Background(), id, start, end)
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}
	}

	if outputJSON {
		return printJSON(stats)
	}

	fmt.Printf("\nDaily Stats: repository %d\n", id)
	fmt.Printf("Range: %s to %s\n\n", start.Format(domain.DateLayout), end.Format(domain.DateLayout))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Date", "Commits", "Additions", "Deletions", "Contributors"})
	for _, s := range stats {
		table.Append([]string{
			s.DateString(),
			fmt.Sprintf("%d", s.CommitsCount),
			fmt.Sprintf("%d", s.Additions),
			fmt.Sprintf("%d", s.Deletions),
			fmt.Sprintf("%d", s.ContributorsCount),
		})
	}
	table.Render()
	return nil
}

func runShowRepos(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var repos []*domain.Repository
	if remote {
		repos, err = getClient(cfg).ListRepositories(false)
		if err != nil {
			return err
		}
	} else {
		store, err := getStorage(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer store.Close()

		repos, err = store.ListRepositories(context.Background(), false)
		if err != nil {
			return err
		}
	}

	if outputJSON {
		return printJSON(repos)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Repository", "Tracked", "Stars", "Forks", "Open Issues"})
	for _, r := range repos {
		table.Append([]string{
			fmt.Sprintf("%d", r.ID),
			r.FullName,
			fmt.Sprintf("%t", r.Tracked),
			fmt.Sprintf("%d", r.StarsCount),
			fmt.Sprintf("%d", r.ForksCount),
			fmt.Sprintf("%d", r.OpenIssuesCount),
		})
	}
	table.Render()
	return nil
}

func printSyncLog(l *domain.SyncLog) {
	if outputJSON {
		printJSON(l)
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.Append([]string{"ID", l.ID})
	table.Append([]string{"Type", string(l.Type)})
	table.Append([]string{"Status", string(l.Status)})
	table.Append([]string{"Repos Processed", fmt.Sprintf("%d", l.ReposProcessed)})
	table.Append([]string{"Repos Failed", fmt.Sprintf("%d", l.ReposFailed)})
	table.Append([]string{"Commits Processed", fmt.Sprintf("%d", l.CommitsProcessed)})
	if l.Error != "" {
		table.Append([]string{"Error", l.Error})
	}
	table.Render()
}
