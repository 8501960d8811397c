package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/core/services"
	"quickdowntime/internal/infrastructure/queue"
	"quickdowntime/internal/infrastructure/reliability"
	repositories "quickdowntime/internal/infrastructure/repositories"
	"quickdowntime/internal/infrastructure/scheduler"
	"quickdowntime/pkg/config"
	"quickdowntime/pkg/distributed"
	"quickdowntime/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var skipLock bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued submissions into the record store",
	Long: `Replays every file in the local queue. Files that fail stay queued and
are listed in the summary. With the redis backend the replay takes the same
lock as the server's scheduler, so the two never replay concurrently.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List queued submissions",
	Args:  cobra.NoArgs,
	RunE:  runPending,
}

func init() {
	syncCmd.Flags().BoolVar(&skipLock, "no-lock", false, "replay without taking the shared redis lock")
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.Locate(config.SearchPaths...)
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) *zap.SugaredLogger {
	l, err := logger.NewWithFormat(cfg.Logging.Level, "console")
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

func openQueue(cfg *config.Config, log *zap.SugaredLogger) (*queue.FileQueue, error) {
	return queue.NewFileQueueAt(cfg.Queue.Dir, log)
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repoFactory, err := repositories.NewRepositoryFactory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer repoFactory.Close()

	pending, err := openQueue(cfg, log)
	if err != nil {
		return err
	}

	// Replayed records are stored as-is: no analysis and no live broadcast.
	ingestion := services.NewIngestionService(services.IngestionDeps{
		Downtimes: reliability.FromConfig(repoFactory.DowntimeRepository(), cfg, log),
		Analyses:  repoFactory.AnalysisRepository(),
		Queue:     pending,
	}, services.IngestionOptions{}, log)

	var lock scheduler.Locker
	if client := repoFactory.RedisClient(); client != nil && !skipLock {
		lock = distributed.NewMutex(client, scheduler.ReplayLockKey(cfg.Redis.KeyPrefix), cfg.Sync.LockTTL)
	}

	summary, err := scheduler.NewSyncScheduler(ingestion, lock, scheduler.Config{}, log).RunOnce(ctx)
	if errors.Is(err, scheduler.ErrSyncInProgress) {
		return fmt.Errorf("%w; retry later or pass --no-lock", err)
	}
	if summary != nil {
		if perr := printSummary(cmd.OutOrStdout(), summary, jsonOutput); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if len(summary.Errors) > 0 {
		return fmt.Errorf("%d queued submission(s) failed to replay", len(summary.Errors))
	}
	return nil
}

func runPending(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Sync()

	pending, err := openQueue(cfg, log)
	if err != nil {
		return err
	}
	return listPending(cmd.Context(), cmd.OutOrStdout(), pending, jsonOutput)
}

type pendingEntry struct {
	File      string `json:"file"`
	MachineID string `json:"machine_id"`
	Reason    string `json:"reason"`
	StartTime string `json:"start_time"`
	Error     string `json:"error,omitempty"`
}

type pendingQueue interface {
	ListPending(ctx context.Context) ([]string, error)
	Load(ctx context.Context, name string) (*domain.Downtime, error)
}

func listPending(ctx context.Context, w io.Writer, q pendingQueue, asJSON bool) error {
	names, err := q.ListPending(ctx)
	if err != nil {
		return err
	}

	entries := make([]pendingEntry, 0, len(names))
	for _, name := range names {
		e := pendingEntry{File: name}
		if d, err := q.Load(ctx, name); err != nil {
			e.Error = err.Error()
		} else {
			e.MachineID = d.MachineID
			e.Reason = d.Reason
			e.StartTime = d.StartTime.UTC().Format("2006-01-02 15:04:05")
		}
		entries = append(entries, e)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "queue is empty")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tMACHINE\tSTARTED (UTC)\tREASON")
	for _, e := range entries {
		if e.Error != "" {
			fmt.Fprintf(tw, "%s\t-\t-\tunreadable: %s\n", e.File, e.Error)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.File, e.MachineID, e.StartTime, e.Reason)
	}
	return tw.Flush()
}

func printSummary(w io.Writer, summary *domain.SyncSummary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	if _, err := fmt.Fprintf(w, "synced %d, failed %d\n", summary.Synced, len(summary.Errors)); err != nil {
		return err
	}
	for _, e := range summary.Errors {
		if _, err := fmt.Fprintf(w, "  %s: %s\n", e.File, e.Error); err != nil {
			return err
		}
	}
	return nil
}
