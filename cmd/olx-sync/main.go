// Command olx-sync ingests scraped car-listing batches into the shared
// price-history database. It runs either once over a batch file or
// directory, or as a long-lived watcher over an inbox directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/miqq27/olx-scraper/internal/backup"
	"github.com/miqq27/olx-scraper/internal/config"
	"github.com/miqq27/olx-scraper/internal/ingest"
	"github.com/miqq27/olx-scraper/internal/ledger"
	"github.com/miqq27/olx-scraper/internal/lock"
	"github.com/miqq27/olx-scraper/internal/remote"
	"github.com/miqq27/olx-scraper/internal/syncer"
	"github.com/miqq27/olx-scraper/internal/validate"
)

func main() {
	var (
		configPath = flag.String("config", envOrDefault("OLX_SYNC_CONFIG", ""), "path to YAML config file")
		batchPath  = flag.String("once", "", "ingest one batch file or directory, then exit")
		watchMode  = flag.Bool("watch", false, "watch the inbox directory for batch files")
		remoteDSN  = flag.String("remote", envOrDefault("OLX_SYNC_REMOTE_DSN", ""), "remote backend DSN (https://, postgres://, memory://)")
		dataDir    = flag.String("data-dir", envOrDefault("OLX_SYNC_DATA_DIR", ""), "base directory for working file, backups and locks")
		logFile    = flag.String("log-file", envOrDefault("OLX_SYNC_LOG_FILE", ""), "rotated log file in addition to stderr")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	if *dataDir != "" {
		cfg = cfg.Rebase(*dataDir)
	}
	if *remoteDSN != "" {
		cfg.Remote.DSN = *remoteDSN
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}

	logger := buildLogger(cfg.Log)

	if *batchPath == "" && !*watchMode {
		fmt.Fprintln(os.Stderr, "usage: olx-sync --once <batch.json|dir> | --watch")
		flag.PrintDefaults()
		os.Exit(2)
	}

	runner, watcher, cleanup, err := buildPipeline(cfg, logger)
	if err != nil {
		logger.Fatalf("initialize: %v", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *batchPath != "":
		if err := runOnce(ctx, runner, *batchPath, logger); err != nil {
			logger.Fatalf("run failed: %v", err)
		}
	case *watchMode:
		logger.Printf("watching %s", cfg.InboxDir)
		if err := watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatalf("watcher failed: %v", err)
		}
	}
}

func runOnce(ctx context.Context, runner *ingest.Runner, path string, logger *log.Logger) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	var (
		recs    []ledger.ListingRecord
		dropped int
	)
	if info.IsDir() {
		recs, dropped, err = ingest.ReadBatchDir(path)
	} else {
		recs, dropped, err = ingest.ReadBatchFile(path)
	}
	if err != nil {
		return err
	}
	if dropped > 0 {
		logger.Printf("dropped %d record(s) without link or title", dropped)
	}
	report, err := runner.Run(ctx, recs)
	if err != nil {
		return err
	}
	logger.Printf("session %s: %d new, %d changed, %d unchanged (stage %s)",
		report.SessionID, report.Stats.New, report.Stats.Changed, report.Stats.Unchanged, report.Stage)
	return nil
}

func buildPipeline(cfg config.Config, logger *log.Logger) (*ingest.Runner, *ingest.Watcher, func(), error) {
	validator, err := validate.New(logger)
	if err != nil {
		return nil, nil, nil, err
	}
	backups, err := backup.NewManager(backup.Options{
		Dir:           cfg.BackupDir,
		MaxBackups:    cfg.Backup.MaxBackups,
		RetentionDays: cfg.Backup.RetentionDays,
		Validator:     validator,
		Logger:        logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	locks, err := lock.NewManager(lock.Options{
		Dir:    cfg.LockDir,
		Name:   "database",
		Logger: logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	client, err := buildRemote(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	cleanup := func() {
		if client != nil {
			if err := client.Close(); err != nil {
				logger.Printf("close remote: %v", err)
			}
		}
	}
	orch, err := syncer.New(syncer.Options{
		WorkingFile:      cfg.WorkingFile,
		RemotePath:       cfg.Remote.Path,
		Client:           client,
		Validator:        validator,
		Backups:          backups,
		Locks:            locks,
		Logger:           logger,
		DownloadAttempts: cfg.Sync.DownloadAttempts,
		UploadAttempts:   cfg.Sync.UploadAttempts,
		BaseDelay:        cfg.BaseDelay(),
		MaxDelay:         cfg.MaxDelay(),
		RateLimitDelay:   cfg.RateLimitDelay(),
		LockTimeout:      cfg.LockTimeout(),
		StaleLockAge:     cfg.StaleLockAge(),
	})
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	runner, err := ingest.NewRunner(ingest.RunnerOptions{
		Orchestrator: orch,
		Source:       cfg.Ingest.Source,
		Threshold:    cfg.Ingest.PriceThreshold,
		MaxPerRun:    cfg.Ingest.MaxPerRun,
		Freshness:    cfg.Freshness(),
		Logger:       logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	watcher, err := ingest.NewWatcher(ingest.WatcherOptions{
		InboxDir:     cfg.InboxDir,
		ProcessedDir: cfg.ProcessedDir,
		Runner:       runner,
		SettleDelay:  cfg.SettleDelay(),
		Logger:       logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return runner, watcher, cleanup, nil
}

func buildRemote(cfg config.Config) (remote.Client, error) {
	dsn := strings.TrimSpace(cfg.Remote.DSN)
	if dsn == "" {
		return nil, nil
	}
	if strings.HasPrefix(dsn, "http://") || strings.HasPrefix(dsn, "https://") {
		return remote.NewHTTPClient(remote.HTTPOptions{
			BaseURL: dsn,
			Token:   cfg.Remote.Token,
			Timeout: cfg.RemoteTimeout(),
		}), nil
	}
	return remote.BuildFromDSN(dsn)
}

func buildLogger(cfg config.Log) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}
	return log.New(out, "[olx-sync] ", log.LstdFlags)
}

func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}
