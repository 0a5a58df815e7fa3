package ingest

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettleDelay is how long a batch file must sit unchanged before the
// watcher picks it up, so half-written scraper output is not ingested.
const DefaultSettleDelay = 2 * time.Second

type WatcherOptions struct {
	// InboxDir is watched for *.json batch files dropped by the scraper.
	InboxDir string
	// ProcessedDir receives batches after ingestion. Defaults to
	// <inbox>/processed.
	ProcessedDir string
	Runner       *Runner
	SettleDelay  time.Duration
	Logger       *log.Logger
}

// Watcher ingests batch files as the scraper drops them into the inbox.
type Watcher struct {
	inboxDir     string
	processedDir string
	runner       *Runner
	settle       time.Duration
	logger       *log.Logger
}

func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	if strings.TrimSpace(opts.InboxDir) == "" {
		return nil, fmt.Errorf("inbox directory is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	processedDir := opts.ProcessedDir
	if processedDir == "" {
		processedDir = filepath.Join(opts.InboxDir, "processed")
	}
	settle := opts.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[watch] ", log.LstdFlags)
	}
	for _, dir := range []string{opts.InboxDir, processedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Watcher{
		inboxDir:     opts.InboxDir,
		processedDir: processedDir,
		runner:       opts.Runner,
		settle:       settle,
		logger:       logger,
	}, nil
}

// Watch processes batches already in the inbox, then blocks ingesting new
// ones until ctx is cancelled. Files are given a settle delay after their
// last write before ingestion, and moved to the processed directory after.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.inboxDir); err != nil {
		return fmt.Errorf("watch %s: %w", w.inboxDir, err)
	}

	w.drainExisting(ctx)

	pending := map[string]time.Time{}
	tick := time.NewTicker(w.settle / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			pending[event.Name] = time.Now()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("watch error: %v", err)
		case <-tick.C:
			for path, seen := range pending {
				if time.Since(seen) < w.settle {
					continue
				}
				delete(pending, path)
				w.process(ctx, path)
			}
		}
	}
}

// drainExisting handles batches that arrived while nothing was watching.
func (w *Watcher) drainExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.inboxDir)
	if err != nil {
		w.logger.Printf("cannot list inbox: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		w.process(ctx, filepath.Join(w.inboxDir, entry.Name()))
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	records, dropped, err := ReadBatchFile(path)
	if err != nil {
		w.logger.Printf("skipping unreadable batch %s: %v", filepath.Base(path), err)
		return
	}
	if dropped > 0 {
		w.logger.Printf("batch %s: dropped %d record(s) without link or title", filepath.Base(path), dropped)
	}
	if _, err := w.runner.Run(ctx, records); err != nil {
		w.logger.Printf("batch %s failed, leaving in inbox for retry: %v", filepath.Base(path), err)
		return
	}
	dest := filepath.Join(w.processedDir,
		time.Now().UTC().Format("20060102_150405")+"_"+filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		w.logger.Printf("cannot archive %s: %v", filepath.Base(path), err)
	}
}
