package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/miqq27/olx-scraper/internal/ledger"
	"github.com/miqq27/olx-scraper/internal/syncer"
	"github.com/miqq27/olx-scraper/internal/validate"
)

// DefaultMaxPerRun caps how many records one cycle will ingest; a scrape
// that explodes past this is more likely a scraper bug than a real market.
const DefaultMaxPerRun = 1000

// DefaultFreshness is how old the newest observation may be before the
// database is flagged as possibly stale.
const DefaultFreshness = 24 * time.Hour

type RunnerOptions struct {
	Orchestrator *syncer.Orchestrator
	Source       string // recorded on every observation, e.g. "olx.ro"
	Threshold    float64
	MaxPerRun    int
	Freshness    time.Duration
	Logger       *log.Logger
}

// Runner drives one complete ingest cycle under the database lock.
type Runner struct {
	orch      *syncer.Orchestrator
	source    string
	threshold float64
	maxPerRun int
	freshness time.Duration
	logger    *log.Logger
}

// Report is the outcome of one cycle.
type Report struct {
	SessionID  string
	Stage      syncer.RecoveryStage
	Stats      ledger.OperationStats
	Reportable []ledger.ListingRecord
	// UploadDeferred is set when the remote push failed non-fatally and
	// the cycle completed with local-only state.
	UploadDeferred bool
	StaleDatabase  bool
}

func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	source := opts.Source
	if source == "" {
		source = "olx.ro"
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultPriceThreshold
	}
	maxPerRun := opts.MaxPerRun
	if maxPerRun <= 0 {
		maxPerRun = DefaultMaxPerRun
	}
	freshness := opts.Freshness
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[ingest] ", log.LstdFlags)
	}
	return &Runner{
		orch:      opts.Orchestrator,
		source:    source,
		threshold: threshold,
		maxPerRun: maxPerRun,
		freshness: freshness,
		logger:    logger,
	}, nil
}

// Run executes one download-classify-append-upload cycle for a batch. The
// whole span runs under the database lock. Upload exhaustion is reported,
// not raised; everything else fails the run with no partial remote state.
func (r *Runner) Run(ctx context.Context, records []ledger.ListingRecord) (*Report, error) {
	sessionID := fmt.Sprintf("sync_%s_%d", time.Now().UTC().Format("20060102_150405"), os.Getpid())
	report := &Report{SessionID: sessionID}

	err := r.orch.WithLock(ctx, sessionID, func(ctx context.Context) error {
		res, err := r.orch.Download(ctx)
		if err != nil {
			return err
		}
		db := res.DB
		report.Stage = res.Stage

		if newest := db.NewestObservation(); !newest.IsZero() && time.Since(newest) > r.freshness {
			report.StaleDatabase = true
			r.logger.Printf("newest observation is %s old, database may be stale", time.Since(newest).Round(time.Minute))
		}
		if len(records) > r.maxPerRun {
			r.logger.Printf("batch of %d exceeds per-run cap %d, truncating", len(records), r.maxPerRun)
			records = records[:r.maxPerRun]
		}

		summary := Classify(db, records, r.threshold)
		for _, rec := range records {
			db.Append(rec, r.source)
		}

		stats := ledger.OperationStats{
			SessionID:   sessionID,
			Processed:   len(records),
			New:         len(summary.New),
			Changed:     len(summary.Changed),
			Unchanged:   len(summary.Unchanged),
			Appended:    len(records),
			CompletedAt: time.Now().UTC().Format(ledger.TimeFormat),
		}
		db.Metadata.LastOperation = &stats
		report.Stats = stats
		report.Reportable = summary.Reportable()
		validate.Touch(db, r.source)

		if err := r.orch.Upload(ctx, db, sessionID); err != nil {
			if errors.Is(err, syncer.ErrUploadExhausted) {
				report.UploadDeferred = true
				r.logger.Printf("upload deferred, continuing with local state: %v", err)
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Printf("cycle %s done via %s: %d new, %d changed, %d unchanged",
		sessionID, report.Stage, report.Stats.New, report.Stats.Changed, report.Stats.Unchanged)
	return report, nil
}
