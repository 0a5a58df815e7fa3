// Package syncer composes the validator, backup manager, lock manager and
// remote client into the download/upload protocol that keeps the local
// price-history document in step with the remote copy.
//
// Download walks a fixed fallback chain (remote, latest valid backup,
// corrected local copy, emergency empty document) and reports which stage
// produced the result. Upload validates, backs up, writes locally through a
// verified temp file, then pushes to the remote with bounded retries.
// Remote clients are single-shot; all retry and backoff policy lives here.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/miqq27/olx-scraper/internal/backup"
	"github.com/miqq27/olx-scraper/internal/ledger"
	"github.com/miqq27/olx-scraper/internal/lock"
	"github.com/miqq27/olx-scraper/internal/remote"
	"github.com/miqq27/olx-scraper/internal/validate"
)

// RecoveryStage identifies the strategy that produced (or failed to produce)
// a usable document during download.
type RecoveryStage string

const (
	StageRemote             RecoveryStage = "remote"
	StageRemoteCorrected    RecoveryStage = "remote-corrected"
	StageLocalBackup        RecoveryStage = "local-backup"
	StageLocalFileCorrected RecoveryStage = "local-file-corrected"
	StageEmergencyEmpty     RecoveryStage = "emergency-empty"
)

// StageAttempt is one step of the provenance trail. Err is nil on the
// attempt that succeeded.
type StageAttempt struct {
	Stage  RecoveryStage
	Detail string
	Err    error
}

func (a StageAttempt) String() string {
	s := string(a.Stage)
	if a.Detail != "" {
		s += ":" + a.Detail
	}
	if a.Err != nil {
		s += " (" + a.Err.Error() + ")"
	}
	return s
}

// DownloadResult carries the recovered document together with the full
// ordered trail of stages attempted to obtain it.
type DownloadResult struct {
	DB    *ledger.Database
	Stage RecoveryStage
	Trail []StageAttempt
}

// Provenance renders the trail as one human-readable line.
func (r *DownloadResult) Provenance() string {
	parts := make([]string, len(r.Trail))
	for i, a := range r.Trail {
		parts[i] = a.String()
	}
	return strings.Join(parts, " -> ")
}

func (r *DownloadResult) chain() []string {
	parts := make([]string, len(r.Trail))
	for i, a := range r.Trail {
		parts[i] = a.String()
	}
	return parts
}

func (r *DownloadResult) record(stage RecoveryStage, detail string, err error) {
	r.Trail = append(r.Trail, StageAttempt{Stage: stage, Detail: detail, Err: err})
}

// ErrUploadExhausted marks an upload that failed every remote attempt. The
// local document is already saved when this is returned, so callers treat it
// as a degraded success and retry on the next cycle.
var ErrUploadExhausted = errors.New("remote upload attempts exhausted")

type Options struct {
	// WorkingFile is the local working copy of the document.
	WorkingFile string
	// RemotePath is the object path on the remote backend.
	RemotePath string
	// Client may be nil, meaning no remote is configured; download then
	// starts at the backup stage and upload stops after the local save.
	Client    remote.Client
	Validator *validate.Validator
	Backups   *backup.Manager
	Locks     *lock.Manager
	Logger    *log.Logger

	DownloadAttempts int           // default 3
	UploadAttempts   int           // default 5
	BaseDelay        time.Duration // default 500ms
	MaxDelay         time.Duration // default 8s
	RateLimitDelay   time.Duration // default 2s
	LockTimeout      time.Duration // default 30s
	StaleLockAge     time.Duration // default 10m
}

type Orchestrator struct {
	workingFile string
	remotePath  string
	client      remote.Client
	validator   *validate.Validator
	backups     *backup.Manager
	locks       *lock.Manager
	logger      *log.Logger

	downloadAttempts int
	uploadAttempts   int
	baseDelay        time.Duration
	maxDelay         time.Duration
	rateLimitDelay   time.Duration
	lockTimeout      time.Duration
	staleLockAge     time.Duration
}

func New(opts Options) (*Orchestrator, error) {
	if strings.TrimSpace(opts.WorkingFile) == "" {
		return nil, fmt.Errorf("working file path is required")
	}
	if opts.Validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if opts.Backups == nil {
		return nil, fmt.Errorf("backup manager is required")
	}
	if opts.Locks == nil {
		return nil, fmt.Errorf("lock manager is required")
	}
	remotePath := strings.TrimSpace(opts.RemotePath)
	if remotePath == "" {
		remotePath = filepath.Base(opts.WorkingFile)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	o := &Orchestrator{
		workingFile:      opts.WorkingFile,
		remotePath:       remotePath,
		client:           opts.Client,
		validator:        opts.Validator,
		backups:          opts.Backups,
		locks:            opts.Locks,
		logger:           logger,
		downloadAttempts: opts.DownloadAttempts,
		uploadAttempts:   opts.UploadAttempts,
		baseDelay:        opts.BaseDelay,
		maxDelay:         opts.MaxDelay,
		rateLimitDelay:   opts.RateLimitDelay,
		lockTimeout:      opts.LockTimeout,
		staleLockAge:     opts.StaleLockAge,
	}
	if o.downloadAttempts <= 0 {
		o.downloadAttempts = 3
	}
	if o.uploadAttempts <= 0 {
		o.uploadAttempts = 5
	}
	if o.baseDelay <= 0 {
		o.baseDelay = 500 * time.Millisecond
	}
	if o.maxDelay <= 0 {
		o.maxDelay = 8 * time.Second
	}
	if o.rateLimitDelay <= 0 {
		o.rateLimitDelay = 2 * time.Second
	}
	if o.lockTimeout <= 0 {
		o.lockTimeout = 30 * time.Second
	}
	if o.staleLockAge <= 0 {
		o.staleLockAge = 10 * time.Minute
	}
	return o, nil
}

// WithLock sweeps stale locks, acquires the database lock, runs fn, and
// releases. The lock spans the caller's whole download-classify-upload cycle
// so independent scheduler invocations cannot interleave writes.
func (o *Orchestrator) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	if swept := o.locks.CleanupStale(o.staleLockAge); swept > 0 {
		o.logger.Printf("swept %d stale lock(s)", swept)
	}
	handle, err := o.locks.Acquire(ctx, sessionID, o.lockTimeout)
	if err != nil {
		return fmt.Errorf("database lock: %w", err)
	}
	defer o.locks.Release(handle)
	return fn(ctx)
}

// Download recovers the current document through the fallback chain. It
// always returns a usable document; the result's Stage and Trail say how
// degraded the recovery was. The caller must hold the database lock.
func (o *Orchestrator) Download(ctx context.Context) (*DownloadResult, error) {
	res := &DownloadResult{}

	if o.client == nil {
		res.record(StageRemote, "not configured", errors.New("skipped"))
	} else {
		if db, stage, done, err := o.downloadRemote(ctx, res); done {
			if err != nil {
				return nil, err
			}
			return o.finish(res, db, stage, "")
		}
	}

	if path, db, err := o.backups.LatestValid(); err == nil {
		name := filepath.Base(path)
		if saveErr := ledger.SaveFile(o.workingFile, db); saveErr != nil {
			res.record(StageLocalBackup, name, fmt.Errorf("restore: %w", saveErr))
		} else {
			return o.finish(res, db, StageLocalBackup, name)
		}
	} else {
		res.record(StageLocalBackup, "", err)
	}

	if data, err := os.ReadFile(o.workingFile); err != nil {
		res.record(StageLocalFileCorrected, "", err)
	} else {
		vres := o.validator.ValidateBytes(data)
		if vres.Corrected != nil {
			return o.finish(res, vres.Corrected, StageLocalFileCorrected, "")
		}
		res.record(StageLocalFileCorrected, "", fmt.Errorf("local copy unusable: %s", strings.Join(vres.Problems, "; ")))
	}

	// Degraded mode: every scraped listing will classify as new until the
	// next successful sync.
	return o.finish(res, ledger.NewDatabase(), StageEmergencyEmpty, "")
}

// downloadRemote runs the bounded remote attempt loop. done reports whether
// the chain should stop here (success or context cancellation); otherwise
// the trail has been extended and the caller falls through to local stages.
func (o *Orchestrator) downloadRemote(ctx context.Context, res *DownloadResult) (*ledger.Database, RecoveryStage, bool, error) {
	for attempt := 1; attempt <= o.downloadAttempts; attempt++ {
		data, err := o.client.Download(ctx, o.remotePath)
		if err == nil {
			vres := o.validator.ValidateBytes(data)
			if vres.Corrected != nil {
				stage := StageRemote
				if !vres.Valid {
					stage = StageRemoteCorrected
					o.logger.Printf("remote document corrected: dropped %d corrupt observation(s)", vres.Report.CorruptedRemoved)
				}
				return vres.Corrected, stage, true, nil
			}
			// An unusable payload may be a torn concurrent write; it
			// gets the same retry budget as a transport failure.
			err = fmt.Errorf("remote payload unusable: %s", strings.Join(vres.Problems, "; "))
			res.record(StageRemote, fmt.Sprintf("attempt %d", attempt), err)
		} else {
			kind := remote.KindOf(err)
			res.record(StageRemote, fmt.Sprintf("attempt %d", attempt), err)
			if kind == remote.KindAuth || kind == remote.KindNotFound {
				// No remote state for us; advance the chain without
				// burning the remaining attempts.
				return nil, "", false, nil
			}
		}
		if attempt < o.downloadAttempts {
			if err := o.backoff(ctx, attempt, err); err != nil {
				return nil, "", true, err
			}
		}
	}
	return nil, "", false, nil
}

// finish stamps the winning stage onto the result and document, persists the
// working copy, and takes a backup when the content came from outside the
// backup store.
func (o *Orchestrator) finish(res *DownloadResult, db *ledger.Database, stage RecoveryStage, detail string) (*DownloadResult, error) {
	res.record(stage, detail, nil)
	res.DB = db
	res.Stage = stage
	db.Metadata.RecoveryChain = res.chain()
	validate.Touch(db, string(stage))

	if stage == StageEmergencyEmpty {
		// Keep the unusable working copy around for inspection instead
		// of overwriting the only remaining trace of it.
		if _, err := os.Stat(o.workingFile); err == nil {
			sidelined := o.workingFile + ".corrupt"
			if err := os.Rename(o.workingFile, sidelined); err != nil {
				o.logger.Printf("cannot sideline unusable working copy: %v", err)
			} else {
				o.logger.Printf("sidelined unusable working copy to %s", filepath.Base(sidelined))
			}
		}
	}
	if err := ledger.SaveFile(o.workingFile, db); err != nil {
		o.logger.Printf("cannot persist working copy after %s recovery: %v", stage, err)
	}
	switch stage {
	case StageRemote, StageRemoteCorrected, StageLocalFileCorrected:
		if _, err := o.backups.Create(db, "downloaded"); err != nil {
			o.logger.Printf("post-download backup failed: %v", err)
		}
	}
	o.logger.Printf("download recovered via %s (%s)", stage, res.Provenance())
	return res, nil
}

// Upload validates db, saves it locally through a verified temp file, then
// pushes it to the remote with bounded retries. Local failures abort before
// any remote mutation. Exhausting the remote attempts returns
// ErrUploadExhausted with the document already saved locally.
func (o *Orchestrator) Upload(ctx context.Context, db *ledger.Database, tag string) error {
	vres := o.validator.Validate(db)
	if vres.Corrected == nil {
		return fmt.Errorf("refusing to upload unusable document: %s", strings.Join(vres.Problems, "; "))
	}
	// The corrected form is deterministic, so uploading identical content
	// twice stores identical bytes.
	corrected := vres.Corrected

	if _, err := o.backups.Create(corrected, "pre-upload"); err != nil {
		return fmt.Errorf("pre-upload backup: %w", err)
	}

	data, err := ledger.Encode(corrected)
	if err != nil {
		return err
	}
	if err := o.saveVerified(data); err != nil {
		return err
	}

	if o.client == nil {
		o.logger.Printf("no remote configured, document saved locally only")
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= o.uploadAttempts; attempt++ {
		lastErr = o.client.Upload(ctx, o.remotePath, data, tag)
		if lastErr == nil {
			if _, err := o.backups.Create(corrected, "uploaded"); err != nil {
				o.logger.Printf("post-upload backup failed: %v", err)
			}
			o.logger.Printf("uploaded %s (attempt %d/%d)", o.remotePath, attempt, o.uploadAttempts)
			return nil
		}
		o.logger.Printf("upload attempt %d/%d failed: %v", attempt, o.uploadAttempts, lastErr)
		if !remote.IsRetryable(lastErr) {
			break
		}
		if attempt < o.uploadAttempts {
			if err := o.backoff(ctx, attempt, lastErr); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrUploadExhausted, lastErr)
}

// saveVerified writes data to a temp file, re-reads and re-validates what
// actually landed on disk, then renames it into place. Guards against
// partial writes corrupting the working copy.
func (o *Orchestrator) saveVerified(data []byte) error {
	dir := filepath.Dir(o.workingFile)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}
	tmp := o.workingFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp copy: %w", err)
	}
	written, err := os.ReadFile(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("re-read temp copy: %w", err)
	}
	if vres := o.validator.ValidateBytes(written); !vres.Valid {
		_ = os.Remove(tmp)
		return fmt.Errorf("temp copy failed verification: %s", strings.Join(vres.Problems, "; "))
	}
	if err := os.Rename(tmp, o.workingFile); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// backoff sleeps for a jittered exponential delay before the next attempt,
// honoring server rate-limit hints.
func (o *Orchestrator) backoff(ctx context.Context, attempt int, cause error) error {
	delay := o.baseDelay << uint(attempt-1)
	if delay > o.maxDelay {
		delay = o.maxDelay
	}
	delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
	if remote.IsRateLimited(cause) {
		extra := remote.RetryAfterHint(cause)
		if extra < o.rateLimitDelay {
			extra = o.rateLimitDelay
		}
		delay += extra
	}
	return sleepContext(ctx, delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
