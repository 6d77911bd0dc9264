// Package transform locks and unlocks whole folders. Every operation stages
// its output next to the target and only becomes visible through a single
// rename, so a folder is either fully transformed or untouched.
package transform

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheMichaelB/chaosvault/internal/config"
	"github.com/TheMichaelB/chaosvault/internal/crypto"
	"github.com/TheMichaelB/chaosvault/internal/events"
	"github.com/TheMichaelB/chaosvault/internal/models"
	"github.com/TheMichaelB/chaosvault/internal/storage"
	"github.com/TheMichaelB/chaosvault/internal/vault"
)

// Phase is a step of the transform state machine.
type Phase string

const (
	PhaseScanning     Phase = "scanning"
	PhaseTransforming Phase = "transforming"
	PhaseCommitting   Phase = "committing"
	PhaseDone         Phase = "done"
	PhaseAborting     Phase = "aborting"
	PhaseRolledBack   Phase = "rolled_back"
)

// Reserved names inside and next to transformed folders.
const (
	LockedSuffix    = ".locked"
	ManifestName    = ".chaosvault-manifest.json"
	ManifestTagName = ".chaosvault-manifest.tag"
	NeverIndexName  = ".metadata_never_index"
	stagingInfix    = ".staging-"
	journalSuffix   = ".chaosvault-commit"
	defaultFileMode = 0600
)

// Progress is a snapshot of a running transform.
type Progress struct {
	FilesProcessed int
	TotalFiles     int
	Phase          Phase
	CurrentFile    string
	StartTime      time.Time
}

// ProgressSink observes a transform. Implementations must not block.
type ProgressSink interface {
	Report(Progress)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(Progress)

// Report calls f.
func (f ProgressFunc) Report(p Progress) { f(p) }

// Options tune the engine.
type Options struct {
	Workers          int
	Compress         bool
	VerifyHashes     bool
	HideFromIndex    bool
	MaxFileSize      int64
	MediumRetries    int
	MediumRetryDelay time.Duration
}

// OptionsFromConfig maps the transform config section onto engine options.
func OptionsFromConfig(cfg config.TransformConfig) Options {
	return Options{
		Workers:          cfg.Workers,
		Compress:         cfg.Compress,
		VerifyHashes:     cfg.VerifyHashes,
		HideFromIndex:    cfg.HideFromIndex,
		MaxFileSize:      cfg.MaxFileSize,
		MediumRetries:    cfg.MediumRetries,
		MediumRetryDelay: cfg.MediumRetryDelay,
	}
}

// Result summarizes a committed transform.
type Result struct {
	Source      string
	Destination string
	FileCount   int
	TotalSize   int64
	Manifest    *models.Manifest
	Duration    time.Duration
}

// Engine runs folder transforms. One operation runs at a time per engine.
type Engine struct {
	crypto crypto.Provider
	opts   Options
	logger *events.Logger

	progress atomic.Value // Progress

	mu       sync.Mutex
	running  bool
	cancelFn context.CancelFunc

	// Test hooks.
	fileHook  func(index int, path string) error
	crashHook func(point string) bool
}

// NewEngine creates a transform engine.
func NewEngine(provider crypto.Provider, opts Options, logger *events.Logger) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = config.DefaultConfig().Transform.MaxFileSize
	}

	return &Engine{
		crypto: provider,
		opts:   opts,
		logger: logger.WithField("component", "transform_engine"),
	}
}

// GetProgress returns the latest progress snapshot.
func (e *Engine) GetProgress() Progress {
	if p, ok := e.progress.Load().(Progress); ok {
		return p
	}
	return Progress{}
}

// Cancel stops a running operation. Staged output is rolled back.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancelFn != nil {
		e.logger.Info("Cancelling transform")
		e.cancelFn()
	}
}

// begin marks the engine busy and returns a cancellable context.
func (e *Engine) begin(ctx context.Context) (context.Context, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil, nil, models.ErrOperationInProgress
	}
	e.running = true

	ctx, cancel := context.WithCancel(ctx)
	e.cancelFn = cancel

	return ctx, func() {
		cancel()
		e.mu.Lock()
		e.running = false
		e.cancelFn = nil
		e.mu.Unlock()
	}, nil
}

// run is the per-operation state shared by lock and unlock.
type run struct {
	op     string
	engine *Engine
	vault  *vault.Vault
	sink   ProgressSink
	medium *storage.Medium
	logger *events.Logger

	mu       sync.Mutex
	progress Progress
}

func (e *Engine) newRun(ctx context.Context, op string, v *vault.Vault, sink ProgressSink) *run {
	fields := map[string]interface{}{
		"op":       op,
		"vault_id": v.ID,
	}
	if id := events.GetOperationID(ctx); id != "" {
		fields["operation_id"] = id
	}

	return &run{
		op:       op,
		engine:   e,
		vault:    v,
		sink:     sink,
		medium:   storage.NewMedium(v.Root, e.opts.MediumRetries, e.opts.MediumRetryDelay, e.logger),
		logger:   e.logger.WithFields(fields),
		progress: Progress{Phase: PhaseScanning, StartTime: time.Now()},
	}
}

func (r *run) phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress.Phase
}

func (r *run) setPhase(p Phase) {
	r.mu.Lock()
	r.progress.Phase = p
	r.publishLocked()
	r.mu.Unlock()

	r.logger.WithField("phase", p).Debug("Phase changed")
}

func (r *run) setTotal(n int) {
	r.mu.Lock()
	r.progress.TotalFiles = n
	r.publishLocked()
	r.mu.Unlock()
}

func (r *run) processed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress.FilesProcessed
}

// fileDone records a finished file. fn runs under the same lock as the
// progress counter so manifest updates stay serialized with it.
func (r *run) fileDone(path string, fn func()) {
	r.mu.Lock()
	if fn != nil {
		fn()
	}
	r.progress.FilesProcessed++
	r.progress.CurrentFile = path
	r.publishLocked()
	r.mu.Unlock()
}

func (r *run) publishLocked() {
	snapshot := r.progress
	r.engine.progress.Store(snapshot)
	if r.sink != nil {
		r.sink.Report(snapshot)
	}
}

// fail builds the operation error surfaced to callers.
func (r *run) fail(phase Phase, path string, rolledBack bool, err error) error {
	r.mu.Lock()
	processed, total := r.progress.FilesProcessed, r.progress.TotalFiles
	r.mu.Unlock()

	var fileErr *models.FileError
	if path == "" && errors.As(err, &fileErr) {
		path = fileErr.Path
	}

	return &models.OperationError{
		Code:       models.CodeOf(err),
		Op:         r.op,
		Phase:      string(phase),
		Path:       path,
		Processed:  processed,
		Total:      total,
		RolledBack: rolledBack,
		Err:        err,
	}
}

// crashed reports whether a test hook asked the engine to stop dead at point.
func (e *Engine) crashed(point string) bool {
	return e.crashHook != nil && e.crashHook(point)
}

// errSimulatedCrash is returned when a crash hook fires.
var errSimulatedCrash = errors.New("simulated crash")
