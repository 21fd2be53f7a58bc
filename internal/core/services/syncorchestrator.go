package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/core/ports/driven"
	"github.com/ragsync/engine/internal/logger"
)

// defaultWorkerCount and defaultQueueSize are the orchestrator's concurrency
// and backpressure defaults (spec §4.8, §5).
const (
	defaultWorkerCount = 8
	defaultQueueSize   = 256
	cancellationGrace  = 5 * time.Second
)

// cancelledMessage is the literal error_message a cancelled run must record
// (spec §5).
const cancelledMessage = "cancelled"

// SyncOrchestrator drives one source's sync pipeline through the
// INIT -> LISTING -> CLASSIFYING -> PROCESSING -> FINALIZING -> (DONE|FAILED)
// state machine (component H, spec §4.8).
type SyncOrchestrator struct {
	catalog     driven.CatalogRepository
	deltaTokens *DeltaTokenManager
	detector    *ChangeDetector

	WorkerCount int
	QueueSize   int

	// Logger receives the structured, per-run audit trail (sync_run_id,
	// kb_name, source_id fields): run start/finish/fail events here, and
	// per-file events in the FileProcessor it constructs for each run.
	// internal/logger narrates progress for a human tailing stderr; Logger
	// records it for tooling. Defaults to slog.Default().
	Logger *slog.Logger

	// nowFunc is overridden in tests for deterministic timestamps.
	nowFunc func() time.Time
}

// NewSyncOrchestrator creates a SyncOrchestrator with the spec's default
// concurrency and backpressure settings.
func NewSyncOrchestrator(catalog driven.CatalogRepository) *SyncOrchestrator {
	return &SyncOrchestrator{
		catalog:     catalog,
		deltaTokens: NewDeltaTokenManager(catalog),
		detector:    NewChangeDetector(),
		WorkerCount: defaultWorkerCount,
		QueueSize:   defaultQueueSize,
		Logger:      slog.Default(),
		nowFunc:     time.Now,
	}
}

// sourceBinding is everything the orchestrator needs to run one source's
// pipeline: its KB identity, adapters, and delta-token coordinates. The
// Multi-Source Driver builds one of these per enabled SourceDefinition; a
// single-source KB sync builds exactly one.
type sourceBinding struct {
	CompatibleKBID   int64
	CompatibleKBName string
	MultiSourceKBID  int64 // 0 for a plain single-source KB run
	SourceID         string // empty for a plain single-source KB run
	SourceType       string
	DriveID          string // delta-token partition key; defaults to SourceID
	Source           driven.SourceAdapter
	RAG              driven.RAGAdapter
}

// Run executes the full pipeline for one source binding and returns the
// completed SyncRun. It never returns a non-nil error for per-file or
// per-listing problems that the state machine itself converts into a
// failed run — an error return means the catalog itself could not be
// written to (an infrastructure failure, spec §7).
func (o *SyncOrchestrator) Run(ctx context.Context, b sourceBinding, mode domain.SyncMode, multiSyncRunID int64) (*domain.SyncRun, error) {
	run := &domain.SyncRun{
		KnowledgeBaseID:      b.CompatibleKBID,
		MultiSourceKBID:      b.MultiSourceKBID,
		MultiSourceSyncRunID: multiSyncRunID,
		SourceID:             b.SourceID,
		Status:               mode.RunningStatus(),
		StartTime:            o.nowFunc(),
	}
	if err := o.catalog.CreateSyncRun(ctx, run); err != nil {
		return nil, err
	}
	runLog := o.runLogger(run, b)
	runLog.Info("sync run started", slog.String("mode", string(mode)))

	if err := b.Source.Validate(ctx); err != nil {
		o.fail(ctx, run, b, err.Error())
		return run, nil
	}

	driveID := b.DriveID
	if driveID == "" {
		driveID = b.SourceID
	}

	listing, err := o.deltaTokens.ResolveListing(ctx, b.Source, b.SourceID, driveID)
	if err != nil {
		o.fail(ctx, run, b, err.Error())
		return run, nil
	}

	latest, err := o.catalog.LatestRecordsByKB(ctx, b.CompatibleKBName)
	if err != nil {
		o.fail(ctx, run, b, err.Error())
		return run, nil
	}

	classifications := o.detector.Classify(listing.Items, latest)

	counters, cancelled, procErr := o.process(ctx, b, mode, run, classifications, runLog)
	if procErr != nil {
		o.fail(ctx, run, b, procErr.Error())
		return run, nil
	}
	if cancelled {
		o.fail(ctx, run, b, cancelledMessage)
		return run, nil
	}

	run.Counters = counters
	run.Finish(mode.CompletedStatus(), o.nowFunc(), "")
	if err := o.catalog.UpdateSyncRun(ctx, run); err != nil {
		return nil, err
	}
	runLog.Info("sync run finished", slog.Any("counters", run.Counters))

	if mode != domain.SyncModeScan && listing.NextToken != "" {
		if err := o.deltaTokens.Commit(ctx, b.SourceID, b.SourceType, driveID, listing.NextToken, o.nowFunc()); err != nil {
			return nil, err
		}
	}

	return run, nil
}

// process drains classifications through a bounded worker pool (spec §4.8,
// §5): WorkerCount goroutines each call the File Processor and insert the
// resulting FileRecord. Returns the run's final counters, whether the run
// was cancelled, and the first infrastructure (catalog write) error seen.
func (o *SyncOrchestrator) process(ctx context.Context, b sourceBinding, mode domain.SyncMode, run *domain.SyncRun, classifications []domain.Classification, runLog *slog.Logger) (domain.SyncCounters, bool, error) {
	proc := NewFileProcessor(b.Source, b.RAG, b.CompatibleKBName)
	proc.Logger = runLog
	proc.RunID = run.ID
	proc.SourceID = b.SourceID

	queue := make(chan domain.Classification, o.QueueSize)
	results := make(chan domain.FileRecord, o.QueueSize)

	var wg sync.WaitGroup
	workers := o.WorkerCount
	if workers <= 0 {
		workers = defaultWorkerCount
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range queue {
				rec, _ := proc.Process(ctx, mode, c)
				rec.SyncRunID = run.ID
				results <- rec
			}
		}()
	}

	go func() {
		defer close(queue)
		for _, c := range classifications {
			select {
			case <-ctx.Done():
				return
			case queue <- c:
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(results)
		close(done)
	}()

	var counters domain.SyncCounters
	var firstErr error

	for rec := range results {
		counters.Add(rec.Status)
		if firstErr == nil {
			if err := o.catalog.InsertFileRecord(ctx, &rec); err != nil {
				firstErr = err
			}
		}
	}

	cancelled := false
	select {
	case <-ctx.Done():
		cancelled = o.awaitGrace(done)
	default:
	}

	return counters, cancelled, firstErr
}

// awaitGrace waits up to cancellationGrace for in-flight workers to finish
// writing their catalog inserts before declaring the run cancelled (spec §5).
func (o *SyncOrchestrator) awaitGrace(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-time.After(cancellationGrace):
		return true
	}
}

func (o *SyncOrchestrator) fail(ctx context.Context, run *domain.SyncRun, b sourceBinding, msg string) {
	run.Finish(run.Mode().FailedStatus(), o.nowFunc(), msg)
	if err := o.catalog.UpdateSyncRun(ctx, run); err != nil {
		logger.Debug("updating failed sync run %d: %v", run.ID, err)
	}
	o.runLogger(run, b).Warn("sync run failed", slog.String("error", msg))
}

// runLogger returns a child logger carrying the structured fields that
// identify this run across every log line it emits: sync_run_id, kb_name,
// and source_id (empty for a plain single-source run).
func (o *SyncOrchestrator) runLogger(run *domain.SyncRun, b sourceBinding) *slog.Logger {
	l := o.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With(
		slog.Int64("sync_run_id", run.ID),
		slog.String("kb_name", b.CompatibleKBName),
		slog.String("source_id", b.SourceID),
	)
}
