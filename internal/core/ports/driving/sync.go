// Package driving provides interfaces for the engine's inbound entry points,
// called by the CLI composition root.
package driving

import (
	"context"

	"github.com/ragsync/engine/internal/core/domain"
)

// SyncOrchestrator runs the sync pipeline for a single-source KB (spec §4.8).
type SyncOrchestrator interface {
	// Sync runs a full sync-or-scan pass for the KB and returns the
	// completed SyncRun. Returns domain.ErrSyncInProgress if a run is
	// already active for this KB.
	Sync(ctx context.Context, kbID int64, mode domain.SyncMode) (*domain.SyncRun, error)

	// Status returns the most recent SyncRun for a KB, running or
	// terminal.
	Status(ctx context.Context, kbID int64) (*domain.SyncRun, error)
}

// MultiSourceDriver runs the fan-out sync pipeline for a multi-source KB
// (spec §4.9).
type MultiSourceDriver interface {
	// SyncMultiKB runs every enabled source of the KB according to its
	// configured sync_strategy (parallel, sequential, selective or
	// incremental) and returns the completed aggregate run.
	SyncMultiKB(ctx context.Context, multiKBID int64, mode domain.SyncMode) (*domain.MultiSourceSyncRun, error)

	// Status returns the most recent MultiSourceSyncRun for a KB.
	Status(ctx context.Context, multiKBID int64) (*domain.MultiSourceSyncRun, error)
}

// ScanRunner performs a RAG-free pass of the classification pipeline
// against a single-source KB: it calls no RAG adapter, but it does record a
// scan sync_run and one scanned or scan_error FileRecord per classified
// file (spec §4.10).
type ScanRunner interface {
	// Scan classifies the KB's current source state against the catalog
	// and returns the scan run's counters. Total counts every classified
	// file and Errors the scan_error rows; New, Modified, Unchanged and
	// Deleted stay zero, since the other rows are all recorded as scanned.
	Scan(ctx context.Context, kbID int64) (domain.SyncCounters, error)
}
