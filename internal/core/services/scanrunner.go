package services

import (
	"context"

	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/core/ports/driving"
)

var _ driving.ScanRunner = (*ScanRunner)(nil)

// ScanRunner performs a RAG-free pass of the classification pipeline
// (component J, spec §4.10): it delegates to SyncService.Sync in scan mode,
// which already skips every RAG adapter call while still recording the
// scan run and its scanned/scan_error FileRecords, and hands back just the
// resulting counters.
type ScanRunner struct {
	sync *SyncService
}

// NewScanRunner creates a ScanRunner backed by sync.
func NewScanRunner(sync *SyncService) *ScanRunner {
	return &ScanRunner{sync: sync}
}

// Scan classifies kbID's current source state against the catalog and
// returns the scan run's counters: Total and Errors only, since scan rows
// are recorded as scanned or scan_error.
func (r *ScanRunner) Scan(ctx context.Context, kbID int64) (domain.SyncCounters, error) {
	run, err := r.sync.Sync(ctx, kbID, domain.SyncModeScan)
	if err != nil {
		return domain.SyncCounters{}, err
	}
	return run.Counters, nil
}
