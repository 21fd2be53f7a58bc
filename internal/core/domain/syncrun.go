package domain

import "time"

// SyncStatus is the lifecycle state of a sync run (spec §3, §4.8, §4.10).
// Scan mode runs the same state machine under the scan_* mirror states so
// that scans are distinguishable from real syncs in the audit log.
type SyncStatus string

const (
	SyncStatusRunning      SyncStatus = "running"
	SyncStatusCompleted    SyncStatus = "completed"
	SyncStatusFailed       SyncStatus = "failed"
	SyncStatusScanRunning  SyncStatus = "scan_running"
	SyncStatusScanComplete SyncStatus = "scan_completed"
	SyncStatusScanFailed   SyncStatus = "scan_failed"
)

// IsTerminal reports whether status ends a run (no further writes expected).
func (s SyncStatus) IsTerminal() bool {
	switch s {
	case SyncStatusCompleted, SyncStatusFailed, SyncStatusScanComplete, SyncStatusScanFailed:
		return true
	default:
		return false
	}
}

// IsScan reports whether status belongs to the scan-mode mirror of the
// state machine.
func (s SyncStatus) IsScan() bool {
	switch s {
	case SyncStatusScanRunning, SyncStatusScanComplete, SyncStatusScanFailed:
		return true
	default:
		return false
	}
}

// SyncMode selects which half of the state machine a run drives: a
// mutating sync or a non-mutating scan (spec §4.10).
type SyncMode string

const (
	SyncModeSync SyncMode = "sync"
	SyncModeScan SyncMode = "scan"
)

// RunningStatus and FailedStatus return the status values appropriate to
// this mode, so orchestration code does not need mode-switches sprinkled
// through it.
func (m SyncMode) RunningStatus() SyncStatus {
	if m == SyncModeScan {
		return SyncStatusScanRunning
	}
	return SyncStatusRunning
}

func (m SyncMode) CompletedStatus() SyncStatus {
	if m == SyncModeScan {
		return SyncStatusScanComplete
	}
	return SyncStatusCompleted
}

func (m SyncMode) FailedStatus() SyncStatus {
	if m == SyncModeScan {
		return SyncStatusScanFailed
	}
	return SyncStatusFailed
}

// FanOutMode selects how a Multi-Source Driver schedules a multi-source
// KB's enabled sources (spec §4.9, §6).
type FanOutMode string

const (
	FanOutParallel    FanOutMode = "parallel"
	FanOutSequential  FanOutMode = "sequential"
	FanOutSelective   FanOutMode = "selective"
	FanOutIncremental FanOutMode = "incremental"
)

// SyncCounters tallies per-status file outcomes for a run. Scan runs
// record every row as scanned or scan_error without ever calling a RAG
// adapter, so they fill only Total and Errors.
type SyncCounters struct {
	Total     int
	New       int
	Modified  int
	Unchanged int
	Deleted   int
	Errors    int
}

// Add folds one FileRecord's status into the running counters. Counters
// are monotonic within a run (spec §5): callers must only ever Add, never
// subtract or reset mid-run.
func (c *SyncCounters) Add(status FileStatus) {
	c.Total++
	switch status {
	case FileStatusNew:
		c.New++
	case FileStatusModified:
		c.Modified++
	case FileStatusUnchanged:
		c.Unchanged++
	case FileStatusDeleted:
		c.Deleted++
	case FileStatusError, FileStatusScanError:
		c.Errors++
	}
}

// SyncRun is one execution of the sync pipeline against a single source's
// compatible KB (spec §3, table sync_run). A multi-source sync creates one
// SyncRun per enabled SourceDefinition, all sharing a MultiSourceSyncRunID
// and writing knowledge_base_id = the schema bridge's compatible_kb_id
// (spec §4.9).
type SyncRun struct {
	ID                   int64
	KnowledgeBaseID      int64 // the *compatible* KB id for FK purposes
	MultiSourceKBID      int64 // 0 for single-source KB runs
	MultiSourceSyncRunID int64 // 0 for single-source KB runs
	SourceID             string // empty for single-source KBs
	Status               SyncStatus
	StartTime            time.Time
	EndTime              *time.Time
	Counters             SyncCounters
	ErrorMessage         string
}

// Mode derives the sync-vs-scan mode this run is operating under from its
// current status.
func (r *SyncRun) Mode() SyncMode {
	if r.Status.IsScan() {
		return SyncModeScan
	}
	return SyncModeSync
}

// Duration returns the run's elapsed wall time, or zero if not yet complete.
func (r *SyncRun) Duration() time.Duration {
	if r.EndTime == nil {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// Finish transitions the run to a terminal status and stamps EndTime.
func (r *SyncRun) Finish(status SyncStatus, endTime time.Time, errMsg string) {
	r.Status = status
	r.EndTime = &endTime
	r.ErrorMessage = errMsg
}

// MultiSourceSyncRun aggregates the per-source SyncRuns triggered by one
// invocation against a MultiSourceKnowledgeBase (spec §3, §6, table
// multi_source_sync_run).
type MultiSourceSyncRun struct {
	ID              int64
	MultiSourceKBID int64
	FanOut          FanOutMode
	Status          SyncStatus
	StartTime       time.Time
	EndTime         *time.Time
	SourcesProcessed []string
	SourceStats     map[string]SyncCounters
	Counters        SyncCounters
	ErrorMessage    string
}

// AggregateStatus derives the aggregate's terminal status from its
// constituent per-source runs: any failed -> failed, else completed (or
// their scan equivalents, inferred from the first status' IsScan()). Used
// once every source run has reached a terminal state (spec §4.9).
func AggregateStatus(sourceStatuses []SyncStatus) SyncStatus {
	if len(sourceStatuses) == 0 {
		return SyncStatusCompleted
	}
	scan := sourceStatuses[0].IsScan()
	anyFailed := false
	for _, s := range sourceStatuses {
		if s == SyncStatusFailed || s == SyncStatusScanFailed {
			anyFailed = true
		}
	}
	switch {
	case anyFailed && scan:
		return SyncStatusScanFailed
	case anyFailed:
		return SyncStatusFailed
	case scan:
		return SyncStatusScanComplete
	default:
		return SyncStatusCompleted
	}
}
