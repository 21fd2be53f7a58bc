package driven

import (
	"context"

	"github.com/ragsync/engine/internal/core/domain"
)

// CatalogRepository persists knowledge bases, sync runs and file records.
// Backed by an in-memory map in tests and a sqlite-backed store in
// production (spec §3, §4.4, §6).
type CatalogRepository interface {
	// GetKB retrieves a single-source KB by ID.
	GetKB(ctx context.Context, id int64) (*domain.KnowledgeBase, error)

	// GetKBByName retrieves a single-source KB by its unique name.
	GetKBByName(ctx context.Context, name string) (*domain.KnowledgeBase, error)

	// SaveKB inserts or updates a single-source KB.
	SaveKB(ctx context.Context, kb *domain.KnowledgeBase) error

	// FindCompatibleKB searches for an existing single-source KB whose name
	// matches the "<multi-kb-name>_%" convention, returning the lowest id
	// (spec §4.9 schema bridge step 1). Returns domain.ErrNotFound if none
	// exists.
	FindCompatibleKB(ctx context.Context, namePrefix string) (*domain.KnowledgeBase, error)

	// GetMultiSourceKB retrieves a multi-source KB and its SourceDefinitions
	// by ID.
	GetMultiSourceKB(ctx context.Context, id int64) (*domain.MultiSourceKnowledgeBase, error)

	// GetMultiSourceKBByName retrieves a multi-source KB by its unique name.
	GetMultiSourceKBByName(ctx context.Context, name string) (*domain.MultiSourceKnowledgeBase, error)

	// SaveMultiSourceKB inserts or updates a multi-source KB and its
	// SourceDefinitions.
	SaveMultiSourceKB(ctx context.Context, kb *domain.MultiSourceKnowledgeBase) error

	// CreateSyncRun inserts a new SyncRun in its mode's running state and
	// assigns its ID (spec §4.4).
	CreateSyncRun(ctx context.Context, run *domain.SyncRun) error

	// UpdateSyncRun persists a SyncRun's counters, end_time and terminal
	// status. Per the transactional requirement in spec §4.4, an
	// implementation must commit this together with any FileRecord inserts
	// not yet flushed.
	UpdateSyncRun(ctx context.Context, run *domain.SyncRun) error

	// GetSyncRun retrieves a SyncRun by ID.
	GetSyncRun(ctx context.Context, id int64) (*domain.SyncRun, error)

	// RecentSyncRuns lists a KB's most recent SyncRuns, newest first,
	// bounded by limit (spec §6 `status` command).
	RecentSyncRuns(ctx context.Context, kbID int64, limit int) ([]domain.SyncRun, error)

	// InsertFileRecord inserts a FileRecord row (spec §4.4). Two
	// FileRecords sharing (kb, original_uri, sync_run_id) are not allowed.
	InsertFileRecord(ctx context.Context, rec *domain.FileRecord) error

	// LatestRecordsByKB returns, for every original_uri ever seen under
	// kbName, the most recent FileRecord by its sync run's start_time
	// (spec §4.4).
	LatestRecordsByKB(ctx context.Context, kbName string) (map[string]domain.FileRecord, error)

	// RecordsByURI returns every FileRecord ever written for (kbID,
	// originalURI), for consistency checks (spec §4.4).
	RecordsByURI(ctx context.Context, kbID int64, originalURI string) ([]domain.FileRecord, error)

	// CreateMultiSourceSyncRun inserts a new aggregate run and assigns its ID.
	CreateMultiSourceSyncRun(ctx context.Context, run *domain.MultiSourceSyncRun) error

	// UpdateMultiSourceSyncRun persists an aggregate run's terminal state.
	UpdateMultiSourceSyncRun(ctx context.Context, run *domain.MultiSourceSyncRun) error

	// GetMultiSourceSyncRun retrieves an aggregate run by ID.
	GetMultiSourceSyncRun(ctx context.Context, id int64) (*domain.MultiSourceSyncRun, error)

	// GetDeltaToken returns the stored token for (sourceID, driveID), or a
	// zero-value DeltaToken and no error if none has been recorded yet
	// (spec §4.4).
	GetDeltaToken(ctx context.Context, sourceID, driveID string) (domain.DeltaToken, error)

	// SaveDeltaToken upserts the token for (sourceID, driveID).
	SaveDeltaToken(ctx context.Context, token domain.DeltaToken) error

	// ClearDeltaToken removes a stored token, forcing the next sync to
	// perform a full listing (spec §4.7, invoked on TokenInvalid).
	ClearDeltaToken(ctx context.Context, sourceID, driveID string) error
}
