package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/core/ports/driven"
)

var _ driven.CatalogRepository = (*Store)(nil)

// Store is a sqlite-backed CatalogRepository, mirroring the semantics of
// the in-memory test store (memory.Store) against a durable database.
type Store struct {
	db *sqlx.DB
}

// New wraps an already-migrated *sqlx.DB in a Store.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func nullableTimeToDB(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullableTimeFromDB(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalMap(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func unmarshalMap(s string) (map[string]string, error) {
	out := map[string]string{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func marshalStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func unmarshalStrings(s string) ([]string, error) {
	var out []string
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func marshalCounterStats(m map[string]domain.SyncCounters) (string, error) {
	if m == nil {
		m = map[string]domain.SyncCounters{}
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func unmarshalCounterStats(s string) (map[string]domain.SyncCounters, error) {
	out := map[string]domain.SyncCounters{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- knowledge_base ---

type kbRow struct {
	ID           int64  `db:"id"`
	Name         string `db:"name"`
	SourceType   string `db:"source_type"`
	SourceConfig string `db:"source_config"`
	RAGType      string `db:"rag_type"`
	RAGConfig    string `db:"rag_config"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

func (r kbRow) toDomain() (*domain.KnowledgeBase, error) {
	sourceCfg, err := unmarshalMap(r.SourceConfig)
	if err != nil {
		return nil, err
	}
	ragCfg, err := unmarshalMap(r.RAGConfig)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &domain.KnowledgeBase{
		ID:           r.ID,
		Name:         r.Name,
		SourceType:   r.SourceType,
		SourceConfig: sourceCfg,
		RAGType:      r.RAGType,
		RAGConfig:    ragCfg,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

func (s *Store) GetKB(ctx context.Context, id int64) (*domain.KnowledgeBase, error) {
	var row kbRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM knowledge_base WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: GetKB: %w", err)
	}
	return row.toDomain()
}

func (s *Store) GetKBByName(ctx context.Context, name string) (*domain.KnowledgeBase, error) {
	var row kbRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM knowledge_base WHERE name = ?`, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: GetKBByName: %w", err)
	}
	return row.toDomain()
}

func (s *Store) SaveKB(ctx context.Context, kb *domain.KnowledgeBase) error {
	sourceCfg, err := marshalMap(kb.SourceConfig)
	if err != nil {
		return err
	}
	ragCfg, err := marshalMap(kb.RAGConfig)
	if err != nil {
		return err
	}

	if kb.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO knowledge_base (name, source_type, source_config, rag_type, rag_config, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			kb.Name, kb.SourceType, sourceCfg, kb.RAGType, ragCfg,
			formatTime(kb.CreatedAt), formatTime(kb.UpdatedAt))
		if err != nil {
			return fmt.Errorf("sqlstore: SaveKB insert: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("sqlstore: SaveKB last insert id: %w", err)
		}
		kb.ID = id
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE knowledge_base
		SET name = ?, source_type = ?, source_config = ?, rag_type = ?, rag_config = ?, updated_at = ?
		WHERE id = ?`,
		kb.Name, kb.SourceType, sourceCfg, kb.RAGType, ragCfg, formatTime(kb.UpdatedAt), kb.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: SaveKB update: %w", err)
	}
	return nil
}

func (s *Store) FindCompatibleKB(ctx context.Context, namePrefix string) (*domain.KnowledgeBase, error) {
	var row kbRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM knowledge_base WHERE name LIKE ? ORDER BY id ASC LIMIT 1`,
		namePrefix+"%")
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: FindCompatibleKB: %w", err)
	}
	return row.toDomain()
}

// --- multi_source_knowledge_base / source_definition ---

type multiKBRow struct {
	ID               int64  `db:"id"`
	Name             string `db:"name"`
	RAGType          string `db:"rag_type"`
	RAGConfig        string `db:"rag_config"`
	FileOrganization string `db:"file_organization"`
	SyncStrategy     string `db:"sync_strategy"`
	CreatedAt        string `db:"created_at"`
	UpdatedAt        string `db:"updated_at"`
}

type sourceDefRow struct {
	ID                 int64  `db:"id"`
	MultiSourceKBID    int64  `db:"multi_source_kb_id"`
	SourceID           string `db:"source_id"`
	SourceType         string `db:"source_type"`
	SourceConfig       string `db:"source_config"`
	Enabled            bool   `db:"enabled"`
	SourceMetadataTags string `db:"source_metadata_tags"`
}

func (r sourceDefRow) toDomain() (domain.SourceDefinition, error) {
	cfg, err := unmarshalMap(r.SourceConfig)
	if err != nil {
		return domain.SourceDefinition{}, err
	}
	tags, err := unmarshalMap(r.SourceMetadataTags)
	if err != nil {
		return domain.SourceDefinition{}, err
	}
	return domain.SourceDefinition{
		ID:                 r.ID,
		MultiSourceKBID:    r.MultiSourceKBID,
		SourceID:           r.SourceID,
		SourceType:         r.SourceType,
		SourceConfig:       cfg,
		Enabled:            r.Enabled,
		SourceMetadataTags: tags,
	}, nil
}

func (s *Store) loadMultiKB(ctx context.Context, row multiKBRow) (*domain.MultiSourceKnowledgeBase, error) {
	ragCfg, err := unmarshalMap(row.RAGConfig)
	if err != nil {
		return nil, err
	}
	fileOrg, err := unmarshalMap(row.FileOrganization)
	if err != nil {
		return nil, err
	}
	strategy, err := unmarshalMap(row.SyncStrategy)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, err
	}

	var defRows []sourceDefRow
	if err := s.db.SelectContext(ctx, &defRows, `
		SELECT * FROM source_definition WHERE multi_source_kb_id = ? ORDER BY id ASC`, row.ID); err != nil {
		return nil, fmt.Errorf("sqlstore: loading source_definition: %w", err)
	}
	sources := make([]domain.SourceDefinition, 0, len(defRows))
	for _, dr := range defRows {
		sd, err := dr.toDomain()
		if err != nil {
			return nil, err
		}
		sources = append(sources, sd)
	}

	return &domain.MultiSourceKnowledgeBase{
		ID:               row.ID,
		Name:             row.Name,
		RAGType:          row.RAGType,
		RAGConfig:        ragCfg,
		FileOrganization: fileOrg,
		SyncStrategy:     strategy,
		Sources:          sources,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}, nil
}

func (s *Store) GetMultiSourceKB(ctx context.Context, id int64) (*domain.MultiSourceKnowledgeBase, error) {
	var row multiKBRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM multi_source_knowledge_base WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: GetMultiSourceKB: %w", err)
	}
	return s.loadMultiKB(ctx, row)
}

func (s *Store) GetMultiSourceKBByName(ctx context.Context, name string) (*domain.MultiSourceKnowledgeBase, error) {
	var row multiKBRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM multi_source_knowledge_base WHERE name = ?`, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: GetMultiSourceKBByName: %w", err)
	}
	return s.loadMultiKB(ctx, row)
}

// SaveMultiSourceKB upserts the KB row and replaces its SourceDefinitions
// wholesale, matching the in-memory store's whole-object overwrite semantics.
func (s *Store) SaveMultiSourceKB(ctx context.Context, kb *domain.MultiSourceKnowledgeBase) error {
	ragCfg, err := marshalMap(kb.RAGConfig)
	if err != nil {
		return err
	}
	fileOrg, err := marshalMap(kb.FileOrganization)
	if err != nil {
		return err
	}
	strategy, err := marshalMap(kb.SyncStrategy)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: SaveMultiSourceKB begin: %w", err)
	}
	defer tx.Rollback()

	if kb.ID == 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO multi_source_knowledge_base (name, rag_type, rag_config, file_organization, sync_strategy, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			kb.Name, kb.RAGType, ragCfg, fileOrg, strategy,
			formatTime(kb.CreatedAt), formatTime(kb.UpdatedAt))
		if err != nil {
			return fmt.Errorf("sqlstore: SaveMultiSourceKB insert: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("sqlstore: SaveMultiSourceKB last insert id: %w", err)
		}
		kb.ID = id
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE multi_source_knowledge_base
			SET name = ?, rag_type = ?, rag_config = ?, file_organization = ?, sync_strategy = ?, updated_at = ?
			WHERE id = ?`,
			kb.Name, kb.RAGType, ragCfg, fileOrg, strategy, formatTime(kb.UpdatedAt), kb.ID)
		if err != nil {
			return fmt.Errorf("sqlstore: SaveMultiSourceKB update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM source_definition WHERE multi_source_kb_id = ?`, kb.ID); err != nil {
			return fmt.Errorf("sqlstore: SaveMultiSourceKB clearing source_definition: %w", err)
		}
	}

	for i := range kb.Sources {
		sd := &kb.Sources[i]
		cfg, err := marshalMap(sd.SourceConfig)
		if err != nil {
			return err
		}
		tags, err := marshalMap(sd.SourceMetadataTags)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO source_definition (multi_source_kb_id, source_id, source_type, source_config, enabled, source_metadata_tags)
			VALUES (?, ?, ?, ?, ?, ?)`,
			kb.ID, sd.SourceID, sd.SourceType, cfg, sd.Enabled, tags)
		if err != nil {
			return fmt.Errorf("sqlstore: SaveMultiSourceKB insert source_definition: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("sqlstore: SaveMultiSourceKB source_definition last insert id: %w", err)
		}
		sd.ID = id
		sd.MultiSourceKBID = kb.ID
	}

	return tx.Commit()
}

// --- sync_run ---

type syncRunRow struct {
	ID                   int64          `db:"id"`
	KnowledgeBaseID      int64          `db:"knowledge_base_id"`
	MultiSourceKBID      int64          `db:"multi_source_kb_id"`
	MultiSourceSyncRunID int64          `db:"multi_source_sync_run_id"`
	SourceID             string         `db:"source_id"`
	StartTime            string         `db:"start_time"`
	EndTime              sql.NullString `db:"end_time"`
	Status               string         `db:"status"`
	TotalFiles           int            `db:"total_files"`
	NewFiles             int            `db:"new_files"`
	ModifiedFiles        int            `db:"modified_files"`
	UnchangedFiles       int            `db:"unchanged_files"`
	DeletedFiles         int            `db:"deleted_files"`
	ErrorFiles           int            `db:"error_files"`
	ErrorMessage         string         `db:"error_message"`
}

func (r syncRunRow) toDomain() (*domain.SyncRun, error) {
	startTime, err := parseTime(r.StartTime)
	if err != nil {
		return nil, err
	}
	endTime, err := nullableTimeFromDB(r.EndTime)
	if err != nil {
		return nil, err
	}
	return &domain.SyncRun{
		ID:                   r.ID,
		KnowledgeBaseID:      r.KnowledgeBaseID,
		MultiSourceKBID:      r.MultiSourceKBID,
		MultiSourceSyncRunID: r.MultiSourceSyncRunID,
		SourceID:             r.SourceID,
		Status:               domain.SyncStatus(r.Status),
		StartTime:            startTime,
		EndTime:              endTime,
		Counters: domain.SyncCounters{
			Total:     r.TotalFiles,
			New:       r.NewFiles,
			Modified:  r.ModifiedFiles,
			Unchanged: r.UnchangedFiles,
			Deleted:   r.DeletedFiles,
			Errors:    r.ErrorFiles,
		},
		ErrorMessage: r.ErrorMessage,
	}, nil
}

func (s *Store) CreateSyncRun(ctx context.Context, run *domain.SyncRun) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_run (knowledge_base_id, multi_source_kb_id, multi_source_sync_run_id, source_id,
			start_time, end_time, status, total_files, new_files, modified_files, unchanged_files, deleted_files, error_files, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.KnowledgeBaseID, run.MultiSourceKBID, run.MultiSourceSyncRunID, run.SourceID,
		formatTime(run.StartTime), nullableTimeToDB(run.EndTime), string(run.Status),
		run.Counters.Total, run.Counters.New, run.Counters.Modified, run.Counters.Unchanged,
		run.Counters.Deleted, run.Counters.Errors, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("sqlstore: CreateSyncRun: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlstore: CreateSyncRun last insert id: %w", err)
	}
	run.ID = id
	return nil
}

func (s *Store) UpdateSyncRun(ctx context.Context, run *domain.SyncRun) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_run
		SET end_time = ?, status = ?, total_files = ?, new_files = ?, modified_files = ?, unchanged_files = ?,
			deleted_files = ?, error_files = ?, error_message = ?
		WHERE id = ?`,
		nullableTimeToDB(run.EndTime), string(run.Status), run.Counters.Total, run.Counters.New,
		run.Counters.Modified, run.Counters.Unchanged, run.Counters.Deleted, run.Counters.Errors,
		run.ErrorMessage, run.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: UpdateSyncRun: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: UpdateSyncRun rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) GetSyncRun(ctx context.Context, id int64) (*domain.SyncRun, error) {
	var row syncRunRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM sync_run WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: GetSyncRun: %w", err)
	}
	return row.toDomain()
}

func (s *Store) RecentSyncRuns(ctx context.Context, kbID int64, limit int) ([]domain.SyncRun, error) {
	query := `SELECT * FROM sync_run WHERE knowledge_base_id = ? ORDER BY start_time DESC`
	args := []any{kbID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []syncRunRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("sqlstore: RecentSyncRuns: %w", err)
	}
	out := make([]domain.SyncRun, 0, len(rows))
	for _, r := range rows {
		run, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, nil
}

// --- file_record ---

type fileRecordRow struct {
	ID               int64          `db:"id"`
	SyncRunID        int64          `db:"sync_run_id"`
	OriginalURI      string         `db:"original_uri"`
	RAGURI           string         `db:"rag_uri"`
	FileHash         string         `db:"file_hash"`
	UUIDFilename     string         `db:"uuid_filename"`
	UploadTime       string         `db:"upload_time"`
	FileSize         int64          `db:"file_size"`
	Status           string         `db:"status"`
	ErrorMessage     string         `db:"error_message"`
	SourceID         string         `db:"source_id"`
	SourceType       string         `db:"source_type"`
	SourcePath       string         `db:"source_path"`
	ContentType      string         `db:"content_type"`
	SourceMetadata   string         `db:"source_metadata"`
	SourceCreatedAt  sql.NullString `db:"source_created_at"`
	SourceModifiedAt sql.NullString `db:"source_modified_at"`
	Tags             string         `db:"tags"`
}

func (r fileRecordRow) toDomain() (domain.FileRecord, error) {
	uploadTime, err := parseTime(r.UploadTime)
	if err != nil {
		return domain.FileRecord{}, err
	}
	meta, err := unmarshalMap(r.SourceMetadata)
	if err != nil {
		return domain.FileRecord{}, err
	}
	tags, err := unmarshalMap(r.Tags)
	if err != nil {
		return domain.FileRecord{}, err
	}
	createdAt, err := nullableTimeFromDB(r.SourceCreatedAt)
	if err != nil {
		return domain.FileRecord{}, err
	}
	modifiedAt, err := nullableTimeFromDB(r.SourceModifiedAt)
	if err != nil {
		return domain.FileRecord{}, err
	}
	return domain.FileRecord{
		ID:               r.ID,
		SyncRunID:        r.SyncRunID,
		OriginalURI:      r.OriginalURI,
		RAGURI:           r.RAGURI,
		FileHash:         r.FileHash,
		UUIDFilename:     r.UUIDFilename,
		UploadTime:       uploadTime,
		FileSize:         r.FileSize,
		Status:           domain.FileStatus(r.Status),
		ErrorMessage:     r.ErrorMessage,
		SourceID:         r.SourceID,
		SourceType:       r.SourceType,
		SourcePath:       r.SourcePath,
		ContentType:      r.ContentType,
		SourceMetadata:   meta,
		SourceCreatedAt:  createdAt,
		SourceModifiedAt: modifiedAt,
		Tags:             tags,
	}, nil
}

func (s *Store) InsertFileRecord(ctx context.Context, rec *domain.FileRecord) error {
	meta, err := marshalMap(rec.SourceMetadata)
	if err != nil {
		return err
	}
	tags, err := marshalMap(rec.Tags)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO file_record (sync_run_id, original_uri, rag_uri, file_hash, uuid_filename, upload_time,
			file_size, status, error_message, source_id, source_type, source_path, content_type,
			source_metadata, source_created_at, source_modified_at, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SyncRunID, rec.OriginalURI, rec.RAGURI, rec.FileHash, rec.UUIDFilename, formatTime(rec.UploadTime),
		rec.FileSize, string(rec.Status), rec.ErrorMessage, rec.SourceID, rec.SourceType, rec.SourcePath,
		rec.ContentType, meta, nullableTimeToDB(rec.SourceCreatedAt), nullableTimeToDB(rec.SourceModifiedAt), tags)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("sqlstore: InsertFileRecord: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlstore: InsertFileRecord last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// LatestRecordsByKB mirrors memory.Store's in-process reduction: fetch every
// sync_run under kbName, fetch every file_record belonging to those runs, and
// fold down to the most recent record per original_uri by the owning run's
// start_time.
func (s *Store) LatestRecordsByKB(ctx context.Context, kbName string) (map[string]domain.FileRecord, error) {
	var kbID int64
	err := s.db.GetContext(ctx, &kbID, `SELECT id FROM knowledge_base WHERE name = ?`, kbName)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]domain.FileRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: LatestRecordsByKB resolving kb: %w", err)
	}

	var runRows []syncRunRow
	if err := s.db.SelectContext(ctx, &runRows, `SELECT * FROM sync_run WHERE knowledge_base_id = ?`, kbID); err != nil {
		return nil, fmt.Errorf("sqlstore: LatestRecordsByKB loading runs: %w", err)
	}
	runStart := make(map[int64]int64, len(runRows))
	runIDs := make([]int64, 0, len(runRows))
	for _, rr := range runRows {
		run, err := rr.toDomain()
		if err != nil {
			return nil, err
		}
		runStart[run.ID] = run.StartTime.UnixNano()
		runIDs = append(runIDs, run.ID)
	}
	if len(runIDs) == 0 {
		return map[string]domain.FileRecord{}, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM file_record WHERE sync_run_id IN (?)`, runIDs)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: LatestRecordsByKB building query: %w", err)
	}
	query = s.db.Rebind(query)

	var recRows []fileRecordRow
	if err := s.db.SelectContext(ctx, &recRows, query, args...); err != nil {
		return nil, fmt.Errorf("sqlstore: LatestRecordsByKB loading records: %w", err)
	}

	latest := make(map[string]domain.FileRecord)
	latestRunStart := make(map[string]int64)
	for _, rr := range recRows {
		rec, err := rr.toDomain()
		if err != nil {
			return nil, err
		}
		start := runStart[rec.SyncRunID]
		if cur, seen := latestRunStart[rec.OriginalURI]; !seen || start > cur {
			latest[rec.OriginalURI] = rec
			latestRunStart[rec.OriginalURI] = start
		}
	}
	return latest, nil
}

func (s *Store) RecordsByURI(ctx context.Context, kbID int64, originalURI string) ([]domain.FileRecord, error) {
	var recRows []fileRecordRow
	err := s.db.SelectContext(ctx, &recRows, `
		SELECT fr.* FROM file_record fr
		JOIN sync_run sr ON sr.id = fr.sync_run_id
		WHERE sr.knowledge_base_id = ? AND fr.original_uri = ?
		ORDER BY sr.start_time ASC`, kbID, originalURI)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: RecordsByURI: %w", err)
	}
	out := make([]domain.FileRecord, 0, len(recRows))
	for _, rr := range recRows {
		rec, err := rr.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// --- multi_source_sync_run ---

type multiSyncRunRow struct {
	ID                int64          `db:"id"`
	MultiSourceKBID   int64          `db:"multi_source_kb_id"`
	FanOut            string         `db:"fan_out"`
	Status            string         `db:"status"`
	StartTime         string         `db:"start_time"`
	EndTime           sql.NullString `db:"end_time"`
	TotalFiles        int            `db:"total_files"`
	NewFiles          int            `db:"new_files"`
	ModifiedFiles     int            `db:"modified_files"`
	UnchangedFiles    int            `db:"unchanged_files"`
	DeletedFiles      int            `db:"deleted_files"`
	ErrorFiles        int            `db:"error_files"`
	SourcesProcessed  string         `db:"sources_processed"`
	SourceStats       string         `db:"source_stats"`
	ErrorMessage      string         `db:"error_message"`
}

func (r multiSyncRunRow) toDomain() (*domain.MultiSourceSyncRun, error) {
	startTime, err := parseTime(r.StartTime)
	if err != nil {
		return nil, err
	}
	endTime, err := nullableTimeFromDB(r.EndTime)
	if err != nil {
		return nil, err
	}
	sourcesProcessed, err := unmarshalStrings(r.SourcesProcessed)
	if err != nil {
		return nil, err
	}
	sourceStats, err := unmarshalCounterStats(r.SourceStats)
	if err != nil {
		return nil, err
	}
	return &domain.MultiSourceSyncRun{
		ID:               r.ID,
		MultiSourceKBID:  r.MultiSourceKBID,
		FanOut:           domain.FanOutMode(r.FanOut),
		Status:           domain.SyncStatus(r.Status),
		StartTime:        startTime,
		EndTime:          endTime,
		SourcesProcessed: sourcesProcessed,
		SourceStats:      sourceStats,
		Counters: domain.SyncCounters{
			Total:     r.TotalFiles,
			New:       r.NewFiles,
			Modified:  r.ModifiedFiles,
			Unchanged: r.UnchangedFiles,
			Deleted:   r.DeletedFiles,
			Errors:    r.ErrorFiles,
		},
		ErrorMessage: r.ErrorMessage,
	}, nil
}

func (s *Store) CreateMultiSourceSyncRun(ctx context.Context, run *domain.MultiSourceSyncRun) error {
	sourcesProcessed, err := marshalStrings(run.SourcesProcessed)
	if err != nil {
		return err
	}
	sourceStats, err := marshalCounterStats(run.SourceStats)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO multi_source_sync_run (multi_source_kb_id, fan_out, status, start_time, end_time,
			total_files, new_files, modified_files, unchanged_files, deleted_files, error_files,
			sources_processed, source_stats, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.MultiSourceKBID, string(run.FanOut), string(run.Status), formatTime(run.StartTime),
		nullableTimeToDB(run.EndTime), run.Counters.Total, run.Counters.New, run.Counters.Modified,
		run.Counters.Unchanged, run.Counters.Deleted, run.Counters.Errors, sourcesProcessed, sourceStats,
		run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("sqlstore: CreateMultiSourceSyncRun: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlstore: CreateMultiSourceSyncRun last insert id: %w", err)
	}
	run.ID = id
	return nil
}

func (s *Store) UpdateMultiSourceSyncRun(ctx context.Context, run *domain.MultiSourceSyncRun) error {
	sourcesProcessed, err := marshalStrings(run.SourcesProcessed)
	if err != nil {
		return err
	}
	sourceStats, err := marshalCounterStats(run.SourceStats)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE multi_source_sync_run
		SET status = ?, end_time = ?, total_files = ?, new_files = ?, modified_files = ?, unchanged_files = ?,
			deleted_files = ?, error_files = ?, sources_processed = ?, source_stats = ?, error_message = ?
		WHERE id = ?`,
		string(run.Status), nullableTimeToDB(run.EndTime), run.Counters.Total, run.Counters.New,
		run.Counters.Modified, run.Counters.Unchanged, run.Counters.Deleted, run.Counters.Errors,
		sourcesProcessed, sourceStats, run.ErrorMessage, run.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: UpdateMultiSourceSyncRun: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: UpdateMultiSourceSyncRun rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) GetMultiSourceSyncRun(ctx context.Context, id int64) (*domain.MultiSourceSyncRun, error) {
	var row multiSyncRunRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM multi_source_sync_run WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: GetMultiSourceSyncRun: %w", err)
	}
	return row.toDomain()
}

// --- delta_sync_tokens ---

type deltaTokenRow struct {
	SourceID     string `db:"source_id"`
	SourceType   string `db:"source_type"`
	DriveID      string `db:"drive_id"`
	DeltaToken   string `db:"delta_token"`
	LastSyncTime string `db:"last_sync_time"`
}

func (r deltaTokenRow) toDomain() (domain.DeltaToken, error) {
	lastSync, err := parseTime(r.LastSyncTime)
	if err != nil {
		return domain.DeltaToken{}, err
	}
	return domain.DeltaToken{
		SourceID:     r.SourceID,
		SourceType:   r.SourceType,
		DriveID:      r.DriveID,
		Token:        r.DeltaToken,
		LastSyncTime: lastSync,
	}, nil
}

func (s *Store) GetDeltaToken(ctx context.Context, sourceID, driveID string) (domain.DeltaToken, error) {
	var row deltaTokenRow
	err := s.db.GetContext(ctx, &row, `
		SELECT source_id, source_type, drive_id, delta_token, last_sync_time
		FROM delta_sync_tokens WHERE source_id = ? AND drive_id = ?`, sourceID, driveID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeltaToken{}, nil
	}
	if err != nil {
		return domain.DeltaToken{}, fmt.Errorf("sqlstore: GetDeltaToken: %w", err)
	}
	return row.toDomain()
}

func (s *Store) SaveDeltaToken(ctx context.Context, token domain.DeltaToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delta_sync_tokens (source_id, source_type, drive_id, delta_token, last_sync_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (source_id, drive_id) DO UPDATE SET
			source_type = excluded.source_type,
			delta_token = excluded.delta_token,
			last_sync_time = excluded.last_sync_time`,
		token.SourceID, token.SourceType, token.DriveID, token.Token, formatTime(token.LastSyncTime))
	if err != nil {
		return fmt.Errorf("sqlstore: SaveDeltaToken: %w", err)
	}
	return nil
}

func (s *Store) ClearDeltaToken(ctx context.Context, sourceID, driveID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM delta_sync_tokens WHERE source_id = ? AND drive_id = ?`, sourceID, driveID)
	if err != nil {
		return fmt.Errorf("sqlstore: ClearDeltaToken: %w", err)
	}
	return nil
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
