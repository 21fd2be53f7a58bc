package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/core/ports/driven"
	"github.com/ragsync/engine/internal/ident"
	"github.com/ragsync/engine/internal/logger"
)

// fileOpTimeout is the default per-file operation timeout (spec §4.8):
// fetch + hash + RAG call wrapped in one deadline.
const fileOpTimeout = 60 * time.Second

// FileProcessor executes the file processor's per-classification logic
// (component G, spec §4.6): fetch, hash, UUID assignment, and the RAG
// adapter call that follows from a Classification. It never surfaces an
// error to its caller — a fetch/hash/RAG failure becomes an error (or
// scan_error) FileRecord so the run continues past it (spec §7).
type FileProcessor struct {
	source  driven.SourceAdapter
	rag     driven.RAGAdapter
	kbName  string
	timeout time.Duration

	// RunID and SourceID identify the sync run this FileProcessor was built
	// for; the orchestrator sets them (alongside Logger) after construction,
	// the same way it sets WorkerCount/QueueSize on itself. Left zero-value
	// they simply produce a sync_run_id of 0 and an empty source_id.
	RunID    int64
	SourceID string

	// Logger receives one structured event per file processed, carrying
	// sync_run_id, kb_name, source_id and original_uri. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// NewFileProcessor creates a FileProcessor bound to one source/RAG pair for
// the duration of a single sync run.
func NewFileProcessor(source driven.SourceAdapter, rag driven.RAGAdapter, kbName string) *FileProcessor {
	return &FileProcessor{source: source, rag: rag, kbName: kbName, timeout: fileOpTimeout, Logger: slog.Default()}
}

// fileLogger returns a logger scoped to one classified file, carrying the
// fields every per-file event shares.
func (p *FileProcessor) fileLogger(originalURI string) *slog.Logger {
	l := p.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With(
		slog.Int64("sync_run_id", p.RunID),
		slog.String("kb_name", p.kbName),
		slog.String("source_id", p.SourceID),
		slog.String("original_uri", originalURI),
	)
}

// Process turns one Classification into the FileRecord to insert, plus the
// ChangeType it actually resolved to (a tentative MODIFIED can resolve to
// UNCHANGED once hashed — Testable Property 8). The orchestrator folds run
// counters from the record's stored Status and does not use the returned
// ChangeType.
func (p *FileProcessor) Process(ctx context.Context, mode domain.SyncMode, c domain.Classification) (domain.FileRecord, domain.ChangeType) {
	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	switch c.Type {
	case domain.ChangeUnchanged:
		rec := p.unchangedRecord(c)
		if mode == domain.SyncModeScan {
			rec.Status = domain.FileStatusScanned
		}
		return rec, domain.ChangeUnchanged

	case domain.ChangeDeleted:
		return p.deleteRecord(opCtx, mode, c), domain.ChangeDeleted

	case domain.ChangeNew, domain.ChangeModified:
		return p.upsertRecord(opCtx, mode, c)

	default:
		return p.errorRecord(c, fmt.Errorf("unknown change type %q", c.Type), mode), c.Type
	}
}

func (p *FileProcessor) unchangedRecord(c domain.Classification) domain.FileRecord {
	rec := baseRecordFrom(c.Existing)
	rec.Status = domain.FileStatusUnchanged
	rec.UploadTime = time.Now()
	return rec
}

func (p *FileProcessor) deleteRecord(ctx context.Context, mode domain.SyncMode, c domain.Classification) domain.FileRecord {
	rec := baseRecordFrom(c.Existing)
	rec.FileHash = ""
	rec.UploadTime = time.Now()

	if mode == domain.SyncModeScan {
		rec.Status = domain.FileStatusScanned
		return rec
	}

	err := withRetry(ctx, func() error {
		return p.rag.Delete(ctx, rec.RAGURI)
	})
	if err != nil {
		logger.Debug("delete %s: %v", c.OriginalURI, err)
		p.fileLogger(c.OriginalURI).Warn("rag delete failed", slog.String("error", err.Error()))
		return p.errorRecord(c, err, mode)
	}
	p.fileLogger(c.OriginalURI).Info("rag delete")
	rec.Status = domain.FileStatusDeleted
	return rec
}

func (p *FileProcessor) upsertRecord(ctx context.Context, mode domain.SyncMode, c domain.Classification) (domain.FileRecord, domain.ChangeType) {
	content, meta, err := p.fetchAndRead(ctx, c.OriginalURI)
	if err != nil {
		logger.Debug("fetch %s: %v", c.OriginalURI, err)
		return p.errorRecord(c, err, mode), c.Type
	}
	hash := ident.HashBytes(content)

	// Hash-verified downgrade: a tentative MODIFIED whose hash matches the
	// stored hash is really UNCHANGED (spec §4.5, §4.6, Testable Property 8).
	if c.Type == domain.ChangeModified && c.TentativeHash && c.Existing != nil && hash == c.Existing.FileHash {
		rec := baseRecordFrom(c.Existing)
		rec.Status = domain.FileStatusUnchanged
		rec.UploadTime = time.Now()
		if mode == domain.SyncModeScan {
			rec.Status = domain.FileStatusScanned
		}
		return rec, domain.ChangeUnchanged
	}

	uuidFilename := p.uuidFilenameFor(c)

	if mode == domain.SyncModeScan {
		return p.scannedRecord(c, meta, hash, uuidFilename, int64(len(content))), c.Type
	}

	ragURI, err := p.callRAG(ctx, c, content, uuidFilename, meta)
	if err != nil {
		logger.Debug("rag call %s: %v", c.OriginalURI, err)
		return p.errorRecord(c, err, mode), c.Type
	}

	rec := domain.FileRecord{
		OriginalURI:      c.OriginalURI,
		RAGURI:           ragURI,
		FileHash:         hash,
		UUIDFilename:     uuidFilename,
		UploadTime:       time.Now(),
		FileSize:         int64(len(content)),
		Status:           statusForChange(c.Type),
		ContentType:      contentTypeFor(c, meta),
		SourceModifiedAt: sourceModifiedAtFor(c, meta),
	}
	return rec, c.Type
}

// contentTypeFor and sourceModifiedAtFor prefer the listing descriptor's
// view over the fetch result's: the descriptor is what the change detector
// compares against on the next run, so what gets persisted must match it,
// not whatever the fetch call happened to report.
func contentTypeFor(c domain.Classification, meta driven.FetchResult) string {
	if c.Descriptor != nil && c.Descriptor.ContentType != "" {
		return c.Descriptor.ContentType
	}
	return meta.ContentType
}

func sourceModifiedAtFor(c domain.Classification, meta driven.FetchResult) *time.Time {
	if c.Descriptor != nil && c.Descriptor.SourceModifiedAt != nil {
		return c.Descriptor.SourceModifiedAt
	}
	return meta.SourceModifiedAt
}

// fetchAndRead fetches originalURI's content fully into memory, retrying
// the whole fetch on failure per the fixed backoff schedule.
func (p *FileProcessor) fetchAndRead(ctx context.Context, originalURI string) ([]byte, driven.FetchResult, error) {
	var content []byte
	var meta driven.FetchResult

	err := withRetry(ctx, func() error {
		fetched, err := p.source.Fetch(ctx, originalURI)
		if err != nil {
			return err
		}
		defer fetched.Content.Close()

		b, err := io.ReadAll(fetched.Content)
		if err != nil {
			return err
		}
		content = b
		meta = fetched
		return nil
	})
	return content, meta, err
}

// uuidFilenameFor implements the UUID-stable identifier policy (spec §4.3):
// a restoration or any classification with an existing record reuses its
// UUIDFilename; a genuinely first-seen file mints a new one.
func (p *FileProcessor) uuidFilenameFor(c domain.Classification) string {
	if c.Existing != nil && c.Existing.UUIDFilename != "" {
		return c.Existing.UUIDFilename
	}
	return ident.NewStableID(c.OriginalURI)
}

func (p *FileProcessor) callRAG(ctx context.Context, c domain.Classification, content []byte, uuidFilename string, meta driven.FetchResult) (string, error) {
	rm := driven.RAGObjectMeta{OriginalURI: c.OriginalURI, ContentType: meta.ContentType, KBName: p.kbName}

	// Upload exactly once per logical lifetime: first appearance AND
	// post-deletion restoration both go through Upload, which already has
	// overwrite semantics (spec §4.3, Testable Property 5, Scenario S4).
	// Only a genuine modification of a record that was actually uploaded to
	// RAG reuses the rag_uri via Update — a record whose latest status is
	// error/scan_error/scanned/deleted carries no live RAG artifact (a
	// sentinel or stale rag_uri, or none at all), so Update against it
	// would hit ErrConflict forever (spec §4.3, Testable Property 3).
	reuseExisting := c.Type == domain.ChangeModified && existingHasRAGArtifact(c.Existing)

	var ragURI string
	err := withRetry(ctx, func() error {
		var err error
		if reuseExisting {
			err = p.rag.Update(ctx, c.Existing.RAGURI, bytes.NewReader(content), rm)
			if err == nil {
				ragURI = c.Existing.RAGURI
			}
		} else {
			ragURI, err = p.rag.Upload(ctx, uuidFilename, bytes.NewReader(content), rm)
		}
		return err
	})
	op := "upload"
	if reuseExisting {
		op = "update"
	}
	if err != nil {
		p.fileLogger(c.OriginalURI).Warn("rag call failed", slog.String("op", op), slog.String("error", err.Error()))
	} else {
		p.fileLogger(c.OriginalURI).Info("rag call", slog.String("op", op), slog.String("rag_uri", ragURI))
	}
	return ragURI, err
}

// existingHasRAGArtifact reports whether existing's rag_uri points at a
// real, currently-live artifact in the RAG backend — true only for the
// statuses a successful Upload/Update or carried-forward Unchanged row
// produces. Error, scan_error, scanned and deleted records all carry a
// rag_uri that is either a sentinel or no longer backed by a live object.
func existingHasRAGArtifact(existing *domain.FileRecord) bool {
	if existing == nil || existing.RAGURI == "" {
		return false
	}
	switch existing.Status {
	case domain.FileStatusNew, domain.FileStatusModified, domain.FileStatusUnchanged:
		return true
	default:
		return false
	}
}

func (p *FileProcessor) scannedRecord(c domain.Classification, meta driven.FetchResult, hash, uuidFilename string, size int64) domain.FileRecord {
	return domain.FileRecord{
		OriginalURI:      c.OriginalURI,
		RAGURI:           scanRAGURIPlaceholder(c, uuidFilename),
		FileHash:         hash,
		UUIDFilename:     uuidFilename,
		UploadTime:       time.Now(),
		FileSize:         size,
		Status:           domain.FileStatusScanned,
		ContentType:      contentTypeFor(c, meta),
		SourceModifiedAt: sourceModifiedAtFor(c, meta),
	}
}

// scanRAGURIPlaceholder never calls the RAG adapter (spec §4.10), but the
// catalog invariant requires a non-null rag_uri on every row; a scan reuses
// the existing rag_uri when one is known, else a deterministic placeholder
// derived from the uuid filename.
func scanRAGURIPlaceholder(c domain.Classification, uuidFilename string) string {
	if c.Existing != nil && c.Existing.RAGURI != "" {
		return c.Existing.RAGURI
	}
	return "scan/" + uuidFilename
}

func (p *FileProcessor) errorRecord(c domain.Classification, cause error, mode domain.SyncMode) domain.FileRecord {
	status := domain.FileStatusError
	if mode == domain.SyncModeScan {
		status = domain.FileStatusScanError
	}
	p.fileLogger(c.OriginalURI).Warn("file processing error", slog.String("status", string(status)), slog.String("error", cause.Error()))
	return domain.FileRecord{
		OriginalURI:  c.OriginalURI,
		RAGURI:       domain.ErrorRAGURI(p.kbName, time.Now()),
		FileHash:     "",
		UUIDFilename: "",
		UploadTime:   time.Now(),
		Status:       status,
		ErrorMessage: cause.Error(),
	}
}

func baseRecordFrom(existing *domain.FileRecord) domain.FileRecord {
	if existing == nil {
		return domain.FileRecord{}
	}
	rec := *existing
	rec.ID = 0
	rec.SyncRunID = 0
	return rec
}

func statusForChange(ct domain.ChangeType) domain.FileStatus {
	switch ct {
	case domain.ChangeNew:
		return domain.FileStatusNew
	case domain.ChangeModified:
		return domain.FileStatusModified
	default:
		return domain.FileStatusUnchanged
	}
}
