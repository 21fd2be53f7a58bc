package domain

import (
	"fmt"
	"time"
)

// FileStatus is the catalog's per-run view of a single file (spec §3, §6).
type FileStatus string

const (
	FileStatusNew       FileStatus = "new"
	FileStatusModified  FileStatus = "modified"
	FileStatusUnchanged FileStatus = "unchanged"
	FileStatusDeleted   FileStatus = "deleted"
	FileStatusError     FileStatus = "error"
	FileStatusScanned   FileStatus = "scanned"
	FileStatusScanError FileStatus = "scan_error"
)

// IsLive reports whether a record's status represents a file the catalog
// still considers present at the source (used by the change detector to
// decide whether an absent-from-listing URI needs a DELETED record).
func (s FileStatus) IsLive() bool {
	switch s {
	case FileStatusDeleted:
		return false
	default:
		return true
	}
}

// FileRecord is one row per (sync run, original_uri): the catalog's durable
// account of what the engine observed and did for a file during that run
// (spec §3, table file_record). The "latest record per (KB, original_uri)"
// — by its sync run's start_time — is always the authoritative current
// status; see the engine's open-question decision on the unchanged-row
// policy: every UNCHANGED classification gets a row here, not just a gap.
type FileRecord struct {
	ID           int64
	SyncRunID    int64
	OriginalURI  string
	RAGURI       string // never empty, even for error rows (see ErrorRAGURI)
	FileHash     string // SHA-256 hex; empty for deleted/error rows
	UUIDFilename string // empty only for error rows
	UploadTime   time.Time
	FileSize     int64
	Status       FileStatus
	ErrorMessage string

	SourceID         string // multi-source KBs only
	SourceType       string
	SourcePath       string
	ContentType      string
	SourceMetadata   map[string]string
	SourceCreatedAt  *time.Time
	SourceModifiedAt *time.Time
	Tags             map[string]string
}

// ErrorRAGURI builds the sentinel rag_uri the spec requires for a FileRecord
// that failed before acquiring a real RAG identifier (spec §3 invariant 2).
func ErrorRAGURI(kbName string, at time.Time) string {
	return fmt.Sprintf("%s/error-%d", kbName, at.Unix())
}
