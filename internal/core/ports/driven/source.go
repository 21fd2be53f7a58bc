// Package driven provides interfaces for infrastructure adapters (secondary/outbound ports).
package driven

import (
	"context"
	"io"
	"time"

	"github.com/ragsync/engine/internal/core/domain"
)

// FetchResult carries a file's content stream plus the authoritative size
// and timestamps the source reports at fetch time (spec §4.1).
type FetchResult struct {
	Content          io.ReadCloser
	Size             int64
	ContentType      string
	SourceModifiedAt *time.Time
}

// SourceAdapter fetches file listings and content from an external data
// source (local filesystem, SharePoint, OneDrive, ...). Each source type
// configured on a KB or SourceDefinition resolves to exactly one
// SourceAdapter implementation.
type SourceAdapter interface {
	// Type returns the source type identifier (e.g. "file_system", "onedrive").
	Type() string

	// Validate performs a lightweight readiness check — path exists and is
	// readable for filesystem, a test Graph call for Graph-backed sources.
	Validate(ctx context.Context) error

	// List returns every item currently visible at the source, after
	// config-driven filtering (spec §4.1). Used for a full sync: no prior
	// delta token, or a token the adapter rejected.
	List(ctx context.Context) (domain.ListResult, error)

	// SupportsDelta reports whether DeltaList is meaningful for this
	// adapter. Filesystem sources return false; Graph-backed ones return
	// true.
	SupportsDelta() bool

	// DeltaList returns items changed since token. A nil-equivalent (empty)
	// token means "from the beginning". Sets ListResult.TokenInvalid when
	// the adapter rejects token, in which case the caller must fall back
	// to List in the same run (spec §4.7).
	DeltaList(ctx context.Context, token string) (domain.ListResult, error)

	// Fetch streams a file's content by original_uri. Returns
	// domain.ErrSourceNotFound if the file no longer exists at the source
	// (treated as a concurrent deletion by the caller).
	Fetch(ctx context.Context, originalURI string) (FetchResult, error)

	// Close releases any held resources (HTTP clients, file handles).
	Close() error
}
