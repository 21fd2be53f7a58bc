package driven

import (
	"context"
	"io"
)

// RAGObjectMeta is the metadata a RAGAdapter attaches to an uploaded or
// updated artifact, independent of backend (local sidecar file, blob
// metadata headers, ...).
type RAGObjectMeta struct {
	OriginalURI string
	ContentType string
	KBName      string
	SourceID    string
	Extra       map[string]string
}

// RAGAdapter pushes synced file content into a retrieval-augmented-generation
// backend (local filesystem sink, Azure Blob Storage, ...). The engine calls
// Upload when a StableID has no live artifact and Update while it has one,
// per the RAG URI stability policy (spec §2).
type RAGAdapter interface {
	// Type returns the RAG backend type identifier (e.g. "azure_blob").
	Type() string

	// Validate performs a lightweight readiness check (container/bucket
	// exists and is writable, credentials resolve).
	Validate(ctx context.Context) error

	// Upload stores a new artifact under stableID and returns the backend's
	// durable locator (rag_uri) for it, overwriting any artifact already
	// stored under stableID. Called for a file's first appearance, for a
	// restoration after deletion (under the preserved stableID), and for a
	// modification whose latest record carries no live artifact (e.g. an
	// earlier error row).
	Upload(ctx context.Context, stableID string, content io.Reader, meta RAGObjectMeta) (ragURI string, err error)

	// Update overwrites the artifact at ragURI with new content. Returns
	// ErrConflict if the backend does not recognise ragURI.
	Update(ctx context.Context, ragURI string, content io.Reader, meta RAGObjectMeta) error

	// Delete removes the artifact at ragURI. Deleting an already-absent
	// object is not an error — the backend is expected to treat it as a
	// no-op, matching the catalog's own idempotent delete semantics.
	Delete(ctx context.Context, ragURI string) error

	// List enumerates artifacts under prefix, for reconciliation and health
	// checks (spec §4.2). An empty prefix lists everything the backend
	// holds for this adapter's configured scope.
	List(ctx context.Context, prefix string) ([]RAGObjectInfo, error)

	// Get returns an artifact's stored metadata, or domain.ErrNotFound.
	Get(ctx context.Context, ragURI string) (RAGObjectMeta, error)

	// Close releases any held resources (HTTP clients, file handles).
	Close() error
}

// RAGObjectInfo is one entry returned by RAGAdapter.List.
type RAGObjectInfo struct {
	RAGURI string
	Size   int64
	Meta   RAGObjectMeta
}
