// Package domain holds the catalog data model: knowledge bases, sync runs,
// file records, delta tokens and the classifications the change detector
// produces from them.
package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an unknown source-type or rag-type tag.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrSyncInProgress indicates a sync is already running for this KB/source.
	ErrSyncInProgress = errors.New("sync in progress")

	// Source adapter errors (spec §4.1).

	// ErrSourceUnavailable indicates authentication or transport failure
	// talking to the external source.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceNotFound indicates a URI requested for Fetch no longer
	// exists at the source — treated as a concurrent deletion.
	ErrSourceNotFound = errors.New("source file not found")

	// ErrTransientError indicates a retryable failure.
	ErrTransientError = errors.New("transient error")

	// ErrTokenInvalid indicates the source adapter rejected a delta token;
	// the caller must clear it and fall back to a full listing.
	ErrTokenInvalid = errors.New("delta token invalid")

	// RAG adapter errors (spec §4.2).

	// ErrAdapterUnavailable indicates transport/auth failure talking to the
	// RAG backend.
	ErrAdapterUnavailable = errors.New("rag adapter unavailable")

	// ErrConflict indicates an Update was attempted against a rag_uri the
	// backend does not recognise.
	ErrConflict = errors.New("rag adapter conflict")

	// Orchestration errors.

	// ErrCancelled indicates a sync run was aborted via its cancellation
	// signal (spec §5).
	ErrCancelled = errors.New("cancelled")

	// ErrSchemaBridge indicates the multi-source compatibility bridge
	// (spec §4.9) could not resolve or create a compatible single-source
	// KB id for foreign-key purposes.
	ErrSchemaBridge = errors.New("schema bridge resolution failed")
)
