package domain

import "time"

// SourceDescriptor is one item returned by a Source Adapter's List/DeltaList
// call: enough metadata for the change detector's size/mtime pre-filter
// without reading the file's content (spec §4.1, §4.5).
type SourceDescriptor struct {
	OriginalURI      string
	Size             int64
	ContentType      string
	SourceCreatedAt  *time.Time
	SourceModifiedAt *time.Time

	// Tombstone marks a DeltaList entry as a deletion facet rather than a
	// present file (spec §4.1): the change detector treats it as DELETED
	// without consulting size/mtime.
	Tombstone bool
}

// ListResult is what a Source Adapter's List or DeltaList call returns: the
// current descriptors plus an opaque cursor for the next incremental call,
// when the adapter supports delta listing (spec §4.1, §4.7).
type ListResult struct {
	Items     []SourceDescriptor
	NextToken string

	// TokenInvalid is true when the adapter rejected the token it was
	// given; the caller must clear the stored token and fall back to a
	// full List in the same run (spec §4.7, §7).
	TokenInvalid bool
}
