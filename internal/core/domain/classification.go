package domain

// ChangeType is the outcome the change detector assigns to a source file
// relative to the catalog's last-known state (spec §4.5).
type ChangeType string

const (
	ChangeNew       ChangeType = "new"
	ChangeModified  ChangeType = "modified"
	ChangeUnchanged ChangeType = "unchanged"
	ChangeDeleted   ChangeType = "deleted"
)

// Classification is the change detector's verdict for a single source file
// (or, for ChangeDeleted, a single catalog record with no matching source
// file). The file processor reads Restoration and TentativeHash to decide
// whether a ChangeNew is really a restore and whether a ChangeModified may
// still be downgraded to unchanged once hashed (spec §4.5).
type Classification struct {
	OriginalURI string
	Type        ChangeType

	// Descriptor is the source listing's current view of the file; nil for
	// ChangeDeleted, since deleted files are no longer in the listing.
	Descriptor *SourceDescriptor

	// Existing is the catalog's latest record for this URI; nil when
	// Type == ChangeNew and no prior record (deleted or otherwise) exists.
	Existing *FileRecord

	// Restoration is true when Type == ChangeNew but a deleted FileRecord
	// for the same OriginalURI exists; the processor reuses Existing's
	// UUIDFilename and RAGURI instead of minting new ones (spec §4.5
	// restoration rule).
	Restoration bool

	// TentativeHash is true when the classifier reached ChangeModified via
	// the mtime fallback (an mtime missing on either side, or outside
	// tolerance) rather than a decisive size mismatch; the file still needs hashing, and a hash match downgrades
	// it to ChangeUnchanged. False means the size pre-filter already
	// decided MODIFIED, and hashing only proceeds to compute the value
	// stored on the new row (spec §4.5).
	TentativeHash bool
}

// NeedsFetch reports whether the file processor must fetch and hash this
// file's content before deciding the catalog write.
func (c *Classification) NeedsFetch() bool {
	return c.Type == ChangeNew || c.Type == ChangeModified
}
