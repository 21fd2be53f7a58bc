package domain

import "time"

// DeltaToken is the catalog's persisted cursor into a source adapter's
// incremental-listing API (e.g. Microsoft Graph's @odata.deltaLink),
// identified by (source_id, drive_id); source_type is carried for
// diagnostics only (spec §3, §4.7, §6).
type DeltaToken struct {
	SourceID     string
	SourceType   string
	DriveID      string
	Token        string
	LastSyncTime time.Time
}

// IsEmpty reports whether no token has been recorded yet, meaning the next
// sync must perform a full listing rather than a delta one.
func (d DeltaToken) IsEmpty() bool {
	return d.Token == ""
}
