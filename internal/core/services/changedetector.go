package services

import (
	"time"

	"github.com/ragsync/engine/internal/core/domain"
)

// mtimeTolerance is the open-question decision from spec §9: kept at ±2s,
// since none of the source adapters here claim sub-second mtime precision
// consistently.
const mtimeTolerance = 2 * time.Second

// ChangeDetector classifies a source listing against the catalog's latest
// records for a KB (component F, spec §4.5). It is stateless: all state
// lives in its two inputs.
type ChangeDetector struct{}

// NewChangeDetector creates a ChangeDetector. It has no dependencies — the
// algorithm is pure given a listing and a latest-records map.
func NewChangeDetector() *ChangeDetector {
	return &ChangeDetector{}
}

// Classify implements spec §4.5 exactly: size pre-filter before mtime
// pre-filter, tombstones classified DELETED directly, and delete
// suppression for URIs already marked deleted.
func (d *ChangeDetector) Classify(listing []domain.SourceDescriptor, latest map[string]domain.FileRecord) []domain.Classification {
	seen := make(map[string]bool, len(listing))
	out := make([]domain.Classification, 0, len(listing))

	for i := range listing {
		desc := listing[i]
		seen[desc.OriginalURI] = true

		existing, known := latest[desc.OriginalURI]

		if desc.Tombstone {
			if known && existing.Status.IsLive() {
				out = append(out, domain.Classification{
					OriginalURI: desc.OriginalURI,
					Type:        domain.ChangeDeleted,
					Existing:    cloneRecord(existing),
				})
			}
			// Already deleted (or never seen): no-op, delete suppression.
			continue
		}

		switch {
		case !known:
			out = append(out, domain.Classification{
				OriginalURI: desc.OriginalURI,
				Type:        domain.ChangeNew,
				Descriptor:  &desc,
			})

		case existing.Status == domain.FileStatusDeleted:
			out = append(out, domain.Classification{
				OriginalURI: desc.OriginalURI,
				Type:        domain.ChangeNew,
				Descriptor:  &desc,
				Existing:    cloneRecord(existing),
				Restoration: true,
			})

		default:
			out = append(out, d.classifyAgainstLive(desc, existing))
		}
	}

	// DELETED: live records present in the catalog but absent from the
	// listing. Tombstones already covered their URIs above, so only
	// untouched live URIs remain to check here.
	for uri, rec := range latest {
		if seen[uri] || !rec.Status.IsLive() {
			continue
		}
		out = append(out, domain.Classification{
			OriginalURI: uri,
			Type:        domain.ChangeDeleted,
			Existing:    cloneRecord(rec),
		})
	}

	return out
}

func (d *ChangeDetector) classifyAgainstLive(desc domain.SourceDescriptor, existing domain.FileRecord) domain.Classification {
	base := domain.Classification{
		OriginalURI: desc.OriginalURI,
		Descriptor:  &desc,
		Existing:    cloneRecord(existing),
	}

	if desc.Size != existing.FileSize {
		base.Type = domain.ChangeModified
		base.TentativeHash = false
		return base
	}

	if desc.SourceModifiedAt != nil && existing.SourceModifiedAt != nil {
		delta := desc.SourceModifiedAt.Sub(*existing.SourceModifiedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= mtimeTolerance {
			base.Type = domain.ChangeUnchanged
			return base
		}
	}

	base.Type = domain.ChangeModified
	base.TentativeHash = true
	return base
}

func cloneRecord(rec domain.FileRecord) *domain.FileRecord {
	r := rec
	return &r
}
