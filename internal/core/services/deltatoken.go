package services

import (
	"context"
	"time"

	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/core/ports/driven"
)

// DeltaTokenManager implements the delta-token policy from spec §4.7: ask
// the catalog before listing, persist a new token only once the listing
// that used it fully succeeds, and clear it outright the moment the source
// adapter reports it invalid so the next sync falls back to a full List.
type DeltaTokenManager struct {
	catalog driven.CatalogRepository
}

// NewDeltaTokenManager creates a DeltaTokenManager backed by catalog.
func NewDeltaTokenManager(catalog driven.CatalogRepository) *DeltaTokenManager {
	return &DeltaTokenManager{catalog: catalog}
}

// Token returns the stored cursor for (sourceID, driveID), or a zero-value
// DeltaToken when none has been recorded (the orchestrator then performs a
// full List instead of a DeltaList).
func (m *DeltaTokenManager) Token(ctx context.Context, sourceID, driveID string) (domain.DeltaToken, error) {
	return m.catalog.GetDeltaToken(ctx, sourceID, driveID)
}

// Commit persists the cursor a successful listing produced. A blank
// nextToken is a legitimate terminal cursor for some source adapters and is
// stored as-is; callers decide whether to call Commit at all based on
// whether the listing that produced it completed.
func (m *DeltaTokenManager) Commit(ctx context.Context, sourceID, sourceType, driveID, nextToken string, syncTime time.Time) error {
	return m.catalog.SaveDeltaToken(ctx, domain.DeltaToken{
		SourceID:     sourceID,
		SourceType:   sourceType,
		DriveID:      driveID,
		Token:        nextToken,
		LastSyncTime: syncTime,
	})
}

// Invalidate clears a stored token after the source adapter reports
// TokenInvalid on a DeltaList call, forcing the next sync for this
// (sourceID, driveID) pair to perform a full listing (spec §4.7, §7).
func (m *DeltaTokenManager) Invalidate(ctx context.Context, sourceID, driveID string) error {
	return m.catalog.ClearDeltaToken(ctx, sourceID, driveID)
}

// ResolveListing runs the delta-or-full listing policy for one source:
// ask for the stored token, call DeltaList if one exists and the adapter
// supports delta listing, fall back to a full List when no token exists,
// delta isn't supported, or the adapter rejects the token — and in the
// rejection case clear the stale token before returning (spec §4.7).
func (m *DeltaTokenManager) ResolveListing(ctx context.Context, src driven.SourceAdapter, sourceID, driveID string) (domain.ListResult, error) {
	if !src.SupportsDelta() {
		return src.List(ctx)
	}

	token, err := m.Token(ctx, sourceID, driveID)
	if err != nil {
		return domain.ListResult{}, err
	}
	if token.IsEmpty() {
		return src.List(ctx)
	}

	result, err := src.DeltaList(ctx, token.Token)
	if err != nil {
		return domain.ListResult{}, err
	}
	if result.TokenInvalid {
		if err := m.Invalidate(ctx, sourceID, driveID); err != nil {
			return domain.ListResult{}, err
		}
		return src.List(ctx)
	}
	return result, nil
}
