package services

import (
	"context"
	"fmt"

	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/core/ports/driven"
	"github.com/ragsync/engine/internal/core/ports/driving"
)

var _ driving.SyncOrchestrator = (*SyncService)(nil)

// SyncService adapts the lower-level SyncOrchestrator pipeline to the
// driving.SyncOrchestrator port for a single-source KB: it resolves the KB
// by id, builds its adapters through the injected factories, and tracks
// whether a run is already active so a second call returns
// domain.ErrSyncInProgress instead of racing the first (spec §4.8).
type SyncService struct {
	catalog       driven.CatalogRepository
	orchestrator  *SyncOrchestrator
	sourceFactory SourceAdapterFactory
	ragFactory    RAGAdapterFactory

	inFlight *runGuard
}

// NewSyncService creates a SyncService.
func NewSyncService(catalog driven.CatalogRepository, orchestrator *SyncOrchestrator, sourceFactory SourceAdapterFactory, ragFactory RAGAdapterFactory) *SyncService {
	return &SyncService{
		catalog:       catalog,
		orchestrator:  orchestrator,
		sourceFactory: sourceFactory,
		ragFactory:    ragFactory,
		inFlight:      newRunGuard(),
	}
}

// Sync runs a full sync-or-scan pass for kbID and returns the completed run.
func (s *SyncService) Sync(ctx context.Context, kbID int64, mode domain.SyncMode) (*domain.SyncRun, error) {
	if !s.inFlight.start(kbID) {
		return nil, domain.ErrSyncInProgress
	}
	defer s.inFlight.finish(kbID)

	kb, err := s.catalog.GetKB(ctx, kbID)
	if err != nil {
		return nil, err
	}

	src, err := s.sourceFactory(kb.SourceType, kb.SourceConfig)
	if err != nil {
		return nil, fmt.Errorf("building source adapter for kb %q: %w", kb.Name, err)
	}
	defer src.Close()

	rag, err := s.ragFactory(kb.RAGType, kb.RAGConfig)
	if err != nil {
		return nil, fmt.Errorf("building rag adapter for kb %q: %w", kb.Name, err)
	}
	defer rag.Close()

	binding := sourceBinding{
		CompatibleKBID:   kb.ID,
		CompatibleKBName: kb.Name,
		SourceType:       kb.SourceType,
		DriveID:          kb.Name,
		Source:           src,
		RAG:              rag,
	}
	return s.orchestrator.Run(ctx, binding, mode, 0)
}

// Status returns the most recent SyncRun for kbID.
func (s *SyncService) Status(ctx context.Context, kbID int64) (*domain.SyncRun, error) {
	runs, err := s.catalog.RecentSyncRuns(ctx, kbID, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, domain.ErrNotFound
	}
	return &runs[0], nil
}
