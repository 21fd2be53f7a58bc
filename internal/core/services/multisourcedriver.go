package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/core/ports/driven"
)

// SourceAdapterFactory resolves a configured source type/config pair to a
// live driven.SourceAdapter. Supplied by the composition root, which is the
// only place that knows about concrete adapter packages.
type SourceAdapterFactory func(sourceType string, config map[string]string) (driven.SourceAdapter, error)

// RAGAdapterFactory resolves a configured RAG type/config pair to a live
// driven.RAGAdapter.
type RAGAdapterFactory func(ragType string, config map[string]string) (driven.RAGAdapter, error)

// MultiSourceDriver fans a multi-source KB's sync out across its enabled
// SourceDefinitions (component I, spec §4.9).
type MultiSourceDriver struct {
	catalog       driven.CatalogRepository
	orchestrator  *SyncOrchestrator
	sourceFactory SourceAdapterFactory
	ragFactory    RAGAdapterFactory
}

// NewMultiSourceDriver creates a MultiSourceDriver. orchestrator supplies
// the per-source pipeline (concurrency settings, delta-token handling); the
// two factories let the driver build adapters without importing concrete
// adapter packages.
func NewMultiSourceDriver(catalog driven.CatalogRepository, orchestrator *SyncOrchestrator, sourceFactory SourceAdapterFactory, ragFactory RAGAdapterFactory) *MultiSourceDriver {
	return &MultiSourceDriver{
		catalog:       catalog,
		orchestrator:  orchestrator,
		sourceFactory: sourceFactory,
		ragFactory:    ragFactory,
	}
}

// SyncMultiKB runs every enabled source of multiKBID according to its
// configured fan-out mode and returns the completed aggregate run.
func (d *MultiSourceDriver) SyncMultiKB(ctx context.Context, multiKBID int64, mode domain.SyncMode) (*domain.MultiSourceSyncRun, error) {
	kb, err := d.catalog.GetMultiSourceKB(ctx, multiKBID)
	if err != nil {
		return nil, err
	}

	compatibleKB, err := d.resolveCompatibleKB(ctx, kb)
	if err != nil {
		return nil, err
	}

	fanOut := fanOutModeFrom(kb.SyncStrategy)
	sources := selectSources(kb, fanOut)

	aggRun := &domain.MultiSourceSyncRun{
		MultiSourceKBID: multiKBID,
		FanOut:          fanOut,
		Status:          mode.RunningStatus(),
		StartTime:       d.orchestrator.nowFunc(),
		SourceStats:     make(map[string]domain.SyncCounters, len(sources)),
	}
	if err := d.catalog.CreateMultiSourceSyncRun(ctx, aggRun); err != nil {
		return nil, err
	}

	rag, err := d.ragFactory(kb.RAGType, kb.RAGConfig)
	if err != nil {
		aggRun.Finish(mode.FailedStatus(), d.orchestrator.nowFunc(), err.Error())
		_ = d.catalog.UpdateMultiSourceSyncRun(ctx, aggRun)
		return aggRun, nil
	}
	defer rag.Close()

	var (
		mu       sync.Mutex
		runs     []*domain.SyncRun
		runErrs  []error
	)
	record := func(run *domain.SyncRun, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			runErrs = append(runErrs, err)
			return
		}
		runs = append(runs, run)
	}

	runOne := func(ctx context.Context, sd domain.SourceDefinition) error {
		src, err := d.sourceFactory(sd.SourceType, sd.SourceConfig)
		if err != nil {
			record(nil, fmt.Errorf("source %s: %w", sd.SourceID, err))
			return nil
		}
		defer src.Close()

		binding := sourceBinding{
			CompatibleKBID:   compatibleKB.ID,
			CompatibleKBName: compatibleKB.Name,
			MultiSourceKBID:  multiKBID,
			SourceID:         sd.SourceID,
			SourceType:       sd.SourceType,
			DriveID:          sd.SourceID,
			Source:           src,
			RAG:              rag,
		}
		run, err := d.orchestrator.Run(ctx, binding, mode, aggRun.ID)
		record(run, err)
		return nil
	}

	if fanOut == domain.FanOutSequential {
		for _, sd := range sources {
			if err := runOne(ctx, sd); err != nil {
				return nil, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for _, sd := range sources {
			sd := sd
			g.Go(func() error { return runOne(gctx, sd) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	if len(runErrs) > 0 {
		aggRun.Finish(mode.FailedStatus(), d.orchestrator.nowFunc(), runErrs[0].Error())
		if err := d.catalog.UpdateMultiSourceSyncRun(ctx, aggRun); err != nil {
			return nil, err
		}
		return aggRun, nil
	}

	statuses := make([]domain.SyncStatus, 0, len(runs))
	for _, run := range runs {
		aggRun.SourcesProcessed = append(aggRun.SourcesProcessed, run.SourceID)
		aggRun.SourceStats[run.SourceID] = run.Counters
		aggRun.Counters.Total += run.Counters.Total
		aggRun.Counters.New += run.Counters.New
		aggRun.Counters.Modified += run.Counters.Modified
		aggRun.Counters.Unchanged += run.Counters.Unchanged
		aggRun.Counters.Deleted += run.Counters.Deleted
		aggRun.Counters.Errors += run.Counters.Errors
		statuses = append(statuses, run.Status)
	}

	finalStatus := domain.AggregateStatus(statuses)
	errMsg := ""
	if finalStatus == domain.SyncStatusFailed || finalStatus == domain.SyncStatusScanFailed {
		errMsg = firstFailureMessage(runs)
	}
	aggRun.Finish(finalStatus, d.orchestrator.nowFunc(), errMsg)
	if err := d.catalog.UpdateMultiSourceSyncRun(ctx, aggRun); err != nil {
		return nil, err
	}
	return aggRun, nil
}

// Status returns the most recent MultiSourceSyncRun for a KB.
func (d *MultiSourceDriver) Status(ctx context.Context, multiKBID int64) (*domain.MultiSourceSyncRun, error) {
	return d.catalog.GetMultiSourceSyncRun(ctx, multiKBID)
}

// resolveCompatibleKB implements the schema bridge (spec §4.9): find an
// existing single-source KB named "<multi-kb-name>_%", lowest id, else
// create a sentinel placeholder KB to satisfy the sync_run foreign key.
func (d *MultiSourceDriver) resolveCompatibleKB(ctx context.Context, kb *domain.MultiSourceKnowledgeBase) (*domain.KnowledgeBase, error) {
	found, err := d.catalog.FindCompatibleKB(ctx, domain.CompatibleKBNamePrefix(kb.Name))
	if err == nil {
		return found, nil
	}
	if err != domain.ErrNotFound {
		return nil, fmt.Errorf("%w: %v", domain.ErrSchemaBridge, err)
	}

	placeholder := &domain.KnowledgeBase{
		Name:       domain.PlaceholderKBName(kb.Name),
		SourceType: domain.PlaceholderSourceType,
		SourceConfig: map[string]string{
			"placeholder":        "true",
			"multi_source_kb_id": fmt.Sprintf("%d", kb.ID),
		},
		RAGType:   kb.RAGType,
		RAGConfig: kb.RAGConfig,
	}
	if err := d.catalog.SaveKB(ctx, placeholder); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSchemaBridge, err)
	}
	return placeholder, nil
}

// fanOutModeFrom reads the fan-out mode from a MultiSourceKnowledgeBase's
// sync_strategy blob, defaulting to parallel (spec §4.9, §6).
func fanOutModeFrom(strategy map[string]string) domain.FanOutMode {
	switch domain.FanOutMode(strategy["mode"]) {
	case domain.FanOutSequential:
		return domain.FanOutSequential
	case domain.FanOutSelective:
		return domain.FanOutSelective
	case domain.FanOutIncremental:
		return domain.FanOutIncremental
	default:
		return domain.FanOutParallel
	}
}

// selectSources resolves the source set a run actually processes: every
// enabled source, except under "selective" mode where sync_strategy's
// "sources" key (a comma-separated list of source_id values) restricts it.
func selectSources(kb *domain.MultiSourceKnowledgeBase, fanOut domain.FanOutMode) []domain.SourceDefinition {
	enabled := kb.EnabledSources()
	if fanOut != domain.FanOutSelective {
		return enabled
	}

	raw := strings.TrimSpace(kb.SyncStrategy["sources"])
	if raw == "" {
		return enabled
	}
	wanted := make(map[string]bool)
	for _, id := range strings.Split(raw, ",") {
		wanted[strings.TrimSpace(id)] = true
	}

	out := make([]domain.SourceDefinition, 0, len(enabled))
	for _, sd := range enabled {
		if wanted[sd.SourceID] {
			out = append(out, sd)
		}
	}
	return out
}

func firstFailureMessage(runs []*domain.SyncRun) string {
	for _, run := range runs {
		if run.Status == domain.SyncStatusFailed || run.Status == domain.SyncStatusScanFailed {
			return run.ErrorMessage
		}
	}
	return ""
}
