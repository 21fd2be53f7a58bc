package services

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragsync/engine/internal/adapters/driven/catalog/memory"
	ragmock "github.com/ragsync/engine/internal/adapters/driven/rag/mock"
	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/core/ports/driven"
)

// staticSource is a driven.SourceAdapter double serving one fixed file,
// keyed by source type so a test can give each SourceDefinition its own.
type staticSource struct {
	uri, body string
}

var _ driven.SourceAdapter = (*staticSource)(nil)

func (s *staticSource) Type() string                   { return "static" }
func (s *staticSource) Validate(context.Context) error { return nil }
func (s *staticSource) SupportsDelta() bool             { return false }
func (s *staticSource) Close() error                    { return nil }
func (s *staticSource) List(context.Context) (domain.ListResult, error) {
	return domain.ListResult{Items: []domain.SourceDescriptor{{OriginalURI: s.uri, Size: int64(len(s.body))}}}, nil
}
func (s *staticSource) DeltaList(context.Context, string) (domain.ListResult, error) {
	return domain.ListResult{}, nil
}
func (s *staticSource) Fetch(_ context.Context, uri string) (driven.FetchResult, error) {
	if uri != s.uri {
		return driven.FetchResult{}, domain.ErrSourceNotFound
	}
	return driven.FetchResult{Content: io.NopCloser(strings.NewReader(s.body)), Size: int64(len(s.body))}, nil
}

func newTestDriver(store driven.CatalogRepository, rag *ragmock.Adapter, bySourceID map[string]*staticSource) *MultiSourceDriver {
	orch := NewSyncOrchestrator(store)
	sourceFactory := func(sourceType string, config map[string]string) (driven.SourceAdapter, error) {
		return bySourceID[config["source_id"]], nil
	}
	ragFactory := func(string, map[string]string) (driven.RAGAdapter, error) { return rag, nil }
	return NewMultiSourceDriver(store, orch, sourceFactory, ragFactory)
}

func multiKBWithTwoSources() *domain.MultiSourceKnowledgeBase {
	return &domain.MultiSourceKnowledgeBase{
		Name:    "research",
		RAGType: "mock",
		Sources: []domain.SourceDefinition{
			{SourceID: "one", SourceType: "static", Enabled: true, SourceConfig: map[string]string{"source_id": "one"}},
			{SourceID: "two", SourceType: "static", Enabled: true, SourceConfig: map[string]string{"source_id": "two"}},
		},
	}
}

func TestMultiSourceDriver_ParallelFanOutAggregatesCounters(t *testing.T) {
	store := memory.New()
	kb := multiKBWithTwoSources()
	require.NoError(t, store.SaveMultiSourceKB(context.Background(), kb))

	rag := ragmock.New()
	driver := newTestDriver(store, rag, map[string]*staticSource{
		"one": {uri: "a.pdf", body: "hello"},
		"two": {uri: "b.pdf", body: "world"},
	})

	run, err := driver.SyncMultiKB(context.Background(), kb.ID, domain.SyncModeSync)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusCompleted, run.Status)
	assert.Equal(t, domain.FanOutParallel, run.FanOut)
	assert.Equal(t, 2, run.Counters.Total)
	assert.Equal(t, 2, run.Counters.New)
	assert.ElementsMatch(t, []string{"one", "two"}, run.SourcesProcessed)
	assert.Len(t, run.SourceStats, 2)
}

func TestMultiSourceDriver_SequentialFanOut(t *testing.T) {
	store := memory.New()
	kb := multiKBWithTwoSources()
	kb.SyncStrategy = map[string]string{"mode": "sequential"}
	require.NoError(t, store.SaveMultiSourceKB(context.Background(), kb))

	rag := ragmock.New()
	driver := newTestDriver(store, rag, map[string]*staticSource{
		"one": {uri: "a.pdf", body: "hello"},
		"two": {uri: "b.pdf", body: "world"},
	})

	run, err := driver.SyncMultiKB(context.Background(), kb.ID, domain.SyncModeSync)
	require.NoError(t, err)
	assert.Equal(t, domain.FanOutSequential, run.FanOut)
	assert.Equal(t, domain.SyncStatusCompleted, run.Status)
	assert.Equal(t, 2, run.Counters.Total)
}

func TestMultiSourceDriver_SelectiveRestrictsSources(t *testing.T) {
	store := memory.New()
	kb := multiKBWithTwoSources()
	kb.SyncStrategy = map[string]string{"mode": "selective", "sources": "one"}
	require.NoError(t, store.SaveMultiSourceKB(context.Background(), kb))

	rag := ragmock.New()
	driver := newTestDriver(store, rag, map[string]*staticSource{
		"one": {uri: "a.pdf", body: "hello"},
		"two": {uri: "b.pdf", body: "world"},
	})

	run, err := driver.SyncMultiKB(context.Background(), kb.ID, domain.SyncModeSync)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, run.SourcesProcessed)
	assert.Equal(t, 1, run.Counters.Total)
}

func TestMultiSourceDriver_SchemaBridgeCreatesPlaceholderWhenNoCompatibleKB(t *testing.T) {
	store := memory.New()
	kb := multiKBWithTwoSources()
	require.NoError(t, store.SaveMultiSourceKB(context.Background(), kb))

	rag := ragmock.New()
	driver := newTestDriver(store, rag, map[string]*staticSource{
		"one": {uri: "a.pdf", body: "hello"},
		"two": {uri: "b.pdf", body: "world"},
	})

	_, err := driver.SyncMultiKB(context.Background(), kb.ID, domain.SyncModeSync)
	require.NoError(t, err)

	placeholder, err := store.GetKBByName(context.Background(), domain.PlaceholderKBName(kb.Name))
	require.NoError(t, err)
	assert.True(t, placeholder.IsPlaceholder())
	assert.Equal(t, "true", placeholder.SourceConfig["placeholder"])
}

func TestMultiSourceDriver_SchemaBridgeReusesExistingCompatibleKB(t *testing.T) {
	store := memory.New()
	existing := &domain.KnowledgeBase{Name: "research_legacy"}
	require.NoError(t, store.SaveKB(context.Background(), existing))

	kb := multiKBWithTwoSources()
	require.NoError(t, store.SaveMultiSourceKB(context.Background(), kb))

	rag := ragmock.New()
	driver := newTestDriver(store, rag, map[string]*staticSource{
		"one": {uri: "a.pdf", body: "hello"},
		"two": {uri: "b.pdf", body: "world"},
	})

	_, err := driver.SyncMultiKB(context.Background(), kb.ID, domain.SyncModeSync)
	require.NoError(t, err)

	_, err = store.GetKBByName(context.Background(), domain.PlaceholderKBName(kb.Name))
	assert.ErrorIs(t, err, domain.ErrNotFound, "an existing compatible KB means no placeholder is created")

	latest, err := store.LatestRecordsByKB(context.Background(), existing.Name)
	require.NoError(t, err)
	assert.Len(t, latest, 2, "file records land under the existing compatible KB's name")
}
