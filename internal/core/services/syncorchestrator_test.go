package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragsync/engine/internal/adapters/driven/catalog/memory"
	ragmock "github.com/ragsync/engine/internal/adapters/driven/rag/mock"
	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/core/ports/driven"
)

// listingSource is a driven.SourceAdapter test double backed by a fixed
// listing and content map, used to exercise the orchestrator end to end.
type listingSource struct {
	mu      sync.Mutex
	items   []domain.SourceDescriptor
	content map[string]string
	delay   time.Duration
}

var _ driven.SourceAdapter = (*listingSource)(nil)

func (s *listingSource) Type() string                   { return "fake" }
func (s *listingSource) Validate(context.Context) error { return nil }
func (s *listingSource) SupportsDelta() bool             { return false }
func (s *listingSource) Close() error                    { return nil }

func (s *listingSource) List(context.Context) (domain.ListResult, error) {
	return domain.ListResult{Items: s.items}, nil
}

func (s *listingSource) DeltaList(context.Context, string) (domain.ListResult, error) {
	return domain.ListResult{}, nil
}

func (s *listingSource) Fetch(ctx context.Context, originalURI string) (driven.FetchResult, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return driven.FetchResult{}, ctx.Err()
		}
	}
	s.mu.Lock()
	body, ok := s.content[originalURI]
	s.mu.Unlock()
	if !ok {
		return driven.FetchResult{}, domain.ErrSourceNotFound
	}
	return driven.FetchResult{Content: io.NopCloser(strings.NewReader(body)), Size: int64(len(body))}, nil
}

func newBinding(kbID int64, kbName string, src driven.SourceAdapter, rag driven.RAGAdapter) sourceBinding {
	return sourceBinding{CompatibleKBID: kbID, CompatibleKBName: kbName, Source: src, RAG: rag}
}

func TestSyncOrchestrator_FreshKBAllNew(t *testing.T) {
	store := memory.New()
	kb := &domain.KnowledgeBase{Name: "docs"}
	require.NoError(t, store.SaveKB(context.Background(), kb))

	src := &listingSource{
		items: []domain.SourceDescriptor{
			{OriginalURI: "a.pdf", Size: 5},
			{OriginalURI: "b.txt", Size: 5},
		},
		content: map[string]string{"a.pdf": "hello", "b.txt": "world"},
	}
	rag := ragmock.New()
	orch := NewSyncOrchestrator(store)

	run, err := orch.Run(context.Background(), newBinding(kb.ID, kb.Name, src, rag), domain.SyncModeSync, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusCompleted, run.Status)
	assert.Equal(t, 2, run.Counters.Total)
	assert.Equal(t, 2, run.Counters.New)
	assert.Equal(t, 2, rag.Uploads)

	latest, err := store.LatestRecordsByKB(context.Background(), kb.Name)
	require.NoError(t, err)
	assert.Len(t, latest, 2)
}

func TestSyncOrchestrator_SecondRunUnchanged(t *testing.T) {
	store := memory.New()
	kb := &domain.KnowledgeBase{Name: "docs"}
	require.NoError(t, store.SaveKB(context.Background(), kb))

	src := &listingSource{
		items:   []domain.SourceDescriptor{{OriginalURI: "a.pdf", Size: 5, SourceModifiedAt: ts("2024-01-01T00:00:00Z")}},
		content: map[string]string{"a.pdf": "hello"},
	}
	rag := ragmock.New()
	orch := NewSyncOrchestrator(store)

	_, err := orch.Run(context.Background(), newBinding(kb.ID, kb.Name, src, rag), domain.SyncModeSync, 0)
	require.NoError(t, err)

	run2, err := orch.Run(context.Background(), newBinding(kb.ID, kb.Name, src, rag), domain.SyncModeSync, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusCompleted, run2.Status)
	assert.Equal(t, 1, run2.Counters.Unchanged)
	assert.Equal(t, 1, rag.Uploads, "a second run over unchanged content makes no further RAG calls")
	assert.Equal(t, 0, rag.Updates)
}

func TestSyncOrchestrator_ScanModeNeverCallsRAG(t *testing.T) {
	store := memory.New()
	kb := &domain.KnowledgeBase{Name: "docs"}
	require.NoError(t, store.SaveKB(context.Background(), kb))

	src := &listingSource{
		items:   []domain.SourceDescriptor{{OriginalURI: "a.pdf", Size: 5}},
		content: map[string]string{"a.pdf": "hello"},
	}
	rag := ragmock.New()
	orch := NewSyncOrchestrator(store)

	run, err := orch.Run(context.Background(), newBinding(kb.ID, kb.Name, src, rag), domain.SyncModeScan, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusScanComplete, run.Status)
	assert.Equal(t, 0, rag.Uploads+rag.Updates+rag.Deletes)
}

func TestSyncOrchestrator_ValidateFailureFailsRunWithoutProcessing(t *testing.T) {
	store := memory.New()
	kb := &domain.KnowledgeBase{Name: "docs"}
	require.NoError(t, store.SaveKB(context.Background(), kb))

	src := &failValidateSource{err: errors.New("auth expired")}
	rag := ragmock.New()
	orch := NewSyncOrchestrator(store)

	run, err := orch.Run(context.Background(), newBinding(kb.ID, kb.Name, src, rag), domain.SyncModeSync, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusFailed, run.Status)
	assert.Equal(t, "auth expired", run.ErrorMessage)
}

type failValidateSource struct{ err error }

func (s *failValidateSource) Type() string                                       { return "fake" }
func (s *failValidateSource) Validate(context.Context) error                     { return s.err }
func (s *failValidateSource) SupportsDelta() bool                                 { return false }
func (s *failValidateSource) Close() error                                       { return nil }
func (s *failValidateSource) List(context.Context) (domain.ListResult, error)    { return domain.ListResult{}, nil }
func (s *failValidateSource) DeltaList(context.Context, string) (domain.ListResult, error) {
	return domain.ListResult{}, nil
}
func (s *failValidateSource) Fetch(context.Context, string) (driven.FetchResult, error) {
	return driven.FetchResult{}, domain.ErrSourceNotFound
}

func TestSyncOrchestrator_CancellationFailsRunWithLiteralMessage(t *testing.T) {
	store := memory.New()
	kb := &domain.KnowledgeBase{Name: "docs"}
	require.NoError(t, store.SaveKB(context.Background(), kb))

	src := &listingSource{
		items:   []domain.SourceDescriptor{{OriginalURI: "a.pdf", Size: 5}},
		content: map[string]string{"a.pdf": "hello"},
		delay:   200 * time.Millisecond,
	}
	rag := ragmock.New()
	orch := NewSyncOrchestrator(store)
	orch.WorkerCount = 1

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	run, err := orch.Run(ctx, newBinding(kb.ID, kb.Name, src, rag), domain.SyncModeSync, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusFailed, run.Status)
	assert.Equal(t, cancelledMessage, run.ErrorMessage)
}
