package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/core/ports/driven"
	"github.com/ragsync/engine/internal/ident"
	ragmock "github.com/ragsync/engine/internal/adapters/driven/rag/mock"
)

// fakeSource is a minimal driven.SourceAdapter test double: a fixed map of
// original_uri -> content, with an optional injected Fetch error.
type fakeSource struct {
	content   map[string]string
	fetchErrs map[string]error
	fetchCalls int
}

var _ driven.SourceAdapter = (*fakeSource)(nil)

func newFakeSource() *fakeSource {
	return &fakeSource{content: map[string]string{}, fetchErrs: map[string]error{}}
}

func (s *fakeSource) Type() string                                { return "fake" }
func (s *fakeSource) Validate(context.Context) error              { return nil }
func (s *fakeSource) List(context.Context) (domain.ListResult, error) { return domain.ListResult{}, nil }
func (s *fakeSource) SupportsDelta() bool                          { return false }
func (s *fakeSource) DeltaList(context.Context, string) (domain.ListResult, error) {
	return domain.ListResult{}, nil
}

func (s *fakeSource) Fetch(_ context.Context, originalURI string) (driven.FetchResult, error) {
	s.fetchCalls++
	if err, ok := s.fetchErrs[originalURI]; ok {
		return driven.FetchResult{}, err
	}
	body, ok := s.content[originalURI]
	if !ok {
		return driven.FetchResult{}, domain.ErrSourceNotFound
	}
	return driven.FetchResult{
		Content:     io.NopCloser(strings.NewReader(body)),
		Size:        int64(len(body)),
		ContentType: "text/plain",
	}, nil
}

func (s *fakeSource) Close() error { return nil }

func newProcessor(src *fakeSource, rag *ragmock.Adapter) *FileProcessor {
	p := NewFileProcessor(src, rag, "docs")
	p.timeout = time.Second
	return p
}

func TestFileProcessor_New_Uploads(t *testing.T) {
	src := newFakeSource()
	src.content["a.pdf"] = "hello"
	rag := ragmock.New()
	p := newProcessor(src, rag)

	c := domain.Classification{OriginalURI: "a.pdf", Type: domain.ChangeNew}
	rec, ct := p.Process(context.Background(), domain.SyncModeSync, c)

	assert.Equal(t, domain.ChangeNew, ct)
	assert.Equal(t, domain.FileStatusNew, rec.Status)
	assert.Equal(t, ident.HashBytes([]byte("hello")), rec.FileHash)
	assert.True(t, ident.IsStableID(rec.UUIDFilename))
	assert.Equal(t, 1, rag.Uploads)
	assert.Equal(t, 0, rag.Updates)

	content, ok := rag.Content(rec.RAGURI)
	require.True(t, ok)
	assert.Equal(t, "hello", string(content))
}

func TestFileProcessor_ModifiedDecisive_Updates(t *testing.T) {
	src := newFakeSource()
	src.content["a.pdf"] = "hello world"
	rag := ragmock.New()
	_, err := rag.Upload(context.Background(), "uuid-a.pdf", strings.NewReader("hello"), driven.RAGObjectMeta{})
	require.NoError(t, err)
	p := newProcessor(src, rag)

	existing := &domain.FileRecord{
		OriginalURI:  "a.pdf",
		RAGURI:       "uuid-a.pdf",
		FileHash:     ident.HashBytes([]byte("hello")),
		UUIDFilename: "uuid-a.pdf",
		FileSize:     5,
		Status:       domain.FileStatusNew,
	}
	c := domain.Classification{OriginalURI: "a.pdf", Type: domain.ChangeModified, Existing: existing, TentativeHash: false}
	rec, ct := p.Process(context.Background(), domain.SyncModeSync, c)

	assert.Equal(t, domain.ChangeModified, ct)
	assert.Equal(t, domain.FileStatusModified, rec.Status)
	assert.Equal(t, "uuid-a.pdf", rec.RAGURI, "stable rag_uri is reused, never reminted")
	assert.Equal(t, "uuid-a.pdf", rec.UUIDFilename)
	assert.Equal(t, 0, rag.Uploads)
	assert.Equal(t, 1, rag.Updates)

	content, ok := rag.Content("uuid-a.pdf")
	require.True(t, ok)
	assert.Equal(t, "hello world", string(content))
}

func TestFileProcessor_TentativeModified_HashMatchDowngradesToUnchanged(t *testing.T) {
	src := newFakeSource()
	src.content["a.pdf"] = "hello"
	rag := ragmock.New()
	p := newProcessor(src, rag)

	existing := &domain.FileRecord{
		OriginalURI:  "a.pdf",
		RAGURI:       "uuid-a.pdf",
		FileHash:     ident.HashBytes([]byte("hello")),
		UUIDFilename: "uuid-a.pdf",
		FileSize:     5,
		Status:       domain.FileStatusNew,
	}
	c := domain.Classification{OriginalURI: "a.pdf", Type: domain.ChangeModified, Existing: existing, TentativeHash: true}
	rec, ct := p.Process(context.Background(), domain.SyncModeSync, c)

	assert.Equal(t, domain.ChangeUnchanged, ct, "a matching hash downgrades a tentative MODIFIED to UNCHANGED")
	assert.Equal(t, domain.FileStatusUnchanged, rec.Status)
	assert.Zero(t, rag.Uploads)
	assert.Zero(t, rag.Updates, "no RAG call is made once the hash confirms no real change")
}

func TestFileProcessor_TentativeModified_HashMismatchUpdates(t *testing.T) {
	src := newFakeSource()
	src.content["a.pdf"] = "hello world"
	rag := ragmock.New()
	_, err := rag.Upload(context.Background(), "uuid-a.pdf", strings.NewReader("hello"), driven.RAGObjectMeta{})
	require.NoError(t, err)
	p := newProcessor(src, rag)

	existing := &domain.FileRecord{
		OriginalURI:  "a.pdf",
		RAGURI:       "uuid-a.pdf",
		FileHash:     ident.HashBytes([]byte("hello")),
		UUIDFilename: "uuid-a.pdf",
		FileSize:     11, // size already matched in the classifier; hash differs
		Status:       domain.FileStatusNew,
	}
	c := domain.Classification{OriginalURI: "a.pdf", Type: domain.ChangeModified, Existing: existing, TentativeHash: true}
	rec, ct := p.Process(context.Background(), domain.SyncModeSync, c)

	assert.Equal(t, domain.ChangeModified, ct)
	assert.Equal(t, domain.FileStatusModified, rec.Status)
	assert.Equal(t, 1, rag.Updates)
}

func TestFileProcessor_Restoration_ReusesUUIDAndRAGURIViaUpload(t *testing.T) {
	src := newFakeSource()
	src.content["b.txt"] = "back again"
	rag := ragmock.New()
	// A real delete/restore cycle: the prior DELETED run already removed
	// the object from the backend, so it does not exist when restoration
	// runs (Testable Property 5, Scenario S4).
	_, err := rag.Upload(context.Background(), "uuid-b.txt", strings.NewReader("old"), driven.RAGObjectMeta{})
	require.NoError(t, err)
	require.NoError(t, rag.Delete(context.Background(), "uuid-b.txt"))
	p := newProcessor(src, rag)

	existing := &domain.FileRecord{
		OriginalURI:  "b.txt",
		RAGURI:       "uuid-b.txt",
		UUIDFilename: "uuid-b.txt",
		Status:       domain.FileStatusDeleted,
	}
	c := domain.Classification{OriginalURI: "b.txt", Type: domain.ChangeNew, Existing: existing, Restoration: true}
	rec, ct := p.Process(context.Background(), domain.SyncModeSync, c)

	assert.Equal(t, domain.ChangeNew, ct)
	assert.Equal(t, "uuid-b.txt", rec.UUIDFilename)
	assert.Equal(t, "uuid-b.txt", rec.RAGURI)
	assert.Equal(t, 1, rag.Uploads, "restoration re-uploads under the preserved uuid filename — Upload has overwrite semantics")
	assert.Equal(t, 0, rag.Updates)

	content, ok := rag.Content(rec.RAGURI)
	require.True(t, ok)
	assert.Equal(t, "back again", string(content))
}

func TestFileProcessor_ModifiedAfterPriorError_Uploads(t *testing.T) {
	src := newFakeSource()
	src.content["a.pdf"] = "recovered content"
	rag := ragmock.New()
	p := newProcessor(src, rag)

	// The prior run's latest record is an error row: a non-empty sentinel
	// rag_uri with no backing artifact. A naive non-empty-RAGURI check
	// would route this through Update and fail forever with ErrConflict.
	existing := &domain.FileRecord{
		OriginalURI: "a.pdf",
		RAGURI:      domain.ErrorRAGURI("docs", time.Now()),
		FileSize:    0,
		Status:      domain.FileStatusError,
	}
	c := domain.Classification{OriginalURI: "a.pdf", Type: domain.ChangeModified, Existing: existing, TentativeHash: false}
	rec, ct := p.Process(context.Background(), domain.SyncModeSync, c)

	assert.Equal(t, domain.ChangeModified, ct)
	assert.Equal(t, domain.FileStatusModified, rec.Status)
	assert.Equal(t, 1, rag.Uploads, "a record with no live RAG artifact must recover via Upload, not Update")
	assert.Equal(t, 0, rag.Updates)
}

func TestFileProcessor_Unchanged_NoFetchNoRAGCall(t *testing.T) {
	src := newFakeSource() // no content registered: a Fetch would error
	rag := ragmock.New()
	p := newProcessor(src, rag)

	existing := &domain.FileRecord{OriginalURI: "a.pdf", RAGURI: "uuid-a.pdf", FileHash: "h", UUIDFilename: "uuid-a.pdf", Status: domain.FileStatusNew}
	c := domain.Classification{OriginalURI: "a.pdf", Type: domain.ChangeUnchanged, Existing: existing}
	rec, ct := p.Process(context.Background(), domain.SyncModeSync, c)

	assert.Equal(t, domain.ChangeUnchanged, ct)
	assert.Equal(t, domain.FileStatusUnchanged, rec.Status)
	assert.Equal(t, 0, src.fetchCalls, "unchanged files are never fetched")
	assert.Equal(t, 0, rag.Uploads+rag.Updates+rag.Deletes)
}

func TestFileProcessor_Deleted_CallsRAGDelete(t *testing.T) {
	src := newFakeSource()
	rag := ragmock.New()
	_, err := rag.Upload(context.Background(), "uuid-a.pdf", strings.NewReader("x"), driven.RAGObjectMeta{})
	require.NoError(t, err)
	p := newProcessor(src, rag)

	existing := &domain.FileRecord{OriginalURI: "a.pdf", RAGURI: "uuid-a.pdf", FileHash: "h", UUIDFilename: "uuid-a.pdf", Status: domain.FileStatusNew}
	c := domain.Classification{OriginalURI: "a.pdf", Type: domain.ChangeDeleted, Existing: existing}
	rec, ct := p.Process(context.Background(), domain.SyncModeSync, c)

	assert.Equal(t, domain.ChangeDeleted, ct)
	assert.Equal(t, domain.FileStatusDeleted, rec.Status)
	assert.Empty(t, rec.FileHash)
	assert.Equal(t, 1, rag.Deletes)
}

func TestFileProcessor_FetchErrorYieldsErrorRecord(t *testing.T) {
	src := newFakeSource()
	src.fetchErrs["a.pdf"] = errors.New("network blip")
	rag := ragmock.New()
	p := newProcessor(src, rag)
	p.timeout = 50 * time.Millisecond

	c := domain.Classification{OriginalURI: "a.pdf", Type: domain.ChangeNew}
	rec, ct := p.Process(context.Background(), domain.SyncModeSync, c)

	assert.Equal(t, domain.ChangeNew, ct, "the retained change type is the classifier's original verdict")
	assert.Equal(t, domain.FileStatusError, rec.Status)
	assert.Equal(t, "network blip", rec.ErrorMessage)
	assert.Empty(t, rec.FileHash)
	assert.Empty(t, rec.UUIDFilename)
	assert.Contains(t, rec.RAGURI, "docs/error-")
	assert.Equal(t, 0, rag.Uploads)
	assert.GreaterOrEqual(t, src.fetchCalls, 1)
}

func TestFileProcessor_ScanMode_NeverCallsRAG(t *testing.T) {
	src := newFakeSource()
	src.content["a.pdf"] = "hello"
	rag := ragmock.New()
	p := newProcessor(src, rag)

	c := domain.Classification{OriginalURI: "a.pdf", Type: domain.ChangeNew}
	rec, ct := p.Process(context.Background(), domain.SyncModeScan, c)

	assert.Equal(t, domain.ChangeNew, ct)
	assert.Equal(t, domain.FileStatusScanned, rec.Status)
	assert.NotEmpty(t, rec.FileHash)
	assert.Equal(t, 0, rag.Uploads+rag.Updates+rag.Deletes)
}

func TestFileProcessor_ScanMode_DeleteNeverCallsRAG(t *testing.T) {
	src := newFakeSource()
	rag := ragmock.New()
	p := newProcessor(src, rag)

	existing := &domain.FileRecord{OriginalURI: "a.pdf", RAGURI: "uuid-a.pdf", UUIDFilename: "uuid-a.pdf", Status: domain.FileStatusNew}
	c := domain.Classification{OriginalURI: "a.pdf", Type: domain.ChangeDeleted, Existing: existing}
	rec, ct := p.Process(context.Background(), domain.SyncModeScan, c)

	assert.Equal(t, domain.ChangeDeleted, ct)
	assert.Equal(t, domain.FileStatusScanned, rec.Status)
	assert.Equal(t, 0, rag.Deletes)
}
