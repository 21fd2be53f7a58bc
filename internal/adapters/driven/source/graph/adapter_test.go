package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragsync/engine/internal/core/domain"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{
		ClientConfig: ClientConfig{BaseURL: srv.URL, RequestsPerSecond: 1000},
		SourceType:   "onedrive",
		DriveID:      "drive1",
	}
	return newWithHTTPClient(cfg, srv.Client()), srv
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestAdapter_List_FollowsPagesAndSkipsNonFiles(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/drives/drive1/root/delta", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			writeJSON(t, w, deltaResponse{
				Value: []driveItemResponse{
					{Name: "a.pdf", ParentReference: &parentRef{Path: "/drives/drive1/root:"}, Size: 10, File: &fileFacet{MimeType: "application/pdf"}},
					{Name: "subdir", Folder: &struct{}{}},
					{Name: "gone.txt", ParentReference: &parentRef{Path: "/drives/drive1/root:"}, Deleted: &struct{}{}},
					{Name: "notes.one", Package: &struct{}{}},
				},
				NextLink: srv.URL + "/drives/drive1/root/delta?cursor=p2",
			})
		case "p2":
			writeJSON(t, w, deltaResponse{
				Value: []driveItemResponse{
					{Name: "b.txt", ParentReference: &parentRef{Path: "/drives/drive1/root:/sub"}, Size: 3, File: &fileFacet{MimeType: "text/plain"}},
				},
				DeltaLink: srv.URL + "/drives/drive1/root/delta?cursor=final",
			})
		}
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := Config{
		ClientConfig: ClientConfig{BaseURL: srv.URL, RequestsPerSecond: 1000},
		SourceType:   "onedrive",
		DriveID:      "drive1",
	}
	a := newWithHTTPClient(cfg, srv.Client())

	result, err := a.List(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Items, 3)

	byURI := map[string]domain.SourceDescriptor{}
	for _, it := range result.Items {
		byURI[it.OriginalURI] = it
	}

	assert.Equal(t, int64(10), byURI["a.pdf"].Size)
	assert.False(t, byURI["a.pdf"].Tombstone)
	assert.True(t, byURI["gone.txt"].Tombstone)
	assert.Equal(t, int64(3), byURI["sub/b.txt"].Size)

	// List always drops the token — it represents a full listing.
	assert.Empty(t, result.NextToken)
	assert.NotContains(t, byURI, "subdir")
	assert.NotContains(t, byURI, "notes.one")
}

func TestAdapter_DeltaList_ResumesFromToken(t *testing.T) {
	a, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "resume", r.URL.Query().Get("cursor"))
		writeJSON(t, w, deltaResponse{
			Value: []driveItemResponse{
				{Name: "c.txt", ParentReference: &parentRef{Path: "/drives/drive1/root:"}, Size: 1, File: &fileFacet{MimeType: "text/plain"}},
			},
			DeltaLink: "ignored-in-this-test",
		})
	})

	result, err := a.DeltaList(context.Background(), srv.URL+"/drives/drive1/root/delta?cursor=resume")
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "c.txt", result.Items[0].OriginalURI)
	assert.False(t, result.TokenInvalid)
}

func TestAdapter_DeltaList_GoneMarksTokenInvalid(t *testing.T) {
	a, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	result, err := a.DeltaList(context.Background(), srv.URL+"/drives/drive1/root/delta?cursor=expired")
	require.NoError(t, err)
	assert.True(t, result.TokenInvalid)
}

func TestAdapter_Fetch_ReturnsContentAndMetadata(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Last-Modified", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Format(http.TimeFormat))
		w.Write([]byte("hello"))
	})

	res, err := a.Fetch(context.Background(), "a.pdf")
	require.NoError(t, err)
	defer res.Content.Close()
	assert.Equal(t, "text/plain", res.ContentType)
	require.NotNil(t, res.SourceModifiedAt)
	assert.Equal(t, 2026, res.SourceModifiedAt.Year())
}

func TestAdapter_Fetch_NotFoundMapsToDomainError(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := a.Fetch(context.Background(), "missing.pdf")
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)
}

func TestAdapter_Validate(t *testing.T) {
	calls := 0
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, a.Validate(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestAdapter_SupportsDelta(t *testing.T) {
	a := New(Config{SourceType: "sharepoint", DriveID: "d1"})
	assert.True(t, a.SupportsDelta())
}

func TestDriveItemResponse_RelativePath(t *testing.T) {
	tests := []struct {
		name string
		item driveItemResponse
		want string
	}{
		{"root item", driveItemResponse{Name: "a.pdf", ParentReference: &parentRef{Path: "/drives/x/root:"}}, "a.pdf"},
		{"nested item", driveItemResponse{Name: "b.txt", ParentReference: &parentRef{Path: "/drives/x/root:/docs/sub"}}, "docs/sub/b.txt"},
		{"no parent reference", driveItemResponse{Name: "c.txt"}, "c.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.relativePath())
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	assert.ErrorIs(t, classifyStatus(http.StatusNotFound), errNotFound)
	assert.ErrorIs(t, classifyStatus(http.StatusGone), errGone)
	assert.ErrorIs(t, classifyStatus(http.StatusTooManyRequests), errThrottled)
	assert.ErrorIs(t, classifyStatus(http.StatusInternalServerError), errServer)
}
