// Package mock is an in-memory RAG Adapter. It is the RAG backend named
// "mock" in spec §6 (no recognized config keys) and the primary seam the
// Testable Properties suite uses to assert exact Upload/Update/Delete call
// counts.
package mock

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/core/ports/driven"
)

var _ driven.RAGAdapter = (*Adapter)(nil)

type object struct {
	content []byte
	meta    driven.RAGObjectMeta
}

// Adapter is an in-memory RAG sink keyed by rag_uri (== the uuid filename
// it was uploaded under).
type Adapter struct {
	mu      sync.Mutex
	objects map[string]object

	// Call counters, read by tests to verify Testable Property 1
	// (idempotence of unchanged sync: zero RAG calls).
	Uploads int
	Updates int
	Deletes int
}

// New creates an empty mock RAG adapter.
func New() *Adapter {
	return &Adapter{objects: make(map[string]object)}
}

func (a *Adapter) Type() string { return "mock" }

func (a *Adapter) Validate(_ context.Context) error { return nil }

func (a *Adapter) Upload(_ context.Context, stableID string, content io.Reader, meta driven.RAGObjectMeta) (string, error) {
	b, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[stableID] = object{content: b, meta: meta}
	a.Uploads++
	return stableID, nil
}

func (a *Adapter) Update(_ context.Context, ragURI string, content io.Reader, meta driven.RAGObjectMeta) error {
	b, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.objects[ragURI]; !ok {
		return domain.ErrConflict
	}
	a.objects[ragURI] = object{content: b, meta: meta}
	a.Updates++
	return nil
}

func (a *Adapter) Delete(_ context.Context, ragURI string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.objects[ragURI]; !ok {
		return nil // best-effort, NotFound is non-fatal (spec §4.2)
	}
	delete(a.objects, ragURI)
	a.Deletes++
	return nil
}

func (a *Adapter) List(_ context.Context, prefix string) ([]driven.RAGObjectInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []driven.RAGObjectInfo
	for uri, obj := range a.objects {
		if prefix != "" && !strings.HasPrefix(uri, prefix) {
			continue
		}
		out = append(out, driven.RAGObjectInfo{RAGURI: uri, Size: int64(len(obj.content)), Meta: obj.meta})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RAGURI < out[j].RAGURI })
	return out, nil
}

func (a *Adapter) Get(_ context.Context, ragURI string) (driven.RAGObjectMeta, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	obj, ok := a.objects[ragURI]
	if !ok {
		return driven.RAGObjectMeta{}, domain.ErrNotFound
	}
	return obj.meta, nil
}

// Content returns the current bytes stored under ragURI, for test assertions.
func (a *Adapter) Content(ragURI string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	obj, ok := a.objects[ragURI]
	if !ok {
		return nil, false
	}
	return bytes.Clone(obj.content), true
}

func (a *Adapter) Close() error { return nil }
