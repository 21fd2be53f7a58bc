// Package fsrag implements the file_system_storage RAG backend: artifacts
// land on disk under storage_path, each with a JSON or YAML sidecar
// carrying its RAGObjectMeta (spec §6).
package fsrag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/core/ports/driven"
)

var _ driven.RAGAdapter = (*Adapter)(nil)

// MetadataFormat selects the sidecar file's serialization.
type MetadataFormat string

const (
	MetadataFormatJSON MetadataFormat = "json"
	MetadataFormatYAML MetadataFormat = "yaml"
)

const sidecarSuffix = ".meta"

// Config holds the file_system_storage RAG-config keys recognized by the
// engine (spec §6).
type Config struct {
	// StoragePath is the root directory artifacts are written under.
	// root_path is accepted as an alias in the wiring layer.
	StoragePath string

	KBName string

	// CreateDirs makes Validate create StoragePath/KBName if missing
	// instead of failing.
	CreateDirs bool

	// PreserveStructure nests artifacts under the original_uri's
	// directory structure instead of writing every artifact flat under
	// KBName keyed only by its uuid filename.
	PreserveStructure bool

	// MetadataFormat selects json or yaml sidecars; defaults to json.
	MetadataFormat MetadataFormat
}

func (c Config) metadataFormat() MetadataFormat {
	if c.MetadataFormat == "" {
		return MetadataFormatJSON
	}
	return c.MetadataFormat
}

// Adapter is a RAG backend writing content and metadata sidecars to a
// local directory tree.
type Adapter struct {
	mu  sync.Mutex
	cfg Config
}

// New creates an fsrag Adapter.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Type() string { return "file_system_storage" }

func (a *Adapter) kbRoot() string {
	return filepath.Join(a.cfg.StoragePath, a.cfg.KBName)
}

// Validate ensures the KB's storage directory exists (and is writable).
func (a *Adapter) Validate(_ context.Context) error {
	root := a.kbRoot()
	info, err := os.Stat(root)
	switch {
	case err == nil:
		if !info.IsDir() {
			return fmt.Errorf("%w: %q is not a directory", domain.ErrAdapterUnavailable, root)
		}
		return nil
	case os.IsNotExist(err) && a.cfg.CreateDirs:
		if mkErr := os.MkdirAll(root, 0o755); mkErr != nil {
			return fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, mkErr)
		}
		return nil
	default:
		return fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
}

// Upload writes content under a path derived from stableID and returns
// that path's KB-root-relative form as the rag_uri.
func (a *Adapter) Upload(_ context.Context, stableID string, content io.Reader, meta driven.RAGObjectMeta) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ragURI := a.ragURIFor(stableID, meta)
	if err := a.writeObject(ragURI, content, meta); err != nil {
		return "", err
	}
	return ragURI, nil
}

// Update overwrites the artifact at ragURI, failing with ErrConflict if it
// was never uploaded.
func (a *Adapter) Update(_ context.Context, ragURI string, content io.Reader, meta driven.RAGObjectMeta) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := os.Stat(a.contentPath(ragURI)); err != nil {
		return domain.ErrConflict
	}
	return a.writeObject(ragURI, content, meta)
}

func (a *Adapter) Delete(_ context.Context, ragURI string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.Remove(a.contentPath(ragURI)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	if err := os.Remove(a.sidecarPath(ragURI)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	return nil
}

func (a *Adapter) List(_ context.Context, prefix string) ([]driven.RAGObjectInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []driven.RAGObjectInfo
	root := a.kbRoot()
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, sidecarSuffix+a.sidecarExt()) {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(rel, prefix) {
			return nil
		}

		meta, metaErr := a.readMeta(rel)
		if metaErr != nil {
			return metaErr
		}
		info, statErr := d.Info()
		if statErr != nil {
			return statErr
		}
		out = append(out, driven.RAGObjectInfo{RAGURI: rel, Size: info.Size(), Meta: meta})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RAGURI < out[j].RAGURI })
	return out, nil
}

func (a *Adapter) Get(_ context.Context, ragURI string) (driven.RAGObjectMeta, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	meta, err := a.readMeta(ragURI)
	if err != nil {
		if os.IsNotExist(err) {
			return driven.RAGObjectMeta{}, domain.ErrNotFound
		}
		return driven.RAGObjectMeta{}, fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	return meta, nil
}

func (a *Adapter) Close() error { return nil }

func (a *Adapter) ragURIFor(stableID string, meta driven.RAGObjectMeta) string {
	if a.cfg.PreserveStructure && meta.OriginalURI != "" {
		return filepath.ToSlash(filepath.Join(filepath.Dir(meta.OriginalURI), stableID))
	}
	return stableID
}

func (a *Adapter) contentPath(ragURI string) string {
	return filepath.Join(a.kbRoot(), filepath.FromSlash(ragURI))
}

func (a *Adapter) sidecarExt() string {
	if a.cfg.metadataFormat() == MetadataFormatYAML {
		return ".yaml"
	}
	return ".json"
}

func (a *Adapter) sidecarPath(ragURI string) string {
	return a.contentPath(ragURI) + sidecarSuffix + a.sidecarExt()
}

func (a *Adapter) writeObject(ragURI string, content io.Reader, meta driven.RAGObjectMeta) error {
	contentPath := a.contentPath(ragURI)
	if err := os.MkdirAll(filepath.Dir(contentPath), 0o755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}

	f, err := os.Create(contentPath)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}

	return a.writeMeta(ragURI, meta)
}

func (a *Adapter) writeMeta(ragURI string, meta driven.RAGObjectMeta) error {
	path := a.sidecarPath(ragURI)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	defer f.Close()

	if a.cfg.metadataFormat() == MetadataFormatYAML {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(meta)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func (a *Adapter) readMeta(ragURI string) (driven.RAGObjectMeta, error) {
	path := a.sidecarPath(ragURI)
	b, err := os.ReadFile(path)
	if err != nil {
		return driven.RAGObjectMeta{}, err
	}

	var meta driven.RAGObjectMeta
	if a.cfg.metadataFormat() == MetadataFormatYAML {
		if err := yaml.Unmarshal(b, &meta); err != nil {
			return driven.RAGObjectMeta{}, err
		}
		return meta, nil
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return driven.RAGObjectMeta{}, err
	}
	return meta, nil
}
