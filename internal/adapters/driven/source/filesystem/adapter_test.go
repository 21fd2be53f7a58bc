package filesystem

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragsync/engine/internal/core/domain"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func uris(items []domain.SourceDescriptor) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.OriginalURI
	}
	sort.Strings(out)
	return out
}

func TestAdapter_List_ReturnsAllFilesByDefault(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":        "hello",
		"sub/b.pdf":    "world",
		"sub/deep/c.md": "!",
	})

	a := New(Config{RootPath: root})
	result, err := a.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "sub/b.pdf", "sub/deep/c.md"}, uris(result.Items))
}

func TestAdapter_List_ExcludeExtensionWins(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "x", "b.pdf": "y"})

	a := New(Config{RootPath: root, ExcludeExtensions: []string{"pdf"}})
	result, err := a.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, uris(result.Items))
}

func TestAdapter_List_IncludeExtensionWhitelists(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "x", "b.pdf": "y", "c.md": "z"})

	a := New(Config{RootPath: root, IncludeExtensions: []string{"pdf", "md"}})
	result, err := a.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b.pdf", "c.md"}, uris(result.Items))
}

func TestAdapter_List_ExcludeExtensionAppliesBeforeIncludeWhitelist(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.pdf": "x"})

	a := New(Config{RootPath: root, IncludeExtensions: []string{"pdf"}, ExcludeExtensions: []string{"pdf"}})
	result, err := a.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Items)
}

func TestAdapter_List_ExcludePatternMatchesDoubleStar(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"docs/a.txt":        "x",
		"docs/archive/b.txt": "y",
	})

	a := New(Config{RootPath: root, ExcludePatterns: []string{"docs/archive/**"}})
	result, err := a.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/a.txt"}, uris(result.Items))
}

func TestAdapter_List_IncludePatternWhitelist(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"keep/a.txt": "x",
		"skip/b.txt": "y",
	})

	a := New(Config{RootPath: root, IncludePatterns: []string{"keep/**"}})
	result, err := a.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"keep/a.txt"}, uris(result.Items))
}

func TestAdapter_Fetch_ReturnsContentAndNotFound(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "hello world"})

	a := New(Config{RootPath: root})

	res, err := a.Fetch(context.Background(), "a.txt")
	require.NoError(t, err)
	defer res.Content.Close()
	b, err := io.ReadAll(res.Content)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(b))
	assert.Equal(t, "text/plain", res.ContentType)

	_, err = a.Fetch(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)
}

func TestAdapter_Validate(t *testing.T) {
	root := t.TempDir()
	a := New(Config{RootPath: root})
	assert.NoError(t, a.Validate(context.Background()))

	bad := New(Config{RootPath: filepath.Join(root, "nope")})
	assert.ErrorIs(t, bad.Validate(context.Background()), domain.ErrSourceUnavailable)
}

func TestAdapter_SupportsDeltaIsFalse(t *testing.T) {
	a := New(Config{RootPath: t.TempDir()})
	assert.False(t, a.SupportsDelta())

	_, err := a.DeltaList(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestPatternMatch_DoubleStarSemantics(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"docs/**", "docs/a.txt", true},
		{"docs/**", "docs/sub/a.txt", true},
		{"docs/**", "other/a.txt", false},
		{"**/a.txt", "x/y/a.txt", true},
		{"*.txt", "a.txt", true},
		{"*.txt", "sub/a.txt", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"_"+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, patternMatch(tt.pattern, tt.path))
		})
	}
}
