package ident

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStableID(t *testing.T) {
	t.Run("preserves extension", func(t *testing.T) {
		id := NewStableID("/reports/q1/summary.pdf")
		assert.True(t, strings.HasSuffix(id, ".pdf"))
	})

	t.Run("no extension leaves id bare", func(t *testing.T) {
		id := NewStableID("/reports/README")
		assert.False(t, strings.Contains(id, "."))
	})

	t.Run("generates unique ids", func(t *testing.T) {
		a := NewStableID("file.txt")
		b := NewStableID("file.txt")
		assert.NotEqual(t, a, b)
	})

	t.Run("base is a parseable uuid", func(t *testing.T) {
		id := NewStableID("notes.md")
		assert.True(t, IsStableID(id))
	})
}

func TestHashContent(t *testing.T) {
	t.Run("matches known sha256", func(t *testing.T) {
		sum, err := HashContent(strings.NewReader("hello world"))
		require.NoError(t, err)
		assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", sum)
	})

	t.Run("empty reader hashes to the empty-string digest", func(t *testing.T) {
		sum, err := HashContent(strings.NewReader(""))
		require.NoError(t, err)
		assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", sum)
	})

	t.Run("identical content hashes identically", func(t *testing.T) {
		a, err := HashContent(strings.NewReader("same bytes"))
		require.NoError(t, err)
		b, err := HashContent(strings.NewReader("same bytes"))
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("different content hashes differently", func(t *testing.T) {
		a, err := HashContent(strings.NewReader("content a"))
		require.NoError(t, err)
		b, err := HashContent(strings.NewReader("content b"))
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})
}

func TestHashBytes(t *testing.T) {
	t.Run("matches HashContent for the same payload", func(t *testing.T) {
		payload := []byte("matching payload")
		viaReader, err := HashContent(strings.NewReader(string(payload)))
		require.NoError(t, err)
		assert.Equal(t, viaReader, HashBytes(payload))
	})
}

func TestIsStableID(t *testing.T) {
	t.Run("accepts a minted id with extension", func(t *testing.T) {
		assert.True(t, IsStableID(NewStableID("doc.docx")))
	})

	t.Run("accepts a minted id without extension", func(t *testing.T) {
		assert.True(t, IsStableID(NewStableID("README")))
	})

	t.Run("rejects an arbitrary source uri", func(t *testing.T) {
		assert.False(t, IsStableID("/reports/q1/summary.pdf"))
	})

	t.Run("rejects an empty string", func(t *testing.T) {
		assert.False(t, IsStableID(""))
	})
}
