// Package ident implements the engine's identifier policy (spec §2, §4.3):
// a stable UUIDv4-based filename for every synced file, and the SHA-256
// content fingerprint the file processor compares against the stored hash.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// NewStableID mints a new UUIDv4-based stable identifier for a file first
// seen at sourceURI, preserving its original extension so downstream
// content-type sniffing by extension keeps working on the RAG side
// (spec §4.3).
func NewStableID(sourceURI string) string {
	ext := path.Ext(sourceURI)
	return uuid.New().String() + ext
}

// HashContent computes the hex-encoded SHA-256 digest of r, consuming it to
// EOF. The caller is responsible for any seeking needed afterwards.
func HashContent(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes computes the hex-encoded SHA-256 digest of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// IsStableID reports whether s looks like an identifier minted by
// NewStableID: a UUID optionally followed by a file extension.
func IsStableID(s string) bool {
	base := strings.TrimSuffix(s, path.Ext(s))
	_, err := uuid.Parse(base)
	return err == nil
}
