package domain

import (
	"fmt"
	"regexp"
	"time"
)

// sourceIDPattern constrains SourceDefinition.SourceID (spec §3).
var sourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// PlaceholderSourceType tags the sentinel single-source KB the multi-source
// schema bridge creates when it cannot find a compatible KB by name
// (spec §4.9).
const PlaceholderSourceType = "multi_source_placeholder"

// KnowledgeBase is a single-source KB: one source, one RAG backend.
type KnowledgeBase struct {
	ID           int64
	Name         string
	SourceType   string
	SourceConfig map[string]string
	RAGType      string
	RAGConfig    map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsPlaceholder reports whether this KB is a schema-bridge placeholder
// created to satisfy the sync_run foreign key for a multi-source KB.
func (kb *KnowledgeBase) IsPlaceholder() bool {
	return kb.SourceType == PlaceholderSourceType
}

// MultiSourceKnowledgeBase is a KB backed by one or more SourceDefinitions
// sharing a single RAG backend and fan-out policy.
type MultiSourceKnowledgeBase struct {
	ID               int64
	Name             string
	RAGType          string
	RAGConfig        map[string]string
	FileOrganization map[string]string
	SyncStrategy     map[string]string
	Sources          []SourceDefinition
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EnabledSources returns the KB's SourceDefinitions with Enabled == true, in
// declaration order (the order "sequential" mode processes them in).
func (kb *MultiSourceKnowledgeBase) EnabledSources() []SourceDefinition {
	out := make([]SourceDefinition, 0, len(kb.Sources))
	for _, s := range kb.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// SourceByID returns the SourceDefinition with the given source_id, or nil.
func (kb *MultiSourceKnowledgeBase) SourceByID(sourceID string) *SourceDefinition {
	for i := range kb.Sources {
		if kb.Sources[i].SourceID == sourceID {
			return &kb.Sources[i]
		}
	}
	return nil
}

// SourceDefinition is one named source within a MultiSourceKnowledgeBase.
type SourceDefinition struct {
	ID                 int64
	MultiSourceKBID    int64
	SourceID           string
	SourceType         string
	SourceConfig       map[string]string
	Enabled            bool
	SourceMetadataTags map[string]string
}

// ValidateSourceID checks the source_id regex constraint from spec §3.
func ValidateSourceID(sourceID string) error {
	if !sourceIDPattern.MatchString(sourceID) {
		return fmt.Errorf("%w: source_id %q must match [A-Za-z0-9_]+", ErrInvalidInput, sourceID)
	}
	return nil
}

// CompatibleKBNamePrefix is the naming convention the schema bridge (spec §4.9)
// searches for: any single-source KB named "<multi-kb-name>_%".
func CompatibleKBNamePrefix(multiKBName string) string {
	return multiKBName + "_"
}

// PlaceholderKBName is the name given to a schema-bridge placeholder KB when
// no existing compatible KB is found.
func PlaceholderKBName(multiKBName string) string {
	return multiKBName + "_placeholder"
}
