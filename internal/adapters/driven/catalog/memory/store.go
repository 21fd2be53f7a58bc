// Package memory is an in-memory CatalogRepository, the primary test seam
// for engine-level tests. The ragsync command uses the sqlite store for
// every run, scans included.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.CatalogRepository = (*Store)(nil)

// Store is an in-memory implementation of driven.CatalogRepository.
type Store struct {
	mu sync.RWMutex

	kbs          map[int64]domain.KnowledgeBase
	kbsByName    map[string]int64
	multiKBs     map[int64]domain.MultiSourceKnowledgeBase
	multiByName  map[string]int64
	syncRuns     map[int64]domain.SyncRun
	multiRuns    map[int64]domain.MultiSourceSyncRun
	fileRecords  []domain.FileRecord
	deltaTokens  map[string]domain.DeltaToken

	nextKBID       int64
	nextMultiKBID  int64
	nextRunID      int64
	nextMultiRunID int64
	nextRecordID   int64
}

// New creates an empty in-memory catalog.
func New() *Store {
	return &Store{
		kbs:         make(map[int64]domain.KnowledgeBase),
		kbsByName:   make(map[string]int64),
		multiKBs:    make(map[int64]domain.MultiSourceKnowledgeBase),
		multiByName: make(map[string]int64),
		syncRuns:    make(map[int64]domain.SyncRun),
		multiRuns:   make(map[int64]domain.MultiSourceSyncRun),
		deltaTokens: make(map[string]domain.DeltaToken),
	}
}

func deltaKey(sourceID, driveID string) string {
	return sourceID + "\x00" + driveID
}

func (s *Store) GetKB(_ context.Context, id int64) (*domain.KnowledgeBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kb, ok := s.kbs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &kb, nil
}

func (s *Store) GetKBByName(_ context.Context, name string) (*domain.KnowledgeBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.kbsByName[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	kb := s.kbs[id]
	return &kb, nil
}

func (s *Store) SaveKB(_ context.Context, kb *domain.KnowledgeBase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kb.ID == 0 {
		s.nextKBID++
		kb.ID = s.nextKBID
	}
	s.kbs[kb.ID] = *kb
	s.kbsByName[kb.Name] = kb.ID
	return nil
}

func (s *Store) FindCompatibleKB(_ context.Context, namePrefix string) (*domain.KnowledgeBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []domain.KnowledgeBase
	for _, kb := range s.kbs {
		if strings.HasPrefix(kb.Name, namePrefix) {
			matches = append(matches, kb)
		}
	}
	if len(matches) == 0 {
		return nil, domain.ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return &matches[0], nil
}

func (s *Store) GetMultiSourceKB(_ context.Context, id int64) (*domain.MultiSourceKnowledgeBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kb, ok := s.multiKBs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &kb, nil
}

func (s *Store) GetMultiSourceKBByName(_ context.Context, name string) (*domain.MultiSourceKnowledgeBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.multiByName[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	kb := s.multiKBs[id]
	return &kb, nil
}

func (s *Store) SaveMultiSourceKB(_ context.Context, kb *domain.MultiSourceKnowledgeBase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kb.ID == 0 {
		s.nextMultiKBID++
		kb.ID = s.nextMultiKBID
	}
	s.multiKBs[kb.ID] = *kb
	s.multiByName[kb.Name] = kb.ID
	return nil
}

func (s *Store) CreateSyncRun(_ context.Context, run *domain.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRunID++
	run.ID = s.nextRunID
	s.syncRuns[run.ID] = *run
	return nil
}

func (s *Store) UpdateSyncRun(_ context.Context, run *domain.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.syncRuns[run.ID]; !ok {
		return domain.ErrNotFound
	}
	s.syncRuns[run.ID] = *run
	return nil
}

func (s *Store) GetSyncRun(_ context.Context, id int64) (*domain.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.syncRuns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &run, nil
}

func (s *Store) RecentSyncRuns(_ context.Context, kbID int64, limit int) ([]domain.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []domain.SyncRun
	for _, run := range s.syncRuns {
		if run.KnowledgeBaseID == kbID {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartTime.After(runs[j].StartTime) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *Store) InsertFileRecord(_ context.Context, rec *domain.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.fileRecords {
		if existing.SyncRunID == rec.SyncRunID && existing.OriginalURI == rec.OriginalURI {
			return domain.ErrAlreadyExists
		}
	}
	s.nextRecordID++
	rec.ID = s.nextRecordID
	s.fileRecords = append(s.fileRecords, *rec)
	return nil
}

// LatestRecordsByKB returns, for every original_uri ever seen under kbName,
// the most recent FileRecord by its sync run's start_time (spec §4.4). It
// consults every sync_run whose knowledge_base_id resolves to kbName,
// single-source and multi-source schema-bridge runs alike.
func (s *Store) LatestRecordsByKB(_ context.Context, kbName string) (map[string]domain.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kbID, ok := s.kbsByName[kbName]
	if !ok {
		return map[string]domain.FileRecord{}, nil
	}

	runStart := make(map[int64]int64, len(s.syncRuns))
	for _, run := range s.syncRuns {
		if run.KnowledgeBaseID == kbID {
			runStart[run.ID] = run.StartTime.UnixNano()
		}
	}

	latest := make(map[string]domain.FileRecord)
	latestRunStart := make(map[string]int64)
	for _, rec := range s.fileRecords {
		start, ok := runStart[rec.SyncRunID]
		if !ok {
			continue
		}
		if cur, seen := latestRunStart[rec.OriginalURI]; !seen || start > cur {
			latest[rec.OriginalURI] = rec
			latestRunStart[rec.OriginalURI] = start
		}
	}
	return latest, nil
}

func (s *Store) RecordsByURI(_ context.Context, kbID int64, originalURI string) ([]domain.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.FileRecord
	for _, rec := range s.fileRecords {
		run, ok := s.syncRuns[rec.SyncRunID]
		if !ok || run.KnowledgeBaseID != kbID || rec.OriginalURI != originalURI {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.syncRuns[out[i].SyncRunID].StartTime.Before(s.syncRuns[out[j].SyncRunID].StartTime)
	})
	return out, nil
}

func (s *Store) CreateMultiSourceSyncRun(_ context.Context, run *domain.MultiSourceSyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMultiRunID++
	run.ID = s.nextMultiRunID
	s.multiRuns[run.ID] = *run
	return nil
}

func (s *Store) UpdateMultiSourceSyncRun(_ context.Context, run *domain.MultiSourceSyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.multiRuns[run.ID]; !ok {
		return domain.ErrNotFound
	}
	s.multiRuns[run.ID] = *run
	return nil
}

func (s *Store) GetMultiSourceSyncRun(_ context.Context, id int64) (*domain.MultiSourceSyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.multiRuns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &run, nil
}

func (s *Store) GetDeltaToken(_ context.Context, sourceID, driveID string) (domain.DeltaToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deltaTokens[deltaKey(sourceID, driveID)], nil
}

func (s *Store) SaveDeltaToken(_ context.Context, token domain.DeltaToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltaTokens[deltaKey(token.SourceID, token.DriveID)] = token
	return nil
}

func (s *Store) ClearDeltaToken(_ context.Context, sourceID, driveID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deltaTokens, deltaKey(sourceID, driveID))
	return nil
}
