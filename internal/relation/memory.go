package relation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/locsync/locsync/internal/refgraph"
)

// MemoryStore is an in-memory Store used by tests and embedded tooling.
type MemoryStore struct {
	mu            sync.RWMutex
	relationships map[string]*Relationship
	backups       map[string][]*Backup

	storeErr error
	getErr   error

	// Now supplies timestamps. Tests may pin it.
	Now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		relationships: map[string]*Relationship{},
		backups:       map[string][]*Backup{},
		Now:           time.Now,
	}
}

// FailWrites makes every write return err until cleared with nil.
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeErr = err
}

// FailReads makes every read return err until cleared with nil.
func (s *MemoryStore) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = err
}

func (s *MemoryStore) Store(_ context.Context, rel *Relationship) error {
	if rel == nil || rel.SourceEntryID == "" || rel.TargetEntryID == "" {
		return ErrRelationshipInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storeErr != nil {
		return s.storeErr
	}

	stored := rel.Clone()
	if existing, ok := s.relationships[rel.ID()]; ok {
		stored.Metadata.CreatedAt = existing.Metadata.CreatedAt
	} else if stored.Metadata.CreatedAt.IsZero() {
		stored.Metadata.CreatedAt = s.Now().UTC()
	}
	s.relationships[rel.ID()] = stored
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sourceID, targetID string) (*Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	rel, ok := s.relationships[RelationshipID(sourceID, targetID)]
	if !ok {
		return nil, ErrRelationshipNotFound
	}
	return rel.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, sourceID, targetID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storeErr != nil {
		return false, s.storeErr
	}
	id := RelationshipID(sourceID, targetID)
	if _, ok := s.relationships[id]; !ok {
		return false, nil
	}
	delete(s.relationships, id)
	return true, nil
}

func (s *MemoryStore) ListBySource(_ context.Context, sourceID string) ([]*Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.list(func(rel *Relationship) bool {
		return rel.SourceEntryID == sourceID
	}), nil
}

func (s *MemoryStore) ListByTarget(_ context.Context, targetID string) ([]*Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.list(func(rel *Relationship) bool {
		return rel.TargetEntryID == targetID
	}), nil
}

func (s *MemoryStore) list(keep func(*Relationship) bool) []*Relationship {
	ids := make([]string, 0, len(s.relationships))
	for id := range s.relationships {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*Relationship, 0)
	for _, id := range ids {
		if rel := s.relationships[id]; keep(rel) {
			out = append(out, rel.Clone())
		}
	}
	return out
}

func (s *MemoryStore) StoreDeepMap(_ context.Context, sourceID, targetID string, tree *refgraph.Tree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storeErr != nil {
		return s.storeErr
	}
	rel, ok := s.relationships[RelationshipID(sourceID, targetID)]
	if !ok {
		return ErrRelationshipNotFound
	}
	rel.DeepReferenceMap = tree
	return nil
}

func (s *MemoryStore) GetDeepMap(_ context.Context, sourceID, targetID string) (*refgraph.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	rel, ok := s.relationships[RelationshipID(sourceID, targetID)]
	if !ok || rel.DeepReferenceMap == nil {
		return nil, ErrDeepMapNotFound
	}
	return rel.Clone().DeepReferenceMap, nil
}

func (s *MemoryStore) StoreBackup(_ context.Context, sourceID, targetID string, backup *Backup) error {
	if backup == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storeErr != nil {
		return s.storeErr
	}
	if rel, ok := s.relationships[RelationshipID(sourceID, targetID)]; ok {
		copied := *backup
		rel.BackupData = &copied
	}
	copied := *backup
	s.backups[backup.EntryID] = append(s.backups[backup.EntryID], &copied)
	return nil
}

func (s *MemoryStore) ListBackups(_ context.Context, entryID string) ([]*Backup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	history := s.backups[entryID]
	out := make([]*Backup, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		copied := *history[i]
		out = append(out, &copied)
	}
	return out, nil
}
