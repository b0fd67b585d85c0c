package cms

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryClient is an in-memory Client used by tests and embedded tooling. It
// mirrors the management API semantics the engine depends on: version bumps
// on update, optimistic-concurrency checks, and field-equality queries under
// a locale.
type MemoryClient struct {
	mu           sync.RWMutex
	entries      map[string]*Entry
	order        []string
	contentTypes map[string]*ContentType

	entryErrs map[string]error
	createErr error
	updateErr error
	queryErr  error

	createCount int
	updateCount int

	// Now supplies timestamps for created/updated entries. Tests may pin it.
	Now func() time.Time
	// IDFunc generates ids for created entries. Defaults to random.
	IDFunc func() string
}

var _ Client = (*MemoryClient)(nil)

// NewMemoryClient returns an empty in-memory client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		entries:      map[string]*Entry{},
		contentTypes: map[string]*ContentType{},
		entryErrs:    map[string]error{},
		Now:          time.Now,
		IDFunc: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
	}
}

// AddEntry seeds an entry, preserving insertion order for listings. The
// stored value is a deep copy.
func (m *MemoryClient) AddEntry(entry *Entry) {
	if entry == nil || entry.ID() == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[entry.ID()]; !exists {
		m.order = append(m.order, entry.ID())
	}
	m.entries[entry.ID()] = entry.Clone()
}

// AddContentType seeds a schema.
func (m *MemoryClient) AddContentType(schema *ContentType) {
	if schema == nil || schema.ID() == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contentTypes[schema.ID()] = schema
}

// FailEntry makes GetEntry(id) return err until cleared with a nil err.
func (m *MemoryClient) FailEntry(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.entryErrs, id)
		return
	}
	m.entryErrs[id] = err
}

// FailCreates makes every CreateEntry call return err until cleared.
func (m *MemoryClient) FailCreates(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// FailUpdates makes every UpdateEntry call return err until cleared.
func (m *MemoryClient) FailUpdates(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateErr = err
}

// FailQueries makes every GetEntries call return err until cleared.
func (m *MemoryClient) FailQueries(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryErr = err
}

// CreateCount reports how many entries were created.
func (m *MemoryClient) CreateCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.createCount
}

// UpdateCount reports how many updates were applied.
func (m *MemoryClient) UpdateCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updateCount
}

// EntryCount reports how many entries exist.
func (m *MemoryClient) EntryCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// AllEntries returns deep copies of every entry in insertion order.
func (m *MemoryClient) AllEntries() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entry, 0, len(m.order))
	for _, id := range m.order {
		if entry, ok := m.entries[id]; ok {
			out = append(out, entry.Clone())
		}
	}
	return out
}

func (m *MemoryClient) GetEntry(_ context.Context, id string) (*Entry, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrEntryIDRequired
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err, ok := m.entryErrs[id]; ok {
		return nil, err
	}
	entry, ok := m.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return entry.Clone(), nil
}

func (m *MemoryClient) GetContentType(_ context.Context, id string) (*ContentType, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrContentTypeIDRequired
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	schema, ok := m.contentTypes[id]
	if !ok {
		return nil, ErrContentTypeNotFound
	}
	return schema, nil
}

func (m *MemoryClient) GetEntries(_ context.Context, query Query) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}

	matches := make([]*Entry, 0)
	for _, id := range m.order {
		entry, ok := m.entries[id]
		if !ok {
			continue
		}
		if query.ContentType != "" && entry.ContentTypeID() != query.ContentType {
			continue
		}
		if !fieldsMatch(entry, query) {
			continue
		}
		matches = append(matches, entry.Clone())
		if query.Limit > 0 && len(matches) >= query.Limit {
			break
		}
	}
	return matches, nil
}

func fieldsMatch(entry *Entry, query Query) bool {
	for field, expected := range query.FieldEquals {
		value, ok := entry.FieldValue(field, query.Locale)
		if !ok {
			return false
		}
		text, ok := value.(string)
		if !ok || text != expected {
			return false
		}
	}
	return true
}

func (m *MemoryClient) CreateEntry(_ context.Context, contentTypeID string, fields Fields) (*Entry, error) {
	if strings.TrimSpace(contentTypeID) == "" {
		return nil, ErrContentTypeIDRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}

	now := m.Now()
	entry := &Entry{
		Sys: Sys{
			ID:          m.IDFunc(),
			Type:        TypeEntry,
			Version:     1,
			ContentType: &TypeRef{Sys: LinkSys{Type: TypeLink, LinkType: "ContentType", ID: contentTypeID}},
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Fields: fields.Clone(),
	}
	m.entries[entry.ID()] = entry
	m.order = append(m.order, entry.ID())
	m.createCount++
	return entry.Clone(), nil
}

func (m *MemoryClient) UpdateEntry(_ context.Context, entry *Entry) (*Entry, error) {
	if entry.ID() == "" {
		return nil, ErrEntryIDRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}

	stored, ok := m.entries[entry.ID()]
	if !ok {
		return nil, ErrEntryNotFound
	}
	if entry.Version() != stored.Version() {
		return nil, ErrVersionMismatch
	}

	updated := entry.Clone()
	updated.Sys = stored.Sys
	updated.Sys.Version = stored.Version() + 1
	updated.Sys.UpdatedAt = m.Now()
	m.entries[entry.ID()] = updated
	m.updateCount++
	return updated.Clone(), nil
}

func (m *MemoryClient) DeleteEntry(_ context.Context, id string, version int) error {
	if strings.TrimSpace(id) == "" {
		return ErrEntryIDRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	if version != stored.Version() {
		return ErrVersionMismatch
	}
	delete(m.entries, id)
	for i, ordered := range m.order {
		if ordered == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}
