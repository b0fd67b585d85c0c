package relation

import (
	"context"
	"errors"

	"github.com/locsync/locsync/internal/refgraph"
)

var ErrRelationshipNotFound = errors.New("relation: relationship not found")
var ErrDeepMapNotFound = errors.New("relation: deep reference map not found")
var ErrRelationshipInvalid = errors.New("relation: relationship is missing source or target id")
var ErrWrongDocumentShape = errors.New("relation: stored document has the wrong shape")

// Store persists relationships keyed by (source, target). Implementations
// must keep writes atomic: a reader never observes a half-written
// relationship. Multi-writer coordination is out of scope; the HTTP layer
// single-flights per relationship id.
type Store interface {
	// Store upserts a relationship, preserving CreatedAt across updates.
	Store(ctx context.Context, rel *Relationship) error
	// Get returns the relationship or ErrRelationshipNotFound.
	Get(ctx context.Context, sourceID, targetID string) (*Relationship, error)
	// Delete removes a relationship, reporting whether it existed.
	Delete(ctx context.Context, sourceID, targetID string) (bool, error)
	// ListBySource returns every relationship rooted at the source entry.
	ListBySource(ctx context.Context, sourceID string) ([]*Relationship, error)
	// ListByTarget returns every relationship pointing at the target entry.
	ListByTarget(ctx context.Context, targetID string) ([]*Relationship, error)

	// StoreDeepMap merges a tree snapshot into the relationship, leaving
	// every other field untouched.
	StoreDeepMap(ctx context.Context, sourceID, targetID string, tree *refgraph.Tree) error
	// GetDeepMap returns the stored snapshot or ErrDeepMapNotFound.
	GetDeepMap(ctx context.Context, sourceID, targetID string) (*refgraph.Tree, error)

	// StoreBackup merges a target snapshot into the relationship and appends
	// it to the backup history where the backend keeps one.
	StoreBackup(ctx context.Context, sourceID, targetID string, backup *Backup) error
	// ListBackups returns the backup history of an entry, newest first.
	ListBackups(ctx context.Context, entryID string) ([]*Backup, error)
}

// IsNotFound reports whether err is one of the store's miss sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRelationshipNotFound) || errors.Is(err, ErrDeepMapNotFound)
}
