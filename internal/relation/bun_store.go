package relation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-repository-cache/cache"
	repositorycache "github.com/goliatone/go-repository-cache/repositorycache"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/locsync/locsync/internal/identity"
	"github.com/locsync/locsync/internal/refgraph"
)

// relationshipRecord is the database row of one relationship. The JSON
// payload keeps the full record; the tree snapshot lives in its own column
// so snapshot refreshes never rewrite the relationship body.
type relationshipRecord struct {
	bun.BaseModel `bun:"table:locsync_relationships,alias:lr"`

	ID             uuid.UUID `bun:"id,pk,type:uuid"`
	RelationshipID string    `bun:"relationship_id,notnull,unique"`
	SourceEntryID  string    `bun:"source_entry_id,notnull"`
	TargetEntryID  string    `bun:"target_entry_id,notnull"`
	Payload        []byte    `bun:"payload,notnull"`
	DeepRefs       []byte    `bun:"deep_refs,nullzero"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

// backupRecord is one target-entry snapshot; history is append-only.
type backupRecord struct {
	bun.BaseModel `bun:"table:locsync_backups,alias:lb"`

	ID             uuid.UUID `bun:"id,pk,type:uuid"`
	BackupID       string    `bun:"backup_id,notnull,unique"`
	EntryID        string    `bun:"entry_id,notnull"`
	RelationshipID string    `bun:"relationship_id,notnull"`
	Payload        []byte    `bun:"payload,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

func newRelationshipRepository(db *bun.DB) repository.Repository[*relationshipRecord] {
	return repository.MustNewRepository(db, repository.ModelHandlers[*relationshipRecord]{
		NewRecord: func() *relationshipRecord { return &relationshipRecord{} },
		GetID: func(r *relationshipRecord) uuid.UUID {
			return r.ID
		},
		SetID: func(r *relationshipRecord, id uuid.UUID) {
			r.ID = id
		},
		GetIdentifier: func() string {
			return "relationship_id"
		},
		GetIdentifierValue: func(r *relationshipRecord) string {
			return r.RelationshipID
		},
	})
}

func newBackupRepository(db *bun.DB) repository.Repository[*backupRecord] {
	return repository.MustNewRepository(db, repository.ModelHandlers[*backupRecord]{
		NewRecord: func() *backupRecord { return &backupRecord{} },
		GetID: func(r *backupRecord) uuid.UUID {
			return r.ID
		},
		SetID: func(r *backupRecord, id uuid.UUID) {
			r.ID = id
		},
		GetIdentifier: func() string {
			return "backup_id"
		},
		GetIdentifierValue: func(r *backupRecord) string {
			return r.BackupID
		},
	})
}

// BunStore implements Store on a relational database through uptrace/bun.
// Row ids derive deterministically from the relationship id, so upserts
// across restarts land on the same row.
type BunStore struct {
	db            *bun.DB
	relationships repository.Repository[*relationshipRecord]
	backups       repository.Repository[*backupRecord]

	// Now supplies timestamps. Tests may pin it.
	Now func() time.Time
}

var _ Store = (*BunStore)(nil)

// NewBunStore constructs a database-backed store without caching.
func NewBunStore(db *bun.DB) *BunStore {
	return NewBunStoreWithCache(db, nil, nil)
}

// NewBunStoreWithCache constructs a database-backed store with optional
// read-through caching on the repositories.
func NewBunStoreWithCache(db *bun.DB, cacheService cache.CacheService, keySerializer cache.KeySerializer) *BunStore {
	relationships := newRelationshipRepository(db)
	backups := newBackupRepository(db)
	if cacheService != nil && keySerializer != nil {
		relationships = repositorycache.New(relationships, cacheService, keySerializer)
		backups = repositorycache.New(backups, cacheService, keySerializer)
	}
	return &BunStore{
		db:            db,
		relationships: relationships,
		backups:       backups,
		Now:           time.Now,
	}
}

// CreateTables creates the backing tables when they do not exist yet. The
// server binary calls this at startup for the sqlite/postgres providers.
func (s *BunStore) CreateTables(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*relationshipRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("relation: create relationships table: %w", err)
	}
	if _, err := s.db.NewCreateTable().Model((*backupRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("relation: create backups table: %w", err)
	}
	return nil
}

func (s *BunStore) Store(ctx context.Context, rel *Relationship) error {
	if rel == nil || rel.SourceEntryID == "" || rel.TargetEntryID == "" {
		return ErrRelationshipInvalid
	}

	stored := rel.Clone()
	tree := stored.DeepReferenceMap
	stored.DeepReferenceMap = nil

	existing, err := s.findRecord(ctx, rel.ID())
	if err != nil && !IsNotFound(err) {
		return err
	}

	now := s.Now().UTC()
	if existing != nil {
		var prior Relationship
		if decodeErr := json.Unmarshal(existing.Payload, &prior); decodeErr == nil {
			stored.Metadata.CreatedAt = prior.Metadata.CreatedAt
		}
	} else if stored.Metadata.CreatedAt.IsZero() {
		stored.Metadata.CreatedAt = now
	}

	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("relation: encode relationship: %w", err)
	}

	record := &relationshipRecord{
		ID:             identity.RelationshipUUID(rel.ID()),
		RelationshipID: rel.ID(),
		SourceEntryID:  rel.SourceEntryID,
		TargetEntryID:  rel.TargetEntryID,
		Payload:        payload,
		UpdatedAt:      now,
	}
	if tree != nil {
		encoded, encodeErr := json.Marshal(tree)
		if encodeErr != nil {
			return fmt.Errorf("relation: encode snapshot: %w", encodeErr)
		}
		record.DeepRefs = encoded
	}

	if existing == nil {
		record.CreatedAt = now
		if _, err := s.relationships.Create(ctx, record); err != nil {
			return fmt.Errorf("relation: insert relationship: %w", err)
		}
		return nil
	}

	record.CreatedAt = existing.CreatedAt
	if record.DeepRefs == nil {
		record.DeepRefs = existing.DeepRefs
	}
	if _, err := s.relationships.Update(ctx, record); err != nil {
		return fmt.Errorf("relation: update relationship: %w", err)
	}
	return nil
}

func (s *BunStore) Get(ctx context.Context, sourceID, targetID string) (*Relationship, error) {
	record, err := s.findRecord(ctx, RelationshipID(sourceID, targetID))
	if err != nil {
		return nil, err
	}
	return decodeRecord(record)
}

func (s *BunStore) Delete(ctx context.Context, sourceID, targetID string) (bool, error) {
	record, err := s.findRecord(ctx, RelationshipID(sourceID, targetID))
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if err := s.relationships.Delete(ctx, record); err != nil {
		return false, fmt.Errorf("relation: delete relationship: %w", err)
	}
	return true, nil
}

func (s *BunStore) ListBySource(ctx context.Context, sourceID string) ([]*Relationship, error) {
	return s.listWhere(ctx, "source_entry_id", sourceID)
}

func (s *BunStore) ListByTarget(ctx context.Context, targetID string) ([]*Relationship, error) {
	return s.listWhere(ctx, "target_entry_id", targetID)
}

func (s *BunStore) listWhere(ctx context.Context, column, value string) ([]*Relationship, error) {
	records, _, err := s.relationships.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias."+column+" = ?", value).
				OrderExpr("?TableAlias.relationship_id ASC")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("relation: list relationships: %w", err)
	}

	out := make([]*Relationship, 0, len(records))
	for _, record := range records {
		rel, decodeErr := decodeRecord(record)
		if decodeErr != nil {
			return nil, decodeErr
		}
		out = append(out, rel)
	}
	return out, nil
}

func (s *BunStore) StoreDeepMap(ctx context.Context, sourceID, targetID string, tree *refgraph.Tree) error {
	if tree == nil {
		return nil
	}
	record, err := s.findRecord(ctx, RelationshipID(sourceID, targetID))
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("relation: encode snapshot: %w", err)
	}
	record.DeepRefs = encoded
	record.UpdatedAt = s.Now().UTC()
	if _, err := s.relationships.Update(ctx, record); err != nil {
		return fmt.Errorf("relation: store snapshot: %w", err)
	}
	return nil
}

func (s *BunStore) GetDeepMap(ctx context.Context, sourceID, targetID string) (*refgraph.Tree, error) {
	record, err := s.findRecord(ctx, RelationshipID(sourceID, targetID))
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrDeepMapNotFound
		}
		return nil, err
	}
	if len(record.DeepRefs) == 0 {
		return nil, ErrDeepMapNotFound
	}

	var tree refgraph.Tree
	if err := json.Unmarshal(record.DeepRefs, &tree); err != nil {
		return nil, fmt.Errorf("relation: decode snapshot: %w", err)
	}
	return &tree, nil
}

func (s *BunStore) StoreBackup(ctx context.Context, sourceID, targetID string, backup *Backup) error {
	if backup == nil {
		return nil
	}

	relationshipID := RelationshipID(sourceID, targetID)
	if record, err := s.findRecord(ctx, relationshipID); err == nil {
		var rel Relationship
		if decodeErr := json.Unmarshal(record.Payload, &rel); decodeErr == nil {
			rel.BackupData = backup
			if payload, encodeErr := json.Marshal(&rel); encodeErr == nil {
				record.Payload = payload
				record.UpdatedAt = s.Now().UTC()
				if _, updateErr := s.relationships.Update(ctx, record); updateErr != nil {
					return fmt.Errorf("relation: attach backup: %w", updateErr)
				}
			}
		}
	}

	payload, err := json.Marshal(backup)
	if err != nil {
		return fmt.Errorf("relation: encode backup: %w", err)
	}
	record := &backupRecord{
		ID:             identity.BackupUUID(backup.EntryID, backup.CreatedAt.UTC().Format(time.RFC3339)),
		BackupID:       backup.BackupID,
		EntryID:        backup.EntryID,
		RelationshipID: relationshipID,
		Payload:        payload,
		CreatedAt:      backup.CreatedAt.UTC(),
	}
	if _, err := s.backups.Create(ctx, record); err != nil {
		return fmt.Errorf("relation: insert backup: %w", err)
	}
	return nil
}

func (s *BunStore) ListBackups(ctx context.Context, entryID string) ([]*Backup, error) {
	records, _, err := s.backups.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.entry_id = ?", entryID).
				OrderExpr("?TableAlias.created_at DESC")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("relation: list backups: %w", err)
	}

	out := make([]*Backup, 0, len(records))
	for _, record := range records {
		var backup Backup
		if err := json.Unmarshal(record.Payload, &backup); err != nil {
			return nil, fmt.Errorf("relation: decode backup: %w", err)
		}
		out = append(out, &backup)
	}
	return out, nil
}

func (s *BunStore) findRecord(ctx context.Context, relationshipID string) (*relationshipRecord, error) {
	record, err := s.relationships.GetByIdentifier(ctx, relationshipID)
	if err != nil {
		if goerrors.IsCategory(err, repository.CategoryDatabaseNotFound) {
			return nil, ErrRelationshipNotFound
		}
		return nil, fmt.Errorf("relation: load relationship: %w", err)
	}
	return record, nil
}

func decodeRecord(record *relationshipRecord) (*Relationship, error) {
	var rel Relationship
	if err := json.Unmarshal(record.Payload, &rel); err != nil {
		return nil, fmt.Errorf("relation: decode relationship: %w", err)
	}
	if len(record.DeepRefs) > 0 {
		var tree refgraph.Tree
		if err := json.Unmarshal(record.DeepRefs, &tree); err != nil {
			return nil, fmt.Errorf("relation: decode snapshot: %w", err)
		}
		rel.DeepReferenceMap = &tree
	}
	return &rel, nil
}
