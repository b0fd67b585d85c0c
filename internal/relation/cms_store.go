package relation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/locsync/locsync/internal/cms"
	"github.com/locsync/locsync/internal/logging"
	"github.com/locsync/locsync/internal/refgraph"
	"github.com/locsync/locsync/pkg/interfaces"
)

// Field ids of the translationMetadata content type.
const (
	fieldRelationshipID     = "relationshipId"
	fieldSourceEntryID      = "sourceEntryId"
	fieldTargetEntryID      = "targetEntryId"
	fieldTranslationContext = "translationContext"
	fieldMetadata           = "metadata"
	fieldFieldHashes        = "fieldHashes"
	fieldCloneMapping       = "cloneMapping"
	fieldDeepReferenceMap   = "deepReferenceMap"
	fieldBackupData         = "backupData"
)

// CMSStore persists relationships as entries of a dedicated content type in
// the CMS itself, all values under one storage locale. Lookups use an
// indexed query on relationshipId; uniqueness is enforced at this layer
// because the CMS has no unique constraint.
type CMSStore struct {
	client        cms.Client
	contentType   string
	storageLocale string
	logger        interfaces.Logger
}

var _ Store = (*CMSStore)(nil)

// CMSStoreConfig captures the settings of the CMS-backed store.
type CMSStoreConfig struct {
	ContentType   string
	StorageLocale string
}

// CMSStoreOption customizes a CMSStore.
type CMSStoreOption func(*CMSStore)

// WithCMSLogger attaches a logger.
func WithCMSLogger(logger interfaces.Logger) CMSStoreOption {
	return func(s *CMSStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewCMSStore constructs a store over the given management client.
func NewCMSStore(client cms.Client, cfg CMSStoreConfig, opts ...CMSStoreOption) *CMSStore {
	store := &CMSStore{
		client:        client,
		contentType:   cfg.ContentType,
		storageLocale: cfg.StorageLocale,
		logger:        logging.NoOp(),
	}
	if store.contentType == "" {
		store.contentType = "translationMetadata"
	}
	if store.storageLocale == "" {
		store.storageLocale = "en-US-POSIX"
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *CMSStore) Store(ctx context.Context, rel *Relationship) error {
	if rel == nil || rel.SourceEntryID == "" || rel.TargetEntryID == "" {
		return ErrRelationshipInvalid
	}

	existing, err := s.findEntry(ctx, rel.ID())
	if err != nil {
		return err
	}

	stored := rel.Clone()
	if existing != nil {
		if prior, decodeErr := s.decodeRelationship(existing); decodeErr == nil {
			stored.Metadata.CreatedAt = prior.Metadata.CreatedAt
			// Merges never drop a snapshot the caller did not carry.
			if stored.DeepReferenceMap == nil {
				stored.DeepReferenceMap = prior.DeepReferenceMap
			}
			if stored.BackupData == nil {
				stored.BackupData = prior.BackupData
			}
		}
	}

	fields, err := s.encodeFields(stored)
	if err != nil {
		return err
	}

	if existing == nil {
		if _, err := s.client.CreateEntry(ctx, s.contentType, fields); err != nil {
			return fmt.Errorf("relation: create metadata entry: %w", err)
		}
		return nil
	}
	existing.Fields = fields
	if _, err := s.client.UpdateEntry(ctx, existing); err != nil {
		return fmt.Errorf("relation: update metadata entry: %w", err)
	}
	return nil
}

func (s *CMSStore) Get(ctx context.Context, sourceID, targetID string) (*Relationship, error) {
	entry, err := s.findEntry(ctx, RelationshipID(sourceID, targetID))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrRelationshipNotFound
	}
	return s.decodeRelationship(entry)
}

func (s *CMSStore) Delete(ctx context.Context, sourceID, targetID string) (bool, error) {
	entry, err := s.findEntry(ctx, RelationshipID(sourceID, targetID))
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	if err := s.client.DeleteEntry(ctx, entry.ID(), entry.Version()); err != nil {
		return false, fmt.Errorf("relation: delete metadata entry: %w", err)
	}
	return true, nil
}

func (s *CMSStore) ListBySource(ctx context.Context, sourceID string) ([]*Relationship, error) {
	return s.listByField(ctx, fieldSourceEntryID, sourceID)
}

func (s *CMSStore) ListByTarget(ctx context.Context, targetID string) ([]*Relationship, error) {
	return s.listByField(ctx, fieldTargetEntryID, targetID)
}

func (s *CMSStore) listByField(ctx context.Context, field, value string) ([]*Relationship, error) {
	entries, err := s.client.GetEntries(ctx, cms.Query{
		ContentType: s.contentType,
		Locale:      s.storageLocale,
		FieldEquals: map[string]string{field: value},
	})
	if err != nil {
		return nil, fmt.Errorf("relation: query metadata entries: %w", err)
	}

	out := make([]*Relationship, 0, len(entries))
	for _, entry := range entries {
		rel, decodeErr := s.decodeRelationship(entry)
		if decodeErr != nil {
			s.logger.Warn("skipping undecodable metadata entry", "entry_id", entry.ID(), "error", decodeErr)
			continue
		}
		out = append(out, rel)
	}
	return out, nil
}

func (s *CMSStore) StoreDeepMap(ctx context.Context, sourceID, targetID string, tree *refgraph.Tree) error {
	if tree == nil {
		return nil
	}
	entry, err := s.findEntry(ctx, RelationshipID(sourceID, targetID))
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrRelationshipNotFound
	}

	value, err := toDocument(tree)
	if err != nil {
		return err
	}
	entry.SetFieldValue(fieldDeepReferenceMap, s.storageLocale, value)
	if _, err := s.client.UpdateEntry(ctx, entry); err != nil {
		return fmt.Errorf("relation: store deep reference map: %w", err)
	}
	return nil
}

func (s *CMSStore) GetDeepMap(ctx context.Context, sourceID, targetID string) (*refgraph.Tree, error) {
	entry, err := s.findEntry(ctx, RelationshipID(sourceID, targetID))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrDeepMapNotFound
	}
	value, ok := entry.FieldValue(fieldDeepReferenceMap, s.storageLocale)
	if !ok || value == nil {
		return nil, ErrDeepMapNotFound
	}

	var tree refgraph.Tree
	if err := fromDocument(value, &tree); err != nil {
		return nil, err
	}
	return &tree, nil
}

func (s *CMSStore) StoreBackup(ctx context.Context, sourceID, targetID string, backup *Backup) error {
	if backup == nil {
		return nil
	}
	entry, err := s.findEntry(ctx, RelationshipID(sourceID, targetID))
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrRelationshipNotFound
	}

	value, err := toDocument(backup)
	if err != nil {
		return err
	}
	entry.SetFieldValue(fieldBackupData, s.storageLocale, value)
	if _, err := s.client.UpdateEntry(ctx, entry); err != nil {
		return fmt.Errorf("relation: store backup: %w", err)
	}
	return nil
}

// ListBackups returns the latest backup of every relationship involving the
// entry. The CMS keeps one snapshot per relationship; the file fallback
// keeps full history.
func (s *CMSStore) ListBackups(ctx context.Context, entryID string) ([]*Backup, error) {
	seen := map[string]bool{}
	out := make([]*Backup, 0)
	for _, field := range []string{fieldSourceEntryID, fieldTargetEntryID} {
		relationships, err := s.listByField(ctx, field, entryID)
		if err != nil {
			return nil, err
		}
		for _, rel := range relationships {
			if rel.BackupData == nil || seen[rel.BackupData.BackupID] {
				continue
			}
			seen[rel.BackupData.BackupID] = true
			out = append(out, rel.BackupData)
		}
	}
	return out, nil
}

func (s *CMSStore) findEntry(ctx context.Context, relationshipID string) (*cms.Entry, error) {
	entries, err := s.client.GetEntries(ctx, cms.Query{
		ContentType: s.contentType,
		Locale:      s.storageLocale,
		FieldEquals: map[string]string{fieldRelationshipID: relationshipID},
		Limit:       1,
	})
	if err != nil {
		return nil, fmt.Errorf("relation: query metadata entry: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

func (s *CMSStore) encodeFields(rel *Relationship) (cms.Fields, error) {
	fields := cms.Fields{}
	setString := func(fieldID, value string) {
		fields[fieldID] = map[string]any{s.storageLocale: value}
	}
	setDocument := func(fieldID string, value any) error {
		if value == nil {
			return nil
		}
		document, err := toDocument(value)
		if err != nil {
			return err
		}
		fields[fieldID] = map[string]any{s.storageLocale: document}
		return nil
	}

	setString(fieldRelationshipID, rel.ID())
	setString(fieldSourceEntryID, rel.SourceEntryID)
	setString(fieldTargetEntryID, rel.TargetEntryID)
	if err := setDocument(fieldTranslationContext, rel.TranslationContext); err != nil {
		return nil, err
	}
	if err := setDocument(fieldMetadata, rel.Metadata); err != nil {
		return nil, err
	}
	if err := setDocument(fieldFieldHashes, rel.FieldHashes); err != nil {
		return nil, err
	}
	if err := setDocument(fieldCloneMapping, rel.CloneMapping); err != nil {
		return nil, err
	}
	if rel.DeepReferenceMap != nil {
		if err := setDocument(fieldDeepReferenceMap, rel.DeepReferenceMap); err != nil {
			return nil, err
		}
	}
	if rel.BackupData != nil {
		if err := setDocument(fieldBackupData, rel.BackupData); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

func (s *CMSStore) decodeRelationship(entry *cms.Entry) (*Relationship, error) {
	rel := &Relationship{}

	sourceID, _ := entry.StringField(fieldSourceEntryID, s.storageLocale)
	targetID, _ := entry.StringField(fieldTargetEntryID, s.storageLocale)
	if sourceID == "" || targetID == "" {
		return nil, fmt.Errorf("%w: metadata entry %s", ErrWrongDocumentShape, entry.ID())
	}
	rel.SourceEntryID = sourceID
	rel.TargetEntryID = targetID

	if value, ok := entry.FieldValue(fieldTranslationContext, s.storageLocale); ok && value != nil {
		if err := fromDocument(value, &rel.TranslationContext); err != nil {
			return nil, err
		}
	}
	if value, ok := entry.FieldValue(fieldMetadata, s.storageLocale); ok && value != nil {
		if err := fromDocument(value, &rel.Metadata); err != nil {
			return nil, err
		}
	}
	if value, ok := entry.FieldValue(fieldFieldHashes, s.storageLocale); ok && value != nil {
		if err := fromDocument(value, &rel.FieldHashes); err != nil {
			return nil, err
		}
	}
	if value, ok := entry.FieldValue(fieldCloneMapping, s.storageLocale); ok && value != nil {
		if err := fromDocument(value, &rel.CloneMapping); err != nil {
			return nil, err
		}
	}
	if value, ok := entry.FieldValue(fieldDeepReferenceMap, s.storageLocale); ok && value != nil {
		tree := &refgraph.Tree{}
		if err := fromDocument(value, tree); err != nil {
			return nil, err
		}
		rel.DeepReferenceMap = tree
	}
	if value, ok := entry.FieldValue(fieldBackupData, s.storageLocale); ok && value != nil {
		backup := &Backup{}
		if err := fromDocument(value, backup); err != nil {
			return nil, err
		}
		rel.BackupData = backup
	}
	return rel, nil
}

// toDocument converts a typed value into the generic map shape the CMS
// stores in Object fields.
func toDocument(value any) (any, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("relation: encode document: %w", err)
	}
	var document any
	if err := json.Unmarshal(encoded, &document); err != nil {
		return nil, fmt.Errorf("relation: decode document: %w", err)
	}
	return document, nil
}

// fromDocument converts a generic document back into a typed value.
func fromDocument(document, target any) error {
	encoded, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("relation: encode document: %w", err)
	}
	if err := json.Unmarshal(encoded, target); err != nil {
		return fmt.Errorf("relation: decode document: %w", err)
	}
	return nil
}
