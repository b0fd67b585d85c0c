package relation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/locsync/locsync/internal/logging"
	"github.com/locsync/locsync/internal/refgraph"
	"github.com/locsync/locsync/pkg/interfaces"
)

const (
	relationshipSuffix = ".json"
	deepRefsSuffix     = "_deep_refs.json"
	backupsDirName     = "backups"
	lockFileName       = ".locsync.lock"
)

// FileStore keeps relationships as JSON files in a tracking directory:
// "<src>_<tgt>.json" for the relationship, "<src>_<tgt>_deep_refs.json" for
// the tree snapshot, and "backups/<entryId>_<timestamp>.json" for backup
// history. Every write lands in a temp file first and is renamed into place;
// read-modify-write sequences hold a directory-level flock.
type FileStore struct {
	dir    string
	lock   *flock.Flock
	logger interfaces.Logger

	// Now supplies CreatedAt defaults. Tests may pin it.
	Now func() time.Time
}

var _ Store = (*FileStore)(nil)

// FileStoreOption customizes a FileStore.
type FileStoreOption func(*FileStore)

// WithFileLogger attaches a logger.
func WithFileLogger(logger interfaces.Logger) FileStoreOption {
	return func(s *FileStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewFileStore creates the tracking directory (and its backups subdirectory)
// if needed.
func NewFileStore(dir string, opts ...FileStoreOption) (*FileStore, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, errors.New("relation: tracking directory is required")
	}
	if err := os.MkdirAll(filepath.Join(trimmed, backupsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("relation: create tracking directory: %w", err)
	}

	store := &FileStore{
		dir:    trimmed,
		lock:   flock.New(filepath.Join(trimmed, lockFileName)),
		logger: logging.NoOp(),
		Now:    time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Dir returns the tracking directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) relationshipPath(sourceID, targetID string) string {
	return filepath.Join(s.dir, RelationshipID(sourceID, targetID)+relationshipSuffix)
}

func (s *FileStore) deepRefsPath(sourceID, targetID string) string {
	return filepath.Join(s.dir, RelationshipID(sourceID, targetID)+deepRefsSuffix)
}

func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	locked, err := s.lock.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		return fmt.Errorf("relation: acquire tracking lock: %w", err)
	}
	if !locked {
		return errors.New("relation: tracking lock unavailable")
	}
	defer func() {
		if unlockErr := s.lock.Unlock(); unlockErr != nil {
			s.logger.Warn("failed to release tracking lock", "error", unlockErr)
		}
	}()
	return fn()
}

func (s *FileStore) Store(ctx context.Context, rel *Relationship) error {
	if rel == nil || rel.SourceEntryID == "" || rel.TargetEntryID == "" {
		return ErrRelationshipInvalid
	}
	return s.withLock(ctx, func() error {
		stored := rel.Clone()
		// The tree snapshot lives in its own file.
		tree := stored.DeepReferenceMap
		stored.DeepReferenceMap = nil

		if existing, err := s.readRelationship(stored.SourceEntryID, stored.TargetEntryID); err == nil {
			stored.Metadata.CreatedAt = existing.Metadata.CreatedAt
		} else if stored.Metadata.CreatedAt.IsZero() {
			stored.Metadata.CreatedAt = s.Now().UTC()
		}

		if err := writeJSONFile(s.relationshipPath(stored.SourceEntryID, stored.TargetEntryID), stored); err != nil {
			return err
		}
		if tree != nil {
			return writeJSONFile(s.deepRefsPath(stored.SourceEntryID, stored.TargetEntryID), tree)
		}
		return nil
	})
}

func (s *FileStore) Get(_ context.Context, sourceID, targetID string) (*Relationship, error) {
	rel, err := s.readRelationship(sourceID, targetID)
	if err != nil {
		return nil, err
	}
	if tree, treeErr := s.readTree(sourceID, targetID); treeErr == nil {
		rel.DeepReferenceMap = tree
	}
	return rel, nil
}

func (s *FileStore) readRelationship(sourceID, targetID string) (*Relationship, error) {
	payload, err := os.ReadFile(s.relationshipPath(sourceID, targetID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRelationshipNotFound
		}
		return nil, fmt.Errorf("relation: read relationship file: %w", err)
	}

	var document any
	if err := json.Unmarshal(payload, &document); err != nil {
		return nil, fmt.Errorf("relation: decode relationship file: %w", err)
	}
	if err := checkShape(relationshipSchema, document, "relationship"); err != nil {
		return nil, err
	}

	var rel Relationship
	if err := json.Unmarshal(payload, &rel); err != nil {
		return nil, fmt.Errorf("relation: decode relationship file: %w", err)
	}
	return &rel, nil
}

func (s *FileStore) readTree(sourceID, targetID string) (*refgraph.Tree, error) {
	payload, err := os.ReadFile(s.deepRefsPath(sourceID, targetID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDeepMapNotFound
		}
		return nil, fmt.Errorf("relation: read snapshot file: %w", err)
	}

	var document any
	if err := json.Unmarshal(payload, &document); err != nil {
		return nil, fmt.Errorf("relation: decode snapshot file: %w", err)
	}
	if err := checkShape(treeSchema, document, "tree snapshot"); err != nil {
		return nil, err
	}

	var tree refgraph.Tree
	if err := json.Unmarshal(payload, &tree); err != nil {
		return nil, fmt.Errorf("relation: decode snapshot file: %w", err)
	}
	return &tree, nil
}

func (s *FileStore) Delete(ctx context.Context, sourceID, targetID string) (bool, error) {
	existed := false
	err := s.withLock(ctx, func() error {
		if err := os.Remove(s.relationshipPath(sourceID, targetID)); err == nil {
			existed = true
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("relation: delete relationship file: %w", err)
		}
		if err := os.Remove(s.deepRefsPath(sourceID, targetID)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("relation: delete snapshot file: %w", err)
		}
		return nil
	})
	return existed, err
}

func (s *FileStore) ListBySource(ctx context.Context, sourceID string) ([]*Relationship, error) {
	return s.listMatching(func(rel *Relationship) bool {
		return rel.SourceEntryID == sourceID
	})
}

func (s *FileStore) ListByTarget(ctx context.Context, targetID string) ([]*Relationship, error) {
	return s.listMatching(func(rel *Relationship) bool {
		return rel.TargetEntryID == targetID
	})
}

func (s *FileStore) listMatching(keep func(*Relationship) bool) ([]*Relationship, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("relation: scan tracking directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, relationshipSuffix) || strings.HasSuffix(name, deepRefsSuffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Relationship, 0)
	for _, name := range names {
		payload, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn("skipping unreadable relationship file", "file", name, "error", err)
			continue
		}
		var document any
		if err := json.Unmarshal(payload, &document); err != nil {
			continue
		}
		if err := checkShape(relationshipSchema, document, "relationship"); err != nil {
			continue
		}
		var rel Relationship
		if err := json.Unmarshal(payload, &rel); err != nil {
			continue
		}
		if keep(&rel) {
			out = append(out, &rel)
		}
	}
	return out, nil
}

func (s *FileStore) StoreDeepMap(ctx context.Context, sourceID, targetID string, tree *refgraph.Tree) error {
	if tree == nil {
		return nil
	}
	return s.withLock(ctx, func() error {
		return writeJSONFile(s.deepRefsPath(sourceID, targetID), tree)
	})
}

func (s *FileStore) GetDeepMap(_ context.Context, sourceID, targetID string) (*refgraph.Tree, error) {
	return s.readTree(sourceID, targetID)
}

func (s *FileStore) StoreBackup(ctx context.Context, sourceID, targetID string, backup *Backup) error {
	if backup == nil {
		return nil
	}
	return s.withLock(ctx, func() error {
		if rel, err := s.readRelationship(sourceID, targetID); err == nil {
			rel.BackupData = backup
			if err := writeJSONFile(s.relationshipPath(sourceID, targetID), rel); err != nil {
				return err
			}
		}
		name := fmt.Sprintf("%s_%s.json", backup.EntryID, backup.CreatedAt.UTC().Format("2006-01-02T15-04-05.000Z"))
		return writeJSONFile(filepath.Join(s.dir, backupsDirName, name), backup)
	})
}

func (s *FileStore) ListBackups(_ context.Context, entryID string) ([]*Backup, error) {
	dir := filepath.Join(s.dir, backupsDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Backup{}, nil
		}
		return nil, fmt.Errorf("relation: scan backups directory: %w", err)
	}

	names := make([]string, 0)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, entryID+"_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	// Timestamped names sort chronologically; newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	out := make([]*Backup, 0, len(names))
	for _, name := range names {
		payload, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			s.logger.Warn("skipping unreadable backup file", "file", name, "error", err)
			continue
		}
		var backup Backup
		if err := json.Unmarshal(payload, &backup); err != nil {
			continue
		}
		out = append(out, &backup)
	}
	return out, nil
}

// writeJSONFile writes atomically: encode to a temp file in the same
// directory, then rename over the destination.
func writeJSONFile(path string, payload any) error {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("relation: encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("relation: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("relation: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("relation: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("relation: replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
