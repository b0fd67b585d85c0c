package relation

import (
	"context"

	"github.com/locsync/locsync/internal/logging"
	"github.com/locsync/locsync/internal/refgraph"
	"github.com/locsync/locsync/pkg/interfaces"
)

// Backend names reported for observability.
const (
	SourcePrimary  = "primary"
	SourceFallback = "fallback"
)

// Composite tries the primary store and falls back transparently on any
// primary failure. Reads also consult the fallback on a primary miss, so
// relationships written during an outage stay reachable; the next successful
// primary write makes the primary authoritative again because writes always
// land on the primary first.
type Composite struct {
	primary  Store
	fallback Store
	logger   interfaces.Logger

	lastSource string
}

var _ Store = (*Composite)(nil)

// CompositeOption customizes a Composite.
type CompositeOption func(*Composite)

// WithCompositeLogger attaches a logger.
func WithCompositeLogger(logger interfaces.Logger) CompositeOption {
	return func(c *Composite) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewComposite builds a primary-then-fallback store. A nil fallback degrades
// to the primary alone.
func NewComposite(primary, fallback Store, opts ...CompositeOption) *Composite {
	composite := &Composite{
		primary:  primary,
		fallback: fallback,
		logger:   logging.NoOp(),
	}
	for _, opt := range opts {
		opt(composite)
	}
	return composite
}

// LastSource names the backend that answered the most recent call. Purely
// observational; not synchronized for concurrent readers.
func (c *Composite) LastSource() string {
	return c.lastSource
}

func (c *Composite) Store(ctx context.Context, rel *Relationship) error {
	if err := c.primary.Store(ctx, rel); err != nil {
		if c.fallback == nil {
			return err
		}
		c.logger.Warn("primary store write failed, using fallback", "relationship_id", rel.ID(), "error", err)
		c.lastSource = SourceFallback
		return c.fallback.Store(ctx, rel)
	}
	c.lastSource = SourcePrimary
	// Mirror to the fallback so reads during a later outage see fresh data.
	if c.fallback != nil {
		if err := c.fallback.Store(ctx, rel); err != nil {
			c.logger.Warn("fallback store mirror failed", "relationship_id", rel.ID(), "error", err)
		}
	}
	return nil
}

func (c *Composite) Get(ctx context.Context, sourceID, targetID string) (*Relationship, error) {
	rel, err := c.primary.Get(ctx, sourceID, targetID)
	if err == nil {
		c.lastSource = SourcePrimary
		return rel, nil
	}
	if c.fallback == nil {
		return nil, err
	}
	if !IsNotFound(err) {
		c.logger.Warn("primary store read failed, using fallback",
			"relationship_id", RelationshipID(sourceID, targetID), "error", err)
	}
	rel, fallbackErr := c.fallback.Get(ctx, sourceID, targetID)
	if fallbackErr != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, fallbackErr
	}
	c.lastSource = SourceFallback
	return rel, nil
}

func (c *Composite) Delete(ctx context.Context, sourceID, targetID string) (bool, error) {
	existed, err := c.primary.Delete(ctx, sourceID, targetID)
	if err != nil {
		if c.fallback == nil {
			return false, err
		}
		c.logger.Warn("primary store delete failed, using fallback",
			"relationship_id", RelationshipID(sourceID, targetID), "error", err)
		c.lastSource = SourceFallback
		return c.fallback.Delete(ctx, sourceID, targetID)
	}
	c.lastSource = SourcePrimary
	if c.fallback != nil {
		if fallbackExisted, fallbackErr := c.fallback.Delete(ctx, sourceID, targetID); fallbackErr == nil {
			existed = existed || fallbackExisted
		}
	}
	return existed, nil
}

func (c *Composite) ListBySource(ctx context.Context, sourceID string) ([]*Relationship, error) {
	return c.listWith(ctx, func(ctx context.Context, store Store) ([]*Relationship, error) {
		return store.ListBySource(ctx, sourceID)
	})
}

func (c *Composite) ListByTarget(ctx context.Context, targetID string) ([]*Relationship, error) {
	return c.listWith(ctx, func(ctx context.Context, store Store) ([]*Relationship, error) {
		return store.ListByTarget(ctx, targetID)
	})
}

func (c *Composite) listWith(ctx context.Context, list func(context.Context, Store) ([]*Relationship, error)) ([]*Relationship, error) {
	primary, err := list(ctx, c.primary)
	if err != nil {
		if c.fallback == nil {
			return nil, err
		}
		c.logger.Warn("primary store list failed, using fallback", "error", err)
		c.lastSource = SourceFallback
		return list(ctx, c.fallback)
	}
	c.lastSource = SourcePrimary

	// Merge in fallback-only relationships written during an outage.
	if c.fallback != nil {
		if extra, fallbackErr := list(ctx, c.fallback); fallbackErr == nil {
			seen := map[string]bool{}
			for _, rel := range primary {
				seen[rel.ID()] = true
			}
			for _, rel := range extra {
				if !seen[rel.ID()] {
					primary = append(primary, rel)
				}
			}
		}
	}
	return primary, nil
}

func (c *Composite) StoreDeepMap(ctx context.Context, sourceID, targetID string, tree *refgraph.Tree) error {
	if err := c.primary.StoreDeepMap(ctx, sourceID, targetID, tree); err != nil {
		if c.fallback == nil {
			return err
		}
		c.logger.Warn("primary store snapshot write failed, using fallback",
			"relationship_id", RelationshipID(sourceID, targetID), "error", err)
		c.lastSource = SourceFallback
		return c.fallback.StoreDeepMap(ctx, sourceID, targetID, tree)
	}
	c.lastSource = SourcePrimary
	if c.fallback != nil {
		if err := c.fallback.StoreDeepMap(ctx, sourceID, targetID, tree); err != nil {
			c.logger.Warn("fallback snapshot mirror failed",
				"relationship_id", RelationshipID(sourceID, targetID), "error", err)
		}
	}
	return nil
}

func (c *Composite) GetDeepMap(ctx context.Context, sourceID, targetID string) (*refgraph.Tree, error) {
	tree, err := c.primary.GetDeepMap(ctx, sourceID, targetID)
	if err == nil {
		c.lastSource = SourcePrimary
		return tree, nil
	}
	if c.fallback == nil {
		return nil, err
	}
	if !IsNotFound(err) {
		c.logger.Warn("primary store snapshot read failed, using fallback",
			"relationship_id", RelationshipID(sourceID, targetID), "error", err)
	}
	tree, fallbackErr := c.fallback.GetDeepMap(ctx, sourceID, targetID)
	if fallbackErr != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, fallbackErr
	}
	c.lastSource = SourceFallback
	return tree, nil
}

func (c *Composite) StoreBackup(ctx context.Context, sourceID, targetID string, backup *Backup) error {
	if err := c.primary.StoreBackup(ctx, sourceID, targetID, backup); err != nil {
		if c.fallback == nil {
			return err
		}
		c.logger.Warn("primary store backup write failed, using fallback",
			"relationship_id", RelationshipID(sourceID, targetID), "error", err)
		c.lastSource = SourceFallback
		return c.fallback.StoreBackup(ctx, sourceID, targetID, backup)
	}
	c.lastSource = SourcePrimary
	if c.fallback != nil {
		if err := c.fallback.StoreBackup(ctx, sourceID, targetID, backup); err != nil {
			c.logger.Warn("fallback backup mirror failed",
				"relationship_id", RelationshipID(sourceID, targetID), "error", err)
		}
	}
	return nil
}

func (c *Composite) ListBackups(ctx context.Context, entryID string) ([]*Backup, error) {
	backups, err := c.primary.ListBackups(ctx, entryID)
	if err != nil {
		if c.fallback == nil {
			return nil, err
		}
		c.logger.Warn("primary store backup list failed, using fallback", "entry_id", entryID, "error", err)
		c.lastSource = SourceFallback
		return c.fallback.ListBackups(ctx, entryID)
	}
	c.lastSource = SourcePrimary

	if c.fallback != nil {
		if extra, fallbackErr := c.fallback.ListBackups(ctx, entryID); fallbackErr == nil {
			seen := map[string]bool{}
			for _, backup := range backups {
				seen[backup.BackupID] = true
			}
			for _, backup := range extra {
				if !seen[backup.BackupID] {
					backups = append(backups, backup)
				}
			}
		}
	}
	return backups, nil
}
