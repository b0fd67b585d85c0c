package refgraph

import (
	"context"
	"errors"
	"sort"

	"github.com/juju/clock"

	"github.com/locsync/locsync/internal/cms"
	"github.com/locsync/locsync/internal/logging"
	"github.com/locsync/locsync/internal/policy"
	"github.com/locsync/locsync/pkg/interfaces"
)

var ErrRootEntryRequired = errors.New("refgraph: root entry is required")

const DefaultMaxDepth = 3

// Tracker builds bounded-depth reference trees and diffs them. It never
// persists anything; snapshot writes belong to the engine, which only stores
// a tree after the matching diff has been fully processed.
type Tracker struct {
	policy   policy.Policy
	maxDepth int
	logger   interfaces.Logger
	clk      clock.Clock
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithMaxDepth bounds tree traversal. Values below 1 keep the default.
func WithMaxDepth(depth int) Option {
	return func(t *Tracker) {
		if depth >= 1 {
			t.maxDepth = depth
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger interfaces.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock overrides the clock stamping LastScanned.
func WithClock(clk clock.Clock) Option {
	return func(t *Tracker) {
		if clk != nil {
			t.clk = clk
		}
	}
}

// New constructs a tracker over the given policy.
func New(pol policy.Policy, opts ...Option) *Tracker {
	tracker := &Tracker{
		policy:   pol,
		maxDepth: DefaultMaxDepth,
		logger:   logging.NoOp(),
		clk:      clock.WallClock,
	}
	for _, opt := range opts {
		opt(tracker)
	}
	return tracker
}

// MaxDepth returns the configured traversal bound.
func (t *Tracker) MaxDepth() int {
	return t.maxDepth
}

// BuildTree scans the reference graph under root, depth-first, fetching
// referenced entries through client. Fields in schema order, array elements
// in source order, assets skipped, cycles broken by a visited-on-path set
// plus the depth cap. A referenced entry that cannot be fetched loses its
// subtree but never aborts the scan.
func (t *Tracker) BuildTree(ctx context.Context, client cms.Client, root *cms.Entry) (*Tree, error) {
	if root == nil || root.ID() == "" {
		return nil, ErrRootEntryRequired
	}

	run := &treeRun{
		tracker: t,
		client:  client,
		schemas: map[string]*cms.ContentType{},
		onPath:  map[string]bool{},
	}

	rootNode, err := run.buildNode(ctx, root, 0, "", "")
	if err != nil {
		return nil, err
	}

	tree := &Tree{
		SourceEntryID: root.ID(),
		MaxDepth:      t.maxDepth,
		LastScanned:   t.clk.Now().UTC(),
		Root:          rootNode,
		FlattenedRefs: map[string]*Node{},
	}
	tree.Walk(func(node *Node) {
		if _, seen := tree.FlattenedRefs[node.ID]; !seen {
			flat := node.flattened()
			flat.Entry = node.Entry
			tree.FlattenedRefs[node.ID] = flat
		}
	})
	return tree, nil
}

type treeRun struct {
	tracker *Tracker
	client  cms.Client
	schemas map[string]*cms.ContentType
	onPath  map[string]bool
}

func (r *treeRun) buildNode(ctx context.Context, entry *cms.Entry, depth int, parentID, parentField string) (*Node, error) {
	schema, err := r.schema(ctx, entry.ContentTypeID())
	if err != nil {
		return nil, err
	}

	contentHash, err := ContentHash(r.tracker.policy, schema, entry)
	if err != nil {
		return nil, err
	}
	fieldHashes, err := FieldHashes(r.tracker.policy, schema, entry)
	if err != nil {
		return nil, err
	}

	node := &Node{
		ID:          entry.ID(),
		Version:     entry.Version(),
		Depth:       depth,
		ParentID:    parentID,
		ParentField: parentField,
		ContentHash: contentHash,
		LastUpdated: entry.Sys.UpdatedAt,
		FieldHashes: fieldHashes,
		Entry:       entry,
	}

	if depth >= r.tracker.maxDepth {
		return node, nil
	}

	r.onPath[entry.ID()] = true
	defer delete(r.onPath, entry.ID())

	for _, field := range schemaFields(schema, entry) {
		if !r.tracker.policy.IsTrackable(field.ID) {
			continue
		}
		for _, locales := range orderedLocaleValues(entry, field.ID) {
			for _, link := range cms.LinksIn(locales) {
				if !link.IsEntry() {
					continue
				}
				if r.onPath[link.ID] {
					continue
				}
				child, err := r.client.GetEntry(ctx, link.ID)
				if err != nil {
					r.tracker.logger.Warn("skipping unreachable reference",
						"entry_id", link.ID, "parent_id", entry.ID(), "field", field.ID, "error", err)
					continue
				}
				childNode, err := r.buildNode(ctx, child, depth+1, entry.ID(), field.ID)
				if err != nil {
					r.tracker.logger.Warn("skipping reference subtree",
						"entry_id", link.ID, "parent_id", entry.ID(), "field", field.ID, "error", err)
					continue
				}
				node.Children = append(node.Children, childNode)
			}
		}
	}
	return node, nil
}

func (r *treeRun) schema(ctx context.Context, contentTypeID string) (*cms.ContentType, error) {
	if contentTypeID == "" {
		return nil, nil
	}
	if cached, ok := r.schemas[contentTypeID]; ok {
		return cached, nil
	}
	schema, err := r.client.GetContentType(ctx, contentTypeID)
	if err != nil {
		return nil, err
	}
	r.schemas[contentTypeID] = schema
	return schema, nil
}

// schemaFields returns the entry's fields in schema order, falling back to
// lexical order for entries whose schema could not be resolved.
func schemaFields(schema *cms.ContentType, entry *cms.Entry) []cms.Field {
	if schema != nil {
		return schema.Fields
	}
	ids := entry.FieldIDs()
	fields := make([]cms.Field, 0, len(ids))
	for _, id := range ids {
		fields = append(fields, cms.Field{ID: id})
	}
	return fields
}

// orderedLocaleValues returns the field's values across locales in a stable
// order. Single-locale deployments yield exactly one value.
func orderedLocaleValues(entry *cms.Entry, fieldID string) []any {
	locales, ok := entry.Fields[fieldID]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(locales))
	for key := range locales {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	values := make([]any, 0, len(keys))
	for _, key := range keys {
		values = append(values, locales[key])
	}
	return values
}
