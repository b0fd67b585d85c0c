package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/locsync/locsync/internal/cms"
	"github.com/locsync/locsync/internal/logging"
	"github.com/locsync/locsync/internal/refgraph"
	"github.com/locsync/locsync/internal/relation"
)

// Status reports whether a target is current without writing anything to the
// CMS. A clean check refreshes the stored tree snapshot so the next diff does
// not re-report references that were already examined.
func (e *Engine) Status(ctx context.Context, scope cms.Scope, sourceID, targetID string) (*StatusResult, error) {
	if strings.TrimSpace(sourceID) == "" {
		return nil, ErrSourceEntryRequired
	}
	if strings.TrimSpace(targetID) == "" {
		return nil, ErrTargetEntryRequired
	}

	rel, err := e.store.Get(ctx, sourceID, targetID)
	if relation.IsNotFound(err) {
		return &StatusResult{
			HasRelationship: false,
			Changes:         []StatusChange{},
			Conflicts:       []Conflict{},
		}, nil
	}
	if err != nil {
		return nil, err
	}

	client := e.clientFor(scope)
	source, err := client.GetEntry(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("engine: fetch source entry: %w", err)
	}

	logger := logging.WithRelationshipContext(e.logger, sourceID, targetID, rel.TranslationContext.TargetLanguage)

	current, err := e.tracker.BuildTree(ctx, client, source)
	if err != nil {
		return nil, fmt.Errorf("engine: reference scan: %w", err)
	}
	current.TargetEntryID = targetID

	diff, err := e.tracker.Diff(ctx, client, rel.DeepReferenceMap, current)
	if err != nil {
		return nil, fmt.Errorf("engine: reference diff: %w", err)
	}

	schema, err := client.GetContentType(ctx, source.ContentTypeID())
	if err != nil {
		return nil, fmt.Errorf("engine: source schema: %w", err)
	}
	freshHashes, err := refgraph.FieldHashes(e.policy, schema, source)
	if err != nil {
		return nil, fmt.Errorf("engine: field hashing: %w", err)
	}
	added, modified, deleted := refgraph.DiffFieldHashes(rel.FieldHashes, freshHashes)

	changes := []StatusChange{}
	for _, field := range added {
		changes = append(changes, StatusChange{
			Kind:         ChangeKindRootField,
			EntryID:      sourceID,
			Field:        field,
			ChangeType:   "added",
			Translatable: true,
		})
	}
	for _, field := range modified {
		changes = append(changes, StatusChange{
			Kind:         ChangeKindRootField,
			EntryID:      sourceID,
			Field:        field,
			ChangeType:   "modified",
			Translatable: true,
		})
	}
	for _, field := range deleted {
		changes = append(changes, StatusChange{
			Kind:         ChangeKindRootField,
			EntryID:      sourceID,
			Field:        field,
			ChangeType:   "deleted",
			Translatable: true,
		})
	}
	for _, changed := range diff.Changed {
		translatable := false
		for _, fc := range changed.FieldChanges {
			if fc.IsTranslatable {
				translatable = true
				break
			}
		}
		changes = append(changes, StatusChange{
			Kind:         ChangeKindChangedRef,
			EntryID:      changed.ID,
			Reason:       changed.Reason,
			ParentField:  changed.ParentField,
			Translatable: translatable,
		})
	}
	for _, newRef := range diff.New {
		changes = append(changes, StatusChange{
			Kind:         ChangeKindNewRef,
			EntryID:      newRef.ID,
			ParentField:  newRef.ParentField,
			Translatable: true,
		})
	}
	for _, removed := range diff.Removed {
		changes = append(changes, StatusChange{
			Kind:        ChangeKindRemovedRef,
			EntryID:     removed.ID,
			ParentField: removed.ParentField,
		})
	}

	upToDate := len(changes) == 0
	if upToDate {
		if storeErr := e.store.StoreDeepMap(ctx, sourceID, targetID, current); storeErr != nil {
			logger.Warn("snapshot refresh failed", "error", storeErr)
		}
	}

	metadata := rel.Metadata
	return &StatusResult{
		HasRelationship: true,
		UpToDate:        upToDate,
		Changes:         changes,
		Conflicts:       []Conflict{},
		Metadata:        &metadata,
	}, nil
}

// FindRelationship resolves the relationship rooted at sourceID whose stored
// translation context targets the given language. Returns
// relation.ErrRelationshipNotFound when no pair matches.
func (e *Engine) FindRelationship(ctx context.Context, sourceID, targetLanguage string) (*relation.Relationship, error) {
	rels, err := e.store.ListBySource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	for _, rel := range rels {
		if strings.EqualFold(rel.TranslationContext.TargetLanguage, targetLanguage) {
			return rel, nil
		}
	}
	return nil, relation.ErrRelationshipNotFound
}

// DeepReferenceStats summarizes the stored tree snapshot of a relationship.
func (e *Engine) DeepReferenceStats(ctx context.Context, sourceID, targetID string) (*RefreshResult, error) {
	tree, err := e.store.GetDeepMap(ctx, sourceID, targetID)
	if err != nil {
		return nil, err
	}
	return treeStats(sourceID, targetID, tree, false), nil
}

// Refresh rebuilds the reference tree from the live CMS and replaces the
// stored snapshot. The relationship itself is untouched.
func (e *Engine) Refresh(ctx context.Context, scope cms.Scope, sourceID, targetID string) (*RefreshResult, error) {
	if _, err := e.store.Get(ctx, sourceID, targetID); err != nil {
		return nil, err
	}

	client := e.clientFor(scope)
	source, err := client.GetEntry(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("engine: fetch source entry: %w", err)
	}
	tree, err := e.tracker.BuildTree(ctx, client, source)
	if err != nil {
		return nil, fmt.Errorf("engine: reference scan: %w", err)
	}
	tree.TargetEntryID = targetID

	if err := e.store.StoreDeepMap(ctx, sourceID, targetID, tree); err != nil {
		return nil, fmt.Errorf("engine: snapshot persist: %w", err)
	}
	return treeStats(sourceID, targetID, tree, true), nil
}

func treeStats(sourceID, targetID string, tree *refgraph.Tree, rebuilt bool) *RefreshResult {
	result := &RefreshResult{
		SourceEntryID: sourceID,
		TargetEntryID: targetID,
		Rebuilt:       rebuilt,
	}
	if tree == nil {
		return result
	}
	result.NodeCount = tree.NodeCount()
	result.MaxDepth = tree.MaxDepth
	result.LastScanned = tree.LastScanned
	result.DepthCounts = tree.DepthCounts()
	return result
}
