package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/locsync/locsync/internal/cms"
	"github.com/locsync/locsync/internal/logging"
	"github.com/locsync/locsync/internal/policy"
	"github.com/locsync/locsync/internal/refgraph"
	"github.com/locsync/locsync/internal/relation"
)

// UpdateRequest asks for an incremental update of one existing relationship.
type UpdateRequest struct {
	Scope         cms.Scope
	SourceEntryID string
	TargetEntryID string
	Reason        string
}

// Update propagates source changes to the target: translated patches for
// changed fields on the root and on mapped child entries, clones for new
// references, and a link re-projection that drops removed references. The
// relationship and tree snapshot advance only after the single target write
// succeeds; until then the pre-update backup describes the last good state.
//
// Errors are returned only for precondition failures (missing relationship,
// unreachable entries). Mid-run failures come back as a structured result
// with Success=false and an untouched relationship.
func (e *Engine) Update(ctx context.Context, req UpdateRequest) (*UpdateResult, error) {
	if strings.TrimSpace(req.SourceEntryID) == "" {
		return nil, ErrSourceEntryRequired
	}
	if strings.TrimSpace(req.TargetEntryID) == "" {
		return nil, ErrTargetEntryRequired
	}

	client := e.clientFor(req.Scope)
	rel, err := e.store.Get(ctx, req.SourceEntryID, req.TargetEntryID)
	if err != nil {
		return nil, err
	}

	source, err := client.GetEntry(ctx, req.SourceEntryID)
	if err != nil {
		return nil, fmt.Errorf("engine: fetch source entry: %w", err)
	}
	target, err := client.GetEntry(ctx, req.TargetEntryID)
	if err != nil {
		return nil, fmt.Errorf("engine: fetch target entry: %w", err)
	}

	logger := logging.WithRelationshipContext(e.logger, source.ID(), target.ID(), rel.TranslationContext.TargetLanguage)

	current, err := e.tracker.BuildTree(ctx, client, source)
	if err != nil {
		return failedUpdate("reference scan failed: " + err.Error()), nil
	}
	current.TargetEntryID = target.ID()

	diff, err := e.tracker.Diff(ctx, client, rel.DeepReferenceMap, current)
	if err != nil {
		return failedUpdate("reference diff failed: " + err.Error()), nil
	}

	schema, err := client.GetContentType(ctx, source.ContentTypeID())
	if err != nil {
		return failedUpdate("source schema unavailable: " + err.Error()), nil
	}
	freshHashes, err := refgraph.FieldHashes(e.policy, schema, source)
	if err != nil {
		return failedUpdate("field hashing failed: " + err.Error()), nil
	}
	added, modified, deleted := refgraph.DiffFieldHashes(rel.FieldHashes, freshHashes)

	if diff.Empty() && len(added) == 0 && len(modified) == 0 && len(deleted) == 0 {
		// Nothing to translate; refreshing the snapshot keeps later diffs
		// honest about removals.
		if storeErr := e.store.StoreDeepMap(ctx, source.ID(), target.ID(), current); storeErr != nil {
			logger.Warn("snapshot refresh failed", "error", storeErr)
		}
		return &UpdateResult{
			Success:       true,
			UpToDate:      true,
			FieldsUpdated: []string{},
			Message:       "target is up to date",
		}, nil
	}

	sourceLang := rel.TranslationContext.SourceLanguage
	targetLang := rel.TranslationContext.TargetLanguage
	targetLocale, err := e.policy.Cultures.Locale(targetLang)
	if err != nil {
		return failedUpdate("relationship carries an unknown target language: " + targetLang), nil
	}

	now := e.clk.Now().UTC()
	backup := &relation.Backup{
		BackupID:  relation.NewBackupID(target.ID(), now),
		EntryID:   target.ID(),
		Version:   target.Version(),
		Reason:    backupReason(req.Reason),
		CreatedAt: now,
		Fields:    target.Fields.Clone(),
	}
	if err := e.store.StoreBackup(ctx, source.ID(), target.ID(), backup); err != nil {
		return failedUpdate("backup write failed: " + err.Error()), nil
	}

	fieldsUpdated := []string{}
	updatedTarget := target.Clone()

	// Root-level basic changes: translate added and modified translatable
	// fields, drop fields the source no longer carries.
	for _, fieldID := range append(append([]string{}, added...), modified...) {
		field, _ := schema.Field(fieldID)
		locales, present := source.Fields[fieldID]
		if !present {
			continue
		}
		kind := e.policy.Classify(source.ContentTypeID(), field)
		for _, locale := range sortedLocales(locales) {
			value := e.translateForKind(ctx, kind, locales[locale], sourceLang, targetLang)
			if e.policy.HasPrefix(field) {
				if text, ok := value.(string); ok && text != "" && !strings.HasPrefix(text, e.policy.ClonePrefix) {
					value = e.policy.ClonePrefix + text
				}
			}
			updatedTarget.SetFieldValue(fieldID, locale, value)
		}
		fieldsUpdated = append(fieldsUpdated, fieldID)
	}
	for _, fieldID := range deleted {
		delete(updatedTarget.Fields, fieldID)
		fieldsUpdated = append(fieldsUpdated, fieldID)
	}

	// Changed references: patch the mapped target child per translatable
	// field change. A child that fails to patch never aborts the run.
	schemas := map[string]*cms.ContentType{source.ContentTypeID(): schema}
	for _, changed := range diff.Changed {
		patched, err := e.patchChangedReference(ctx, client, rel, current, changed, sourceLang, targetLang, schemas)
		if err != nil {
			logger.Warn("changed reference not patched", "entry_id", changed.ID, "error", err)
			continue
		}
		for _, field := range patched {
			fieldsUpdated = append(fieldsUpdated, changed.ID+"."+field)
		}
	}

	// New references: clone them under the stored translation context. The
	// run reuses the persisted clone map so shared references stay deduped.
	if rel.CloneMapping == nil {
		rel.CloneMapping = map[string]string{}
	}
	newResults := make([]NewReferenceResult, 0, len(diff.New))
	if e.autoTranslateNewRefs && len(diff.New) > 0 {
		run := &cloneRun{
			engine:       e,
			client:       client,
			logger:       logger,
			cloneMap:     rel.CloneMapping,
			processing:   map[string]bool{},
			schemas:      schemas,
			sourceLang:   sourceLang,
			targetLang:   targetLang,
			targetLocale: targetLocale,
		}
		for _, newRef := range diff.New {
			key := cms.Link{LinkType: cms.TypeEntry, ID: newRef.ID}.Key()
			if _, ok := run.cloneMap[key]; ok {
				continue
			}
			entry := flattenedEntry(current, newRef.ID)
			if entry == nil {
				fetched, fetchErr := client.GetEntry(ctx, newRef.ID)
				if fetchErr != nil {
					newResults = append(newResults, NewReferenceResult{SourceID: newRef.ID, Error: fetchErr.Error()})
					continue
				}
				entry = fetched
			}
			targetChildID, cloneErr := run.cloneEntry(ctx, entry)
			if cloneErr != nil {
				newResults = append(newResults, NewReferenceResult{SourceID: newRef.ID, Error: cloneErr.Error()})
				continue
			}
			newResults = append(newResults, NewReferenceResult{SourceID: newRef.ID, TargetID: targetChildID, Success: true})
		}
		run.patchCycles(ctx)
	}

	// Re-project tracked link fields through the clone map so additions
	// appear, removals disappear, and order matches the source.
	relinked := e.projectRootLinks(schema, source, updatedTarget, rel.CloneMapping)
	fieldsUpdated = append(fieldsUpdated, relinked...)

	updated, err := client.UpdateEntry(ctx, updatedTarget)
	if err != nil {
		return &UpdateResult{
			Success:       false,
			FieldsUpdated: []string{},
			BackupID:      backup.BackupID,
			Message:       "target update failed: " + err.Error(),
			NewReferences: newResults,
		}, nil
	}

	rel.Metadata.LastTranslatedVersion = source.Version()
	rel.Metadata.LastUpdated = now
	rel.FieldHashes = freshHashes
	rel.DeepReferenceMap = nil
	rel.BackupData = backup
	if err := e.store.Store(ctx, rel); err != nil {
		logger.Error("relationship persist failed after target update", "error", err)
		return &UpdateResult{
			Success:       false,
			FieldsUpdated: fieldsUpdated,
			BackupID:      backup.BackupID,
			NewVersion:    updated.Version(),
			Message:       "target updated but relationship persist failed: " + err.Error(),
			NewReferences: newResults,
		}, nil
	}
	if err := e.store.StoreDeepMap(ctx, source.ID(), target.ID(), current); err != nil {
		logger.Warn("tree snapshot persist failed", "error", err)
	}

	return &UpdateResult{
		Success:       true,
		FieldsUpdated: fieldsUpdated,
		BackupID:      backup.BackupID,
		NewVersion:    updated.Version(),
		Message:       "target entry updated",
		NewReferences: newResults,
	}, nil
}

func failedUpdate(message string) *UpdateResult {
	return &UpdateResult{
		Success:       false,
		FieldsUpdated: []string{},
		Message:       message,
	}
}

func backupReason(reason string) string {
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		return trimmed
	}
	return "pre_update"
}

func (e *Engine) translateForKind(ctx context.Context, kind policy.FieldKind, value any, sourceLang, targetLang string) any {
	if kind == policy.KindMarkdown {
		return e.translateMarkdownValue(ctx, value, sourceLang, targetLang)
	}
	return e.translateTextValue(ctx, value, sourceLang, targetLang)
}

// patchChangedReference translates the changed fields of one mapped child
// entry and writes it back. Returns the patched field ids.
func (e *Engine) patchChangedReference(ctx context.Context, client cms.Client, rel *relation.Relationship, current *refgraph.Tree, changed refgraph.ChangedRef, sourceLang, targetLang string, schemas map[string]*cms.ContentType) ([]string, error) {
	key := cms.Link{LinkType: cms.TypeEntry, ID: changed.ID}.Key()
	targetChildID, ok := rel.CloneMapping[key]
	if !ok {
		return nil, fmt.Errorf("engine: no clone mapping for %s", changed.ID)
	}
	if targetChildID == changed.ID {
		// Identity mappings come from cycle fallbacks; patching would write
		// translated text onto the source entry.
		return nil, fmt.Errorf("engine: %s maps to itself", changed.ID)
	}

	sourceChild := flattenedEntry(current, changed.ID)
	if sourceChild == nil {
		fetched, err := client.GetEntry(ctx, changed.ID)
		if err != nil {
			return nil, err
		}
		sourceChild = fetched
	}

	contentTypeID := sourceChild.ContentTypeID()
	schema, cached := schemas[contentTypeID]
	if !cached && contentTypeID != "" {
		fetched, err := client.GetContentType(ctx, contentTypeID)
		if err != nil {
			return nil, err
		}
		schema = fetched
		schemas[contentTypeID] = schema
	}

	targetChild, err := client.GetEntry(ctx, targetChildID)
	if err != nil {
		return nil, err
	}
	patchedChild := targetChild.Clone()

	patched := make([]string, 0, len(changed.FieldChanges))
	for _, change := range changed.FieldChanges {
		if !change.IsTranslatable || change.NewValue == nil {
			continue
		}
		locales, ok := change.NewValue.(map[string]any)
		if !ok {
			continue
		}
		field, _ := schema.Field(change.FieldName)
		kind := e.policy.Classify(contentTypeID, field)
		for _, locale := range sortedLocales(locales) {
			value := e.translateForKind(ctx, kind, locales[locale], sourceLang, targetLang)
			patchedChild.SetFieldValue(change.FieldName, locale, value)
		}
		patched = append(patched, change.FieldName)
	}
	if len(patched) == 0 {
		return nil, nil
	}

	if _, err := client.UpdateEntry(ctx, patchedChild); err != nil {
		return nil, err
	}
	return patched, nil
}

// projectRootLinks rewrites the target's tracked link fields as the source's
// current link lists mapped through the clone map. Unmapped entry links and
// asset links keep their original ids. Returns the rewritten field ids.
func (e *Engine) projectRootLinks(schema *cms.ContentType, source, target *cms.Entry, cloneMap map[string]string) []string {
	rewritten := []string{}
	for _, field := range schemaOrderedFields(schema, source) {
		if !e.policy.IsTrackable(field.ID) {
			continue
		}
		locales, ok := source.Fields[field.ID]
		if !ok {
			continue
		}
		touched := false
		for _, locale := range sortedLocales(locales) {
			value := locales[locale]
			if !cms.ContainsLinks(value) {
				continue
			}
			target.SetFieldValue(field.ID, locale, projectLinkValue(value, cloneMap))
			touched = true
		}
		if touched {
			rewritten = append(rewritten, field.ID)
		}
	}
	return rewritten
}

func projectLinkValue(value any, cloneMap map[string]string) any {
	if link, ok := cms.ParseLink(value); ok {
		return projectLink(link, cloneMap).Value()
	}
	if links, ok := cms.ParseLinkList(value); ok {
		out := make([]any, 0, len(links))
		for _, link := range links {
			out = append(out, projectLink(link, cloneMap).Value())
		}
		return out
	}
	return value
}

func projectLink(link cms.Link, cloneMap map[string]string) cms.Link {
	if link.IsAsset() {
		return link
	}
	if mapped, ok := cloneMap[link.Key()]; ok {
		return cms.Link{LinkType: cms.TypeEntry, ID: mapped}
	}
	return link
}

func flattenedEntry(tree *refgraph.Tree, id string) *cms.Entry {
	if tree == nil || tree.FlattenedRefs == nil {
		return nil
	}
	node, ok := tree.FlattenedRefs[id]
	if !ok {
		return nil
	}
	return node.Entry
}
