package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/locsync/locsync/internal/cms"
	"github.com/locsync/locsync/internal/logging"
	"github.com/locsync/locsync/internal/policy"
	"github.com/locsync/locsync/internal/refgraph"
	"github.com/locsync/locsync/internal/relation"
	"github.com/locsync/locsync/pkg/interfaces"
)

// CloneRequest asks for a full recursive clone of one source entry into one
// target language. SourceLanguage may be empty for page roots; the engine
// then reads the source entry's culture field.
type CloneRequest struct {
	Scope          cms.Scope
	SourceEntryID  string
	SourceLanguage string
	TargetLanguage string
}

// Clone performs the first clone: every reachable referenced entry is cloned
// exactly once, text and markdown are machine-translated, links are rewritten
// through the in-run clone map, and the resulting relationship plus reference
// tree snapshot are persisted. Translation failures never abort the clone.
func (e *Engine) Clone(ctx context.Context, req CloneRequest) (*CloneResult, error) {
	if strings.TrimSpace(req.SourceEntryID) == "" {
		return nil, ErrSourceEntryRequired
	}
	if strings.TrimSpace(req.TargetLanguage) == "" {
		return nil, ErrTargetLanguageRequired
	}

	client := e.clientFor(req.Scope)
	source, err := client.GetEntry(ctx, req.SourceEntryID)
	if err != nil {
		return nil, fmt.Errorf("engine: fetch source entry: %w", err)
	}

	run := &cloneRun{
		engine:     e,
		client:     client,
		cloneMap:   map[string]string{},
		processing: map[string]bool{},
		schemas:    map[string]*cms.ContentType{},
	}

	schema, err := run.schema(ctx, source.ContentTypeID())
	if err != nil {
		return nil, fmt.Errorf("engine: fetch source schema: %w", err)
	}

	sourceLang := strings.ToUpper(strings.TrimSpace(req.SourceLanguage))
	if sourceLang == "" {
		sourceLang, err = e.detectSourceLanguage(schema, source)
		if err != nil {
			return nil, err
		}
	}
	targetLang := strings.ToUpper(strings.TrimSpace(req.TargetLanguage))
	targetLocale, err := e.policy.Cultures.Locale(targetLang)
	if err != nil {
		return nil, err
	}

	run.sourceLang = sourceLang
	run.targetLang = targetLang
	run.targetLocale = targetLocale
	run.logger = logging.WithRelationshipContext(e.logger, source.ID(), "", targetLocale)

	targetID, err := run.cloneEntry(ctx, source)
	if err != nil {
		return nil, err
	}
	run.patchCycles(ctx)

	fieldHashes, err := refgraph.FieldHashes(e.policy, schema, source)
	if err != nil {
		return nil, err
	}

	now := e.clk.Now().UTC()
	rel := &relation.Relationship{
		SourceEntryID: source.ID(),
		TargetEntryID: targetID,
		Metadata: relation.Metadata{
			LastTranslatedVersion: source.Version(),
			CreatedAt:             now,
			LastUpdated:           now,
		},
		TranslationContext: relation.TranslationContext{
			SourceLanguage: sourceLang,
			TargetLanguage: targetLang,
		},
		FieldHashes:  fieldHashes,
		CloneMapping: run.cloneMap,
	}
	if err := e.store.Store(ctx, rel); err != nil {
		return nil, fmt.Errorf("engine: persist relationship: %w", err)
	}

	if tree, treeErr := e.tracker.BuildTree(ctx, client, source); treeErr != nil {
		run.logger.Warn("initial reference tree scan failed", "error", treeErr)
	} else {
		tree.TargetEntryID = targetID
		if storeErr := e.store.StoreDeepMap(ctx, source.ID(), targetID, tree); storeErr != nil {
			run.logger.Warn("initial reference tree snapshot not stored", "error", storeErr)
		}
	}

	return &CloneResult{
		OriginalEntryID: source.ID(),
		ClonedEntryID:   targetID,
		CloneMapping:    run.cloneMap,
		SourceLanguage:  sourceLang,
		TargetLanguage:  targetLang,
		TargetLocale:    targetLocale,
	}, nil
}

// cloneRun is the request-scoped state of one recursive clone: the memo that
// doubles as the clone map, the processing set that breaks cycles, and the
// schema cache. Nothing here outlives the request.
type cloneRun struct {
	engine *Engine
	client cms.Client
	logger interfaces.Logger

	cloneMap   map[string]string
	processing map[string]bool
	schemas    map[string]*cms.ContentType
	created    []string

	sourceLang   string
	targetLang   string
	targetLocale string
}

func (r *cloneRun) schema(ctx context.Context, contentTypeID string) (*cms.ContentType, error) {
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

// cloneEntry clones one source entry and returns the target id. Already
// mapped ids return their mapping immediately, which both deduplicates shared
// references and makes the engine idempotent on re-entry.
func (r *cloneRun) cloneEntry(ctx context.Context, source *cms.Entry) (string, error) {
	key := cms.Link{LinkType: cms.TypeEntry, ID: source.ID()}.Key()
	if mapped, ok := r.cloneMap[key]; ok {
		return mapped, nil
	}

	schema, err := r.schema(ctx, source.ContentTypeID())
	if err != nil {
		return "", fmt.Errorf("engine: fetch schema for %s: %w", source.ID(), err)
	}

	r.processing[source.ID()] = true
	defer delete(r.processing, source.ID())

	fields := cms.Fields{}
	for _, field := range schemaOrderedFields(schema, source) {
		locales, present := source.Fields[field.ID]
		kind := r.engine.policy.Classify(source.ContentTypeID(), field)

		if !present {
			if !field.Required {
				continue
			}
			value, ok := r.requiredDefault(kind, field)
			if !ok {
				continue
			}
			fields[field.ID] = map[string]any{r.engine.storageLocale: value}
			continue
		}

		built := r.buildFieldLocales(ctx, kind, field, locales)
		if built != nil {
			fields[field.ID] = built
		}
	}

	r.applyPrefix(schema, source, fields)

	created, err := r.client.CreateEntry(ctx, source.ContentTypeID(), fields)
	if err != nil {
		return "", fmt.Errorf("engine: create clone of %s: %w", source.ID(), err)
	}

	r.cloneMap[key] = created.ID()
	r.created = append(r.created, created.ID())
	r.logger.Debug("cloned entry", "source_id", source.ID(), "target_id", created.ID())
	return created.ID(), nil
}

// patchCycles rewrites links that were left pointing at a source entry
// because its clone was still on the stack when the link was built. Every
// entry created this run is re-checked against the final clone map, so cycle
// pairs end up linking to each other's targets.
func (r *cloneRun) patchCycles(ctx context.Context) {
	for _, targetID := range r.created {
		entry, err := r.client.GetEntry(ctx, targetID)
		if err != nil {
			r.logger.Warn("cycle check skipped, clone unreachable", "entry_id", targetID, "error", err)
			continue
		}
		changed := false
		for _, fieldID := range entry.FieldIDs() {
			locales := entry.Fields[fieldID]
			for _, locale := range sortedLocales(locales) {
				value := locales[locale]
				if !cms.ContainsLinks(value) {
					continue
				}
				patched, moved := r.remapStaleLinks(value)
				if moved {
					entry.SetFieldValue(fieldID, locale, patched)
					changed = true
				}
			}
		}
		if !changed {
			continue
		}
		if _, err := r.client.UpdateEntry(ctx, entry); err != nil {
			r.logger.Warn("cycle link patch failed", "entry_id", targetID, "error", err)
		}
	}
}

// remapStaleLinks redirects entry links whose id still names a cloned source.
func (r *cloneRun) remapStaleLinks(value any) (any, bool) {
	if link, ok := cms.ParseLink(value); ok {
		if mapped, stale := r.staleMapping(link); stale {
			return mapped.Value(), true
		}
		return value, false
	}
	links, ok := cms.ParseLinkList(value)
	if !ok {
		return value, false
	}
	moved := false
	out := make([]any, 0, len(links))
	for _, link := range links {
		if mapped, stale := r.staleMapping(link); stale {
			out = append(out, mapped.Value())
			moved = true
			continue
		}
		out = append(out, link.Value())
	}
	return out, moved
}

func (r *cloneRun) staleMapping(link cms.Link) (cms.Link, bool) {
	if !link.IsEntry() {
		return link, false
	}
	mapped, ok := r.cloneMap[link.Key()]
	if !ok || mapped == link.ID {
		return link, false
	}
	return cms.Link{LinkType: cms.TypeEntry, ID: mapped}, true
}

// requiredDefault synthesizes the value for a required field the source does
// not carry: the typed empty for empty-on-clone fields, a schema-driven
// default otherwise.
func (r *cloneRun) requiredDefault(kind policy.FieldKind, field cms.Field) (any, bool) {
	if kind == policy.KindEmptyOnClone {
		return policy.EmptyValue(field)
	}
	return policy.TypedDefault(field, r.engine.clk.Now())
}

// buildFieldLocales maps a source field's locale values into the clone's.
// Returns nil when the field contributes nothing (no typed empty).
func (r *cloneRun) buildFieldLocales(ctx context.Context, kind policy.FieldKind, field cms.Field, locales map[string]any) map[string]any {
	switch kind {
	case policy.KindEmptyOnClone:
		value, ok := policy.EmptyValue(field)
		if !ok {
			return nil
		}
		return map[string]any{r.engine.storageLocale: value}

	case policy.KindCulture:
		return map[string]any{r.engine.storageLocale: r.targetLocale}

	default:
		out := make(map[string]any, len(locales))
		for _, locale := range sortedLocales(locales) {
			out[locale] = r.buildValue(ctx, kind, field, locales[locale])
		}
		return out
	}
}

func (r *cloneRun) buildValue(ctx context.Context, kind policy.FieldKind, field cms.Field, value any) any {
	switch kind {
	case policy.KindCopyAsIs:
		if cms.ContainsLinks(value) {
			return r.rewriteLinkValue(ctx, value)
		}
		return cms.DeepCopyValue(value)

	case policy.KindAuthorLink:
		return r.relinkAuthors(ctx, value)

	case policy.KindMarkdown:
		return r.engine.translateMarkdownValue(ctx, value, r.sourceLang, r.targetLang)

	case policy.KindText:
		return r.engine.translateTextValue(ctx, value, r.sourceLang, r.targetLang)

	case policy.KindLink:
		return r.rewriteLinkValue(ctx, value)

	default:
		return cms.DeepCopyValue(value)
	}
}

// rewriteLinkValue rewrites every entry link in the value through the clone
// map, cloning referenced entries depth-first on first sight. Asset links are
// passed through and recorded identity. Non-link values pass through.
func (r *cloneRun) rewriteLinkValue(ctx context.Context, value any) any {
	if link, ok := cms.ParseLink(value); ok {
		return r.rewriteLink(ctx, link).Value()
	}
	if links, ok := cms.ParseLinkList(value); ok {
		out := make([]any, 0, len(links))
		for _, link := range links {
			out = append(out, r.rewriteLink(ctx, link).Value())
		}
		return out
	}
	return cms.DeepCopyValue(value)
}

func (r *cloneRun) rewriteLink(ctx context.Context, link cms.Link) cms.Link {
	if link.IsAsset() {
		// Assets are shared, never cloned.
		r.cloneMap[link.Key()] = link.ID
		return link
	}
	if mapped, ok := r.cloneMap[link.Key()]; ok {
		return cms.Link{LinkType: cms.TypeEntry, ID: mapped}
	}
	if r.processing[link.ID] {
		// A cycle back onto the processing stack keeps the original link;
		// the already-running clone of that entry resolves the pairing.
		return link
	}

	child, err := r.client.GetEntry(ctx, link.ID)
	if err != nil {
		r.logger.Warn("referenced entry unreachable, keeping original link", "entry_id", link.ID, "error", err)
		return link
	}
	targetID, err := r.cloneEntry(ctx, child)
	if err != nil {
		r.logger.Warn("reference clone failed, keeping original link", "entry_id", link.ID, "error", err)
		return link
	}
	return cms.Link{LinkType: cms.TypeEntry, ID: targetID}
}

// relinkAuthors redirects author links to existing target-culture authors
// matched by name. Unmatched authors fall through to a normal clone.
func (r *cloneRun) relinkAuthors(ctx context.Context, value any) any {
	if link, ok := cms.ParseLink(value); ok {
		return r.relinkAuthor(ctx, link).Value()
	}
	if links, ok := cms.ParseLinkList(value); ok {
		out := make([]any, 0, len(links))
		for _, link := range links {
			out = append(out, r.relinkAuthor(ctx, link).Value())
		}
		return out
	}
	return cms.DeepCopyValue(value)
}

func (r *cloneRun) relinkAuthor(ctx context.Context, link cms.Link) cms.Link {
	if !link.IsEntry() {
		return r.rewriteLink(ctx, link)
	}
	if mapped, ok := r.cloneMap[link.Key()]; ok {
		return cms.Link{LinkType: cms.TypeEntry, ID: mapped}
	}

	pol := r.engine.policy
	author, err := r.client.GetEntry(ctx, link.ID)
	if err != nil {
		r.logger.Warn("author entry unreachable, keeping original link", "entry_id", link.ID, "error", err)
		return link
	}
	name, _ := author.StringField(pol.AuthorNameField, r.engine.storageLocale)
	if strings.TrimSpace(name) != "" {
		matches, err := r.client.GetEntries(ctx, cms.Query{
			ContentType: pol.AuthorContentType,
			Locale:      r.engine.storageLocale,
			FieldEquals: map[string]string{
				pol.AuthorNameField:   name,
				pol.AuthorLocaleField: r.targetLocale,
			},
			Limit: 1,
		})
		if err != nil {
			r.logger.Warn("author lookup failed, cloning instead", "entry_id", link.ID, "error", err)
		} else if len(matches) > 0 {
			r.cloneMap[link.Key()] = matches[0].ID()
			return cms.Link{LinkType: cms.TypeEntry, ID: matches[0].ID()}
		}
	}

	return r.rewriteLink(ctx, link)
}

// applyPrefix prepends the clone prefix to configured scalar fields after
// translation, skipping values that already carry it.
func (r *cloneRun) applyPrefix(schema *cms.ContentType, source *cms.Entry, fields cms.Fields) {
	prefix := r.engine.policy.ClonePrefix
	if prefix == "" {
		return
	}
	for _, field := range schemaOrderedFields(schema, source) {
		if !r.engine.policy.HasPrefix(field) {
			continue
		}
		locales, ok := fields[field.ID]
		if !ok {
			continue
		}
		for locale, value := range locales {
			text, isString := value.(string)
			if !isString || text == "" || strings.HasPrefix(text, prefix) {
				continue
			}
			locales[locale] = prefix + text
		}
	}
}

func sortedLocales(locales map[string]any) []string {
	keys := make([]string, 0, len(locales))
	for key := range locales {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
