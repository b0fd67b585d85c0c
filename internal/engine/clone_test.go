package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/locsync/locsync/internal/cms"
	"github.com/locsync/locsync/internal/engine"
	"github.com/locsync/locsync/internal/policy"
	"github.com/locsync/locsync/internal/refgraph"
	"github.com/locsync/locsync/internal/relation"
	"github.com/locsync/locsync/internal/translate"
)

const locale = "en-US-POSIX"

// stubTranslator appends the target language to every text so tests can tell
// translated values from copied ones. Setting fail simulates a provider
// outage.
type stubTranslator struct {
	fail  bool
	calls atomic.Int64
}

func (s *stubTranslator) Translate(_ context.Context, text, _, targetLang string, _ translate.Options) (string, error) {
	if s.fail {
		return "", errors.New("provider down")
	}
	s.calls.Add(1)
	return text + " [" + targetLang + "]", nil
}

func (s *stubTranslator) Usage(context.Context) (translate.Usage, error) {
	return translate.Usage{}, nil
}

func (s *stubTranslator) SourceLanguages(context.Context) ([]translate.Language, error) {
	return nil, nil
}

func (s *stubTranslator) TargetLanguages(context.Context) ([]translate.Language, error) {
	return nil, nil
}

type fixture struct {
	client     *cms.MemoryClient
	store      *relation.MemoryStore
	translator *stubTranslator
	engine     *engine.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	client := cms.NewMemoryClient()
	var seq atomic.Int64
	client.IDFunc = func() string {
		return fmt.Sprintf("t%d", seq.Add(1))
	}
	client.AddContentType(pageSchema())
	client.AddContentType(textSchema())
	client.AddContentType(authorSchema())

	pol := policy.Default()
	store := relation.NewMemoryStore()
	translator := &stubTranslator{}
	tracker := refgraph.New(pol)
	resolver := func(cms.Scope) cms.Client { return client }

	return &fixture{
		client:     client,
		store:      store,
		translator: translator,
		engine:     engine.New(resolver, translator, store, tracker, pol),
	}
}

func pageSchema() *cms.ContentType {
	return &cms.ContentType{
		Sys:  cms.Sys{ID: "cmsPage"},
		Name: "CMS Page",
		Fields: []cms.Field{
			{ID: "title", Type: cms.FieldTypeSymbol},
			{ID: "slug", Type: cms.FieldTypeSymbol},
			{ID: "culture", Type: cms.FieldTypeSymbol},
			{ID: "teaserText", Type: cms.FieldTypeText},
			{ID: "domain", Type: cms.FieldTypeSymbol},
			{ID: "elements", Type: cms.FieldTypeArray, Items: &cms.Items{Type: cms.FieldTypeLink, LinkType: cms.TypeEntry}},
			{ID: "authors", Type: cms.FieldTypeArray, Items: &cms.Items{Type: cms.FieldTypeLink, LinkType: cms.TypeEntry}},
			{ID: "parentPage", Type: cms.FieldTypeLink, LinkType: cms.TypeEntry},
			{ID: "heroImage", Type: cms.FieldTypeLink, LinkType: cms.TypeAsset},
		},
	}
}

func textSchema() *cms.ContentType {
	return &cms.ContentType{
		Sys:  cms.Sys{ID: "scText"},
		Name: "Text",
		Fields: []cms.Field{
			{ID: "content", Type: cms.FieldTypeText},
			{ID: "related", Type: cms.FieldTypeLink, LinkType: cms.TypeEntry},
		},
	}
}

func authorSchema() *cms.ContentType {
	return &cms.ContentType{
		Sys:  cms.Sys{ID: "author"},
		Name: "Author",
		Fields: []cms.Field{
			{ID: "name", Type: cms.FieldTypeSymbol},
			{ID: "locale", Type: cms.FieldTypeSymbol},
		},
	}
}

func entry(id, contentType string, version int, fields cms.Fields) *cms.Entry {
	return &cms.Entry{
		Sys: cms.Sys{
			ID:          id,
			Type:        cms.TypeEntry,
			Version:     version,
			ContentType: &cms.TypeRef{Sys: cms.LinkSys{Type: cms.TypeLink, LinkType: "ContentType", ID: contentType}},
		},
		Fields: fields,
	}
}

func value(v any) map[string]any {
	return map[string]any{locale: v}
}

// seedPage populates the canonical test page: two text children where child2
// also references child1, an English author with a German counterpart, a
// parent page, and a hero image asset.
func seedPage(f *fixture) {
	f.client.AddEntry(entry("src", "cmsPage", 3, cms.Fields{
		"title":      value("Welcome"),
		"slug":       value("welcome"),
		"culture":    value("en-GB"),
		"teaserText": value("Intro paragraph"),
		"domain":     value("uk"),
		"elements":   value([]any{cms.EntryLink("child1"), cms.EntryLink("child2")}),
		"authors":    value([]any{cms.EntryLink("auth-en")}),
		"parentPage": value(cms.EntryLink("parent1")),
		"heroImage":  value(cms.AssetLink("img1")),
	}))
	f.client.AddEntry(entry("child1", "scText", 2, cms.Fields{
		"content": value("First section"),
	}))
	f.client.AddEntry(entry("child2", "scText", 1, cms.Fields{
		"content": value("Second section"),
		"related": value(cms.EntryLink("child1")),
	}))
	f.client.AddEntry(entry("parent1", "cmsPage", 1, cms.Fields{
		"title":   value("Parent"),
		"culture": value("en-GB"),
	}))
	f.client.AddEntry(entry("auth-en", "author", 1, cms.Fields{
		"name":   value("Jane Doe"),
		"locale": value("en-GB"),
	}))
	f.client.AddEntry(entry("auth-de", "author", 1, cms.Fields{
		"name":   value("Jane Doe"),
		"locale": value("de-DE"),
	}))
}

func clonePage(t *testing.T, f *fixture) *engine.CloneResult {
	t.Helper()
	result, err := f.engine.Clone(context.Background(), engine.CloneRequest{
		SourceEntryID:  "src",
		TargetLanguage: "DE",
	})
	if err != nil {
		t.Fatalf("Clone() error = %v", err)
	}
	return result
}

func fieldString(t *testing.T, e *cms.Entry, field string) string {
	t.Helper()
	text, ok := e.StringField(field, locale)
	if !ok {
		t.Fatalf("field %q is not a string under %s: %+v", field, locale, e.Fields[field])
	}
	return text
}

func mustEntry(t *testing.T, f *fixture, id string) *cms.Entry {
	t.Helper()
	got, err := f.client.GetEntry(context.Background(), id)
	if err != nil {
		t.Fatalf("GetEntry(%q) error = %v", id, err)
	}
	return got
}

func TestCloneTranslatesAndRewritesPage(t *testing.T) {
	f := newFixture(t)
	seedPage(f)

	result := clonePage(t, f)

	if result.SourceLanguage != "EN" {
		t.Fatalf("SourceLanguage = %q, want EN (auto-detected from culture)", result.SourceLanguage)
	}
	if result.TargetLanguage != "DE" || result.TargetLocale != "de-DE" {
		t.Fatalf("target = %q/%q", result.TargetLanguage, result.TargetLocale)
	}

	cloned := mustEntry(t, f, result.ClonedEntryID)
	if got := fieldString(t, cloned, "title"); got != "[Clone] Welcome [DE]" {
		t.Fatalf("title = %q", got)
	}
	if got := fieldString(t, cloned, "slug"); got != "" {
		t.Fatalf("slug = %q, want empty", got)
	}
	if got := fieldString(t, cloned, "culture"); got != "de-DE" {
		t.Fatalf("culture = %q, want de-DE", got)
	}
	if got := fieldString(t, cloned, "teaserText"); got != "Intro paragraph [DE]" {
		t.Fatalf("teaserText = %q", got)
	}
	if got := fieldString(t, cloned, "domain"); got != "uk" {
		t.Fatalf("domain = %q, want copied verbatim", got)
	}
	if _, present := cloned.Fields["parentPage"]; present {
		t.Fatal("parentPage must be dropped on clone")
	}

	heroValue, _ := cloned.FieldValue("heroImage", locale)
	hero, ok := cms.ParseLink(heroValue)
	if !ok || !hero.IsAsset() || hero.ID != "img1" {
		t.Fatalf("heroImage = %+v, want the original asset link", heroValue)
	}

	authorsValue, _ := cloned.FieldValue("authors", locale)
	authors, ok := cms.ParseLinkList(authorsValue)
	if !ok || len(authors) != 1 || authors[0].ID != "auth-de" {
		t.Fatalf("authors = %+v, want re-link to auth-de", authorsValue)
	}
}

func TestCloneSharedReferenceClonedOnce(t *testing.T) {
	f := newFixture(t)
	seedPage(f)

	result := clonePage(t, f)

	// Root, child1, child2. Authors re-link, assets pass through.
	if got := f.client.CreateCount(); got != 3 {
		t.Fatalf("CreateCount = %d, want 3", got)
	}

	child1Clone := result.CloneMapping["Entry:child1"]
	if child1Clone == "" {
		t.Fatal("child1 missing from clone map")
	}

	cloned := mustEntry(t, f, result.ClonedEntryID)
	elementsValue, _ := cloned.FieldValue("elements", locale)
	elements, ok := cms.ParseLinkList(elementsValue)
	if !ok || len(elements) != 2 {
		t.Fatalf("elements = %+v", elementsValue)
	}
	if elements[0].ID != child1Clone || elements[1].ID != result.CloneMapping["Entry:child2"] {
		t.Fatalf("elements = %+v, clone map = %v", elements, result.CloneMapping)
	}

	// child2's clone must point at child1's single clone, not a second copy.
	child2Clone := mustEntry(t, f, result.CloneMapping["Entry:child2"])
	relatedValue, _ := child2Clone.FieldValue("related", locale)
	related, ok := cms.ParseLink(relatedValue)
	if !ok || related.ID != child1Clone {
		t.Fatalf("child2 related = %+v, want %s", relatedValue, child1Clone)
	}

	if got := result.CloneMapping["Asset:img1"]; got != "img1" {
		t.Fatalf("asset mapping = %q, want identity", got)
	}
}

func TestClonePersistsRelationshipAndSnapshot(t *testing.T) {
	f := newFixture(t)
	seedPage(f)

	result := clonePage(t, f)

	rel, err := f.store.Get(context.Background(), "src", result.ClonedEntryID)
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	if rel.Metadata.LastTranslatedVersion != 3 {
		t.Fatalf("LastTranslatedVersion = %d, want 3", rel.Metadata.LastTranslatedVersion)
	}
	if rel.TranslationContext.SourceLanguage != "EN" || rel.TranslationContext.TargetLanguage != "DE" {
		t.Fatalf("TranslationContext = %+v", rel.TranslationContext)
	}
	if rel.FieldHashes["title"] == "" || rel.FieldHashes["teaserText"] == "" {
		t.Fatalf("FieldHashes = %v, want title and teaserText hashed", rel.FieldHashes)
	}

	tree, err := f.store.GetDeepMap(context.Background(), "src", result.ClonedEntryID)
	if err != nil {
		t.Fatalf("GetDeepMap() error = %v", err)
	}
	if tree.TargetEntryID != result.ClonedEntryID {
		t.Fatalf("tree target = %q", tree.TargetEntryID)
	}
	if tree.NodeCount() != 3 {
		t.Fatalf("tree nodes = %d, want 3 (src, child1, child2)", tree.NodeCount())
	}
}

func TestCloneCycleProducesOnePairPerEntry(t *testing.T) {
	f := newFixture(t)
	f.client.AddEntry(entry("A", "scText", 1, cms.Fields{
		"content": value("alpha"),
		"related": value(cms.EntryLink("B")),
	}))
	f.client.AddEntry(entry("B", "scText", 1, cms.Fields{
		"content": value("beta"),
		"related": value(cms.EntryLink("A")),
	}))

	result, err := f.engine.Clone(context.Background(), engine.CloneRequest{
		SourceEntryID:  "A",
		SourceLanguage: "EN",
		TargetLanguage: "DE",
	})
	if err != nil {
		t.Fatalf("Clone() error = %v", err)
	}

	if got := f.client.CreateCount(); got != 2 {
		t.Fatalf("CreateCount = %d, want 2", got)
	}

	aClone := mustEntry(t, f, result.ClonedEntryID)
	relatedValue, _ := aClone.FieldValue("related", locale)
	related, _ := cms.ParseLink(relatedValue)
	if related.ID != result.CloneMapping["Entry:B"] {
		t.Fatalf("A' related = %+v, want B's clone", relatedValue)
	}

	// B was cloned while A was still on the stack; the cycle patch pass must
	// redirect B' back onto A's clone.
	bClone := mustEntry(t, f, result.CloneMapping["Entry:B"])
	backValue, _ := bClone.FieldValue("related", locale)
	back, _ := cms.ParseLink(backValue)
	if back.ID != result.ClonedEntryID {
		t.Fatalf("B' related = %+v, want A's clone %s", backValue, result.ClonedEntryID)
	}
}

func TestCloneSurvivesTranslatorOutage(t *testing.T) {
	f := newFixture(t)
	seedPage(f)
	f.translator.fail = true

	result := clonePage(t, f)

	cloned := mustEntry(t, f, result.ClonedEntryID)
	if got := fieldString(t, cloned, "title"); got != "[Clone] Welcome" {
		t.Fatalf("title = %q, want prefixed source text", got)
	}
	if got := fieldString(t, cloned, "teaserText"); got != "Intro paragraph" {
		t.Fatalf("teaserText = %q, want source text", got)
	}
	if got := fieldString(t, cloned, "culture"); got != "de-DE" {
		t.Fatalf("culture = %q, want target locale despite outage", got)
	}

	if _, err := f.store.Get(context.Background(), "src", result.ClonedEntryID); err != nil {
		t.Fatalf("relationship missing after outage clone: %v", err)
	}
}

func TestClonePrefixSurvivesRepeatedTranslation(t *testing.T) {
	f := newFixture(t)
	f.client.AddEntry(entry("p1", "cmsPage", 1, cms.Fields{
		"title":   value("[Clone] Welcome"),
		"culture": value("de-DE"),
	}))

	result, err := f.engine.Clone(context.Background(), engine.CloneRequest{
		SourceEntryID:  "p1",
		TargetLanguage: "IT",
	})
	if err != nil {
		t.Fatalf("Clone() error = %v", err)
	}

	cloned := mustEntry(t, f, result.ClonedEntryID)
	if got := fieldString(t, cloned, "title"); got != "[Clone] Welcome [IT]" {
		t.Fatalf("title = %q, want a single prefix with only the body translated", got)
	}
}

func TestCloneRequiresExplicitLanguageOffPages(t *testing.T) {
	f := newFixture(t)
	f.client.AddEntry(entry("text1", "scText", 1, cms.Fields{
		"content": value("standalone"),
	}))

	_, err := f.engine.Clone(context.Background(), engine.CloneRequest{
		SourceEntryID:  "text1",
		TargetLanguage: "DE",
	})
	if !errors.Is(err, engine.ErrSourceLanguageRequired) {
		t.Fatalf("Clone() error = %v, want ErrSourceLanguageRequired", err)
	}
}

func TestCloneRejectsUnknownTargetLanguage(t *testing.T) {
	f := newFixture(t)
	seedPage(f)

	_, err := f.engine.Clone(context.Background(), engine.CloneRequest{
		SourceEntryID:  "src",
		TargetLanguage: "XX",
	})
	if !errors.Is(err, policy.ErrUnknownProviderCode) {
		t.Fatalf("Clone() error = %v, want ErrUnknownProviderCode", err)
	}
	if got := f.client.CreateCount(); got != 0 {
		t.Fatalf("CreateCount = %d, want no writes on rejected input", got)
	}
}

func TestCloneUnreachableReferenceKeepsOriginalLink(t *testing.T) {
	f := newFixture(t)
	seedPage(f)
	f.client.FailEntry("child2", errors.New("gateway timeout"))

	result := clonePage(t, f)

	cloned := mustEntry(t, f, result.ClonedEntryID)
	elementsValue, _ := cloned.FieldValue("elements", locale)
	elements, _ := cms.ParseLinkList(elementsValue)
	if len(elements) != 2 {
		t.Fatalf("elements = %+v", elementsValue)
	}
	if elements[1].ID != "child2" {
		t.Fatalf("unreachable reference = %+v, want the original link", elements[1])
	}
	if _, mapped := result.CloneMapping["Entry:child2"]; mapped {
		t.Fatal("unreachable reference must not enter the clone map")
	}
}
