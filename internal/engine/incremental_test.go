package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/locsync/locsync/internal/cms"
	"github.com/locsync/locsync/internal/engine"
	"github.com/locsync/locsync/internal/policy"
	"github.com/locsync/locsync/internal/refgraph"
	"github.com/locsync/locsync/internal/relation"
)

func updateSource(t *testing.T, f *fixture, id, field string, v any) {
	t.Helper()
	e := mustEntry(t, f, id)
	e.SetFieldValue(field, locale, v)
	if _, err := f.client.UpdateEntry(context.Background(), e); err != nil {
		t.Fatalf("UpdateEntry(%q) error = %v", id, err)
	}
}

func runUpdate(t *testing.T, f *fixture, sourceID, targetID string) *engine.UpdateResult {
	t.Helper()
	result, err := f.engine.Update(context.Background(), engine.UpdateRequest{
		SourceEntryID: sourceID,
		TargetEntryID: targetID,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	return result
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

func TestUpdateReportsUpToDate(t *testing.T) {
	f := newFixture(t)
	seedPage(f)
	cloned := clonePage(t, f)
	updatesBefore := f.client.UpdateCount()

	result := runUpdate(t, f, "src", cloned.ClonedEntryID)

	if !result.Success || !result.UpToDate {
		t.Fatalf("result = %+v, want up to date", result)
	}
	if f.client.UpdateCount() != updatesBefore {
		t.Fatal("up-to-date check must not write to the CMS")
	}
	backups, err := f.store.ListBackups(context.Background(), cloned.ClonedEntryID)
	if err != nil {
		t.Fatalf("ListBackups() error = %v", err)
	}
	if len(backups) != 0 {
		t.Fatalf("backups = %d, want none on a clean check", len(backups))
	}
}

func TestUpdateTranslatesChangedRootField(t *testing.T) {
	f := newFixture(t)
	seedPage(f)
	cloned := clonePage(t, f)

	updateSource(t, f, "src", "title", "Refreshed welcome")
	result := runUpdate(t, f, "src", cloned.ClonedEntryID)

	if !result.Success || result.UpToDate {
		t.Fatalf("result = %+v", result)
	}
	if !contains(result.FieldsUpdated, "title") {
		t.Fatalf("FieldsUpdated = %v, want title", result.FieldsUpdated)
	}
	if result.BackupID == "" || result.NewVersion != 2 {
		t.Fatalf("BackupID = %q, NewVersion = %d", result.BackupID, result.NewVersion)
	}

	target := mustEntry(t, f, cloned.ClonedEntryID)
	if got := fieldString(t, target, "title"); got != "[Clone] Refreshed welcome [DE]" {
		t.Fatalf("target title = %q", got)
	}

	rel, err := f.store.Get(context.Background(), "src", cloned.ClonedEntryID)
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	if rel.Metadata.LastTranslatedVersion != 4 {
		t.Fatalf("LastTranslatedVersion = %d, want 4", rel.Metadata.LastTranslatedVersion)
	}

	backups, err := f.store.ListBackups(context.Background(), cloned.ClonedEntryID)
	if err != nil {
		t.Fatalf("ListBackups() error = %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("backups = %d, want 1", len(backups))
	}
	if got, _ := backups[0].Fields["title"][locale].(string); got != "[Clone] Welcome [DE]" {
		t.Fatalf("backup title = %q, want the pre-update value", got)
	}
}

func TestUpdateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	seedPage(f)
	cloned := clonePage(t, f)

	updateSource(t, f, "src", "title", "Refreshed welcome")
	first := runUpdate(t, f, "src", cloned.ClonedEntryID)
	if !first.Success || first.UpToDate {
		t.Fatalf("first = %+v", first)
	}

	second := runUpdate(t, f, "src", cloned.ClonedEntryID)
	if !second.Success || !second.UpToDate {
		t.Fatalf("second = %+v, want up to date", second)
	}
}

func TestUpdatePatchesChangedReference(t *testing.T) {
	f := newFixture(t)
	seedPage(f)
	cloned := clonePage(t, f)

	updateSource(t, f, "child1", "content", "Updated section")
	result := runUpdate(t, f, "src", cloned.ClonedEntryID)

	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if !contains(result.FieldsUpdated, "child1.content") {
		t.Fatalf("FieldsUpdated = %v, want child1.content", result.FieldsUpdated)
	}

	child1Clone := mustEntry(t, f, cloned.CloneMapping["Entry:child1"])
	if got := fieldString(t, child1Clone, "content"); got != "Updated section [DE]" {
		t.Fatalf("patched content = %q", got)
	}
}

func TestUpdateClonesNewReference(t *testing.T) {
	f := newFixture(t)
	seedPage(f)
	cloned := clonePage(t, f)

	f.client.AddEntry(entry("child3", "scText", 1, cms.Fields{
		"content": value("Third section"),
	}))
	updateSource(t, f, "src", "elements", []any{
		cms.EntryLink("child1"), cms.EntryLink("child2"), cms.EntryLink("child3"),
	})

	result := runUpdate(t, f, "src", cloned.ClonedEntryID)

	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if len(result.NewReferences) != 1 || !result.NewReferences[0].Success {
		t.Fatalf("NewReferences = %+v", result.NewReferences)
	}

	rel, err := f.store.Get(context.Background(), "src", cloned.ClonedEntryID)
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	child3Clone := rel.CloneMapping["Entry:child3"]
	if child3Clone == "" {
		t.Fatalf("clone map missing child3: %v", rel.CloneMapping)
	}

	target := mustEntry(t, f, cloned.ClonedEntryID)
	elementsValue, _ := target.FieldValue("elements", locale)
	elements, _ := cms.ParseLinkList(elementsValue)
	if len(elements) != 3 || elements[2].ID != child3Clone {
		t.Fatalf("elements = %+v, want the new clone appended", elementsValue)
	}

	clone3 := mustEntry(t, f, child3Clone)
	if got := fieldString(t, clone3, "content"); got != "Third section [DE]" {
		t.Fatalf("new clone content = %q", got)
	}
}

func TestUpdateDropsRemovedReference(t *testing.T) {
	f := newFixture(t)
	seedPage(f)
	cloned := clonePage(t, f)

	updateSource(t, f, "src", "elements", []any{cms.EntryLink("child1")})
	result := runUpdate(t, f, "src", cloned.ClonedEntryID)

	if !result.Success {
		t.Fatalf("result = %+v", result)
	}

	target := mustEntry(t, f, cloned.ClonedEntryID)
	elementsValue, _ := target.FieldValue("elements", locale)
	elements, _ := cms.ParseLinkList(elementsValue)
	if len(elements) != 1 || elements[0].ID != cloned.CloneMapping["Entry:child1"] {
		t.Fatalf("elements = %+v, want only child1's clone", elementsValue)
	}
}

func TestUpdateHonorsAutoTranslateToggle(t *testing.T) {
	f := newFixture(t)
	seedPage(f)
	cloned := clonePage(t, f)

	f.client.AddEntry(entry("child3", "scText", 1, cms.Fields{
		"content": value("Third section"),
	}))
	updateSource(t, f, "src", "elements", []any{
		cms.EntryLink("child1"), cms.EntryLink("child3"),
	})
	createsBefore := f.client.CreateCount()

	noClone := engine.New(
		func(cms.Scope) cms.Client { return f.client },
		f.translator, f.store, refgraph.New(policy.Default()), policy.Default(),
		engine.WithAutoTranslateNewRefs(false),
	)
	result, err := noClone.Update(context.Background(), engine.UpdateRequest{
		SourceEntryID: "src",
		TargetEntryID: cloned.ClonedEntryID,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !result.Success || len(result.NewReferences) != 0 {
		t.Fatalf("result = %+v, want no new-reference clones", result)
	}
	if f.client.CreateCount() != createsBefore {
		t.Fatal("new references must not be cloned when auto-translate is off")
	}

	// The unmapped reference keeps its original link.
	target := mustEntry(t, f, cloned.ClonedEntryID)
	elementsValue, _ := target.FieldValue("elements", locale)
	elements, _ := cms.ParseLinkList(elementsValue)
	if len(elements) != 2 || elements[1].ID != "child3" {
		t.Fatalf("elements = %+v", elementsValue)
	}
}

func TestUpdateTargetWriteFailureKeepsRelationship(t *testing.T) {
	f := newFixture(t)
	seedPage(f)
	cloned := clonePage(t, f)

	updateSource(t, f, "src", "title", "Refreshed welcome")
	f.client.FailUpdates(errors.New("rate limited"))

	result := runUpdate(t, f, "src", cloned.ClonedEntryID)

	if result.Success {
		t.Fatalf("result = %+v, want failure", result)
	}
	if result.BackupID == "" {
		t.Fatal("backup id must survive a failed write")
	}

	rel, err := f.store.Get(context.Background(), "src", cloned.ClonedEntryID)
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	if rel.Metadata.LastTranslatedVersion != 3 {
		t.Fatalf("LastTranslatedVersion = %d, want the pre-update 3", rel.Metadata.LastTranslatedVersion)
	}
}

func TestUpdateUnknownRelationship(t *testing.T) {
	f := newFixture(t)
	seedPage(f)

	_, err := f.engine.Update(context.Background(), engine.UpdateRequest{
		SourceEntryID: "src",
		TargetEntryID: "ghost",
	})
	if !errors.Is(err, relation.ErrRelationshipNotFound) {
		t.Fatalf("Update() error = %v, want ErrRelationshipNotFound", err)
	}
}

func TestStatusWithoutRelationship(t *testing.T) {
	f := newFixture(t)
	seedPage(f)

	status, err := f.engine.Status(context.Background(), cms.Scope{}, "src", "ghost")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.HasRelationship {
		t.Fatalf("status = %+v, want no relationship", status)
	}
}

func TestStatusReportsChangesWithoutWriting(t *testing.T) {
	f := newFixture(t)
	seedPage(f)
	cloned := clonePage(t, f)

	clean, err := f.engine.Status(context.Background(), cms.Scope{}, "src", cloned.ClonedEntryID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !clean.HasRelationship || !clean.UpToDate || len(clean.Changes) != 0 {
		t.Fatalf("clean status = %+v", clean)
	}
	if clean.Metadata == nil || clean.Metadata.LastTranslatedVersion != 3 {
		t.Fatalf("metadata = %+v", clean.Metadata)
	}

	updateSource(t, f, "src", "title", "Refreshed welcome")
	f.client.AddEntry(entry("child3", "scText", 1, cms.Fields{
		"content": value("Third section"),
	}))
	updateSource(t, f, "src", "elements", []any{
		cms.EntryLink("child1"), cms.EntryLink("child2"), cms.EntryLink("child3"),
	})
	updatesBefore := f.client.UpdateCount()
	entriesBefore := f.client.EntryCount()

	status, err := f.engine.Status(context.Background(), cms.Scope{}, "src", cloned.ClonedEntryID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.UpToDate {
		t.Fatalf("status = %+v, want pending changes", status)
	}

	var sawTitle, sawNewRef bool
	for _, change := range status.Changes {
		if change.Kind == engine.ChangeKindRootField && change.Field == "title" && change.ChangeType == "modified" {
			sawTitle = true
		}
		if change.Kind == engine.ChangeKindNewRef && change.EntryID == "child3" {
			sawNewRef = true
		}
	}
	if !sawTitle || !sawNewRef {
		t.Fatalf("changes = %+v, want modified title and new child3", status.Changes)
	}

	if f.client.UpdateCount() != updatesBefore || f.client.EntryCount() != entriesBefore {
		t.Fatal("status checks must never write to the CMS")
	}
}

func TestFindRelationshipByTargetLanguage(t *testing.T) {
	f := newFixture(t)
	seedPage(f)
	cloned := clonePage(t, f)

	rel, err := f.engine.FindRelationship(context.Background(), "src", "de")
	if err != nil {
		t.Fatalf("FindRelationship() error = %v", err)
	}
	if rel.TargetEntryID != cloned.ClonedEntryID {
		t.Fatalf("target = %q, want %q", rel.TargetEntryID, cloned.ClonedEntryID)
	}

	if _, err := f.engine.FindRelationship(context.Background(), "src", "IT"); !errors.Is(err, relation.ErrRelationshipNotFound) {
		t.Fatalf("FindRelationship(IT) error = %v, want ErrRelationshipNotFound", err)
	}
}

func TestDeepReferenceStatsAndRefresh(t *testing.T) {
	f := newFixture(t)
	seedPage(f)
	cloned := clonePage(t, f)
	ctx := context.Background()

	stats, err := f.engine.DeepReferenceStats(ctx, "src", cloned.ClonedEntryID)
	if err != nil {
		t.Fatalf("DeepReferenceStats() error = %v", err)
	}
	if stats.NodeCount != 3 || stats.Rebuilt {
		t.Fatalf("stats = %+v, want 3 stored nodes", stats)
	}

	f.client.AddEntry(entry("child3", "scText", 1, cms.Fields{
		"content": value("Third section"),
	}))
	updateSource(t, f, "src", "elements", []any{
		cms.EntryLink("child1"), cms.EntryLink("child2"), cms.EntryLink("child3"),
	})

	refreshed, err := f.engine.Refresh(ctx, cms.Scope{}, "src", cloned.ClonedEntryID)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.NodeCount != 4 || !refreshed.Rebuilt {
		t.Fatalf("refreshed = %+v, want 4 nodes", refreshed)
	}

	stats, err = f.engine.DeepReferenceStats(ctx, "src", cloned.ClonedEntryID)
	if err != nil {
		t.Fatalf("DeepReferenceStats() error = %v", err)
	}
	if stats.NodeCount != 4 {
		t.Fatalf("stats after refresh = %+v", stats)
	}
}
