package cms_test

import (
	"context"
	"errors"
	"testing"

	"github.com/locsync/locsync/internal/cms"
)

const storageLocale = "en-US-POSIX"

func seedEntry(id, contentType string, fields cms.Fields, version int) *cms.Entry {
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

func TestMemoryClientGetEntryReturnsCopy(t *testing.T) {
	client := cms.NewMemoryClient()
	client.AddEntry(seedEntry("e1", "cmsPage", cms.Fields{
		"title": {storageLocale: "Willkommen"},
	}, 3))

	got, err := client.GetEntry(context.Background(), "e1")
	if err != nil {
		t.Fatalf("GetEntry returned error: %v", err)
	}
	got.SetFieldValue("title", storageLocale, "mutated")

	again, err := client.GetEntry(context.Background(), "e1")
	if err != nil {
		t.Fatalf("GetEntry returned error: %v", err)
	}
	if text, _ := again.StringField("title", storageLocale); text != "Willkommen" {
		t.Fatalf("expected stored entry untouched, got %q", text)
	}
}

func TestMemoryClientGetEntryNotFound(t *testing.T) {
	client := cms.NewMemoryClient()
	if _, err := client.GetEntry(context.Background(), "missing"); !errors.Is(err, cms.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestMemoryClientCreateAssignsIDAndVersion(t *testing.T) {
	client := cms.NewMemoryClient()
	created, err := client.CreateEntry(context.Background(), "scText", cms.Fields{
		"content": {storageLocale: "Mehr lesen"},
	})
	if err != nil {
		t.Fatalf("CreateEntry returned error: %v", err)
	}
	if created.ID() == "" {
		t.Fatal("expected generated id")
	}
	if created.Version() != 1 {
		t.Fatalf("expected version 1, got %d", created.Version())
	}
	if created.ContentTypeID() != "scText" {
		t.Fatalf("expected content type scText, got %s", created.ContentTypeID())
	}
	if client.CreateCount() != 1 {
		t.Fatalf("expected create count 1, got %d", client.CreateCount())
	}
}

func TestMemoryClientUpdateBumpsVersionAndChecksConflict(t *testing.T) {
	client := cms.NewMemoryClient()
	client.AddEntry(seedEntry("e1", "scText", cms.Fields{
		"content": {storageLocale: "Mehr lesen"},
	}, 2))

	entry, _ := client.GetEntry(context.Background(), "e1")
	entry.SetFieldValue("content", storageLocale, "Weiterlesen")

	updated, err := client.UpdateEntry(context.Background(), entry)
	if err != nil {
		t.Fatalf("UpdateEntry returned error: %v", err)
	}
	if updated.Version() != 3 {
		t.Fatalf("expected version bump to 3, got %d", updated.Version())
	}

	// The original copy still carries version 2 and must now conflict.
	if _, err := client.UpdateEntry(context.Background(), entry); !errors.Is(err, cms.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestMemoryClientQueryMatchesFieldUnderLocale(t *testing.T) {
	client := cms.NewMemoryClient()
	client.AddEntry(seedEntry("a1", "author", cms.Fields{
		"name":   {storageLocale: "Anna"},
		"locale": {storageLocale: "de-DE"},
	}, 1))
	client.AddEntry(seedEntry("a2", "author", cms.Fields{
		"name":   {storageLocale: "Anna"},
		"locale": {storageLocale: "it-IT"},
	}, 1))
	client.AddEntry(seedEntry("p1", "cmsPage", cms.Fields{
		"name": {storageLocale: "Anna"},
	}, 1))

	matches, err := client.GetEntries(context.Background(), cms.Query{
		ContentType: "author",
		Locale:      storageLocale,
		FieldEquals: map[string]string{"name": "Anna", "locale": "it-IT"},
	})
	if err != nil {
		t.Fatalf("GetEntries returned error: %v", err)
	}
	if len(matches) != 1 || matches[0].ID() != "a2" {
		t.Fatalf("expected single match a2, got %v", matches)
	}
}

func TestMemoryClientInjectedFailures(t *testing.T) {
	client := cms.NewMemoryClient()
	client.AddEntry(seedEntry("e1", "scText", cms.Fields{}, 1))

	boom := errors.New("boom")
	client.FailEntry("e1", boom)
	if _, err := client.GetEntry(context.Background(), "e1"); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	client.FailEntry("e1", nil)
	if _, err := client.GetEntry(context.Background(), "e1"); err != nil {
		t.Fatalf("expected recovery after clearing, got %v", err)
	}

	client.FailQueries(boom)
	if _, err := client.GetEntries(context.Background(), cms.Query{}); !errors.Is(err, boom) {
		t.Fatalf("expected injected query error, got %v", err)
	}
}

func TestMemoryClientDeleteChecksVersion(t *testing.T) {
	client := cms.NewMemoryClient()
	client.AddEntry(seedEntry("e1", "scText", cms.Fields{}, 4))

	if err := client.DeleteEntry(context.Background(), "e1", 3); !errors.Is(err, cms.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	if err := client.DeleteEntry(context.Background(), "e1", 4); err != nil {
		t.Fatalf("DeleteEntry returned error: %v", err)
	}
	if client.EntryCount() != 0 {
		t.Fatalf("expected empty store, got %d entries", client.EntryCount())
	}
}
