package relation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/locsync/locsync/internal/relation"
)

func TestComposite_MirrorsWritesToFallback(t *testing.T) {
	primary := relation.NewMemoryStore()
	fallback := relation.NewMemoryStore()
	store := relation.NewComposite(primary, fallback)
	ctx := context.Background()

	if err := store.Store(ctx, makeRelationship("src1", "tgt1")); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if store.LastSource() != relation.SourcePrimary {
		t.Fatalf("LastSource = %q, want primary", store.LastSource())
	}

	if _, err := fallback.Get(ctx, "src1", "tgt1"); err != nil {
		t.Fatalf("fallback missing mirrored relationship: %v", err)
	}
}

func TestComposite_WriteFallsBackOnPrimaryFailure(t *testing.T) {
	primary := relation.NewMemoryStore()
	fallback := relation.NewMemoryStore()
	store := relation.NewComposite(primary, fallback)
	ctx := context.Background()

	primary.FailWrites(errors.New("cms down"))
	if err := store.Store(ctx, makeRelationship("src1", "tgt1")); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if store.LastSource() != relation.SourceFallback {
		t.Fatalf("LastSource = %q, want fallback", store.LastSource())
	}
	if _, err := fallback.Get(ctx, "src1", "tgt1"); err != nil {
		t.Fatalf("fallback missing relationship: %v", err)
	}
}

func TestComposite_ReadFallsBackOnMiss(t *testing.T) {
	primary := relation.NewMemoryStore()
	fallback := relation.NewMemoryStore()
	store := relation.NewComposite(primary, fallback)
	ctx := context.Background()

	// Written directly to the fallback, as during a primary outage.
	if err := fallback.Store(ctx, makeRelationship("src1", "tgt1")); err != nil {
		t.Fatalf("seed fallback: %v", err)
	}

	got, err := store.Get(ctx, "src1", "tgt1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID() != "src1_tgt1" {
		t.Fatalf("Get() id = %q", got.ID())
	}
	if store.LastSource() != relation.SourceFallback {
		t.Fatalf("LastSource = %q, want fallback", store.LastSource())
	}
}

func TestComposite_MissOnBothSidesStaysNotFound(t *testing.T) {
	store := relation.NewComposite(relation.NewMemoryStore(), relation.NewMemoryStore())

	if _, err := store.Get(context.Background(), "nope", "nada"); !errors.Is(err, relation.ErrRelationshipNotFound) {
		t.Fatalf("Get() error = %v, want ErrRelationshipNotFound", err)
	}
}

func TestComposite_ListsMergeFallbackOnlyEntries(t *testing.T) {
	primary := relation.NewMemoryStore()
	fallback := relation.NewMemoryStore()
	store := relation.NewComposite(primary, fallback)
	ctx := context.Background()

	if err := store.Store(ctx, makeRelationship("src1", "tgt-de")); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	// Fallback-only write, as during a primary outage.
	if err := fallback.Store(ctx, makeRelationship("src1", "tgt-it")); err != nil {
		t.Fatalf("seed fallback: %v", err)
	}

	listed, err := store.ListBySource(ctx, "src1")
	if err != nil {
		t.Fatalf("ListBySource() error = %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("ListBySource() returned %d relationships, want 2", len(listed))
	}

	seen := map[string]bool{}
	for _, rel := range listed {
		seen[rel.ID()] = true
	}
	if !seen["src1_tgt-de"] || !seen["src1_tgt-it"] {
		t.Fatalf("merged list = %v", seen)
	}
}

func TestComposite_NilFallbackDegradesToPrimary(t *testing.T) {
	primary := relation.NewMemoryStore()
	store := relation.NewComposite(primary, nil)
	ctx := context.Background()

	if err := store.Store(ctx, makeRelationship("src1", "tgt1")); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	primary.FailReads(errors.New("cms down"))
	if _, err := store.Get(ctx, "src1", "tgt1"); err == nil {
		t.Fatal("Get() succeeded with failing primary and no fallback")
	}
}
