package relation_test

import (
	"testing"
	"time"

	"github.com/locsync/locsync/internal/relation"
)

func TestRelationshipID(t *testing.T) {
	if got := relation.RelationshipID("abc", "def"); got != "abc_def" {
		t.Fatalf("RelationshipID = %q, want abc_def", got)
	}
}

func TestNewBackupID(t *testing.T) {
	at := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)
	if got := relation.NewBackupID("tgt1", at); got != "tgt1_2026-02-10T09:30:00Z" {
		t.Fatalf("NewBackupID = %q", got)
	}
}

func TestRelationshipCloneIsIndependent(t *testing.T) {
	original := makeRelationship("src1", "tgt1")
	copied := original.Clone()

	copied.FieldHashes["title"] = "mutated"
	copied.CloneMapping["Entry:src1"] = "elsewhere"

	if original.FieldHashes["title"] == "mutated" {
		t.Fatal("Clone() shares the FieldHashes map")
	}
	if original.CloneMapping["Entry:src1"] == "elsewhere" {
		t.Fatal("Clone() shares the CloneMapping map")
	}
}

func TestRelationshipInvolves(t *testing.T) {
	rel := makeRelationship("src1", "tgt1")
	if !rel.Involves("src1") || !rel.Involves("tgt1") {
		t.Fatal("Involves() missed a member of the pair")
	}
	if rel.Involves("other") {
		t.Fatal("Involves() matched an unrelated entry")
	}
}
