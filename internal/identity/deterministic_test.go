package identity_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/locsync/locsync/internal/identity"
)

func TestUUIDIsDeterministic(t *testing.T) {
	first := identity.UUID("locsync:relationship:src_tgt")
	second := identity.UUID("locsync:relationship:src_tgt")

	if first == uuid.Nil {
		t.Fatal("expected non-nil UUID")
	}
	if first != second {
		t.Fatalf("expected stable UUID, got %s and %s", first, second)
	}
}

func TestUUIDEmptyKeyReturnsNil(t *testing.T) {
	if got := identity.UUID("   "); got != uuid.Nil {
		t.Fatalf("expected uuid.Nil for blank key, got %s", got)
	}
}

func TestRelationshipAndDeepMapKeysDiffer(t *testing.T) {
	rel := identity.RelationshipUUID("src_tgt")
	deep := identity.DeepMapUUID("src_tgt")

	if rel == deep {
		t.Fatalf("expected distinct namespaces, both resolved to %s", rel)
	}
}

func TestBackupUUIDChangesWithTimestamp(t *testing.T) {
	a := identity.BackupUUID("entry1", "2024-01-01T00:00:00Z")
	b := identity.BackupUUID("entry1", "2024-01-02T00:00:00Z")

	if a == b {
		t.Fatalf("expected timestamp to vary backup id, both %s", a)
	}
}
