package identity

import (
	"strings"

	hashid "github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// UUID derives a deterministic UUID from a stable key using go-hashid.
//
// Callers must ensure key construction prevents cross-entity collisions (prefix by domain/type).
func UUID(key string) uuid.UUID {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return uuid.Nil
	}
	uid, err := hashid.NewUUID(trimmed, hashid.WithHashAlgorithm(hashid.SHA256), hashid.WithNormalization(true))
	if err != nil || uid == uuid.Nil {
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(trimmed))
	}
	return uid
}

// RelationshipUUID keys a persisted source/target pairing. Upserts across
// restarts land on the same row because the id never changes.
func RelationshipUUID(relationshipID string) uuid.UUID {
	return UUID("locsync:relationship:" + strings.TrimSpace(relationshipID))
}

// DeepMapUUID keys the stored reference tree snapshot for a pairing.
func DeepMapUUID(relationshipID string) uuid.UUID {
	return UUID("locsync:deep_map:" + strings.TrimSpace(relationshipID))
}

// BackupUUID keys a target snapshot taken before an incremental update.
func BackupUUID(entryID, createdAt string) uuid.UUID {
	return UUID("locsync:backup:" + strings.TrimSpace(entryID) + ":" + strings.TrimSpace(createdAt))
}
