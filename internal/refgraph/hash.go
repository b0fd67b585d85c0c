package refgraph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/locsync/locsync/internal/cms"
	"github.com/locsync/locsync/internal/policy"
)

// HashValue hashes one field value: canonical JSON (Go's encoder sorts map
// keys) through sha256, hex encoded.
func HashValue(value any) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("refgraph: canonicalize field value: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// FieldHashes computes per-field hashes over the entry's translatable fields.
// Fields the policy rejects never contribute, so link rewrites and system
// edits leave the hashes untouched.
func FieldHashes(pol policy.Policy, schema *cms.ContentType, entry *cms.Entry) (map[string]string, error) {
	hashes := map[string]string{}
	if entry == nil || schema == nil {
		return hashes, nil
	}
	for _, field := range schema.Fields {
		locales, ok := entry.Fields[field.ID]
		if !ok {
			continue
		}
		if !pol.Translatable(entry.ContentTypeID(), field, locales) {
			continue
		}
		hash, err := HashValue(locales)
		if err != nil {
			return nil, err
		}
		hashes[field.ID] = hash
	}
	return hashes, nil
}

// ContentHash computes a node's hash over its translatable fields as one
// canonical document.
func ContentHash(pol policy.Policy, schema *cms.ContentType, entry *cms.Entry) (string, error) {
	translatable := map[string]any{}
	if entry != nil && schema != nil {
		for _, field := range schema.Fields {
			locales, ok := entry.Fields[field.ID]
			if !ok {
				continue
			}
			if !pol.Translatable(entry.ContentTypeID(), field, locales) {
				continue
			}
			translatable[field.ID] = locales
		}
	}
	return HashValue(translatable)
}

// DiffFieldHashes classifies fresh hashes against stored ones. Fields present
// only in fresh are added, differing hashes are modified, fields present only
// in stored are deleted.
func DiffFieldHashes(stored, fresh map[string]string) (added, modified, deleted []string) {
	for field, hash := range fresh {
		storedHash, ok := stored[field]
		switch {
		case !ok:
			added = append(added, field)
		case storedHash != hash:
			modified = append(modified, field)
		}
	}
	for field := range stored {
		if _, ok := fresh[field]; !ok {
			deleted = append(deleted, field)
		}
	}
	sort.Strings(added)
	sort.Strings(modified)
	sort.Strings(deleted)
	return added, modified, deleted
}
