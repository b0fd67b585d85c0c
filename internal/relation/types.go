package relation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/locsync/locsync/internal/cms"
	"github.com/locsync/locsync/internal/refgraph"
)

// TranslationContext pins the provider language pair a relationship was
// created under. Incremental updates reuse it verbatim.
type TranslationContext struct {
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
}

// Metadata tracks the translation bookkeeping of a relationship.
type Metadata struct {
	LastTranslatedVersion int       `json:"lastTranslatedVersion"`
	CreatedAt             time.Time `json:"createdAt"`
	LastUpdated           time.Time `json:"lastUpdated"`
}

// Backup is a snapshot of a target entry taken before a mutation.
type Backup struct {
	BackupID  string     `json:"backupId"`
	EntryID   string     `json:"entryId"`
	Version   int        `json:"version"`
	Reason    string     `json:"reason,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	Fields    cms.Fields `json:"fields,omitempty"`
}

// NewBackupID derives the backup identifier from the entry and timestamp.
func NewBackupID(entryID string, at time.Time) string {
	return fmt.Sprintf("%s_%s", entryID, at.UTC().Format(time.RFC3339))
}

// Relationship ties one source entry to one translated target entry. It
// carries everything an incremental update needs: the language pair, the
// per-field hashes at the last translated version, the clone map, the deep
// reference tree snapshot, and the latest target backup.
type Relationship struct {
	SourceEntryID      string             `json:"sourceEntryId"`
	TargetEntryID      string             `json:"targetEntryId"`
	Metadata           Metadata           `json:"metadata"`
	TranslationContext TranslationContext `json:"translationContext"`
	FieldHashes        map[string]string  `json:"fieldHashes,omitempty"`
	CloneMapping       map[string]string  `json:"cloneMapping,omitempty"`
	DeepReferenceMap   *refgraph.Tree     `json:"deepReferenceMap,omitempty"`
	BackupData         *Backup            `json:"backupData,omitempty"`
}

// RelationshipID renders the composite identity key of a (source, target)
// pair.
func RelationshipID(sourceID, targetID string) string {
	return sourceID + "_" + targetID
}

// ID returns the relationship's composite identity key.
func (r *Relationship) ID() string {
	if r == nil {
		return ""
	}
	return RelationshipID(r.SourceEntryID, r.TargetEntryID)
}

// Clone deep-copies the relationship through JSON so store implementations
// never hand out aliased maps.
func (r *Relationship) Clone() *Relationship {
	if r == nil {
		return nil
	}
	encoded, err := json.Marshal(r)
	if err != nil {
		copied := *r
		return &copied
	}
	var copied Relationship
	if err := json.Unmarshal(encoded, &copied); err != nil {
		fallback := *r
		return &fallback
	}
	return &copied
}

// Involves reports whether the relationship references the entry on either
// side.
func (r *Relationship) Involves(entryID string) bool {
	if r == nil {
		return false
	}
	return r.SourceEntryID == entryID || r.TargetEntryID == entryID
}
