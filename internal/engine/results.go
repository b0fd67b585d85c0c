package engine

import (
	"time"

	"github.com/locsync/locsync/internal/relation"
)

// CloneResult reports a completed first clone.
type CloneResult struct {
	OriginalEntryID string            `json:"originalEntryId"`
	ClonedEntryID   string            `json:"clonedEntryId"`
	CloneMapping    map[string]string `json:"cloneMapping"`
	SourceLanguage  string            `json:"sourceLanguage"`
	TargetLanguage  string            `json:"targetLanguage"`
	TargetLocale    string            `json:"targetLocale"`
}

// NewReferenceResult reports one new-reference clone attempt during an
// incremental update. Failures never abort the surrounding update.
type NewReferenceResult struct {
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// UpdateResult reports an incremental update. Success=false with a message
// means the run aborted without touching the relationship; the backup taken
// beforehand stays available.
type UpdateResult struct {
	Success       bool                 `json:"success"`
	UpToDate      bool                 `json:"upToDate"`
	FieldsUpdated []string             `json:"fieldsUpdated"`
	BackupID      string               `json:"backupId,omitempty"`
	NewVersion    int                  `json:"newVersion,omitempty"`
	Message       string               `json:"message,omitempty"`
	NewReferences []NewReferenceResult `json:"newReferences,omitempty"`
}

// Change kinds reported by Status.
const (
	ChangeKindRootField  = "root_field"
	ChangeKindChangedRef = "changed_reference"
	ChangeKindNewRef     = "new_reference"
	ChangeKindRemovedRef = "removed_reference"
)

// StatusChange is one pending difference between source and target.
type StatusChange struct {
	Kind         string `json:"kind"`
	EntryID      string `json:"entryId"`
	Field        string `json:"field,omitempty"`
	ChangeType   string `json:"changeType,omitempty"` // added | modified | deleted
	Reason       string `json:"reason,omitempty"`
	ParentField  string `json:"parentField,omitempty"`
	Translatable bool   `json:"translatable"`
}

// Conflict marks a target-side manual edit colliding with a source change.
// Detection is not implemented; the type pins the wire shape.
type Conflict struct {
	EntryID string `json:"entryId"`
	Field   string `json:"field"`
	Detail  string `json:"detail,omitempty"`
}

// StatusResult answers a status check: whether a relationship exists,
// whether the target is current, and what changed.
type StatusResult struct {
	HasRelationship bool               `json:"hasRelationship"`
	UpToDate        bool               `json:"upToDate"`
	Changes         []StatusChange     `json:"changes"`
	Conflicts       []Conflict         `json:"conflicts"`
	Metadata        *relation.Metadata `json:"metadata,omitempty"`
}

// RefreshResult reports the stored reference tree snapshot's shape.
type RefreshResult struct {
	SourceEntryID string      `json:"sourceEntryId"`
	TargetEntryID string      `json:"targetEntryId"`
	NodeCount     int         `json:"nodeCount"`
	MaxDepth      int         `json:"maxDepth"`
	LastScanned   time.Time   `json:"lastScanned"`
	DepthCounts   map[int]int `json:"depthCounts,omitempty"`
	Rebuilt       bool        `json:"rebuilt"`
}
