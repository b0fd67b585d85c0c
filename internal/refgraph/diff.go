package refgraph

import (
	"context"
	"sort"

	"github.com/locsync/locsync/internal/cms"
)

// Change reasons reported for a changed reference.
const (
	ReasonVersion           = "version"
	ReasonContent           = "content"
	ReasonVersionAndContent = "version + content"
)

// FieldChange describes one field of a changed reference.
type FieldChange struct {
	FieldName        string `json:"fieldName"`
	ChangeType       string `json:"changeType"` // added | modified
	NewValue         any    `json:"newValue,omitempty"`
	IsTranslatable   bool   `json:"isTranslatable"`
	NeedsTranslation bool   `json:"needsTranslation"`
}

// ChangedRef is a reference present in both trees whose version or content
// hash moved.
type ChangedRef struct {
	ID           string        `json:"id"`
	Reason       string        `json:"reason"`
	Depth        int           `json:"depth"`
	ParentID     string        `json:"parentId,omitempty"`
	ParentField  string        `json:"parentField,omitempty"`
	FieldChanges []FieldChange `json:"fieldChanges,omitempty"`
}

// NewRef is a reference discovered in the current tree only.
type NewRef struct {
	ID          string `json:"id"`
	Depth       int    `json:"depth"`
	ParentID    string `json:"parentId,omitempty"`
	ParentField string `json:"parentField,omitempty"`
}

// RemovedRef is a reference present in the stored tree only.
type RemovedRef struct {
	ID          string `json:"id"`
	Depth       int    `json:"depth"`
	ParentField string `json:"parentField,omitempty"`
}

// Diff is the tracker's change report between two snapshots.
type Diff struct {
	Changed []ChangedRef `json:"changed"`
	New     []NewRef     `json:"new"`
	Removed []RemovedRef `json:"removed"`
}

// Empty reports whether the diff carries no work.
func (d Diff) Empty() bool {
	return len(d.Changed) == 0 && len(d.New) == 0 && len(d.Removed) == 0
}

// Diff compares the current tree against the stored snapshot. References are
// visited in the current tree's discovery order; removals preserve the stored
// tree's discovery order. The root node is excluded: root-level field changes
// are the engine's basic-change pass, not reference work.
//
// For changed references the per-field hashes of the current node are
// compared against the stored node's, yielding field-level change records.
// Stored snapshots written before per-field hashes existed report every
// current translatable field as modified.
func (t *Tracker) Diff(ctx context.Context, client cms.Client, stored, current *Tree) (Diff, error) {
	diff := Diff{}
	if current == nil {
		return diff, nil
	}

	storedRefs := map[string]*Node{}
	if stored != nil {
		for id, node := range stored.FlattenedRefs {
			storedRefs[id] = node
		}
	}

	seen := map[string]bool{}
	current.Walk(func(node *Node) {
		if node.Depth == 0 || seen[node.ID] {
			return
		}
		seen[node.ID] = true

		storedNode, exists := storedRefs[node.ID]
		if !exists {
			diff.New = append(diff.New, NewRef{
				ID:          node.ID,
				Depth:       node.Depth,
				ParentID:    node.ParentID,
				ParentField: node.ParentField,
			})
			return
		}

		versionMoved := node.Version > storedNode.Version
		contentMoved := node.ContentHash != storedNode.ContentHash
		if !versionMoved && !contentMoved {
			return
		}

		reason := ReasonVersion
		switch {
		case versionMoved && contentMoved:
			reason = ReasonVersionAndContent
		case contentMoved:
			reason = ReasonContent
		}

		changed := ChangedRef{
			ID:          node.ID,
			Reason:      reason,
			Depth:       node.Depth,
			ParentID:    node.ParentID,
			ParentField: node.ParentField,
		}
		changed.FieldChanges = t.fieldChanges(ctx, client, storedNode, node)
		diff.Changed = append(diff.Changed, changed)
	})

	if stored != nil {
		currentRefs := map[string]bool{}
		current.Walk(func(node *Node) {
			currentRefs[node.ID] = true
		})
		stored.Walk(func(node *Node) {
			if node.Depth == 0 || currentRefs[node.ID] {
				return
			}
			currentRefs[node.ID] = true
			diff.Removed = append(diff.Removed, RemovedRef{
				ID:          node.ID,
				Depth:       node.Depth,
				ParentField: node.ParentField,
			})
		})
	}

	return diff, nil
}

func (t *Tracker) fieldChanges(ctx context.Context, client cms.Client, storedNode, currentNode *Node) []FieldChange {
	entry := currentNode.Entry
	if entry == nil && client != nil {
		fetched, err := client.GetEntry(ctx, currentNode.ID)
		if err != nil {
			t.logger.Warn("cannot resolve changed reference for field diff",
				"entry_id", currentNode.ID, "error", err)
		} else {
			entry = fetched
		}
	}

	var changes []FieldChange
	for _, field := range sortedHashFields(currentNode.FieldHashes) {
		currentHash := currentNode.FieldHashes[field]
		storedHash, hadField := storedNode.FieldHashes[field]
		if hadField && storedHash == currentHash {
			continue
		}
		changeType := "modified"
		if !hadField && len(storedNode.FieldHashes) > 0 {
			changeType = "added"
		}
		change := FieldChange{
			FieldName:        field,
			ChangeType:       changeType,
			IsTranslatable:   true,
			NeedsTranslation: true,
		}
		if entry != nil {
			if locales, ok := entry.Fields[field]; ok {
				change.NewValue = locales
			}
		}
		changes = append(changes, change)
	}
	return changes
}

func sortedHashFields(hashes map[string]string) []string {
	fields := make([]string, 0, len(hashes))
	for field := range hashes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}
