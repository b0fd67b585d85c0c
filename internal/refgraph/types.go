package refgraph

import (
	"time"

	"github.com/locsync/locsync/internal/cms"
)

// Node is one entry in the reference tree. ContentHash covers translatable
// fields only, so link reshuffles alone never mark a node changed.
type Node struct {
	ID          string            `json:"id"`
	Version     int               `json:"version"`
	Depth       int               `json:"depth"`
	ParentID    string            `json:"parentId,omitempty"`
	ParentField string            `json:"parentField,omitempty"`
	ContentHash string            `json:"contentHash"`
	LastUpdated time.Time         `json:"lastUpdated,omitzero"`
	FieldHashes map[string]string `json:"fieldHashes,omitempty"`
	Children    []*Node           `json:"children,omitempty"`

	// Entry is the fetched entry backing this node during the run that built
	// the tree. It is never persisted; trees loaded from a snapshot carry nil
	// entries.
	Entry *cms.Entry `json:"-"`
}

// Tree is a bounded-depth snapshot of the reference graph under one source
// entry. FlattenedRefs holds every node without children for O(1) lookup.
type Tree struct {
	SourceEntryID string           `json:"sourceEntryId"`
	TargetEntryID string           `json:"targetEntryId,omitempty"`
	MaxDepth      int              `json:"maxDepth"`
	LastScanned   time.Time        `json:"lastScanned"`
	Root          *Node            `json:"referenceTree"`
	FlattenedRefs map[string]*Node `json:"flattenedRefs"`
}

// NodeCount returns the number of nodes in the snapshot, root included.
func (t *Tree) NodeCount() int {
	if t == nil {
		return 0
	}
	return len(t.FlattenedRefs)
}

// DepthCounts returns how many nodes sit at each depth.
func (t *Tree) DepthCounts() map[int]int {
	if t == nil {
		return nil
	}
	counts := map[int]int{}
	for _, node := range t.FlattenedRefs {
		counts[node.Depth]++
	}
	return counts
}

// Walk visits every node depth-first in discovery order.
func (t *Tree) Walk(visit func(*Node)) {
	if t == nil || t.Root == nil {
		return
	}
	walkNode(t.Root, visit)
}

func walkNode(node *Node, visit func(*Node)) {
	visit(node)
	for _, child := range node.Children {
		walkNode(child, visit)
	}
}

// flattened returns a copy of the node without children, suitable for the
// flattenedRefs index.
func (n *Node) flattened() *Node {
	copied := *n
	copied.Children = nil
	return &copied
}
