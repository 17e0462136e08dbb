// Package keytree implements the KeyTree cache: a parent-indexed set of
// configuration nodes reported by drivers during commit and audit. It
// deduplicates by (key_type, key), validates that every non-root node has
// an in-tree parent of its declared parent type, and produces a
// pre-order traversal for downstream reporting to LP/PP.
//
// Grounded on the original cache's key_tree_table/ConfigNode design
// (vtncacheutil/keytree.cc): a static parent-type descriptor table keyed
// by key type, plus a single root sentinel every top-level node attaches
// to.
package keytree

import (
	"fmt"
)

// RootKeyType is the sentinel parent type every top-level node (one with
// no real parent) is declared against.
const RootKeyType = "ROOT"

// ErrOrphanChild is returned by Insert when a node's declared parent is not
// already present in the tree (§8 invariant 5, scenario D).
var ErrOrphanChild = fmt.Errorf("keytree: orphan child")

// ErrUnknownKeyType is returned by Insert when the node's key type has no
// entry in the parent-type table supplied at construction.
var ErrUnknownKeyType = fmt.Errorf("keytree: unknown key type")

// Node is one reported configuration element: a (key_type, key) pair plus
// an opaque payload the driver reported alongside it.
type Node struct {
	KeyType string
	Key     string
	Parent  string // key of this node's parent; "" for ROOT-attached nodes
	Payload any
}

func (n Node) identity() nodeKey {
	return nodeKey{keyType: n.KeyType, key: n.Key}
}

type nodeKey struct {
	keyType string
	key     string
}

// ParentTypeTable maps a key type to the key type its parent must have.
// Grounded on the original key_tree_table (e.g. VBRIDGE's parent is VTN,
// VTN's parent is ROOT): a static descriptor table rather than a class
// hierarchy (SPEC_FULL.md §9).
type ParentTypeTable map[string]string

// KeyTree is single-owner: one coordinator phase run populates and reads
// it, then discards it (§5, "KeyTree: single-owner... not shared across
// workers"). It carries no internal synchronization.
type KeyTree struct {
	parentTypes ParentTypeTable
	nodes       map[nodeKey]*Node
	children    map[nodeKey][]*Node // keyed by parent's nodeKey; root uses rootKey
	order       []*Node             // not populated; traversal order comes from children
}

var rootKey = nodeKey{keyType: RootKeyType, key: ""}

// New constructs an empty KeyTree using parentTypes to validate parentage.
func New(parentTypes ParentTypeTable) *KeyTree {
	return &KeyTree{
		parentTypes: parentTypes,
		nodes:       make(map[nodeKey]*Node),
		children:    make(map[nodeKey][]*Node),
	}
}

// Insert adds node to the tree. A duplicate (key_type, key) is a silent
// no-op (§8 invariant 6, "the KeyTree collapses duplicates"): the first
// reported node wins. A node whose declared parent is not present, and
// whose key type is not root-level, fails ErrOrphanChild.
func (t *KeyTree) Insert(node Node) error {
	id := node.identity()
	if _, exists := t.nodes[id]; exists {
		return nil
	}

	expectedParentType, ok := t.parentTypes[node.KeyType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKeyType, node.KeyType)
	}

	var parentKey nodeKey
	if expectedParentType == RootKeyType {
		if node.Parent != "" {
			return fmt.Errorf("%w: %s declared non-empty parent under ROOT", ErrOrphanChild, node.Key)
		}
		parentKey = rootKey
	} else {
		parentKey = nodeKey{keyType: expectedParentType, key: node.Parent}
		parent, exists := t.nodes[parentKey]
		if !exists {
			return fmt.Errorf("%w: %s/%s has no parent %s/%s in tree", ErrOrphanChild, node.KeyType, node.Key, expectedParentType, node.Parent)
		}
		_ = parent
	}

	stored := node
	t.nodes[id] = &stored
	t.children[parentKey] = append(t.children[parentKey], &stored)
	return nil
}

// Lookup returns the node stored for (keyType, key), if any.
func (t *KeyTree) Lookup(keyType, key string) (Node, bool) {
	n, ok := t.nodes[nodeKey{keyType: keyType, key: key}]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Len reports how many distinct nodes the tree holds.
func (t *KeyTree) Len() int {
	return len(t.nodes)
}

// Traverse returns every node in pre-order: a node before its children,
// siblings in insertion order. This is the order CAC reports reconciled
// state back to LP/PP (§8 scenario C).
func (t *KeyTree) Traverse() []Node {
	var out []Node
	t.visit(rootKey, &out)
	return out
}

func (t *KeyTree) visit(parent nodeKey, out *[]Node) {
	for _, child := range t.children[parent] {
		*out = append(*out, *child)
		t.visit(child.identity(), out)
	}
}

// Clear discards all nodes, returning the tree to empty for reuse by a
// subsequent phase run.
func (t *KeyTree) Clear() {
	t.nodes = make(map[nodeKey]*Node)
	t.children = make(map[nodeKey][]*Node)
}
