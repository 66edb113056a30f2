// Package repository defines the persistence port for the conversation
// graph. The engine talks to this interface only; the single canonical
// implementation lives in the memory subpackage.
package repository

import (
	"loom-backend/internal/domain/node"
	"loom-backend/internal/domain/shared"
)

// NodeRepository is the canonical store of all conversation nodes and the
// single source of truth for graph structure and per-node message lists.
//
// Upsert is idempotent: inserting a node whose id already exists merges
// annotation fields and never overwrites the existing node's messages, so
// at-least-once re-delivery of remote events is always safe.
type NodeRepository interface {
	// Get returns the node with the given id.
	Get(id shared.NodeID) (*node.Node, bool)

	// All returns every node ordered by (createdAt, id) for determinism.
	All() []*node.Node

	// Count returns the number of stored nodes.
	Count() int

	// Upsert inserts a new node or merges annotations into an existing one.
	Upsert(n *node.Node) error

	// Remove deletes the given ids, returning the ids actually removed.
	// The current-node pointer is cleared when it is part of the removal;
	// callers re-resolve it via ResolveCurrent.
	Remove(ids []shared.NodeID) []shared.NodeID

	// ChildrenOf returns nodes whose parent is id or whose source list
	// contains id, ordered by (createdAt, id).
	ChildrenOf(id shared.NodeID) []*node.Node

	// Current returns the active node pointer, if set.
	Current() (shared.NodeID, bool)

	// SetCurrent moves the active node pointer to an existing node.
	SetCurrent(id shared.NodeID) error

	// ClearCurrent unsets the active node pointer.
	ClearCurrent()

	// ResolveCurrent picks the node that should become current when the
	// previous one is gone: the first remaining root by (createdAt, id),
	// else the first remaining node, else nothing.
	ResolveCurrent() (shared.NodeID, bool)

	// Replace swaps the entire node set and current pointer wholesale.
	// Used by history restoration; no per-node merge semantics apply.
	Replace(nodes []*node.Node, current shared.NodeID)
}
