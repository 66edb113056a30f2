// Package memory provides the in-memory NodeRepository implementation.
// The RWMutex guards the node map and the current pointer; the nodes it
// hands out guard their own mutable state, and the engine and the sync
// coordinator serialize their compound operations on top of both.
package memory

import (
	"sort"
	"sync"

	"loom-backend/internal/domain/node"
	"loom-backend/internal/domain/shared"
	"loom-backend/internal/errors"
	"loom-backend/internal/repository"
)

// NodeRepository is the canonical in-memory node store.
type NodeRepository struct {
	mu      sync.RWMutex
	nodes   map[string]*node.Node
	current shared.NodeID
}

// NewNodeRepository creates an empty store.
func NewNodeRepository() *NodeRepository {
	return &NodeRepository{
		nodes: make(map[string]*node.Node),
	}
}

var _ repository.NodeRepository = (*NodeRepository)(nil)

// Get returns the node with the given id.
func (r *NodeRepository) Get(id shared.NodeID) (*node.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[id.String()]
	return n, ok
}

// All returns every node ordered by (createdAt, id).
func (r *NodeRepository) All() []*node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortNodes(r.nodes)
}

// Count returns the number of stored nodes.
func (r *NodeRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.nodes)
}

// Upsert inserts a new node, or merges annotations into the existing node
// with the same id. Messages of an existing node are never overwritten here.
func (r *NodeRepository) Upsert(n *node.Node) error {
	if n == nil {
		return errors.NewValidationError("node cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.nodes[n.ID().String()]
	if !ok {
		r.nodes[n.ID().String()] = n
		return nil
	}

	return existing.MergeAnnotationsFrom(n)
}

// Remove deletes the given ids and reports which were actually present.
func (r *NodeRepository) Remove(ids []shared.NodeID) []shared.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := make([]shared.NodeID, 0, len(ids))
	for _, id := range ids {
		if _, ok := r.nodes[id.String()]; !ok {
			continue
		}
		delete(r.nodes, id.String())
		removed = append(removed, id)
		if r.current.Equals(id) {
			r.current = shared.NodeID{}
		}
	}
	return removed
}

// ChildrenOf returns nodes whose parent is id or whose sources contain id.
func (r *NodeRepository) ChildrenOf(id shared.NodeID) []*node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	children := make(map[string]*node.Node)
	for key, n := range r.nodes {
		if n.Kind().RefersTo(id) {
			children[key] = n
		}
	}
	return sortNodes(children)
}

// Current returns the active node pointer, if set.
func (r *NodeRepository) Current() (shared.NodeID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.current, !r.current.IsZero()
}

// SetCurrent moves the active node pointer to an existing node.
func (r *NodeRepository) SetCurrent(id shared.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[id.String()]; !ok {
		return errors.NewNotFoundError("node").WithResource(id.String())
	}
	r.current = id
	return nil
}

// ClearCurrent unsets the active node pointer.
func (r *NodeRepository) ClearCurrent() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.current = shared.NodeID{}
}

// ResolveCurrent picks the first remaining root by (createdAt, id), falling
// back to the first remaining node, for deterministic re-pointing after a
// delete removes the active node.
func (r *NodeRepository) ResolveCurrent() (shared.NodeID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := sortNodes(r.nodes)
	if len(ordered) == 0 {
		return shared.NodeID{}, false
	}
	for _, n := range ordered {
		if n.Kind().IsRoot() {
			return n.ID(), true
		}
	}
	return ordered[0].ID(), true
}

// Replace swaps the entire node set and current pointer wholesale.
func (r *NodeRepository) Replace(nodes []*node.Node, current shared.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodes = make(map[string]*node.Node, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		r.nodes[n.ID().String()] = n
	}
	if _, ok := r.nodes[current.String()]; ok {
		r.current = current
	} else {
		r.current = shared.NodeID{}
	}
}

func sortNodes(nodes map[string]*node.Node) []*node.Node {
	ordered := make([]*node.Node, 0, len(nodes))
	for _, n := range nodes {
		ordered = append(ordered, n)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt().Equal(ordered[j].CreatedAt()) {
			return ordered[i].CreatedAt().Before(ordered[j].CreatedAt())
		}
		return ordered[i].ID().String() < ordered[j].ID().String()
	})
	return ordered
}
