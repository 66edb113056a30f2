// Package graph holds the structural services of the conversation DAG:
// traversal primitives, invariant validation, and context assembly. All of
// them read the repository and never mutate it.
package graph

import (
	"loom-backend/internal/domain/node"
	"loom-backend/internal/domain/shared"
	"loom-backend/internal/errors"
	"loom-backend/internal/repository"
)

// ParentChain walks the single-parent lineage from id up to its root and
// returns the chain ordered root-to-target. A merge node has no parent, so
// its chain is just itself.
func ParentChain(repo repository.NodeRepository, id shared.NodeID) ([]*node.Node, error) {
	target, ok := repo.Get(id)
	if !ok {
		return nil, errors.NewNotFoundError("node").WithResource(id.String())
	}

	chain := []*node.Node{target}
	seen := map[string]bool{id.String(): true}

	for current := target; ; {
		parentID, hasParent := current.Kind().ParentID()
		if !hasParent {
			break
		}
		if seen[parentID.String()] {
			// A cycle cannot be built through the public operations;
			// reaching one means upstream state is corrupt.
			return nil, errors.NewInternalError("cycle detected in parent chain", nil).
				WithResource(parentID.String())
		}
		parent, ok := repo.Get(parentID)
		if !ok {
			return nil, errors.NewInternalError("dangling parent reference", nil).
				WithResource(parentID.String())
		}
		seen[parentID.String()] = true
		chain = append([]*node.Node{parent}, chain...)
		current = parent
	}

	return chain, nil
}

// AncestorSet returns the ids of a node and all of its ancestors. For child
// nodes that is the parent chain; a merge node contributes its own source
// sets transitively.
func AncestorSet(repo repository.NodeRepository, id shared.NodeID) (map[string]bool, error) {
	set := make(map[string]bool)
	if err := collectAncestors(repo, id, set); err != nil {
		return nil, err
	}
	return set, nil
}

func collectAncestors(repo repository.NodeRepository, id shared.NodeID, set map[string]bool) error {
	if set[id.String()] {
		return nil
	}
	n, ok := repo.Get(id)
	if !ok {
		return errors.NewNotFoundError("node").WithResource(id.String())
	}
	set[id.String()] = true

	for _, ref := range n.Kind().References() {
		if err := collectAncestors(repo, ref, set); err != nil {
			return err
		}
	}
	return nil
}

// OrderedAncestors returns a node and its ancestors in deterministic
// root-first order: the parent chain for child nodes, and for merge nodes
// the per-source orders concatenated with first-appearance deduplication,
// followed by the node itself.
func OrderedAncestors(repo repository.NodeRepository, id shared.NodeID) ([]*node.Node, error) {
	seen := make(map[string]bool)
	var ordered []*node.Node
	if err := collectOrdered(repo, id, seen, &ordered); err != nil {
		return nil, err
	}
	return ordered, nil
}

func collectOrdered(repo repository.NodeRepository, id shared.NodeID, seen map[string]bool, out *[]*node.Node) error {
	if seen[id.String()] {
		return nil
	}
	n, ok := repo.Get(id)
	if !ok {
		return errors.NewNotFoundError("node").WithResource(id.String())
	}

	if n.Kind().IsMerge() {
		for _, src := range n.Kind().SourceIDs() {
			if err := collectOrdered(repo, src, seen, out); err != nil {
				return err
			}
		}
	} else if parentID, hasParent := n.Kind().ParentID(); hasParent {
		if err := collectOrdered(repo, parentID, seen, out); err != nil {
			return err
		}
	}

	if !seen[id.String()] {
		seen[id.String()] = true
		*out = append(*out, n)
	}
	return nil
}

// Descendants computes the descendant closure of the seed ids via repeated
// ChildrenOf expansion (BFS). The seeds themselves are not included.
func Descendants(repo repository.NodeRepository, seeds []shared.NodeID) []shared.NodeID {
	visited := make(map[string]bool, len(seeds))
	for _, id := range seeds {
		visited[id.String()] = true
	}

	var closure []shared.NodeID
	queue := append([]shared.NodeID(nil), seeds...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, child := range repo.ChildrenOf(current) {
			if visited[child.ID().String()] {
				continue
			}
			visited[child.ID().String()] = true
			closure = append(closure, child.ID())
			queue = append(queue, child.ID())
		}
	}
	return closure
}
