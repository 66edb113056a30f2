package node

import (
	"loom-backend/internal/domain/shared"
	"loom-backend/internal/errors"
)

// Kind is the structural variant of a node, resolved once at construction.
// Exactly one of the three shapes holds: a root has neither parent nor
// sources, a child has exactly one parent, and a merge has a non-empty
// ordered source list. The shape never changes after creation.
type Kind struct {
	parent  shared.NodeID
	sources []shared.NodeID
}

// RootKind creates the kind for a root node.
func RootKind() Kind {
	return Kind{}
}

// ChildKind creates the kind for a node with a single parent.
func ChildKind(parent shared.NodeID) (Kind, error) {
	if parent.IsZero() {
		return Kind{}, errors.NewValidationError("parent ID is required for a child node")
	}
	return Kind{parent: parent}, nil
}

// MergeKind creates the kind for a node derived from multiple sources.
// Order is preserved; it determines context assembly order.
func MergeKind(sources []shared.NodeID) (Kind, error) {
	if len(sources) == 0 {
		return Kind{}, errors.NewValidationError("merge node requires at least one source")
	}
	seen := make(map[string]bool, len(sources))
	copied := make([]shared.NodeID, 0, len(sources))
	for _, id := range sources {
		if id.IsZero() {
			return Kind{}, errors.NewValidationError("merge source ID cannot be empty")
		}
		if seen[id.String()] {
			return Kind{}, errors.NewValidationError("duplicate merge source: " + id.String())
		}
		seen[id.String()] = true
		copied = append(copied, id)
	}
	return Kind{sources: copied}, nil
}

// IsRoot reports whether the node has neither parent nor sources.
func (k Kind) IsRoot() bool {
	return k.parent.IsZero() && len(k.sources) == 0
}

// IsChild reports whether the node descends from a single parent.
func (k Kind) IsChild() bool {
	return !k.parent.IsZero()
}

// IsMerge reports whether the node derives from multiple sources.
func (k Kind) IsMerge() bool {
	return len(k.sources) > 0
}

// ParentID returns the parent reference for child nodes.
func (k Kind) ParentID() (shared.NodeID, bool) {
	return k.parent, !k.parent.IsZero()
}

// SourceIDs returns a copy of the ordered source references.
func (k Kind) SourceIDs() []shared.NodeID {
	if len(k.sources) == 0 {
		return nil
	}
	sources := make([]shared.NodeID, len(k.sources))
	copy(sources, k.sources)
	return sources
}

// References returns every node referenced by this kind, parent or source.
func (k Kind) References() []shared.NodeID {
	if k.IsChild() {
		return []shared.NodeID{k.parent}
	}
	return k.SourceIDs()
}

// RefersTo reports whether the kind references the given node.
func (k Kind) RefersTo(id shared.NodeID) bool {
	if k.parent.Equals(id) && !k.parent.IsZero() {
		return true
	}
	for _, s := range k.sources {
		if s.Equals(id) {
			return true
		}
	}
	return false
}
