package graph

import (
	"fmt"

	"loom-backend/internal/domain/node"
	"loom-backend/internal/domain/shared"
	"loom-backend/internal/errors"
	"loom-backend/internal/repository"
)

// ValidationService centralizes graph invariant checks. Mutations validate
// references before touching the repository; the full-graph check exists for
// tests and for loud failure when an integrity bug slips through.
type ValidationService struct{}

// NewValidationService creates a validation service.
func NewValidationService() *ValidationService {
	return &ValidationService{}
}

// ValidateReferences checks that every node referenced by kind exists.
// Dangling references are rejected before any mutation is applied.
func (s *ValidationService) ValidateReferences(repo repository.NodeRepository, kind node.Kind) error {
	for _, ref := range kind.References() {
		if _, ok := repo.Get(ref); !ok {
			return errors.NewNotFoundError("node").WithResource(ref.String())
		}
	}
	return nil
}

// ValidateExisting checks that every given id names a stored node.
func (s *ValidationService) ValidateExisting(repo repository.NodeRepository, ids []shared.NodeID) error {
	for _, id := range ids {
		if _, ok := repo.Get(id); !ok {
			return errors.NewNotFoundError("node").WithResource(id.String())
		}
	}
	return nil
}

// ValidateGraph verifies the structural invariants over the whole store:
// referential integrity and the depth rule. A failure here indicates a logic
// error upstream, so it is returned as INTERNAL, never repaired silently.
func (s *ValidationService) ValidateGraph(repo repository.NodeRepository) error {
	for _, n := range repo.All() {
		kind := n.Kind()

		for _, ref := range kind.References() {
			if _, ok := repo.Get(ref); !ok {
				return errors.NewInternalError(
					fmt.Sprintf("node %s references missing node %s", n.ID(), ref), nil)
			}
		}

		expected, err := s.expectedDepth(repo, n)
		if err != nil {
			return err
		}
		if n.Depth() != expected {
			return errors.NewInternalError(
				fmt.Sprintf("node %s has depth %d, expected %d", n.ID(), n.Depth(), expected), nil)
		}
	}
	return nil
}

func (s *ValidationService) expectedDepth(repo repository.NodeRepository, n *node.Node) (int, error) {
	kind := n.Kind()

	switch {
	case kind.IsRoot():
		return 0, nil
	case kind.IsChild():
		parentID, _ := kind.ParentID()
		parent, ok := repo.Get(parentID)
		if !ok {
			return 0, errors.NewInternalError("dangling parent reference", nil).
				WithResource(parentID.String())
		}
		return parent.Depth() + 1, nil
	default:
		maxDepth := 0
		for _, srcID := range kind.SourceIDs() {
			src, ok := repo.Get(srcID)
			if !ok {
				return 0, errors.NewInternalError("dangling source reference", nil).
					WithResource(srcID.String())
			}
			if src.Depth() > maxDepth {
				maxDepth = src.Depth()
			}
		}
		return maxDepth + 1, nil
	}
}
