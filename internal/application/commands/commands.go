// Package commands contains command objects for the graph engine's write
// operations. Commands carry the intent to change state and validate their
// own data before any mutation runs.
package commands

import (
	"strings"
	"time"

	"loom-backend/internal/domain/node"
	"loom-backend/internal/domain/shared"
	"loom-backend/internal/errors"
)

const maxMessageLength = 50000

// AppendMessageCommand is the intent to append a chat message to a node.
type AppendMessageCommand struct {
	NodeID      shared.NodeID
	Role        node.Role
	Content     string
	RequestedAt time.Time
}

// NewAppendMessageCommand creates an AppendMessageCommand with validation.
func NewAppendMessageCommand(nodeID shared.NodeID, role node.Role, content string) (*AppendMessageCommand, error) {
	cmd := &AppendMessageCommand{
		NodeID:      nodeID,
		Role:        role,
		Content:     content,
		RequestedAt: time.Now(),
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Validate performs business validation on the command.
func (c *AppendMessageCommand) Validate() error {
	if c.NodeID.IsZero() {
		return errors.NewValidationError("node id is required")
	}
	if c.Role != node.RoleUser && c.Role != node.RoleAssistant {
		return errors.NewValidationError("role must be user or assistant")
	}
	if strings.TrimSpace(c.Content) == "" {
		return errors.NewValidationError("content is required")
	}
	if len(c.Content) > maxMessageLength {
		return errors.NewValidationError("content exceeds maximum length")
	}
	return nil
}

// CreateBranchCommand is the intent to fork a new branch from a parent node.
type CreateBranchCommand struct {
	ParentID    shared.NodeID
	Title       string
	Type        node.Type
	RequestedAt time.Time
}

// NewCreateBranchCommand creates a CreateBranchCommand with validation.
func NewCreateBranchCommand(parentID shared.NodeID, title string, nodeType node.Type) (*CreateBranchCommand, error) {
	cmd := &CreateBranchCommand{
		ParentID:    parentID,
		Title:       title,
		Type:        nodeType,
		RequestedAt: time.Now(),
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Validate performs business validation on the command.
func (c *CreateBranchCommand) Validate() error {
	if c.ParentID.IsZero() {
		return errors.NewValidationError("parent id is required")
	}
	if !node.ValidType(c.Type) {
		return errors.NewValidationError("unknown node type: " + string(c.Type))
	}
	return nil
}

// CreateSummaryCommand is the intent to merge several branches into one
// summary node. Instructions, when present, switch summarization from auto
// to manual mode.
type CreateSummaryCommand struct {
	SourceIDs    []shared.NodeID
	Instructions string
	RequestedAt  time.Time
}

// NewCreateSummaryCommand creates a CreateSummaryCommand with validation.
func NewCreateSummaryCommand(sourceIDs []shared.NodeID, instructions string) (*CreateSummaryCommand, error) {
	cmd := &CreateSummaryCommand{
		SourceIDs:    sourceIDs,
		Instructions: instructions,
		RequestedAt:  time.Now(),
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Validate performs business validation on the command.
func (c *CreateSummaryCommand) Validate() error {
	if len(c.SourceIDs) < 2 {
		return errors.NewValidationError("summary requires at least two source nodes")
	}
	return validateIDList(c.SourceIDs)
}

// CreateReferenceCommand is the intent to carry forward context from one or
// more existing nodes without full summarization.
type CreateReferenceCommand struct {
	SourceIDs   []shared.NodeID
	RequestedAt time.Time
}

// NewCreateReferenceCommand creates a CreateReferenceCommand with validation.
func NewCreateReferenceCommand(sourceIDs []shared.NodeID) (*CreateReferenceCommand, error) {
	cmd := &CreateReferenceCommand{
		SourceIDs:   sourceIDs,
		RequestedAt: time.Now(),
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Validate performs business validation on the command.
func (c *CreateReferenceCommand) Validate() error {
	if len(c.SourceIDs) < 1 {
		return errors.NewValidationError("reference requires at least one source node")
	}
	return validateIDList(c.SourceIDs)
}

// DeleteNodesCommand is the intent to remove nodes, optionally cascading to
// their structural descendants.
type DeleteNodesCommand struct {
	NodeIDs            []shared.NodeID
	IncludeDescendants bool
	RequestedAt        time.Time
}

// NewDeleteNodesCommand creates a DeleteNodesCommand with validation.
func NewDeleteNodesCommand(nodeIDs []shared.NodeID, includeDescendants bool) (*DeleteNodesCommand, error) {
	cmd := &DeleteNodesCommand{
		NodeIDs:            nodeIDs,
		IncludeDescendants: includeDescendants,
		RequestedAt:        time.Now(),
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Validate performs business validation on the command.
func (c *DeleteNodesCommand) Validate() error {
	if len(c.NodeIDs) == 0 {
		return errors.NewValidationError("at least one node id is required")
	}
	return validateIDList(c.NodeIDs)
}

func validateIDList(ids []shared.NodeID) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id.IsZero() {
			return errors.NewValidationError("node id cannot be empty")
		}
		if seen[id.String()] {
			return errors.NewValidationError("duplicate node id: " + id.String())
		}
		seen[id.String()] = true
	}
	return nil
}
