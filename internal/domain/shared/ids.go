// Package shared holds the value objects and event contracts used by every
// domain package.
package shared

import (
	"strings"

	"github.com/google/uuid"

	"loom-backend/internal/errors"
)

// NodeID uniquely identifies a conversation node. IDs are assigned at
// creation, never reassigned, and never reused.
type NodeID struct {
	value string
}

// NewNodeID creates a new random NodeID.
func NewNodeID() NodeID {
	return NodeID{value: uuid.New().String()}
}

// ParseNodeID creates a NodeID from its string form with validation.
func ParseNodeID(s string) (NodeID, error) {
	if s == "" {
		return NodeID{}, errors.NewValidationError("node ID cannot be empty")
	}
	if _, err := uuid.Parse(strings.TrimSpace(s)); err != nil {
		return NodeID{}, errors.NewValidationError("node ID must be a valid UUID")
	}
	return NodeID{value: strings.TrimSpace(s)}, nil
}

// String returns the string representation.
func (id NodeID) String() string {
	return id.value
}

// Equals compares two NodeIDs by value.
func (id NodeID) Equals(other NodeID) bool {
	return id.value == other.value
}

// IsZero reports whether the ID is the zero value.
func (id NodeID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON serializes the ID as a quoted string.
func (id NodeID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.value + `"`), nil
}

// UnmarshalJSON parses a quoted string into a validated ID.
func (id *NodeID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseNodeID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MessageID uniquely identifies a message within its owning node.
type MessageID struct {
	value string
}

// NewMessageID creates a new random MessageID.
func NewMessageID() MessageID {
	return MessageID{value: uuid.New().String()}
}

// ParseMessageID creates a MessageID from its string form. Remote peers may
// assign non-UUID message ids, so only emptiness is rejected.
func ParseMessageID(s string) (MessageID, error) {
	if strings.TrimSpace(s) == "" {
		return MessageID{}, errors.NewValidationError("message ID cannot be empty")
	}
	return MessageID{value: strings.TrimSpace(s)}, nil
}

// String returns the string representation.
func (id MessageID) String() string {
	return id.value
}

// Equals compares two MessageIDs by value.
func (id MessageID) Equals(other MessageID) bool {
	return id.value == other.value
}

// IsZero reports whether the ID is the zero value.
func (id MessageID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON serializes the ID as a quoted string.
func (id MessageID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.value + `"`), nil
}

// UnmarshalJSON parses a quoted string into a validated ID.
func (id *MessageID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseMessageID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
