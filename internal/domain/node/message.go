package node

import (
	"time"

	"loom-backend/internal/domain/shared"
	"loom-backend/internal/errors"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message owned by exactly one node.
// Messages are immutable once appended; streamed assistant replies are
// accumulated outside the node and committed as one finished Message.
type Message struct {
	ID        shared.MessageID `json:"id"`
	Content   string           `json:"content"`
	Role      Role             `json:"role"`
	BranchID  shared.NodeID    `json:"branchId"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewMessage creates a message bound to its owning node.
func NewMessage(branchID shared.NodeID, role Role, content string) (Message, error) {
	if branchID.IsZero() {
		return Message{}, errors.NewValidationError("message must belong to a node")
	}
	if role != RoleUser && role != RoleAssistant {
		return Message{}, errors.NewValidationError("message role must be user or assistant")
	}

	return Message{
		ID:        shared.NewMessageID(),
		Content:   content,
		Role:      role,
		BranchID:  branchID,
		Timestamp: time.Now(),
	}, nil
}

// EstimateTokens approximates the token count of a text. Four characters
// per token tracks close enough to real tokenizers for budget purposes.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len([]rune(text)) + 3) / 4
}
