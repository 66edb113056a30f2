package node

import (
	"time"

	"loom-backend/internal/domain/shared"
)

// NodeCreatedEvent is raised when a node enters the graph locally.
type NodeCreatedEvent struct {
	shared.BaseEvent
	NodeID   string `json:"nodeId"`
	NodeType string `json:"nodeType"`
	Depth    int    `json:"depth"`
	Title    string `json:"title"`
}

// NewNodeCreatedEvent creates a creation event for the given node.
func NewNodeCreatedEvent(n *Node) NodeCreatedEvent {
	return NodeCreatedEvent{
		BaseEvent: shared.BaseEvent{
			AggregateID: n.ID().String(),
			EventType:   shared.TypeNodeCreated,
			Timestamp:   time.Now(),
			Version:     1,
		},
		NodeID:   n.ID().String(),
		NodeType: string(n.Type()),
		Depth:    n.Depth(),
		Title:    n.Title(),
	}
}

// NodeUpdatedEvent is raised when a node's annotations change.
type NodeUpdatedEvent struct {
	shared.BaseEvent
	NodeID string `json:"nodeId"`
	Title  string `json:"title"`
}

// NewNodeUpdatedEvent creates an update event for the given node.
func NewNodeUpdatedEvent(n *Node) NodeUpdatedEvent {
	return NodeUpdatedEvent{
		BaseEvent: shared.BaseEvent{
			AggregateID: n.ID().String(),
			EventType:   shared.TypeNodeUpdated,
			Timestamp:   time.Now(),
			Version:     1,
		},
		NodeID: n.ID().String(),
		Title:  n.Title(),
	}
}
