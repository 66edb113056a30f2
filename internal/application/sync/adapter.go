// Package sync reconciles server-pushed graph events with the local
// repository. The coordinator applies normalized events; the adapter is the
// anti-corruption boundary that turns the backend's loosely shaped payloads
// into them.
package sync

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"loom-backend/internal/errors"
)

// EventKind enumerates the remote event types the coordinator understands.
type EventKind string

const (
	EventNodeCreated EventKind = "node_created"
	EventNodeUpdated EventKind = "node_updated"
	EventNodeDeleted EventKind = "node_deleted"
	EventStreamStart EventKind = "stream_start"
	EventStreamChunk EventKind = "stream_chunk"
	EventStreamEnd   EventKind = "stream_end"
	EventStreamError EventKind = "stream_error"
)

// MessagePayload is a normalized remote message.
type MessagePayload struct {
	ID        string `validate:"required"`
	Content   string
	Role      string `validate:"required,oneof=user assistant"`
	Timestamp time.Time
}

// NodePayload is a normalized remote node. Absent fields stay marked as
// such instead of being defaulted away: Depth is -1 when the backend
// omitted it, Status is empty, and HasGenerating records whether the event
// carried the flag at all. The coordinator resolves the gaps against the
// local graph so a sparse re-delivery cannot reset local state.
type NodePayload struct {
	ID            string   `validate:"required,uuid"`
	ParentID      string   `validate:"omitempty,uuid"`
	SourceIDs     []string `validate:"dive,uuid"`
	Type          string   `validate:"required,oneof=root main topic exploration question solution summary reference"`
	Status        string   `validate:"omitempty,oneof=active paused completed"`
	Depth         int
	Title         string
	Summary       string
	KeyPoints     []string
	IsGenerating  bool
	HasGenerating bool
	Messages      []MessagePayload `validate:"dive"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Event is a fully normalized remote event, safe to hand to the coordinator.
type Event struct {
	Kind      EventKind
	Node      *NodePayload // node_created, node_updated
	NodeID    string       // all other kinds
	Text      string       // stream_chunk
	FullText  string       // stream_end
	MessageID string       // stream_end
	ErrorMsg  string       // stream_error
}

// Adapter normalizes raw backend payloads. Field names arrive in varying
// casings and shapes depending on which backend component emitted them, so
// every field is probed under its known aliases; structural fields get
// shape-derived defaults while volatile fields stay marked absent.
type Adapter struct {
	validate *validator.Validate
}

// NewAdapter creates the boundary adapter.
func NewAdapter() *Adapter {
	return &Adapter{validate: validator.New()}
}

// Normalize decodes a raw remote event into a validated Event.
func (a *Adapter) Normalize(raw []byte) (Event, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil {
		return Event{}, errors.NewValidationError("malformed remote event: " + err.Error())
	}

	kind := EventKind(pickString(outer, "type", "event", "kind", "eventType", "event_type"))
	switch kind {
	case EventNodeCreated, EventNodeUpdated:
		return a.normalizeNodeEvent(kind, outer)
	case EventNodeDeleted:
		return a.normalizeRefEvent(kind, outer)
	case EventStreamStart, EventStreamChunk, EventStreamEnd, EventStreamError:
		return a.normalizeStreamEvent(kind, outer)
	case "":
		return Event{}, errors.NewValidationError("remote event missing type")
	default:
		return Event{}, errors.NewValidationError("unknown remote event type: " + string(kind))
	}
}

func (a *Adapter) normalizeNodeEvent(kind EventKind, outer map[string]json.RawMessage) (Event, error) {
	body := payloadOf(outer, "node", "payload", "data")

	p := &NodePayload{
		ID:        pickString(body, "id", "nodeId", "node_id", "NodeID"),
		ParentID:  pickString(body, "parentId", "parent_id", "ParentID", "parent"),
		SourceIDs: pickStrings(body, "sourceNodeIds", "source_node_ids", "sourceIds", "source_ids", "sources", "parentIds"),
		Type:      pickString(body, "type", "nodeType", "node_type"),
		Status:    pickString(body, "status", "state"),
		Title:     pickString(body, "title", "name", "label"),
		Summary:   pickString(body, "summary"),
		KeyPoints: pickStrings(body, "keyPoints", "key_points"),
	}
	p.IsGenerating, p.HasGenerating = pickBool(body, "isGenerating", "is_generating", "generating")

	depth, hasDepth := pickInt(body, "depth")
	if hasDepth {
		p.Depth = depth
	} else {
		p.Depth = -1
	}

	// The type is structural and gets a shape-derived default; status and
	// the generating flag are volatile and stay absent for the coordinator
	// to resolve against the local node.
	if p.Type == "" {
		if len(p.SourceIDs) > 0 {
			p.Type = "summary"
		} else if p.ParentID != "" {
			p.Type = "topic"
		} else {
			p.Type = "root"
		}
	}

	p.CreatedAt = pickTime(body, "createdAt", "created_at")
	p.UpdatedAt = pickTime(body, "updatedAt", "updated_at")
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	for _, rawMsg := range pickList(body, "messages") {
		m := MessagePayload{
			ID:        pickString(rawMsg, "id", "messageId", "message_id"),
			Content:   pickString(rawMsg, "content", "text", "body"),
			Role:      pickString(rawMsg, "role", "author"),
			Timestamp: pickTime(rawMsg, "timestamp", "createdAt", "created_at"),
		}
		if m.Role == "" {
			m.Role = "assistant"
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = p.CreatedAt
		}
		p.Messages = append(p.Messages, m)
	}

	if err := a.validate.Struct(p); err != nil {
		return Event{}, errors.NewValidationError("invalid node payload: " + err.Error())
	}
	if p.ParentID != "" && len(p.SourceIDs) > 0 {
		return Event{}, errors.NewValidationError("node payload carries both a parent and sources")
	}

	return Event{Kind: kind, Node: p, NodeID: p.ID}, nil
}

func (a *Adapter) normalizeRefEvent(kind EventKind, outer map[string]json.RawMessage) (Event, error) {
	body := payloadOf(outer, "payload", "data")
	id := pickString(body, "nodeId", "node_id", "id")
	if id == "" {
		id = pickString(outer, "nodeId", "node_id", "id")
	}
	if id == "" {
		return Event{}, errors.NewValidationError("remote event missing node id")
	}
	return Event{Kind: kind, NodeID: id}, nil
}

func (a *Adapter) normalizeStreamEvent(kind EventKind, outer map[string]json.RawMessage) (Event, error) {
	body := payloadOf(outer, "payload", "data")
	merged := outer
	if len(body) > 0 {
		merged = body
	}

	ev := Event{
		Kind:      kind,
		NodeID:    pickString(merged, "nodeId", "node_id", "id"),
		Text:      pickString(merged, "text", "chunk", "delta", "content"),
		FullText:  pickString(merged, "fullText", "full_text", "content", "text"),
		MessageID: pickString(merged, "messageId", "message_id"),
		ErrorMsg:  pickString(merged, "error", "message", "reason"),
	}
	if ev.NodeID == "" {
		ev.NodeID = pickString(outer, "nodeId", "node_id")
	}
	if ev.NodeID == "" {
		return Event{}, errors.NewValidationError("stream event missing node id")
	}
	if kind == EventStreamEnd && ev.MessageID == "" {
		return Event{}, errors.NewValidationError("stream_end missing message id")
	}
	return ev, nil
}

// payloadOf returns the first nested object found under the given keys, or
// the outer object itself for flat payloads.
func payloadOf(outer map[string]json.RawMessage, keys ...string) map[string]json.RawMessage {
	for _, key := range keys {
		if raw, ok := outer[key]; ok {
			var nested map[string]json.RawMessage
			if err := json.Unmarshal(raw, &nested); err == nil {
				return nested
			}
		}
	}
	return outer
}

func pickString(m map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		if raw, ok := m[key]; ok {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil && s != "" {
				return s
			}
		}
	}
	return ""
}

func pickStrings(m map[string]json.RawMessage, keys ...string) []string {
	for _, key := range keys {
		if raw, ok := m[key]; ok {
			var list []string
			if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
				return list
			}
		}
	}
	return nil
}

func pickBool(m map[string]json.RawMessage, keys ...string) (bool, bool) {
	for _, key := range keys {
		if raw, ok := m[key]; ok {
			var b bool
			if err := json.Unmarshal(raw, &b); err == nil {
				return b, true
			}
		}
	}
	return false, false
}

func pickInt(m map[string]json.RawMessage, keys ...string) (int, bool) {
	for _, key := range keys {
		if raw, ok := m[key]; ok {
			var n int
			if err := json.Unmarshal(raw, &n); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func pickTime(m map[string]json.RawMessage, keys ...string) time.Time {
	for _, key := range keys {
		if raw, ok := m[key]; ok {
			var t time.Time
			if err := json.Unmarshal(raw, &t); err == nil && !t.IsZero() {
				return t
			}
		}
	}
	return time.Time{}
}

func pickList(m map[string]json.RawMessage, keys ...string) []map[string]json.RawMessage {
	for _, key := range keys {
		if raw, ok := m[key]; ok {
			var list []map[string]json.RawMessage
			if err := json.Unmarshal(raw, &list); err == nil {
				return list
			}
		}
	}
	return nil
}
