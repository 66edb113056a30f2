// Package node defines the conversation node entity, the only aggregate of
// the graph engine. A node owns a contiguous run of messages and is linked
// into the conversation DAG through its Kind.
package node

import (
	"sync"
	"time"

	"loom-backend/internal/domain/shared"
	"loom-backend/internal/errors"
)

// Type classifies what role a node plays in the conversation.
type Type string

const (
	TypeRoot        Type = "root"
	TypeMain        Type = "main"
	TypeTopic       Type = "topic"
	TypeExploration Type = "exploration"
	TypeQuestion    Type = "question"
	TypeSolution    Type = "solution"
	TypeSummary     Type = "summary"
	TypeReference   Type = "reference"
)

// ValidType reports whether t is one of the known node types.
func ValidType(t Type) bool {
	switch t {
	case TypeRoot, TypeMain, TypeTopic, TypeExploration, TypeQuestion, TypeSolution, TypeSummary, TypeReference:
		return true
	}
	return false
}

// Status is the lifecycle state of a node.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// ValidStatus reports whether s is one of the known statuses.
func ValidStatus(s Status) bool {
	return s == StatusActive || s == StatusPaused || s == StatusCompleted
}

// Node is a point in the conversation graph owning a contiguous run of
// messages. This is a rich domain model: external code mutates it only
// through methods so the structural invariants cannot be broken piecemeal.
// The same instance is shared between the repository, the engine, and the
// sync coordinator, so mutable state is guarded by an internal lock.
type Node struct {
	mu sync.RWMutex

	id       shared.NodeID
	kind     Kind
	nodeType Type
	status   Status
	depth    int
	title    string
	messages []Message

	// Derived annotations, owned by the mutation engine and the sync
	// coordinator. Never touched by context assembly.
	tokenCount   int
	summary      string
	keyPoints    []string
	isGenerating bool
	lastError    string

	createdAt time.Time
	updatedAt time.Time

	events []shared.DomainEvent
}

// NewRoot creates the root of a conversation graph.
func NewRoot(title string) *Node {
	n := newNode(shared.NewNodeID(), RootKind(), TypeRoot, title, 0)
	n.addEvent(NewNodeCreatedEvent(n))
	return n
}

// NewChild creates a node branching off a single parent. Depth is derived
// from the parent, never supplied by callers.
func NewChild(parent *Node, title string, nodeType Type) (*Node, error) {
	if parent == nil {
		return nil, errors.NewValidationError("parent node is required")
	}
	if !ValidType(nodeType) {
		return nil, errors.NewValidationError("unknown node type: " + string(nodeType))
	}

	kind, err := ChildKind(parent.ID())
	if err != nil {
		return nil, err
	}

	n := newNode(shared.NewNodeID(), kind, nodeType, title, parent.Depth()+1)
	n.addEvent(NewNodeCreatedEvent(n))
	return n, nil
}

// NewMerge creates a node derived from multiple sources (summary or
// reference). Depth is max(source depths) + 1.
func NewMerge(sources []*Node, title string, nodeType Type) (*Node, error) {
	if len(sources) == 0 {
		return nil, errors.NewValidationError("merge node requires at least one source")
	}
	if !ValidType(nodeType) {
		return nil, errors.NewValidationError("unknown node type: " + string(nodeType))
	}

	ids := make([]shared.NodeID, 0, len(sources))
	maxDepth := 0
	for _, src := range sources {
		if src == nil {
			return nil, errors.NewValidationError("merge source cannot be nil")
		}
		ids = append(ids, src.ID())
		if src.Depth() > maxDepth {
			maxDepth = src.Depth()
		}
	}

	kind, err := MergeKind(ids)
	if err != nil {
		return nil, err
	}

	n := newNode(shared.NewNodeID(), kind, nodeType, title, maxDepth+1)
	n.addEvent(NewNodeCreatedEvent(n))
	return n, nil
}

// Reconstruct rebuilds a node from normalized external data. No events are
// raised; the node already exists from the server's point of view.
func Reconstruct(
	id shared.NodeID,
	kind Kind,
	nodeType Type,
	status Status,
	depth int,
	title string,
	messages []Message,
	createdAt, updatedAt time.Time,
) (*Node, error) {
	if id.IsZero() {
		return nil, errors.NewValidationError("node ID is required")
	}
	if !ValidType(nodeType) {
		return nil, errors.NewValidationError("unknown node type: " + string(nodeType))
	}
	if !ValidStatus(status) {
		return nil, errors.NewValidationError("unknown node status: " + string(status))
	}
	if depth < 0 {
		return nil, errors.NewValidationError("depth cannot be negative")
	}

	n := newNode(id, kind, nodeType, title, depth)
	n.status = status
	n.createdAt = createdAt
	n.updatedAt = updatedAt
	for _, m := range messages {
		n.messages = append(n.messages, m)
		n.tokenCount += EstimateTokens(m.Content)
	}
	return n, nil
}

func newNode(id shared.NodeID, kind Kind, nodeType Type, title string, depth int) *Node {
	now := time.Now()
	return &Node{
		id:        id,
		kind:      kind,
		nodeType:  nodeType,
		status:    StatusActive,
		depth:     depth,
		title:     title,
		messages:  []Message{},
		createdAt: now,
		updatedAt: now,
		events:    []shared.DomainEvent{},
	}
}

// ID returns the node's unique identifier.
func (n *Node) ID() shared.NodeID { return n.id }

// Kind returns the node's structural variant.
func (n *Node) Kind() Kind { return n.kind }

// Type returns the node's conversational type.
func (n *Node) Type() Type { return n.nodeType }

// Status returns the node's lifecycle state.
func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// Depth returns the node's distance from its root.
func (n *Node) Depth() int { return n.depth }

// Title returns the node's display title.
func (n *Node) Title() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.title
}

// TokenCount returns the running token estimate for this node's messages.
func (n *Node) TokenCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.tokenCount
}

// Summary returns the node's summary annotation.
func (n *Node) Summary() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.summary
}

// IsGenerating reports whether an asynchronous generation is pending.
func (n *Node) IsGenerating() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.isGenerating
}

// LastError returns the last non-fatal sync failure recorded on this node.
func (n *Node) LastError() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastError
}

// CreatedAt returns when the node was created.
func (n *Node) CreatedAt() time.Time { return n.createdAt }

// UpdatedAt returns when the node was last updated.
func (n *Node) UpdatedAt() time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.updatedAt
}

// Messages returns a copy of the node's message list.
func (n *Node) Messages() []Message {
	n.mu.RLock()
	defer n.mu.RUnlock()

	messages := make([]Message, len(n.messages))
	copy(messages, n.messages)
	return messages
}

// MessageCount returns the number of messages without copying.
func (n *Node) MessageCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.messages)
}

// HasMessage reports whether a message with the given id was already
// appended. Used to keep remote stream completion idempotent.
func (n *Node) HasMessage(id shared.MessageID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.hasMessage(id)
}

func (n *Node) hasMessage(id shared.MessageID) bool {
	for _, m := range n.messages {
		if m.ID.Equals(id) {
			return true
		}
	}
	return false
}

// KeyPoints returns a copy of the node's key points.
func (n *Node) KeyPoints() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	points := make([]string, len(n.keyPoints))
	copy(points, n.keyPoints)
	return points
}

// AppendMessage appends a message owned by this node.
func (n *Node) AppendMessage(m Message) error {
	if !m.BranchID.Equals(n.id) {
		return errors.NewValidationError("message belongs to a different node")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.hasMessage(m.ID) {
		return nil // re-delivery, nothing to do
	}
	n.messages = append(n.messages, m)
	n.tokenCount += EstimateTokens(m.Content)
	n.touch()
	return nil
}

// SetStatus transitions the node's lifecycle state.
func (n *Node) SetStatus(status Status) error {
	if !ValidStatus(status) {
		return errors.NewValidationError("unknown node status: " + string(status))
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status == status {
		return nil
	}
	n.status = status
	n.touch()
	return nil
}

// SetAnnotations replaces summary, key points, and token count in one step.
// Used when a summary node is seeded from its sources.
func (n *Node) SetAnnotations(summary string, keyPoints []string, tokenCount int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.summary = summary
	n.keyPoints = make([]string, len(keyPoints))
	copy(n.keyPoints, keyPoints)
	n.tokenCount = tokenCount
	n.touch()
}

// StartGenerating marks an asynchronous generation as pending.
func (n *Node) StartGenerating() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.isGenerating = true
	n.touch()
}

// FinishGenerating clears the pending-generation flag.
func (n *Node) FinishGenerating() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.isGenerating = false
	n.touch()
}

// RecordSyncError stores a non-fatal remote failure without touching any
// other state; context assembly keeps working from local data.
func (n *Node) RecordSyncError(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastError = msg
}

// ClearSyncError resets the non-fatal error field.
func (n *Node) ClearSyncError() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastError = ""
}

// MergeAnnotationsFrom folds the annotation fields of a remote rendition of
// this node into the local one. Messages are deliberately left alone so a
// re-delivered remote event can never clobber locally appended messages.
func (n *Node) MergeAnnotationsFrom(remote *Node) error {
	if remote == nil {
		return errors.NewValidationError("remote node cannot be nil")
	}
	if !remote.ID().Equals(n.id) {
		return errors.NewValidationError("cannot merge annotations from a different node")
	}

	title := remote.Title()
	summary := remote.Summary()
	keyPoints := remote.KeyPoints()
	status := remote.Status()
	generating := remote.IsGenerating()

	n.mu.Lock()
	if title != "" {
		n.title = title
	}
	if summary != "" {
		n.summary = summary
	}
	if len(keyPoints) > 0 {
		n.keyPoints = keyPoints
	}
	n.status = status
	n.isGenerating = generating
	n.touch()
	n.mu.Unlock()

	n.addEvent(NewNodeUpdatedEvent(n))
	return nil
}

// Clone returns a deep copy, used by history snapshots. Uncommitted events
// are not carried over.
func (n *Node) Clone() *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()

	clone := &Node{
		id:           n.id,
		kind:         Kind{parent: n.kind.parent, sources: n.kind.SourceIDs()},
		nodeType:     n.nodeType,
		status:       n.status,
		depth:        n.depth,
		title:        n.title,
		messages:     make([]Message, len(n.messages)),
		tokenCount:   n.tokenCount,
		summary:      n.summary,
		keyPoints:    make([]string, len(n.keyPoints)),
		isGenerating: n.isGenerating,
		lastError:    n.lastError,
		createdAt:    n.createdAt,
		updatedAt:    n.updatedAt,
		events:       []shared.DomainEvent{},
	}
	copy(clone.messages, n.messages)
	copy(clone.keyPoints, n.keyPoints)
	return clone
}

// GetUncommittedEvents returns all uncommitted domain events.
func (n *Node) GetUncommittedEvents() []shared.DomainEvent {
	n.mu.RLock()
	defer n.mu.RUnlock()

	events := make([]shared.DomainEvent, len(n.events))
	copy(events, n.events)
	return events
}

// MarkEventsAsCommitted clears the uncommitted events.
func (n *Node) MarkEventsAsCommitted() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = []shared.DomainEvent{}
}

func (n *Node) addEvent(event shared.DomainEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *Node) touch() {
	n.updatedAt = time.Now()
}
