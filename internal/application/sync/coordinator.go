package sync

import (
	"strings"
	stdsync "sync"

	"go.uber.org/zap"

	"loom-backend/internal/domain/graph"
	"loom-backend/internal/domain/node"
	"loom-backend/internal/domain/shared"
	"loom-backend/internal/errors"
	"loom-backend/internal/repository"
)

// Coordinator applies externally sourced events to the repository in
// delivery order. Application is idempotent, so the at-least-once transport
// can re-deliver any event safely. Remote mutations bypass the history
// manager entirely; undo only reverts local user actions.
type Coordinator struct {
	repo      repository.NodeRepository
	adapter   *Adapter
	validator *graph.ValidationService
	logger    *zap.Logger

	// The transport delivers events from concurrent request goroutines;
	// the mutex restores the engine's serialized delivery order.
	mu stdsync.Mutex

	// Per-node staging buffers for in-flight token streams. Text lands
	// here until stream_end commits one finished message, so a partial
	// assistant reply is never visible in a node's message list.
	staging map[string]*strings.Builder
}

// NewCoordinator creates the sync coordinator.
func NewCoordinator(repo repository.NodeRepository, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		repo:      repo,
		adapter:   NewAdapter(),
		validator: graph.NewValidationService(),
		logger:    logger,
		staging:   make(map[string]*strings.Builder),
	}
}

// ApplyRaw is the single entry point for the transport layer: it normalizes
// a raw backend payload and applies the resulting event.
func (c *Coordinator) ApplyRaw(raw []byte) error {
	ev, err := c.adapter.Normalize(raw)
	if err != nil {
		return err
	}
	return c.Apply(ev)
}

// Apply dispatches one normalized remote event.
func (c *Coordinator) Apply(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case EventNodeCreated, EventNodeUpdated:
		return c.applyNodeUpsert(ev)
	case EventNodeDeleted:
		return c.applyNodeDeleted(ev)
	case EventStreamStart:
		return c.applyStreamStart(ev)
	case EventStreamChunk:
		return c.applyStreamChunk(ev)
	case EventStreamEnd:
		return c.applyStreamEnd(ev)
	case EventStreamError:
		return c.applyStreamError(ev)
	default:
		return errors.NewValidationError("unknown remote event kind: " + string(ev.Kind))
	}
}

func (c *Coordinator) applyNodeUpsert(ev Event) error {
	n, err := c.buildNode(ev.Node)
	if err != nil {
		return err
	}
	if err := c.validator.ValidateReferences(c.repo, n.Kind()); err != nil {
		return err
	}
	if err := c.repo.Upsert(n); err != nil {
		return err
	}
	c.logger.Debug("applied remote node event",
		zap.String("kind", string(ev.Kind)),
		zap.String("nodeId", n.ID().String()))
	return nil
}

func (c *Coordinator) applyNodeDeleted(ev Event) error {
	id, err := shared.ParseNodeID(ev.NodeID)
	if err != nil {
		return err
	}
	if _, ok := c.repo.Get(id); !ok {
		return nil // already gone, re-delivery
	}

	seeds := []shared.NodeID{id}
	deletion := append(seeds, graph.Descendants(c.repo, seeds)...)
	removed := c.repo.Remove(deletion)
	for _, rid := range removed {
		delete(c.staging, rid.String())
	}

	if _, ok := c.repo.Current(); !ok {
		if next, found := c.repo.ResolveCurrent(); found {
			if err := c.repo.SetCurrent(next); err != nil {
				return err
			}
		}
	}
	c.logger.Info("applied remote delete",
		zap.String("nodeId", id.String()),
		zap.Int("removed", len(removed)))
	return nil
}

func (c *Coordinator) applyStreamStart(ev Event) error {
	id, err := shared.ParseNodeID(ev.NodeID)
	if err != nil {
		return err
	}
	n, ok := c.repo.Get(id)
	if !ok {
		return errors.NewNotFoundError("node").
			WithOperation("stream_start").
			WithResource(id.String())
	}
	// A fresh start resets any stale buffer from an abandoned stream.
	c.staging[id.String()] = &strings.Builder{}
	n.StartGenerating()
	return nil
}

func (c *Coordinator) applyStreamChunk(ev Event) error {
	buf, open := c.staging[ev.NodeID]
	if !open {
		// Chunk without an open stream; likely re-delivered after the
		// stream already ended. Dropping it keeps messages consistent.
		c.logger.Debug("dropping stream chunk without open stream",
			zap.String("nodeId", ev.NodeID))
		return nil
	}
	buf.WriteString(ev.Text)
	return nil
}

func (c *Coordinator) applyStreamEnd(ev Event) error {
	id, err := shared.ParseNodeID(ev.NodeID)
	if err != nil {
		return err
	}
	n, ok := c.repo.Get(id)
	if !ok {
		return errors.NewNotFoundError("node").
			WithOperation("stream_end").
			WithResource(id.String())
	}

	delete(c.staging, ev.NodeID)

	msgID, err := shared.ParseMessageID(ev.MessageID)
	if err != nil {
		return err
	}
	if n.HasMessage(msgID) {
		return nil // re-delivery, already committed
	}

	msg := node.Message{
		ID:        msgID,
		Content:   ev.FullText,
		Role:      node.RoleAssistant,
		BranchID:  id,
		Timestamp: n.UpdatedAt(),
	}
	if err := n.AppendMessage(msg); err != nil {
		return err
	}
	n.FinishGenerating()
	n.ClearSyncError()
	c.logger.Debug("committed streamed message",
		zap.String("nodeId", id.String()),
		zap.String("messageId", ev.MessageID))
	return nil
}

func (c *Coordinator) applyStreamError(ev Event) error {
	delete(c.staging, ev.NodeID)

	id, err := shared.ParseNodeID(ev.NodeID)
	if err != nil {
		return err
	}
	if n, ok := c.repo.Get(id); ok {
		n.RecordSyncError(ev.ErrorMsg)
		n.FinishGenerating()
	}
	c.logger.Warn("stream failed, staging discarded",
		zap.String("nodeId", ev.NodeID),
		zap.String("error", ev.ErrorMsg))
	return nil
}

// StagingText returns the accumulated text of an in-flight stream, if any.
// Exposed for the read surface; staged text is never part of a node's
// messages.
func (c *Coordinator) StagingText(id shared.NodeID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf, ok := c.staging[id.String()]
	if !ok {
		return "", false
	}
	return buf.String(), true
}

// buildNode reconstructs a domain node from a normalized payload, deriving
// depth from the graph when the backend omitted it.
func (c *Coordinator) buildNode(p *NodePayload) (*node.Node, error) {
	if p == nil {
		return nil, errors.NewValidationError("node payload is required")
	}
	id, err := shared.ParseNodeID(p.ID)
	if err != nil {
		return nil, err
	}

	kind := node.RootKind()
	if p.ParentID != "" {
		parentID, err := shared.ParseNodeID(p.ParentID)
		if err != nil {
			return nil, err
		}
		if kind, err = node.ChildKind(parentID); err != nil {
			return nil, err
		}
	} else if len(p.SourceIDs) > 0 {
		sourceIDs := make([]shared.NodeID, 0, len(p.SourceIDs))
		for _, s := range p.SourceIDs {
			sid, err := shared.ParseNodeID(s)
			if err != nil {
				return nil, err
			}
			sourceIDs = append(sourceIDs, sid)
		}
		if kind, err = node.MergeKind(sourceIDs); err != nil {
			return nil, err
		}
	}

	depth := p.Depth
	if depth < 0 {
		if depth, err = c.deriveDepth(kind); err != nil {
			return nil, err
		}
	}

	// A sparse re-delivery must not reset volatile local state, so fields
	// the event did not carry inherit the local node's values.
	existing, known := c.repo.Get(id)
	status := node.Status(p.Status)
	if p.Status == "" {
		status = node.StatusActive
		if known {
			status = existing.Status()
		}
	}
	generating := p.IsGenerating
	if !p.HasGenerating && known {
		generating = existing.IsGenerating()
	}

	messages := make([]node.Message, 0, len(p.Messages))
	for _, mp := range p.Messages {
		msgID, err := shared.ParseMessageID(mp.ID)
		if err != nil {
			return nil, err
		}
		messages = append(messages, node.Message{
			ID:        msgID,
			Content:   mp.Content,
			Role:      node.Role(mp.Role),
			BranchID:  id,
			Timestamp: mp.Timestamp,
		})
	}

	n, err := node.Reconstruct(
		id, kind, node.Type(p.Type), status,
		depth, p.Title, messages, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.Summary != "" || len(p.KeyPoints) > 0 {
		n.SetAnnotations(p.Summary, p.KeyPoints, n.TokenCount())
	}
	if generating {
		n.StartGenerating()
	}
	return n, nil
}

func (c *Coordinator) deriveDepth(kind node.Kind) (int, error) {
	if kind.IsRoot() {
		return 0, nil
	}
	max := -1
	for _, ref := range kind.References() {
		parent, ok := c.repo.Get(ref)
		if !ok {
			return 0, errors.NewValidationError("remote node references unknown node " + ref.String())
		}
		if parent.Depth() > max {
			max = parent.Depth()
		}
	}
	return max + 1, nil
}
