package services

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"loom-backend/internal/application/commands"
	"loom-backend/internal/domain/graph"
	"loom-backend/internal/domain/node"
	"loom-backend/internal/domain/shared"
	"loom-backend/internal/errors"
	"loom-backend/internal/repository"
)

// MutationEngine implements every structural operation on the conversation
// graph. Each operation validates first, snapshots the pre-mutation state,
// applies the mutation, and records the snapshot so the operation is
// locally undoable. Validation failures leave the repository untouched.
// Operations run on HTTP request goroutines; the mutex serializes them so
// the check-then-mutate sequences stay atomic.
type MutationEngine struct {
	mu             sync.Mutex
	repo           repository.NodeRepository
	history        *HistoryManager
	validator      *graph.ValidationService
	logger         *zap.Logger
	maxKeyPoints   int
	maxDeleteBatch int
}

// NewMutationEngine creates the engine. maxKeyPoints caps the key points
// aggregated onto a summary node; maxDeleteBatch caps the ids accepted by a
// single delete request.
func NewMutationEngine(
	repo repository.NodeRepository,
	history *HistoryManager,
	logger *zap.Logger,
	maxKeyPoints, maxDeleteBatch int,
) *MutationEngine {
	if maxKeyPoints < 1 {
		maxKeyPoints = 5
	}
	if maxDeleteBatch < 1 {
		maxDeleteBatch = 100
	}
	return &MutationEngine{
		repo:           repo,
		history:        history,
		validator:      graph.NewValidationService(),
		logger:         logger,
		maxKeyPoints:   maxKeyPoints,
		maxDeleteBatch: maxDeleteBatch,
	}
}

// SetMaxKeyPoints adjusts the summary key-point cap at runtime.
func (e *MutationEngine) SetMaxKeyPoints(n int) {
	if n < 1 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxKeyPoints = n
}

// SetMaxDeleteBatch adjusts the delete batch cap at runtime.
func (e *MutationEngine) SetMaxDeleteBatch(n int) {
	if n < 1 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxDeleteBatch = n
}

// CreateRoot starts a new conversation graph and makes the root current.
func (e *MutationEngine) CreateRoot(title string) (shared.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	root := node.NewRoot(title)

	snap := TakeSnapshot(e.repo)
	if err := e.commitNewNode(root, snap); err != nil {
		return shared.NodeID{}, err
	}
	e.history.Record(snap)
	e.logger.Info("created root",
		zap.String("nodeId", root.ID().String()))
	return root.ID(), nil
}

// AppendMessage adds a chat message to the target node. When the target
// already has children it represents a fixed historical point, so a new
// child node is forked, the message lands there, and the child becomes
// current. Returns the id of the node that received the message.
func (e *MutationEngine) AppendMessage(cmd *commands.AppendMessageCommand) (shared.NodeID, error) {
	if err := cmd.Validate(); err != nil {
		return shared.NodeID{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	target, ok := e.repo.Get(cmd.NodeID)
	if !ok {
		return shared.NodeID{}, errors.NewNotFoundError("node").
			WithOperation("AppendMessage").
			WithResource(cmd.NodeID.String())
	}

	snap := TakeSnapshot(e.repo)

	if len(e.repo.ChildrenOf(target.ID())) > 0 {
		fork, err := node.NewChild(target, target.Title(), target.Type())
		if err != nil {
			return shared.NodeID{}, err
		}
		msg, err := node.NewMessage(fork.ID(), cmd.Role, cmd.Content)
		if err != nil {
			return shared.NodeID{}, err
		}
		if err := fork.AppendMessage(msg); err != nil {
			return shared.NodeID{}, err
		}
		if err := e.repo.Upsert(fork); err != nil {
			snap.Restore(e.repo)
			return shared.NodeID{}, err
		}
		if err := e.repo.SetCurrent(fork.ID()); err != nil {
			snap.Restore(e.repo)
			return shared.NodeID{}, err
		}
		e.history.Record(snap)
		e.logger.Info("appended message via fork",
			zap.String("parentId", target.ID().String()),
			zap.String("nodeId", fork.ID().String()))
		return fork.ID(), nil
	}

	msg, err := node.NewMessage(target.ID(), cmd.Role, cmd.Content)
	if err != nil {
		return shared.NodeID{}, err
	}
	if err := target.AppendMessage(msg); err != nil {
		return shared.NodeID{}, err
	}
	e.history.Record(snap)
	e.logger.Info("appended message",
		zap.String("nodeId", target.ID().String()),
		zap.String("messageId", msg.ID.String()))
	return target.ID(), nil
}

// CreateBranch forks an empty branch off the given parent and makes it
// current. Returns the new node's id.
func (e *MutationEngine) CreateBranch(cmd *commands.CreateBranchCommand) (shared.NodeID, error) {
	if err := cmd.Validate(); err != nil {
		return shared.NodeID{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	parent, ok := e.repo.Get(cmd.ParentID)
	if !ok {
		return shared.NodeID{}, errors.NewNotFoundError("node").
			WithOperation("CreateBranch").
			WithResource(cmd.ParentID.String())
	}

	branch, err := node.NewChild(parent, cmd.Title, cmd.Type)
	if err != nil {
		return shared.NodeID{}, err
	}

	snap := TakeSnapshot(e.repo)
	if err := e.commitNewNode(branch, snap); err != nil {
		return shared.NodeID{}, err
	}
	e.history.Record(snap)
	e.logger.Info("created branch",
		zap.String("parentId", parent.ID().String()),
		zap.String("nodeId", branch.ID().String()),
		zap.String("type", string(cmd.Type)))
	return branch.ID(), nil
}

// CreateSummaryNode merges two or more branches into a summary node. Key
// points are aggregated as a deduplicated union in first-appearance order,
// token counts are summed, and a single assistant message is synthesized.
// The node stays in the generating state until remote completion arrives.
func (e *MutationEngine) CreateSummaryNode(cmd *commands.CreateSummaryCommand) (shared.NodeID, error) {
	if err := cmd.Validate(); err != nil {
		return shared.NodeID{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sources, err := e.fetchAll(cmd.SourceIDs, "CreateSummaryNode")
	if err != nil {
		return shared.NodeID{}, err
	}

	title := "Summary of " + joinLabels(sources)
	summary, err := node.NewMerge(sources, title, node.TypeSummary)
	if err != nil {
		return shared.NodeID{}, err
	}

	keyPoints := make([]string, 0, e.maxKeyPoints)
	seen := make(map[string]bool)
	tokens := 0
	for _, src := range sources {
		tokens += src.TokenCount()
		for _, kp := range src.KeyPoints() {
			if len(keyPoints) >= e.maxKeyPoints {
				break
			}
			if kp == "" || seen[kp] {
				continue
			}
			seen[kp] = true
			keyPoints = append(keyPoints, kp)
		}
	}
	summary.SetAnnotations("", keyPoints, tokens)

	content := synthesizeSummaryContent(sources, cmd.Instructions)
	msg, err := node.NewMessage(summary.ID(), node.RoleAssistant, content)
	if err != nil {
		return shared.NodeID{}, err
	}
	if err := summary.AppendMessage(msg); err != nil {
		return shared.NodeID{}, err
	}
	summary.StartGenerating()

	snap := TakeSnapshot(e.repo)
	if err := e.commitNewNode(summary, snap); err != nil {
		return shared.NodeID{}, err
	}
	e.history.Record(snap)
	e.logger.Info("created summary node",
		zap.String("nodeId", summary.ID().String()),
		zap.Int("sources", len(sources)),
		zap.Int("depth", summary.Depth()))
	return summary.ID(), nil
}

// CreateReferenceNode carries forward context from existing nodes. One
// source yields a child exploration node; several yield a merge-shaped
// reference node. The summarize-first escalation for many sources is a
// caller policy, not part of this primitive.
func (e *MutationEngine) CreateReferenceNode(cmd *commands.CreateReferenceCommand) (shared.NodeID, error) {
	if err := cmd.Validate(); err != nil {
		return shared.NodeID{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sources, err := e.fetchAll(cmd.SourceIDs, "CreateReferenceNode")
	if err != nil {
		return shared.NodeID{}, err
	}

	var ref *node.Node
	if len(sources) == 1 {
		ref, err = node.NewChild(sources[0], "Exploring "+labelOf(sources[0]), node.TypeExploration)
	} else {
		ref, err = node.NewMerge(sources, "Reference to "+joinLabels(sources), node.TypeReference)
	}
	if err != nil {
		return shared.NodeID{}, err
	}

	snap := TakeSnapshot(e.repo)
	if err := e.commitNewNode(ref, snap); err != nil {
		return shared.NodeID{}, err
	}
	e.history.Record(snap)
	e.logger.Info("created reference node",
		zap.String("nodeId", ref.ID().String()),
		zap.Int("sources", len(sources)))
	return ref.ID(), nil
}

// DeleteNodes removes the requested nodes. With IncludeDescendants the
// whole BFS descendant closure goes too; without it, a requested node whose
// children are not themselves in the request is a conflict, never a silent
// orphaning. Returns the ids actually deleted.
func (e *MutationEngine) DeleteNodes(cmd *commands.DeleteNodesCommand) ([]shared.NodeID, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(cmd.NodeIDs) > e.maxDeleteBatch {
		return nil, errors.NewValidationError(
			fmt.Sprintf("delete batch of %d exceeds the limit of %d", len(cmd.NodeIDs), e.maxDeleteBatch))
	}
	if err := e.validator.ValidateExisting(e.repo, cmd.NodeIDs); err != nil {
		return nil, err
	}

	requested := make(map[string]bool, len(cmd.NodeIDs))
	for _, id := range cmd.NodeIDs {
		requested[id.String()] = true
	}

	if !cmd.IncludeDescendants {
		for _, id := range cmd.NodeIDs {
			for _, child := range e.repo.ChildrenOf(id) {
				if !requested[child.ID().String()] {
					return nil, errors.NewConflictError(
						fmt.Sprintf("node %s has children; deletion requires cascade", id.String())).
						WithOperation("DeleteNodes")
				}
			}
		}
	}

	deletion := append([]shared.NodeID(nil), cmd.NodeIDs...)
	if cmd.IncludeDescendants {
		deletion = append(deletion, graph.Descendants(e.repo, cmd.NodeIDs)...)
	}

	snap := TakeSnapshot(e.repo)
	removed := e.repo.Remove(deletion)
	if _, ok := e.repo.Current(); !ok {
		if next, found := e.repo.ResolveCurrent(); found {
			if err := e.repo.SetCurrent(next); err != nil {
				snap.Restore(e.repo)
				return nil, err
			}
		}
	}
	e.history.Record(snap)
	e.logger.Info("deleted nodes",
		zap.Int("requested", len(cmd.NodeIDs)),
		zap.Int("removed", len(removed)),
		zap.Bool("cascade", cmd.IncludeDescendants))
	return removed, nil
}

// Undo reverts the most recent local mutation. Returns false when there is
// nothing to undo.
func (e *MutationEngine) Undo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, ok := e.history.Undo(TakeSnapshot(e.repo))
	if !ok {
		return false
	}
	prev.Restore(e.repo)
	e.logger.Info("undo applied", zap.Int("nodes", prev.NodeCount()))
	return true
}

// Redo re-applies the most recently undone mutation. Returns false when
// there is nothing to redo.
func (e *MutationEngine) Redo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, ok := e.history.Redo(TakeSnapshot(e.repo))
	if !ok {
		return false
	}
	next.Restore(e.repo)
	e.logger.Info("redo applied", zap.Int("nodes", next.NodeCount()))
	return true
}

// CanUndo reports whether an undo entry is available.
func (e *MutationEngine) CanUndo() bool { return e.history.CanUndo() }

// CanRedo reports whether a redo entry is available.
func (e *MutationEngine) CanRedo() bool { return e.history.CanRedo() }

// commitNewNode upserts a freshly constructed node and makes it current,
// rolling back to the snapshot if either step fails.
func (e *MutationEngine) commitNewNode(n *node.Node, snap Snapshot) error {
	if err := e.repo.Upsert(n); err != nil {
		snap.Restore(e.repo)
		return err
	}
	if err := e.repo.SetCurrent(n.ID()); err != nil {
		snap.Restore(e.repo)
		return err
	}
	return nil
}

func (e *MutationEngine) fetchAll(ids []shared.NodeID, op string) ([]*node.Node, error) {
	nodes := make([]*node.Node, 0, len(ids))
	for _, id := range ids {
		n, ok := e.repo.Get(id)
		if !ok {
			return nil, errors.NewNotFoundError("node").
				WithOperation(op).
				WithResource(id.String())
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func labelOf(n *node.Node) string {
	if n.Title() != "" {
		return n.Title()
	}
	return string(n.Type())
}

func joinLabels(nodes []*node.Node) string {
	labels := make([]string, 0, len(nodes))
	for _, n := range nodes {
		labels = append(labels, labelOf(n))
	}
	return strings.Join(labels, ", ")
}

func synthesizeSummaryContent(sources []*node.Node, instructions string) string {
	if strings.TrimSpace(instructions) != "" {
		return fmt.Sprintf("Summarizing %s: %s", joinLabels(sources), strings.TrimSpace(instructions))
	}
	return fmt.Sprintf("Summary of %d branches: %s.", len(sources), joinLabels(sources))
}
