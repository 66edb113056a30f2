// Package services contains the application services that drive the
// conversation graph: the mutation engine and the history manager.
package services

import (
	"sync"

	"go.uber.org/zap"

	"loom-backend/internal/domain/node"
	"loom-backend/internal/domain/shared"
	"loom-backend/internal/repository"
)

// Snapshot is a full copy of the repository state plus the current-node
// pointer. Snapshots are deep copies; restoring one cannot be affected by
// later mutations of the live nodes.
type Snapshot struct {
	nodes   []*node.Node
	current shared.NodeID
}

// TakeSnapshot captures the repository's full state.
func TakeSnapshot(repo repository.NodeRepository) Snapshot {
	all := repo.All()
	nodes := make([]*node.Node, 0, len(all))
	for _, n := range all {
		nodes = append(nodes, n.Clone())
	}
	current, _ := repo.Current()
	return Snapshot{nodes: nodes, current: current}
}

// Restore replaces the repository's state with this snapshot. The snapshot
// itself stays intact so it can be restored again.
func (s Snapshot) Restore(repo repository.NodeRepository) {
	nodes := make([]*node.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n.Clone())
	}
	repo.Replace(nodes, s.current)
}

// NodeCount returns the number of nodes captured in the snapshot.
func (s Snapshot) NodeCount() int { return len(s.nodes) }

// HistoryManager keeps a single linear undo stack of full-state snapshots.
// Recording a new entry truncates the redo tail, standard linear-undo
// semantics rather than a branching history. Remote-sourced mutations are
// never recorded; undo only reverts local user actions. The stacks are
// mutated from request goroutines and the config watcher, so every method
// takes the lock.
type HistoryManager struct {
	mu       sync.Mutex
	capacity int
	undo     []Snapshot
	redo     []Snapshot
	logger   *zap.Logger
}

// NewHistoryManager creates a history manager holding up to capacity
// snapshots. The oldest entry is dropped on overflow.
func NewHistoryManager(capacity int, logger *zap.Logger) *HistoryManager {
	if capacity < 1 {
		capacity = 1
	}
	return &HistoryManager{
		capacity: capacity,
		logger:   logger,
	}
}

// SetCapacity adjusts the snapshot limit at runtime, trimming the oldest
// entries when the new limit is smaller. Used by the config watcher.
func (h *HistoryManager) SetCapacity(capacity int) {
	if capacity < 1 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.capacity = capacity
	if excess := len(h.undo) - capacity; excess > 0 {
		h.undo = append([]Snapshot(nil), h.undo[excess:]...)
		h.logger.Debug("trimmed history to new capacity",
			zap.Int("capacity", capacity),
			zap.Int("dropped", excess))
	}
}

// Record pushes a pre-mutation snapshot, discarding any redo entries.
func (h *HistoryManager) Record(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.redo = h.redo[:0]
	h.undo = append(h.undo, s)
	if len(h.undo) > h.capacity {
		h.undo = append([]Snapshot(nil), h.undo[1:]...)
	}
}

// CanUndo reports whether an undo entry is available.
func (h *HistoryManager) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo) > 0
}

// CanRedo reports whether a redo entry is available.
func (h *HistoryManager) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redo) > 0
}

// Undo returns the snapshot to restore, moving the given current state onto
// the redo stack. Returns false when there is nothing to undo.
func (h *HistoryManager) Undo(current Snapshot) (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.undo) == 0 {
		return Snapshot{}, false
	}
	last := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, current)
	return last, true
}

// Redo returns the snapshot to restore, moving the given current state back
// onto the undo stack. Returns false when there is nothing to redo.
func (h *HistoryManager) Redo(current Snapshot) (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.redo) == 0 {
		return Snapshot{}, false
	}
	last := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, current)
	return last, true
}

// Depth returns the number of undoable entries, exposed as a gauge.
func (h *HistoryManager) Depth() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo)
}
