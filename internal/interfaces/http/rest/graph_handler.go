package rest

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"loom-backend/internal/application/commands"
	"loom-backend/internal/application/services"
	"loom-backend/internal/domain/node"
	"loom-backend/internal/domain/shared"
	"loom-backend/internal/errors"
	"loom-backend/internal/infrastructure/observability"
	"loom-backend/internal/infrastructure/remote"
	"loom-backend/internal/repository"
)

// GraphHandler exposes the graph engine's operations over REST.
type GraphHandler struct {
	repo    repository.NodeRepository
	engine  *services.MutationEngine
	history *services.HistoryManager
	fetcher *remote.ContextFetcher
	metrics *observability.Collector
	logger  *zap.Logger

	// Raw references allowed before a reference request escalates to
	// summarize-first. Updated by the config watcher while requests run.
	referenceLimit atomic.Int64
}

// NewGraphHandler creates the graph handler. referenceLimit is the number of
// raw reference sources accepted before summarize-first kicks in.
func NewGraphHandler(
	repo repository.NodeRepository,
	engine *services.MutationEngine,
	history *services.HistoryManager,
	fetcher *remote.ContextFetcher,
	metrics *observability.Collector,
	logger *zap.Logger,
	referenceLimit int,
) *GraphHandler {
	h := &GraphHandler{
		repo:    repo,
		engine:  engine,
		history: history,
		fetcher: fetcher,
		metrics: metrics,
		logger:  logger,
	}
	h.SetReferenceLimit(referenceLimit)
	return h
}

// SetReferenceLimit adjusts the summarize-first threshold at runtime.
func (h *GraphHandler) SetReferenceLimit(n int) {
	if n < 1 {
		n = 2
	}
	h.referenceLimit.Store(int64(n))
}

// NodeResponse is the wire representation of a node.
type NodeResponse struct {
	ID            string    `json:"id"`
	ParentID      string    `json:"parentId,omitempty"`
	SourceNodeIDs []string  `json:"sourceNodeIds,omitempty"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	Depth         int       `json:"depth"`
	Title         string    `json:"title"`
	Summary       string    `json:"summary,omitempty"`
	KeyPoints     []string  `json:"keyPoints,omitempty"`
	TokenCount    int       `json:"tokenCount"`
	IsGenerating  bool      `json:"isGenerating"`
	LastError     string    `json:"lastError,omitempty"`
	MessageCount  int       `json:"messageCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toNodeResponse(n *node.Node) NodeResponse {
	resp := NodeResponse{
		ID:           n.ID().String(),
		Type:         string(n.Type()),
		Status:       string(n.Status()),
		Depth:        n.Depth(),
		Title:        n.Title(),
		Summary:      n.Summary(),
		KeyPoints:    n.KeyPoints(),
		TokenCount:   n.TokenCount(),
		IsGenerating: n.IsGenerating(),
		LastError:    n.LastError(),
		MessageCount: n.MessageCount(),
		CreatedAt:    n.CreatedAt(),
		UpdatedAt:    n.UpdatedAt(),
	}
	if parentID, ok := n.Kind().ParentID(); ok {
		resp.ParentID = parentID.String()
	}
	for _, src := range n.Kind().SourceIDs() {
		resp.SourceNodeIDs = append(resp.SourceNodeIDs, src.String())
	}
	return resp
}

// ListNodes handles GET /nodes.
func (h *GraphHandler) ListNodes(w http.ResponseWriter, r *http.Request) {
	all := h.repo.All()
	nodes := make([]NodeResponse, 0, len(all))
	for _, n := range all {
		nodes = append(nodes, toNodeResponse(n))
	}

	resp := struct {
		Nodes         []NodeResponse `json:"nodes"`
		CurrentNodeID string         `json:"currentNodeId,omitempty"`
	}{Nodes: nodes}
	if current, ok := h.repo.Current(); ok {
		resp.CurrentNodeID = current.String()
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetNode handles GET /nodes/{nodeID}.
func (h *GraphHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathNodeID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	n, ok := h.repo.Get(id)
	if !ok {
		respondError(w, errors.NewNotFoundError("node").WithResource(id.String()))
		return
	}
	respondJSON(w, http.StatusOK, toNodeResponse(n))
}

// GetContext handles GET /nodes/{nodeID}/context. The fetcher prefers the
// backend's rendition and degrades to local assembly on failure.
func (h *GraphHandler) GetContext(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathNodeID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	messages, err := h.fetcher.Fetch(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		Messages []node.Message `json:"messages"`
	}{Messages: messages})
}

// CreateNodeRequest is the request body for starting a new conversation.
type CreateNodeRequest struct {
	Title string `json:"title"`
}

// CreateNode handles POST /nodes, creating a new root node.
func (h *GraphHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	id, err := h.observed("create_root", func() (shared.NodeID, error) {
		return h.engine.CreateRoot(req.Title)
	})
	if err != nil {
		respondError(w, err)
		return
	}
	h.metrics.NodesCreated.Inc()
	respondJSON(w, http.StatusCreated, struct {
		NodeID string `json:"nodeId"`
	}{NodeID: id.String()})
}

// AppendMessageRequest is the request body for appending a message.
type AppendMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AppendMessage handles POST /nodes/{nodeID}/messages.
func (h *GraphHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathNodeID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req AppendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if req.Role == "" {
		req.Role = string(node.RoleUser)
	}

	cmd, err := commands.NewAppendMessageCommand(id, node.Role(req.Role), req.Content)
	if err != nil {
		respondError(w, err)
		return
	}

	target, err := h.observed("append_message", func() (shared.NodeID, error) {
		return h.engine.AppendMessage(cmd)
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		NodeID string `json:"nodeId"`
		Forked bool   `json:"forked"`
	}{NodeID: target.String(), Forked: !target.Equals(id)})
}

// CreateBranchRequest is the request body for forking a branch.
type CreateBranchRequest struct {
	Title string `json:"title"`
	Type  string `json:"type"`
}

// CreateBranch handles POST /nodes/{nodeID}/branches.
func (h *GraphHandler) CreateBranch(w http.ResponseWriter, r *http.Request) {
	parentID, err := h.pathNodeID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req CreateBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if req.Type == "" {
		req.Type = string(node.TypeTopic)
	}

	cmd, err := commands.NewCreateBranchCommand(parentID, req.Title, node.Type(req.Type))
	if err != nil {
		respondError(w, err)
		return
	}

	id, err := h.observed("create_branch", func() (shared.NodeID, error) {
		return h.engine.CreateBranch(cmd)
	})
	if err != nil {
		respondError(w, err)
		return
	}
	h.metrics.NodesCreated.Inc()
	respondJSON(w, http.StatusCreated, struct {
		NodeID string `json:"nodeId"`
	}{NodeID: id.String()})
}

// CreateSummaryRequest is the request body for merging branches.
type CreateSummaryRequest struct {
	SourceIDs    []string `json:"sourceIds"`
	Instructions string   `json:"instructions,omitempty"`
}

// CreateSummary handles POST /summaries.
func (h *GraphHandler) CreateSummary(w http.ResponseWriter, r *http.Request) {
	var req CreateSummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	sourceIDs, err := parseNodeIDs(req.SourceIDs)
	if err != nil {
		respondError(w, err)
		return
	}

	id, err := h.createSummary(sourceIDs, req.Instructions)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, struct {
		NodeID string `json:"nodeId"`
	}{NodeID: id.String()})
}

// CreateReferenceRequest is the request body for referencing branches.
type CreateReferenceRequest struct {
	SourceIDs []string `json:"sourceIds"`
}

// CreateReference handles POST /references. More raw references than the
// configured limit escalate to summarize-first: the sources are merged into
// a summary node and the reference points at that summary instead.
func (h *GraphHandler) CreateReference(w http.ResponseWriter, r *http.Request) {
	var req CreateReferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	sourceIDs, err := parseNodeIDs(req.SourceIDs)
	if err != nil {
		respondError(w, err)
		return
	}

	summarized := false
	if len(sourceIDs) > int(h.referenceLimit.Load()) {
		summaryID, err := h.createSummary(sourceIDs, "")
		if err != nil {
			respondError(w, err)
			return
		}
		sourceIDs = []shared.NodeID{summaryID}
		summarized = true
	}

	cmd, err := commands.NewCreateReferenceCommand(sourceIDs)
	if err != nil {
		respondError(w, err)
		return
	}
	id, err := h.observed("create_reference", func() (shared.NodeID, error) {
		return h.engine.CreateReferenceNode(cmd)
	})
	if err != nil {
		respondError(w, err)
		return
	}
	h.metrics.NodesCreated.Inc()
	respondJSON(w, http.StatusCreated, struct {
		NodeID     string `json:"nodeId"`
		Summarized bool   `json:"summarized"`
	}{NodeID: id.String(), Summarized: summarized})
}

// DeleteNodesRequest is the request body for bulk deletion.
type DeleteNodesRequest struct {
	NodeIDs            []string `json:"nodeIds"`
	IncludeDescendants bool     `json:"includeDescendants"`
}

// DeleteNodes handles POST /nodes/bulk-delete.
func (h *GraphHandler) DeleteNodes(w http.ResponseWriter, r *http.Request) {
	var req DeleteNodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	ids, err := parseNodeIDs(req.NodeIDs)
	if err != nil {
		respondError(w, err)
		return
	}
	cmd, err := commands.NewDeleteNodesCommand(ids, req.IncludeDescendants)
	if err != nil {
		respondError(w, err)
		return
	}

	start := time.Now()
	removed, err := h.engine.DeleteNodes(cmd)
	h.finishOperation("delete_nodes", start, err)
	if err != nil {
		respondError(w, err)
		return
	}
	h.metrics.NodesDeleted.Add(float64(len(removed)))

	deleted := make([]string, 0, len(removed))
	for _, id := range removed {
		deleted = append(deleted, id.String())
	}
	respondJSON(w, http.StatusOK, struct {
		DeletedIDs []string `json:"deletedIds"`
	}{DeletedIDs: deleted})
}

// HistoryStatus handles GET /history.
func (h *GraphHandler) HistoryStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, struct {
		CanUndo bool `json:"canUndo"`
		CanRedo bool `json:"canRedo"`
		Depth   int  `json:"depth"`
	}{
		CanUndo: h.engine.CanUndo(),
		CanRedo: h.engine.CanRedo(),
		Depth:   h.history.Depth(),
	})
}

// Undo handles POST /history/undo.
func (h *GraphHandler) Undo(w http.ResponseWriter, r *http.Request) {
	applied := h.engine.Undo()
	h.metrics.HistoryDepth.Set(float64(h.history.Depth()))
	respondJSON(w, http.StatusOK, struct {
		Applied bool `json:"applied"`
	}{Applied: applied})
}

// Redo handles POST /history/redo.
func (h *GraphHandler) Redo(w http.ResponseWriter, r *http.Request) {
	applied := h.engine.Redo()
	h.metrics.HistoryDepth.Set(float64(h.history.Depth()))
	respondJSON(w, http.StatusOK, struct {
		Applied bool `json:"applied"`
	}{Applied: applied})
}

func (h *GraphHandler) createSummary(sourceIDs []shared.NodeID, instructions string) (shared.NodeID, error) {
	cmd, err := commands.NewCreateSummaryCommand(sourceIDs, instructions)
	if err != nil {
		return shared.NodeID{}, err
	}
	id, err := h.observed("create_summary", func() (shared.NodeID, error) {
		return h.engine.CreateSummaryNode(cmd)
	})
	if err != nil {
		return shared.NodeID{}, err
	}
	h.metrics.NodesCreated.Inc()
	return id, nil
}

// observed wraps an engine call with duration and outcome metrics.
func (h *GraphHandler) observed(operation string, fn func() (shared.NodeID, error)) (shared.NodeID, error) {
	start := time.Now()
	id, err := fn()
	h.finishOperation(operation, start, err)
	return id, err
}

func (h *GraphHandler) finishOperation(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	h.metrics.ObserveOperation(operation, status, time.Since(start))
	h.metrics.HistoryDepth.Set(float64(h.history.Depth()))
}

func (h *GraphHandler) pathNodeID(r *http.Request) (shared.NodeID, error) {
	return shared.ParseNodeID(chi.URLParam(r, "nodeID"))
}

func parseNodeIDs(raw []string) ([]shared.NodeID, error) {
	ids := make([]shared.NodeID, 0, len(raw))
	for _, s := range raw {
		id, err := shared.ParseNodeID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
