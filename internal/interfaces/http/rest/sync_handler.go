package rest

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"loom-backend/internal/application/sync"
	"loom-backend/internal/errors"
	"loom-backend/internal/infrastructure/observability"
)

const maxEventBody = 1 << 20

// SyncHandler accepts remote graph events from the transport layer. The
// transport delivers at-least-once and in order; idempotency lives in the
// coordinator, not here.
type SyncHandler struct {
	adapter     *sync.Adapter
	coordinator *sync.Coordinator
	metrics     *observability.Collector
	logger      *zap.Logger
}

// NewSyncHandler creates the sync handler.
func NewSyncHandler(coordinator *sync.Coordinator, metrics *observability.Collector, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		adapter:     sync.NewAdapter(),
		coordinator: coordinator,
		metrics:     metrics,
		logger:      logger,
	}
}

// ApplyEvent handles POST /events, the single entry point for the remote
// event kinds.
func (h *SyncHandler) ApplyEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		respondError(w, errors.NewValidationError("failed to read event body"))
		return
	}

	ev, err := h.adapter.Normalize(body)
	if err != nil {
		h.metrics.ObserveEvent("malformed", "error")
		respondError(w, err)
		return
	}

	if err := h.coordinator.Apply(ev); err != nil {
		h.metrics.ObserveEvent(string(ev.Kind), "error")
		h.logger.Warn("remote event rejected",
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
		respondError(w, err)
		return
	}

	h.metrics.ObserveEvent(string(ev.Kind), "ok")
	if ev.Kind == sync.EventStreamChunk {
		h.metrics.StreamChunks.Inc()
	}
	respondJSON(w, http.StatusAccepted, struct {
		Applied bool `json:"applied"`
	}{Applied: true})
}
