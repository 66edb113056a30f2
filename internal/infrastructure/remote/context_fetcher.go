// Package remote talks to the backend context service. Failures never block
// the caller: the fetcher degrades to local context assembly and records the
// failure on the node as a non-fatal error.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"loom-backend/internal/domain/graph"
	"loom-backend/internal/domain/node"
	"loom-backend/internal/domain/shared"
	"loom-backend/internal/errors"
	"loom-backend/internal/repository"
)

// ContextFetcher retrieves a node's server-rendered context, falling back to
// the local assembler when the backend is down or the breaker is open.
type ContextFetcher struct {
	client    *http.Client
	baseURL   string
	breaker   *gobreaker.CircuitBreaker
	assembler *graph.Assembler
	repo      repository.NodeRepository
	logger    *zap.Logger
}

// NewContextFetcher creates the fetcher. An empty baseURL disables remote
// fetching entirely; context is then always assembled locally.
func NewContextFetcher(
	baseURL string,
	timeout time.Duration,
	repo repository.NodeRepository,
	logger *zap.Logger,
) *ContextFetcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-context",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &ContextFetcher{
		client:    &http.Client{Timeout: timeout},
		baseURL:   baseURL,
		breaker:   breaker,
		assembler: graph.NewAssembler(repo),
		repo:      repo,
		logger:    logger,
	}
}

// Fetch returns the context for a node. Remote failures degrade to the
// local assembler; the error is recorded on the node and not returned.
func (f *ContextFetcher) Fetch(ctx context.Context, id shared.NodeID) ([]node.Message, error) {
	if f.baseURL == "" {
		return f.assembler.Assemble(id)
	}

	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.fetchRemote(ctx, id)
	})
	if err != nil {
		f.logger.Warn("remote context fetch failed, assembling locally",
			zap.String("nodeId", id.String()),
			zap.Error(err))
		if n, ok := f.repo.Get(id); ok {
			n.RecordSyncError(err.Error())
		}
		return f.assembler.Assemble(id)
	}

	messages := result.([]node.Message)
	if n, ok := f.repo.Get(id); ok {
		n.ClearSyncError()
	}
	return messages, nil
}

type remoteMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      string    `json:"role"`
	BranchID  string    `json:"branchId"`
	Timestamp time.Time `json:"timestamp"`
}

func (f *ContextFetcher) fetchRemote(ctx context.Context, id shared.NodeID) ([]node.Message, error) {
	url := fmt.Sprintf("%s/nodes/%s/context", f.baseURL, id.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewExternalError("failed to build context request", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.NewExternalError("context request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewExternalError(
			fmt.Sprintf("context service returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.NewExternalError("failed to read context response", err)
	}

	var payload struct {
		Messages []remoteMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.NewExternalError("malformed context response", err)
	}

	messages := make([]node.Message, 0, len(payload.Messages))
	for _, rm := range payload.Messages {
		msgID, err := shared.ParseMessageID(rm.ID)
		if err != nil {
			return nil, errors.NewExternalError("context response carries invalid message id", err)
		}
		branchID := id
		if rm.BranchID != "" {
			if branchID, err = shared.ParseNodeID(rm.BranchID); err != nil {
				return nil, errors.NewExternalError("context response carries invalid branch id", err)
			}
		}
		role := node.Role(rm.Role)
		if role != node.RoleUser && role != node.RoleAssistant {
			role = node.RoleAssistant
		}
		messages = append(messages, node.Message{
			ID:        msgID,
			Content:   rm.Content,
			Role:      role,
			BranchID:  branchID,
			Timestamp: rm.Timestamp,
		})
	}
	return messages, nil
}
