package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"loom-backend/internal/application/services"
	appsync "loom-backend/internal/application/sync"
	"loom-backend/internal/infrastructure/observability"
	"loom-backend/internal/infrastructure/remote"
	"loom-backend/internal/repository/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()
	repo := memory.NewNodeRepository()
	history := services.NewHistoryManager(50, logger)
	engine := services.NewMutationEngine(repo, history, logger, 5, 100)
	coordinator := appsync.NewCoordinator(repo, logger)
	fetcher := remote.NewContextFetcher("", time.Second, repo, logger)
	metrics := observability.NewCollector("loom_test")

	graph := NewGraphHandler(repo, engine, history, fetcher, metrics, logger, 2)
	syncer := NewSyncHandler(coordinator, metrics, logger)
	router := NewRouter(graph, syncer, metrics, logger)

	server := httptest.NewServer(router.Setup())
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createRoot(t *testing.T, base string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, base+"/api/v1/nodes", map[string]string{"title": "root"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["nodeId"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, _ = doJSON(t, http.MethodGet, server.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_CreateAndGetNode(t *testing.T) {
	server := newTestServer(t)
	id := createRoot(t, server.URL)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/v1/nodes/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "root", body["type"])
	assert.Equal(t, float64(0), body["depth"])
}

func TestRouter_AppendAndContext(t *testing.T) {
	server := newTestServer(t)
	id := createRoot(t, server.URL)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/nodes/"+id+"/messages",
		map[string]string{"role": "user", "content": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["nodeId"])
	assert.Equal(t, false, body["forked"])

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v1/nodes/"+id+"/context", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	messages := body["messages"].([]interface{})
	require.Len(t, messages, 1)
	first := messages[0].(map[string]interface{})
	assert.Equal(t, "hello", first["content"])
}

func TestRouter_BranchSummaryReferenceFlow(t *testing.T) {
	server := newTestServer(t)
	root := createRoot(t, server.URL)

	branch := func(title string) string {
		resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/nodes/"+root+"/branches",
			map[string]string{"title": title, "type": "topic"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		return body["nodeId"].(string)
	}
	a := branch("A")
	b := branch("B")
	c := branch("C")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/summaries",
		map[string]interface{}{"sourceIds": []string{a, b}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	summaryID := body["nodeId"].(string)

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v1/nodes/"+summaryID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "summary", body["type"])
	assert.Equal(t, float64(2), body["depth"])
	assert.Equal(t, true, body["isGenerating"])

	// Two sources stay a plain reference.
	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v1/references",
		map[string]interface{}{"sourceIds": []string{a, b}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, false, body["summarized"])

	// Three escalate to summarize-first.
	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v1/references",
		map[string]interface{}{"sourceIds": []string{a, b, c}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["summarized"])

	refID := body["nodeId"].(string)
	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v1/nodes/"+refID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "exploration", body["type"], "reference to one summary is a child exploration")
}

func TestRouter_ReferenceLimitIsConfigurable(t *testing.T) {
	logger := zap.NewNop()
	repo := memory.NewNodeRepository()
	history := services.NewHistoryManager(50, logger)
	engine := services.NewMutationEngine(repo, history, logger, 5, 100)
	coordinator := appsync.NewCoordinator(repo, logger)
	fetcher := remote.NewContextFetcher("", time.Second, repo, logger)
	metrics := observability.NewCollector("loom_test")

	graph := NewGraphHandler(repo, engine, history, fetcher, metrics, logger, 3)
	syncer := NewSyncHandler(coordinator, metrics, logger)
	router := NewRouter(graph, syncer, metrics, logger)

	server := httptest.NewServer(router.Setup())
	t.Cleanup(server.Close)

	root := createRoot(t, server.URL)
	branch := func(title string) string {
		resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/nodes/"+root+"/branches",
			map[string]string{"title": title, "type": "topic"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		return body["nodeId"].(string)
	}
	a := branch("A")
	b := branch("B")
	c := branch("C")

	// Three sources fit under a limit of three, so no summarize-first.
	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/references",
		map[string]interface{}{"sourceIds": []string{a, b, c}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, false, body["summarized"])

	refID := body["nodeId"].(string)
	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v1/nodes/"+refID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reference", body["type"])

	// Tightening the limit at runtime flips the same request to escalation.
	graph.SetReferenceLimit(2)
	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v1/references",
		map[string]interface{}{"sourceIds": []string{a, b, c}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["summarized"])
}

func TestRouter_DeleteConflictWithoutCascade(t *testing.T) {
	server := newTestServer(t)
	root := createRoot(t, server.URL)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/nodes/"+root+"/branches",
		map[string]string{"title": "child"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = body

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v1/nodes/bulk-delete",
		map[string]interface{}{"nodeIds": []string{root}, "includeDescendants": false})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CONFLICT", body["type"])

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v1/nodes/bulk-delete",
		map[string]interface{}{"nodeIds": []string{root}, "includeDescendants": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["deletedIds"], 2)
}

func TestRouter_UndoRedo(t *testing.T) {
	server := newTestServer(t)
	createRoot(t, server.URL)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/v1/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["canUndo"])

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v1/history/undo", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["applied"])

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v1/nodes", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["nodes"])

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v1/history/redo", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["applied"])

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v1/nodes", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["nodes"], 1)
}

func TestRouter_RemoteEvents(t *testing.T) {
	server := newTestServer(t)
	root := createRoot(t, server.URL)

	event := func(payload string) (*http.Response, map[string]interface{}) {
		return doJSON(t, http.MethodPost, server.URL+"/api/v1/events",
			json.RawMessage(payload))
	}

	resp, _ := event(fmt.Sprintf(`{"type": "stream_start", "nodeId": %q}`, root))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = event(fmt.Sprintf(`{"type": "stream_chunk", "nodeId": %q, "text": "a"}`, root))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = event(fmt.Sprintf(`{"type": "stream_end", "nodeId": %q, "fullText": "ab", "messageId": "m1"}`, root))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/v1/nodes/"+root+"/context", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	messages := body["messages"].([]interface{})
	require.Len(t, messages, 1)
	assert.Equal(t, "ab", messages[0].(map[string]interface{})["content"])

	resp, body = event(`{"type": "node_exploded"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION", body["type"])
}

func TestRouter_NotFoundAndValidation(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet,
		server.URL+"/api/v1/nodes/6b1de64a-90ae-4a69-9a09-1f0e6a9f0000", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", body["type"])

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v1/nodes/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION", body["type"])
}
