package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"loom-backend/internal/domain/node"
	"loom-backend/internal/repository/memory"
)

func seedRootWithMessage(t *testing.T) (*memory.NodeRepository, *node.Node) {
	t.Helper()
	repo := memory.NewNodeRepository()
	root := node.NewRoot("root")
	require.NoError(t, repo.Upsert(root))
	msg, err := node.NewMessage(root.ID(), node.RoleUser, "local")
	require.NoError(t, err)
	require.NoError(t, root.AppendMessage(msg))
	return repo, root
}

func TestFetch_RemoteSuccess(t *testing.T) {
	repo, root := seedRootWithMessage(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, fmt.Sprintf("/nodes/%s/context", root.ID()), r.URL.Path)
		fmt.Fprintf(w, `{"messages": [{"id": "m1", "content": "remote", "role": "assistant"}]}`)
	}))
	defer server.Close()

	f := NewContextFetcher(server.URL, time.Second, repo, zap.NewNop())

	messages, err := f.Fetch(context.Background(), root.ID())
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "remote", messages[0].Content)
	assert.Equal(t, node.RoleAssistant, messages[0].Role)
}

func TestFetch_FailureFallsBackToLocal(t *testing.T) {
	repo, root := seedRootWithMessage(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := NewContextFetcher(server.URL, time.Second, repo, zap.NewNop())

	messages, err := f.Fetch(context.Background(), root.ID())
	require.NoError(t, err, "fallback must not surface the remote failure")
	require.Len(t, messages, 1)
	assert.Equal(t, "local", messages[0].Content)

	got, _ := repo.Get(root.ID())
	assert.NotEmpty(t, got.LastError(), "failure recorded as non-fatal node error")
}

func TestFetch_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	repo, root := seedRootWithMessage(t)

	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	f := NewContextFetcher(server.URL, time.Second, repo, zap.NewNop())

	for i := 0; i < 5; i++ {
		messages, err := f.Fetch(context.Background(), root.ID())
		require.NoError(t, err)
		assert.Equal(t, "local", messages[0].Content)
	}
	assert.Equal(t, 3, hits, "breaker stops requests after three consecutive failures")
}

func TestFetch_NoBaseURLAssemblesLocally(t *testing.T) {
	repo, root := seedRootWithMessage(t)
	f := NewContextFetcher("", time.Second, repo, zap.NewNop())

	messages, err := f.Fetch(context.Background(), root.ID())
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "local", messages[0].Content)
}

func TestFetch_SuccessClearsRecordedError(t *testing.T) {
	repo, root := seedRootWithMessage(t)
	root.RecordSyncError("previous failure")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"messages": []}`)
	}))
	defer server.Close()

	f := NewContextFetcher(server.URL, time.Second, repo, zap.NewNop())
	_, err := f.Fetch(context.Background(), root.ID())
	require.NoError(t, err)

	got, _ := repo.Get(root.ID())
	assert.Empty(t, got.LastError())
}
