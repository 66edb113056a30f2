package sync

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom-backend/internal/domain/shared"
	"loom-backend/internal/errors"
)

func TestNormalize_NodeCreatedCamelCase(t *testing.T) {
	a := NewAdapter()
	id := shared.NewNodeID().String()
	parent := shared.NewNodeID().String()

	raw := fmt.Sprintf(`{
		"type": "node_created",
		"node": {
			"id": %q,
			"parentId": %q,
			"type": "topic",
			"status": "active",
			"depth": 2,
			"title": "camel",
			"messages": [{"id": "m1", "content": "hi", "role": "user"}]
		}
	}`, id, parent)

	ev, err := a.Normalize([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, EventNodeCreated, ev.Kind)
	require.NotNil(t, ev.Node)
	assert.Equal(t, id, ev.Node.ID)
	assert.Equal(t, parent, ev.Node.ParentID)
	assert.Equal(t, 2, ev.Node.Depth)
	require.Len(t, ev.Node.Messages, 1)
	assert.Equal(t, "hi", ev.Node.Messages[0].Content)
}

func TestNormalize_NodeCreatedSnakeCase(t *testing.T) {
	a := NewAdapter()
	id := shared.NewNodeID().String()
	source := shared.NewNodeID().String()
	other := shared.NewNodeID().String()

	raw := fmt.Sprintf(`{
		"event_type": "node_updated",
		"payload": {
			"node_id": %q,
			"source_node_ids": [%q, %q],
			"node_type": "summary",
			"key_points": ["a", "b"]
		}
	}`, id, source, other)

	ev, err := a.Normalize([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, EventNodeUpdated, ev.Kind)
	assert.Equal(t, id, ev.Node.ID)
	assert.Equal(t, []string{source, other}, ev.Node.SourceIDs)
	assert.Equal(t, []string{"a", "b"}, ev.Node.KeyPoints)
	// Absent fields stay marked absent for the coordinator to resolve.
	assert.Equal(t, "", ev.Node.Status)
	assert.False(t, ev.Node.HasGenerating)
	assert.Equal(t, -1, ev.Node.Depth, "omitted depth flagged for derivation")
	assert.False(t, ev.Node.CreatedAt.IsZero())
}

func TestNormalize_DefaultsTypeFromShape(t *testing.T) {
	a := NewAdapter()

	tests := []struct {
		name     string
		body     string
		wantType string
	}{
		{
			name:     "no links defaults to root",
			body:     fmt.Sprintf(`{"id": %q}`, shared.NewNodeID().String()),
			wantType: "root",
		},
		{
			name: "parent defaults to topic",
			body: fmt.Sprintf(`{"id": %q, "parentId": %q}`,
				shared.NewNodeID().String(), shared.NewNodeID().String()),
			wantType: "topic",
		},
		{
			name: "sources default to summary",
			body: fmt.Sprintf(`{"id": %q, "sourceIds": [%q]}`,
				shared.NewNodeID().String(), shared.NewNodeID().String()),
			wantType: "summary",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := a.Normalize([]byte(`{"type": "node_created", "node": ` + tt.body + `}`))
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, ev.Node.Type)
		})
	}
}

func TestNormalize_RejectsAmbiguousShape(t *testing.T) {
	a := NewAdapter()
	raw := fmt.Sprintf(`{"type": "node_created", "node": {"id": %q, "parentId": %q, "sourceIds": [%q]}}`,
		shared.NewNodeID().String(), shared.NewNodeID().String(), shared.NewNodeID().String())

	_, err := a.Normalize([]byte(raw))
	assert.True(t, errors.IsValidation(err))
}

func TestNormalize_RejectsInvalidPayload(t *testing.T) {
	a := NewAdapter()

	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{{`},
		{name: "missing type", raw: `{"node": {"id": "x"}}`},
		{name: "unknown type", raw: `{"type": "node_exploded"}`},
		{name: "missing node id", raw: `{"type": "node_created", "node": {"title": "x"}}`},
		{name: "non uuid node id", raw: `{"type": "node_created", "node": {"id": "not-a-uuid"}}`},
		{name: "bad status", raw: fmt.Sprintf(`{"type": "node_created", "node": {"id": %q, "status": "exploded"}}`, shared.NewNodeID().String())},
		{name: "delete without id", raw: `{"type": "node_deleted"}`},
		{name: "stream end without message id", raw: fmt.Sprintf(`{"type": "stream_end", "nodeId": %q, "fullText": "x"}`, shared.NewNodeID().String())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Normalize([]byte(tt.raw))
			assert.True(t, errors.IsValidation(err), "got: %v", err)
		})
	}
}

func TestNormalize_StreamEvents(t *testing.T) {
	a := NewAdapter()
	id := shared.NewNodeID().String()

	start, err := a.Normalize([]byte(fmt.Sprintf(`{"type": "stream_start", "nodeId": %q}`, id)))
	require.NoError(t, err)
	assert.Equal(t, EventStreamStart, start.Kind)
	assert.Equal(t, id, start.NodeID)

	chunk, err := a.Normalize([]byte(fmt.Sprintf(`{"type": "stream_chunk", "payload": {"node_id": %q, "delta": "tok"}}`, id)))
	require.NoError(t, err)
	assert.Equal(t, "tok", chunk.Text)

	end, err := a.Normalize([]byte(fmt.Sprintf(`{"type": "stream_end", "nodeId": %q, "fullText": "done", "messageId": "m9"}`, id)))
	require.NoError(t, err)
	assert.Equal(t, "done", end.FullText)
	assert.Equal(t, "m9", end.MessageID)

	fail, err := a.Normalize([]byte(fmt.Sprintf(`{"type": "stream_error", "nodeId": %q, "error": "boom"}`, id)))
	require.NoError(t, err)
	assert.Equal(t, "boom", fail.ErrorMsg)
}
