package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without cause",
			err:      NewValidationError("title is required"),
			expected: "VALIDATION: title is required",
		},
		{
			name:     "with cause",
			err:      NewInternalError("snapshot failed", stderrors.New("boom")),
			expected: "INTERNAL: snapshot failed: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestWrap_PreservesType(t *testing.T) {
	base := NewNotFoundError("node")
	wrapped := Wrap(base, "delete nodes")

	require.Error(t, wrapped)
	assert.True(t, IsNotFound(wrapped))
	assert.Contains(t, wrapped.Error(), "delete nodes")
	assert.Contains(t, wrapped.Error(), "node not found")
}

func TestWrap_WrapsUnclassifiedAsInternal(t *testing.T) {
	wrapped := Wrap(stderrors.New("io failure"), "load config")

	assert.Equal(t, ErrorTypeInternal, TypeOf(wrapped))
	assert.Contains(t, wrapped.Error(), "load config")
}

func TestWrap_NilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "anything"))
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := NewExternalError("fetch failed", cause)

	assert.True(t, stderrors.Is(err, cause))
}

func TestTypeOf_DeepChain(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewConflictError("node has children"))
	assert.True(t, IsConflict(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", NewValidationError("bad"), http.StatusBadRequest},
		{"not found", NewNotFoundError("node"), http.StatusNotFound},
		{"conflict", NewConflictError("children remain"), http.StatusConflict},
		{"external", NewExternalError("upstream", nil), http.StatusBadGateway},
		{"internal", NewInternalError("bug", nil), http.StatusInternalServerError},
		{"plain error", stderrors.New("anything"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
		})
	}
}
