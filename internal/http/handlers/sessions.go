package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/cpcbridge/internal/session"
)

// SessionHandler exposes live session statistics.
type SessionHandler struct {
	registry *session.Registry
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(registry *session.Registry) *SessionHandler {
	return &SessionHandler{registry: registry}
}

// ListSessionsInput is the input for listing sessions.
type ListSessionsInput struct{}

// ListSessionsOutput is the output for listing sessions.
type ListSessionsOutput struct {
	Body SessionListResponse
}

// GetSessionInput identifies a session.
type GetSessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

// GetSessionOutput is a single session snapshot.
type GetSessionOutput struct {
	Body session.Stats
}

// ResetSessionInput identifies the session whose decoder should reset.
type ResetSessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

// ResetSessionOutput acknowledges the reset.
type ResetSessionOutput struct {
	Body ResetResponse
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/api/v1/sessions",
		Summary:     "List sessions",
		Description: "Running sessions first, then recently finished ones newest first",
		Tags:        []string{"Sessions"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      "GET",
		Path:        "/api/v1/sessions/{id}",
		Summary:     "Get session",
		Tags:        []string{"Sessions"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID:   "resetSession",
		Method:        "POST",
		Path:          "/api/v1/sessions/{id}/reset",
		Summary:       "Reset decoder",
		Description:   "Asks a running session to tear down and rebuild its video decoder",
		Tags:          []string{"Sessions"},
		DefaultStatus: 202,
	}, h.Reset)
}

// List returns all known sessions.
func (h *SessionHandler) List(ctx context.Context, input *ListSessionsInput) (*ListSessionsOutput, error) {
	return &ListSessionsOutput{Body: SessionListResponse{
		Active:   h.registry.Active(),
		Sessions: h.registry.List(),
	}}, nil
}

// Get returns one session.
func (h *SessionHandler) Get(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
	stats, ok := h.registry.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("session not found")
	}
	return &GetSessionOutput{Body: stats}, nil
}

// Reset requests a decoder reset on a running session.
func (h *SessionHandler) Reset(ctx context.Context, input *ResetSessionInput) (*ResetSessionOutput, error) {
	s, ok := h.registry.Lookup(input.ID)
	if !ok {
		if _, known := h.registry.Get(input.ID); known {
			return nil, huma.Error409Conflict("session is not running")
		}
		return nil, huma.Error404NotFound("session not found")
	}
	s.Engine().RequestReset()
	return &ResetSessionOutput{Body: ResetResponse{
		SessionID:   input.ID,
		RequestedAt: time.Now().UTC(),
	}}, nil
}
