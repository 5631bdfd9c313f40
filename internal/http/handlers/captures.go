package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/cpcbridge/internal/catalog"
)

// CaptureHandler exposes the capture catalog.
type CaptureHandler struct {
	captures catalog.CaptureRepository
	runs     catalog.ReplayRunRepository
}

// NewCaptureHandler creates a capture handler.
func NewCaptureHandler(captures catalog.CaptureRepository, runs catalog.ReplayRunRepository) *CaptureHandler {
	return &CaptureHandler{captures: captures, runs: runs}
}

// ListCapturesInput is the input for listing captures.
type ListCapturesInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"1000" doc:"Maximum captures to return"`
}

// ListCapturesOutput is the output for listing captures.
type ListCapturesOutput struct {
	Body CaptureListResponse
}

// GetCaptureInput identifies a capture.
type GetCaptureInput struct {
	ID string `path:"id" doc:"Capture ID (ULID)"`
}

// GetCaptureOutput is a capture with its runs.
type GetCaptureOutput struct {
	Body CaptureResponse
}

// Register registers the capture routes with the API.
func (h *CaptureHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listCaptures",
		Method:      "GET",
		Path:        "/api/v1/captures",
		Summary:     "List captures",
		Tags:        []string{"Captures"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getCapture",
		Method:      "GET",
		Path:        "/api/v1/captures/{id}",
		Summary:     "Get capture",
		Description: "Returns a capture and every replay run recorded against it",
		Tags:        []string{"Captures"},
	}, h.Get)
}

// List returns captures, newest first.
func (h *CaptureHandler) List(ctx context.Context, input *ListCapturesInput) (*ListCapturesOutput, error) {
	captures, err := h.captures.List(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing captures", err)
	}
	return &ListCapturesOutput{Body: CaptureListResponse{
		Captures: captures,
		Count:    len(captures),
	}}, nil
}

// Get returns one capture and its runs.
func (h *CaptureHandler) Get(ctx context.Context, input *GetCaptureInput) (*GetCaptureOutput, error) {
	id, err := catalog.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid capture id", err)
	}

	capture, err := h.captures.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, huma.Error404NotFound("capture not found")
		}
		return nil, huma.Error500InternalServerError("loading capture", err)
	}

	runs, err := h.runs.ListByCapture(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading replay runs", err)
	}
	return &GetCaptureOutput{Body: CaptureResponse{Capture: capture, Runs: runs}}, nil
}
