package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/cpcbridge/internal/catalog"
	"github.com/jmylchreest/cpcbridge/internal/config"
	"github.com/jmylchreest/cpcbridge/internal/observability"
	"github.com/jmylchreest/cpcbridge/internal/session"
	"github.com/jmylchreest/cpcbridge/internal/video"
)

func newTestAPI(t *testing.T) (*chi.Mux, huma.API) {
	t.Helper()
	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("test", "1.0.0"))
	return router, api
}

func doRequest(t *testing.T, h http.Handler, method, path string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestSessionHandler(t *testing.T) {
	router, api := newTestAPI(t)
	reg := session.NewRegistry(4)
	NewSessionHandler(reg).Register(api)

	pr, pw := io.Pipe()
	s, err := session.New(session.DefaultConfig(), session.Deps{
		Source:  pr,
		Decoder: video.NewNullDecoder(),
		Logger:  observability.Discard(),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- reg.Run(context.Background(), s) }()
	require.Eventually(t, func() bool {
		st, ok := reg.Get(s.ID())
		return ok && st.Status == session.StatusRunning
	}, time.Second, 5*time.Millisecond)

	var list SessionListResponse
	require.Equal(t, http.StatusOK, doRequest(t, router, http.MethodGet, "/api/v1/sessions", &list))
	assert.Equal(t, 1, list.Active)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, s.ID(), list.Sessions[0].ID)
	assert.Equal(t, session.StatusRunning, list.Sessions[0].Status)

	var stats session.Stats
	require.Equal(t, http.StatusOK, doRequest(t, router, http.MethodGet, "/api/v1/sessions/"+s.ID(), &stats))
	assert.Equal(t, s.ID(), stats.ID)

	var reset ResetResponse
	require.Equal(t, http.StatusAccepted, doRequest(t, router, http.MethodPost, "/api/v1/sessions/"+s.ID()+"/reset", &reset))
	assert.Equal(t, s.ID(), reset.SessionID)

	require.NoError(t, pw.Close())
	require.NoError(t, <-done)

	assert.Equal(t, http.StatusConflict, doRequest(t, router, http.MethodPost, "/api/v1/sessions/"+s.ID()+"/reset", nil))
	assert.Equal(t, http.StatusNotFound, doRequest(t, router, http.MethodGet, "/api/v1/sessions/missing", nil))
	assert.Equal(t, http.StatusNotFound, doRequest(t, router, http.MethodPost, "/api/v1/sessions/missing/reset", nil))
}

func TestCaptureHandler(t *testing.T) {
	db, err := catalog.Open(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      ":memory:",
		LogLevel: "silent",
	}, observability.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, catalog.Migrate(ctx, db.DB, observability.Discard()))

	captures := catalog.NewCaptureRepository(db.DB)
	runs := catalog.NewReplayRunRepository(db.DB)

	older := &catalog.Capture{Name: "older", SessionID: "s1", IndexPath: "a.json", BlobPath: "a.bin", StartedAt: time.Now().Add(-time.Hour)}
	newer := &catalog.Capture{Name: "newer", SessionID: "s2", IndexPath: "b.json", BlobPath: "b.bin", StartedAt: time.Now()}
	require.NoError(t, captures.Create(ctx, older))
	require.NoError(t, captures.Create(ctx, newer))

	run, err := runs.Start(ctx, newer.ID)
	require.NoError(t, err)
	run.Outcome = catalog.OutcomeCompleted
	run.Emitted = 12
	require.NoError(t, runs.Finish(ctx, run))

	router, api := newTestAPI(t)
	NewCaptureHandler(captures, runs).Register(api)

	var list CaptureListResponse
	require.Equal(t, http.StatusOK, doRequest(t, router, http.MethodGet, "/api/v1/captures", &list))
	require.Equal(t, 2, list.Count)
	assert.Equal(t, "newer", list.Captures[0].Name)

	require.Equal(t, http.StatusOK, doRequest(t, router, http.MethodGet, "/api/v1/captures?limit=1", &list))
	assert.Equal(t, 1, list.Count)

	var got CaptureResponse
	require.Equal(t, http.StatusOK, doRequest(t, router, http.MethodGet, "/api/v1/captures/"+newer.ID.String(), &got))
	assert.Equal(t, "newer", got.Capture.Name)
	require.Len(t, got.Runs, 1)
	assert.Equal(t, catalog.OutcomeCompleted, got.Runs[0].Outcome)
	assert.Equal(t, 12, got.Runs[0].Emitted)

	assert.Equal(t, http.StatusBadRequest, doRequest(t, router, http.MethodGet, "/api/v1/captures/not-a-ulid", nil))
	assert.Equal(t, http.StatusNotFound, doRequest(t, router, http.MethodGet, "/api/v1/captures/"+catalog.NewULID().String(), nil))
	assert.Equal(t, http.StatusUnprocessableEntity, doRequest(t, router, http.MethodGet, "/api/v1/captures?limit=0", nil))
}

func TestHealthRoutes(t *testing.T) {
	router, api := newTestAPI(t)
	NewHealthHandler("1.0.0").WithDB(stubPinger{err: io.ErrUnexpectedEOF}).Register(api)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "not_ready"))

	assert.Equal(t, http.StatusOK, doRequest(t, router, http.MethodGet, "/livez", nil))
}
