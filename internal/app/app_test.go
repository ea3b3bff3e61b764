package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keybind/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.SeedKeys = []string{"ABC-123", "DEF-456"}
	cfg.CORS.AllowedOrigins = []string{"https://app.example"}
	cfg.Server.ShutdownTimeout = 5 * time.Second
	return cfg
}

func newTestApplication(t *testing.T, cfg *config.Config) *Application {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	a, err := NewApplication(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

type response struct {
	status int
	header http.Header
	body   map[string]interface{}
}

func do(t *testing.T, h http.Handler, method, path, body string) response {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	resp := response{status: w.Code, header: w.Header()}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp.body), "body: %s", w.Body.String())
	}
	return resp
}

func TestRouter_ActivationContract(t *testing.T) {
	a := newTestApplication(t, testConfig())

	steps := []struct {
		name        string
		body        string
		wantStatus  int
		wantSuccess bool
		wantMessage string
	}{
		{
			name:        "first activation",
			body:        `{"activation_key":"ABC-123","device_id":"laptop"}`,
			wantStatus:  http.StatusOK,
			wantSuccess: true,
			wantMessage: "Activation successful: Key activated for this device.",
		},
		{
			name:        "same device again",
			body:        `{"activation_key":"ABC-123","device_id":"laptop"}`,
			wantStatus:  http.StatusOK,
			wantSuccess: true,
			wantMessage: "Activation successful: Key already activated on this device.",
		},
		{
			name:        "other device",
			body:        `{"activation_key":"ABC-123","device_id":"desktop"}`,
			wantStatus:  http.StatusForbidden,
			wantMessage: "Activation failed: Key already activated on another device.",
		},
		{
			name:        "unknown key",
			body:        `{"activation_key":"ZZZ-999","device_id":"laptop"}`,
			wantStatus:  http.StatusNotFound,
			wantMessage: "Activation failed: Invalid activation key.",
		},
		{
			name:        "missing device",
			body:        `{"activation_key":"DEF-456"}`,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Invalid request: activation_key and device_id are required.",
		},
	}

	for _, step := range steps {
		resp := do(t, a.Router, http.MethodPost, "/activate", step.body)
		assert.Equal(t, step.wantStatus, resp.status, step.name)
		assert.Equal(t, step.wantSuccess, resp.body["success"], step.name)
		assert.Equal(t, step.wantMessage, resp.body["message"], step.name)
		assert.NotEmpty(t, resp.header.Get("X-Request-ID"), step.name)
	}
}

func TestRouter_UnknownEndpoints(t *testing.T) {
	a := newTestApplication(t, testConfig())

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/activate"},
		{http.MethodPut, "/activate"},
		{http.MethodPost, "/deactivate"},
		{http.MethodGet, "/"},
		{http.MethodGet, "/metrics"},
		{http.MethodGet, "/healthz"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := do(t, a.Router, tt.method, tt.path, "")
			assert.Equal(t, http.StatusNotFound, resp.status)
			assert.Equal(t, map[string]interface{}{
				"success": false,
				"message": "API endpoint not found.",
			}, resp.body)
		})
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	a := newTestApplication(t, testConfig())

	req := httptest.NewRequest(http.MethodOptions, "/activate", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)

	assert.Less(t, w.Code, 300)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAdminRouter(t *testing.T) {
	a := newTestApplication(t, testConfig())

	do(t, a.Router, http.MethodPost, "/activate", `{"activation_key":"ABC-123","device_id":"laptop"}`)

	health := do(t, a.AdminRouter, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, health.status)
	assert.Equal(t, "ok", health.body["status"])
	assert.Equal(t, config.BackendMemory, health.body["store"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	a.AdminRouter.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "activation_requests_total")
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestAdminRouter_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Telemetry.MetricsEnabled = false
	a := newTestApplication(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	a.AdminRouter.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewApplication_StoreFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Backend = config.BackendSheets
	cfg.Sheets.SpreadsheetID = "sheet-123"

	_, err := NewApplication(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "failed to open store")
}

// TestRun_ListenFailureReleasesStore tests that a port conflict still closes
// the store opened by NewApplication
func TestRun_ListenFailureReleasesStore(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = busy.Addr().(*net.TCPAddr).Port
	cfg.Telemetry.AdminPort = 0
	cfg.Store.Backend = config.BackendSQL
	cfg.SQL.Driver = "sqlite"
	cfg.SQL.DSN = filepath.Join(t.TempDir(), "bindings.db")

	a := newTestApplication(t, cfg)
	pinger, ok := a.Store.Store.(interface{ Ping(context.Context) error })
	require.True(t, ok)
	require.NoError(t, pinger.Ping(context.Background()))

	err = a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
	assert.Error(t, pinger.Ping(context.Background()), "store must be closed")
}

func TestServe(t *testing.T) {
	a := newTestApplication(t, testConfig())

	publicLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	adminLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, publicLn, adminLn) }()

	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Post("http://"+publicLn.Addr().String()+"/activate", "application/json",
		strings.NewReader(`{"activation_key":"DEF-456","device_id":"laptop"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get("http://" + adminLn.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
