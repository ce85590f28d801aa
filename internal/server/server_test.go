package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gaspardpetit/genserve/internal/api"
	"github.com/gaspardpetit/genserve/internal/config"
	"github.com/gaspardpetit/genserve/internal/generate"
	"github.com/gaspardpetit/genserve/internal/inflight"
	"github.com/gaspardpetit/genserve/internal/metrics"
	"github.com/gaspardpetit/genserve/internal/model"
	"github.com/gaspardpetit/genserve/internal/serverstate"
)

func newTestServer(t *testing.T, cfg config.ServerConfig) (*httptest.Server, *serverstate.Tracker) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	tracker := serverstate.NewTracker(nil)
	tracker.SetStatus(context.Background(), serverstate.StatusReady)
	h := New(cfg, Deps{
		Service:  generate.NewService(model.NewEcho(""), generate.Options{MaxConcurrency: cfg.MaxConcurrency}),
		Tracker:  tracker,
		Registry: reg,
		Build:    api.BuildInfo{Version: "test"},
	})
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, tracker
}

func TestGenerateEndToEnd(t *testing.T) {
	ts, _ := newTestServer(t, config.ServerConfig{Port: 8000})

	resp, err := http.Post(ts.URL+"/generate", "application/json", strings.NewReader(`{"prompt":"hello world","max_length":5}`))
	if err != nil {
		t.Fatalf("POST /generate: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["text"] != "hello" {
		t.Fatalf("unexpected text %q", out["text"])
	}
}

func TestGenerateMissingPromptIsServerError(t *testing.T) {
	ts, _ := newTestServer(t, config.ServerConfig{Port: 8000})

	resp, err := http.Post(ts.URL+"/generate", "application/json", strings.NewReader(`{"max_length":5}`))
	if err != nil {
		t.Fatalf("POST /generate: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "json") {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestGenerateRejectsGet(t *testing.T) {
	ts, _ := newTestServer(t, config.ServerConfig{Port: 8000})
	resp, err := http.Get(ts.URL + "/generate")
	if err != nil {
		t.Fatalf("GET /generate: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpointDefaultPort(t *testing.T) {
	ts, _ := newTestServer(t, config.ServerConfig{Port: 8000})

	gen, err := http.Post(ts.URL+"/generate", "application/json", strings.NewReader(`{"prompt":"hi"}`))
	if err != nil {
		t.Fatalf("POST /generate: %v", err)
	}
	_ = gen.Body.Close()
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(data), "genserve_generate_requests_total") {
		t.Fatalf("generate metrics missing")
	}
}

func TestMetricsEndpointSeparatePort(t *testing.T) {
	ts, _ := newTestServer(t, config.ServerConfig{Port: 8000, MetricsAddr: ":9090"})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	ms := httptest.NewServer(MetricsHandler(reg))
	defer ms.Close()
	resp2, err := http.Get(ms.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics listener: %v", err)
	}
	_ = resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp2.StatusCode)
	}
}

func TestHealthzDraining(t *testing.T) {
	ts, tracker := newTestServer(t, config.ServerConfig{Port: 8000})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	tracker.StartDrain(context.Background())
	resp2, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp2.Body.Close()
	if resp2.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp2.StatusCode)
	}
}

func TestCORSAllowedOrigins(t *testing.T) {
	ts, _ := newTestServer(t, config.ServerConfig{Port: 8000, AllowedOrigins: []string{"https://example.com"}})

	req, _ := http.NewRequest("GET", ts.URL+"/healthz", nil)
	req.Header.Set("Origin", "https://example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	_ = resp.Body.Close()
	if ao := resp.Header.Get("Access-Control-Allow-Origin"); ao != "https://example.com" {
		t.Fatalf("expected allowed origin header, got %q", ao)
	}

	req2, _ := http.NewRequest("GET", ts.URL+"/healthz", nil)
	req2.Header.Set("Origin", "https://evil.com")
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	_ = resp2.Body.Close()
	if ao := resp2.Header.Get("Access-Control-Allow-Origin"); ao != "" {
		t.Fatalf("expected no allowed origin header, got %q", ao)
	}
}

func TestMCPToggle(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26"}}`

	on, _ := newTestServer(t, config.ServerConfig{Port: 8000, EnableMCP: true})
	resp, err := http.Post(on.URL+"/mcp", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /mcp: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	off, _ := newTestServer(t, config.ServerConfig{Port: 8000})
	resp2, err := http.Post(off.URL+"/mcp", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /mcp: %v", err)
	}
	_ = resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp2.StatusCode)
	}
}

func TestOpenAPIServed(t *testing.T) {
	ts, _ := newTestServer(t, config.ServerConfig{Port: 8000})
	resp, err := http.Get(ts.URL + "/api/openapi.json")
	if err != nil {
		t.Fatalf("GET openapi: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/generate"]; !ok {
		t.Fatalf("openapi document lacks /generate")
	}
}

type blockingModel struct {
	started chan struct{}
	done    chan error
}

func (m *blockingModel) Name() string    { return "block" }
func (m *blockingModel) Backend() string { return "test" }
func (m *blockingModel) Close() error    { return nil }

func (m *blockingModel) Generate(ctx context.Context, _ string, _ model.Params) (string, error) {
	close(m.started)
	<-ctx.Done()
	m.done <- ctx.Err()
	return "", ctx.Err()
}

func TestCancelPropagatesAndCountsInflight(t *testing.T) {
	m := &blockingModel{started: make(chan struct{}), done: make(chan error, 1)}
	var counter inflight.Counter
	h := New(config.ServerConfig{Port: 8000}, Deps{
		Service:  generate.NewService(m, generate.Options{}),
		Inflight: &counter,
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/generate", strings.NewReader(`{"prompt":"hi"}`))
	errCh := make(chan error, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
		}
		errCh <- err
	}()

	select {
	case <-m.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("model was not called")
	}
	if n := counter.Load(); n != 1 {
		t.Fatalf("expected 1 in-flight request, got %d", n)
	}
	cancel()
	select {
	case err := <-m.done:
		if err == nil {
			t.Fatalf("expected context error in model")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("model did not observe cancel")
	}
	<-errCh

	wctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	if !counter.WaitForZero(wctx) {
		t.Fatalf("in-flight count did not return to zero")
	}
}
