package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gaspardpetit/genserve/internal/generate"
	"github.com/gaspardpetit/genserve/internal/model"
)

type recordingModel struct {
	prompt string
	params model.Params
	err    error
}

func (m *recordingModel) Name() string    { return "rec" }
func (m *recordingModel) Backend() string { return "test" }
func (m *recordingModel) Close() error    { return nil }

func (m *recordingModel) Generate(_ context.Context, prompt string, p model.Params) (string, error) {
	m.prompt, m.params = prompt, p
	if m.err != nil {
		return "", m.err
	}
	return "generated: " + prompt, nil
}

func postGenerate(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rr, req)
	return rr
}

func TestGenerateHandlerDefaults(t *testing.T) {
	m := &recordingModel{}
	h := GenerateHandler(generate.NewService(m, generate.Options{}))

	rr := postGenerate(t, h, `{"prompt":"hello"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var res map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res) != 1 || res["text"] != "generated: hello" {
		t.Fatalf("unexpected body %v", res)
	}
	if m.params.MaxLength != 150 || m.params.Temperature != 0.7 {
		t.Fatalf("defaults not applied: %+v", m.params)
	}
}

func TestGenerateHandlerPassThrough(t *testing.T) {
	m := &recordingModel{}
	h := GenerateHandler(generate.NewService(m, generate.Options{}))
	rr := postGenerate(t, h, `{"prompt":"hello","max_length":50,"temperature":0.2}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if m.prompt != "hello" || m.params.MaxLength != 50 || m.params.Temperature != 0.2 {
		t.Fatalf("values not passed through: %q %+v", m.prompt, m.params)
	}
}

func TestGenerateHandlerFailuresAre500(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
	}{
		{name: "missing prompt", body: `{"max_length":10}`},
		{name: "malformed json", body: `{"prompt":`},
		{name: "wrong type", body: `{"prompt":"x","max_length":"long"}`},
		{name: "model error", body: `{"prompt":"x"}`, err: errors.New("backend down")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := GenerateHandler(generate.NewService(&recordingModel{err: tt.err}, generate.Options{}))
			rr := postGenerate(t, h, tt.body)
			if rr.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", rr.Code)
			}
			if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
				t.Fatalf("expected plain text error, got %q", ct)
			}
			if json.Valid(rr.Body.Bytes()) {
				t.Fatalf("error body should not be JSON: %q", rr.Body.String())
			}
		})
	}
}
