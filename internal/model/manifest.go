package model

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gaspardpetit/genserve/internal/logx"
	"github.com/gaspardpetit/genserve/internal/secret"
)

// Backend kinds accepted in a manifest.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
	BackendEcho   = "echo"
)

const (
	defaultOllamaURL = "http://127.0.0.1:11434"
	defaultOpenAIURL = "https://api.openai.com/v1"
	defaultTimeout   = 5 * time.Minute
	probeTimeout     = 5 * time.Second
)

// Manifest describes which model to load and how to reach it.
type Manifest struct {
	Backend string         `yaml:"backend"`
	Model   string         `yaml:"model"`
	BaseURL string         `yaml:"base_url"`
	APIKey  string         `yaml:"api_key"`
	Timeout time.Duration  `yaml:"timeout"`
	Options map[string]any `yaml:"options"`
}

// ReadManifest parses the YAML manifest at path.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}

func (m *Manifest) applyDefaults() {
	m.Backend = strings.ToLower(strings.TrimSpace(m.Backend))
	if m.Timeout <= 0 {
		m.Timeout = defaultTimeout
	}
	if m.BaseURL == "" {
		switch m.Backend {
		case BackendOllama:
			m.BaseURL = defaultOllamaURL
		case BackendOpenAI:
			m.BaseURL = defaultOpenAIURL
		}
	}
	m.BaseURL = strings.TrimRight(m.BaseURL, "/")
}

// Load reads the manifest at path and constructs the model it describes.
// HTTP backends are probed once; an unreachable backend is logged but does not
// fail the load.
func Load(path string) (Model, error) {
	m, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}
	mdl, err := New(m)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	ev := logx.Log.Info().Str("path", path).Str("backend", mdl.Backend()).Str("model", mdl.Name())
	if m.APIKey != "" {
		ev = ev.Str("api_key", secret.Mask(m.APIKey))
	}
	ev.Msg("model loaded")
	if p, ok := mdl.(Prober); ok {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		if err := p.Probe(ctx); err != nil {
			logx.Log.Warn().Err(err).Str("base_url", m.BaseURL).Msg("model backend not reachable")
		}
	}
	return mdl, nil
}

// New constructs a model from an in-memory manifest.
func New(m Manifest) (Model, error) {
	m.applyDefaults()
	switch m.Backend {
	case BackendOllama:
		if m.Model == "" {
			return nil, fmt.Errorf("%s: model name required", m.Backend)
		}
		return NewOllama(m), nil
	case BackendOpenAI:
		if m.Model == "" {
			return nil, fmt.Errorf("%s: model name required", m.Backend)
		}
		return NewOpenAI(m), nil
	case BackendEcho:
		return NewEcho(m.Model), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, m.Backend)
	}
}
