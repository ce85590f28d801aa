package model

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/go-resty/resty/v2"
)

// Ollama talks to a local Ollama server.
type Ollama struct {
	model   string
	options map[string]any
	http    *resty.Client
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func NewOllama(m Manifest) *Ollama {
	c := resty.New().
		SetBaseURL(m.BaseURL).
		SetTimeout(m.Timeout).
		SetHeader("Accept", "application/json")
	if m.APIKey != "" {
		c.SetAuthToken(m.APIKey)
	}
	return &Ollama{model: m.Model, options: m.Options, http: c}
}

func (o *Ollama) Name() string    { return o.model }
func (o *Ollama) Backend() string { return BackendOllama }
func (o *Ollama) Close() error    { return nil }

// Generate maps max length to num_predict and sends a non-streaming request.
func (o *Ollama) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	opts := make(map[string]any, len(o.options)+2)
	maps.Copy(opts, o.options)
	if !p.UnsetMaxLength {
		opts["num_predict"] = p.MaxLength
	}
	if !p.UnsetTemperature {
		opts["temperature"] = p.Temperature
	}

	resp, err := o.http.R().
		SetContext(ctx).
		SetBody(ollamaGenerateRequest{Model: o.model, Prompt: prompt, Options: opts}).
		Post("/api/generate")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", &StatusError{Code: resp.StatusCode(), Body: resp.String()}
	}
	var out ollamaGenerateResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return out.Response, nil
}

// Tags lists the models installed on the Ollama server.
func (o *Ollama) Tags(ctx context.Context) ([]string, error) {
	resp, err := o.http.R().SetContext(ctx).Get("/api/tags")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &StatusError{Code: resp.StatusCode(), Body: resp.String()}
	}
	var v struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(resp.Body(), &v); err != nil {
		return nil, fmt.Errorf("decode ollama tags: %w", err)
	}
	models := make([]string, 0, len(v.Models))
	for _, m := range v.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// Probe checks the server answers and has the configured model installed.
func (o *Ollama) Probe(ctx context.Context) error {
	tags, err := o.Tags(ctx)
	if err != nil {
		return err
	}
	for _, t := range tags {
		if t == o.model {
			return nil
		}
	}
	return fmt.Errorf("model %q not installed on ollama", o.model)
}
