package model

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/go-resty/resty/v2"
)

// OpenAI calls an OpenAI-compatible text completion API (OpenAI, DeepSeek,
// vLLM, llama.cpp server, ...).
type OpenAI struct {
	model   string
	options map[string]any
	http    *resty.Client
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

func NewOpenAI(m Manifest) *OpenAI {
	c := resty.New().
		SetBaseURL(m.BaseURL).
		SetTimeout(m.Timeout).
		SetHeader("Accept", "application/json")
	if m.APIKey != "" {
		c.SetAuthToken(m.APIKey)
	}
	return &OpenAI{model: m.Model, options: m.Options, http: c}
}

func (o *OpenAI) Name() string    { return o.model }
func (o *OpenAI) Backend() string { return BackendOpenAI }
func (o *OpenAI) Close() error    { return nil }

func (o *OpenAI) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	body := make(map[string]any, len(o.options)+4)
	maps.Copy(body, o.options)
	body["model"] = o.model
	body["prompt"] = prompt
	if !p.UnsetMaxLength {
		body["max_tokens"] = p.MaxLength
	}
	if !p.UnsetTemperature {
		body["temperature"] = p.Temperature
	}

	resp, err := o.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/completions")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", &StatusError{Code: resp.StatusCode(), Body: resp.String()}
	}
	var out completionResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return out.Choices[0].Text, nil
}

func (o *OpenAI) Probe(ctx context.Context) error {
	resp, err := o.http.R().SetContext(ctx).Get("/models")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &StatusError{Code: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}
