// Package model provides the text-generation capability behind the generate
// endpoint. A Model is loaded once from a manifest and then shared by every
// request.
package model

import (
	"context"
	"errors"
	"fmt"
)

// Params are the sampling parameters passed through to the backend unchanged.
// A parameter sent as null is marked unset and left to the backend's own
// default.
type Params struct {
	MaxLength   int
	Temperature float64

	UnsetMaxLength   bool
	UnsetTemperature bool
}

// Model generates text for a prompt.
type Model interface {
	Generate(ctx context.Context, prompt string, p Params) (string, error)
	// Name is the backend model identifier, e.g. "deepseek-r1:1.5b".
	Name() string
	// Backend is the manifest backend kind, e.g. "ollama".
	Backend() string
	Close() error
}

// Prober is implemented by models that can check their backend is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

var (
	ErrUnknownBackend = errors.New("unknown model backend")
	ErrEmptyResponse  = errors.New("empty model response")
)

// StatusError is returned when a backend answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend status %d: %s", e.Code, e.Body)
}
