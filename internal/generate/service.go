// Package generate owns the process-wide model handle and runs generate calls
// against it under a fixed concurrency limit.
package generate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/gaspardpetit/genserve/internal/logx"
	"github.com/gaspardpetit/genserve/internal/metrics"
	"github.com/gaspardpetit/genserve/internal/model"
)

// Options configure a Service.
type Options struct {
	// MaxConcurrency is the number of generate calls allowed to run against
	// the model at once. Values below 1 mean 1.
	MaxConcurrency int
	// Timeout bounds each request including time spent waiting for a slot.
	// Zero disables it.
	Timeout time.Duration
}

// Service runs generate requests against a single model loaded at startup.
// Requests beyond MaxConcurrency wait for a slot until their context ends;
// none are rejected for load.
type Service struct {
	model   model.Model
	slots   chan struct{}
	timeout time.Duration

	inflight  atomic.Int64
	waiting   atomic.Int64
	completed atomic.Uint64
	failed    atomic.Uint64

	mu        sync.Mutex
	lastError string
	lastErrAt time.Time
}

// NewService wraps m. The model handle is fixed for the lifetime of the service.
func NewService(m model.Model, opts Options) *Service {
	n := opts.MaxConcurrency
	if n < 1 {
		n = 1
	}
	metrics.SetSlots(n)
	return &Service{model: m, slots: make(chan struct{}, n), timeout: opts.Timeout}
}

// Model returns the model handle.
func (s *Service) Model() model.Model { return s.model }

// Generate resolves defaults, waits for a model slot and calls the model.
func (s *Service) Generate(ctx context.Context, req Request) (Response, error) {
	name := s.model.Name()
	if req.Prompt == nil {
		s.fail(name, ErrMissingPrompt)
		return Response{}, ErrMissingPrompt
	}
	prompt := *req.Prompt
	p := req.Params()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	jobID := uuid.NewString()
	log := logx.Log.With().
		Str("request_id", chiMiddleware.GetReqID(ctx)).
		Str("job_id", jobID).
		Str("model", name).
		Logger()

	release, err := s.acquire(ctx, name)
	if err != nil {
		log.Warn().Err(err).Msg("gave up waiting for model slot")
		s.fail(name, err)
		return Response{}, fmt.Errorf("wait for model slot: %w", err)
	}
	defer release()

	log.Debug().Int("max_length", p.MaxLength).Float64("temperature", p.Temperature).Msg("generate")
	text, dur, err := s.call(ctx, name, prompt, p)
	if err != nil {
		log.Error().Err(err).Dur("dur", dur).Msg("generate failed")
		s.recordError(err)
		s.failed.Add(1)
		return Response{}, fmt.Errorf("generate: %w", err)
	}
	s.completed.Add(1)
	metrics.RecordChars(name, "prompt", utf8.RuneCountInString(prompt))
	metrics.RecordChars(name, "output", utf8.RuneCountInString(text))
	log.Info().Dur("dur", dur).Int("chars", utf8.RuneCountInString(text)).Msg("generated")
	return Response{Text: text}, nil
}

// call invokes the model. Metrics are settled even if the model panics; the
// panic is then passed on to the HTTP recoverer.
func (s *Service) call(ctx context.Context, name, prompt string, p model.Params) (text string, dur time.Duration, err error) {
	metrics.GenerateStart()
	start := time.Now()
	ok := false
	defer func() {
		dur = time.Since(start)
		metrics.GenerateEnd(name, dur, ok)
		if r := recover(); r != nil {
			s.recordError(fmt.Errorf("model panic: %v", r))
			s.failed.Add(1)
			panic(r)
		}
	}()
	text, err = s.model.Generate(ctx, prompt, p)
	ok = err == nil
	return text, 0, err
}

func (s *Service) acquire(ctx context.Context, name string) (func(), error) {
	s.waiting.Add(1)
	metrics.WaitStart()
	start := time.Now()
	defer func() {
		s.waiting.Add(-1)
		metrics.WaitEnd(name, time.Since(start))
	}()
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.inflight.Add(1)
	return func() {
		s.inflight.Add(-1)
		<-s.slots
	}, nil
}

func (s *Service) fail(name string, err error) {
	metrics.RecordRequest(name, false)
	s.recordError(err)
	s.failed.Add(1)
}

func (s *Service) recordError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.lastErrAt = time.Now()
	s.mu.Unlock()
}

// Snapshot is a point-in-time view of the service.
type Snapshot struct {
	Model          string    `json:"model"`
	Backend        string    `json:"backend"`
	MaxConcurrency int       `json:"max_concurrency"`
	Inflight       int64     `json:"inflight"`
	Waiting        int64     `json:"waiting"`
	Completed      uint64    `json:"completed"`
	Failed         uint64    `json:"failed"`
	LastError      string    `json:"last_error,omitempty"`
	LastErrorAt    time.Time `json:"last_error_at,omitzero"`
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	lastErr, lastAt := s.lastError, s.lastErrAt
	s.mu.Unlock()
	return Snapshot{
		Model:          s.model.Name(),
		Backend:        s.model.Backend(),
		MaxConcurrency: cap(s.slots),
		Inflight:       s.inflight.Load(),
		Waiting:        s.waiting.Load(),
		Completed:      s.completed.Load(),
		Failed:         s.failed.Load(),
		LastError:      lastErr,
		LastErrorAt:    lastAt,
	}
}
