package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/gaspardpetit/genserve/internal/generate"
	"github.com/gaspardpetit/genserve/internal/logx"
)

// Generator runs a generate request.
type Generator interface {
	Generate(ctx context.Context, req generate.Request) (generate.Response, error)
}

// GenerateHandler handles POST /generate.
//
// Every failure (undecodable body, missing prompt, model error, timeout)
// produces the same plain 500 response; the cause is only logged.
func GenerateHandler(g Generator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generate.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			serverError(w, r, err)
			return
		}
		res, err := g.Generate(r.Context(), req)
		if err != nil {
			serverError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(res); err != nil {
			logx.Log.Error().Err(err).Msg("encode generate result")
		}
	}
}

func serverError(w http.ResponseWriter, r *http.Request, err error) {
	ev := logx.Log.Error()
	if errors.Is(err, generate.ErrMissingPrompt) || errors.Is(err, context.Canceled) {
		ev = logx.Log.Warn()
	}
	ev.Err(err).Str("request_id", chiMiddleware.GetReqID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
