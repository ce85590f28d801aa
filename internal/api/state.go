package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/gaspardpetit/genserve/internal/generate"
	"github.com/gaspardpetit/genserve/internal/logx"
	"github.com/gaspardpetit/genserve/internal/serverstate"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	BuildSHA  string `json:"build_sha"`
	BuildDate string `json:"build_date"`
}

// HostStats is a coarse view of the machine the model runs on.
type HostStats struct {
	MemTotal       uint64  `json:"mem_total_bytes"`
	MemUsed        uint64  `json:"mem_used_bytes"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	CPUPercent     float64 `json:"cpu_percent"`
}

// State is the JSON document served by /api/state.
type State struct {
	Status   serverstate.Status `json:"status"`
	Draining bool               `json:"draining"`
	Since    time.Time          `json:"since"`
	Build    BuildInfo          `json:"build"`
	Generate generate.Snapshot  `json:"generate"`
	Host     *HostStats         `json:"host,omitempty"`
}

// Snapshotter reports the generation service state.
type Snapshotter interface {
	Snapshot() generate.Snapshot
}

// StateHandler serves state snapshots and streams.
type StateHandler struct {
	Tracker  *serverstate.Tracker
	Service  Snapshotter
	Build    BuildInfo
	Interval time.Duration
}

func (h *StateHandler) snapshot(ctx context.Context) State {
	st := h.Tracker.Get(ctx)
	return State{
		Status:   st.Status,
		Draining: st.Draining,
		Since:    st.Since,
		Build:    h.Build,
		Generate: h.Service.Snapshot(),
		Host:     hostStats(ctx),
	}
}

func hostStats(ctx context.Context) *HostStats {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		logx.Log.Debug().Err(err).Msg("host memory stats")
		return nil
	}
	hs := &HostStats{MemTotal: vm.Total, MemUsed: vm.Used, MemUsedPercent: vm.UsedPercent}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		hs.CPUPercent = pct[0]
	}
	return hs
}

// GetState returns a JSON snapshot.
func (h *StateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.snapshot(r.Context())); err != nil {
		logx.Log.Error().Err(err).Msg("encode state")
	}
}

// GetStateStream streams snapshots as Server-Sent Events.
func (h *StateHandler) GetStateStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	interval := h.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		b, err := json.Marshal(h.snapshot(r.Context()))
		if err != nil {
			logx.Log.Error().Err(err).Msg("encode state")
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return
		}
		flusher.Flush()
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// HealthHandler reports 200 while the server is ready and 503 otherwise.
func HealthHandler(t *serverstate.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if !t.Healthy(r.Context()) {
			status, code = "unavailable", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = fmt.Fprintf(w, `{"status":%q}`, status)
	}
}
