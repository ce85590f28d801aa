package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	SetBuildInfo("1.0.0", "abc", "2024-01-01")
	SetSlots(2)

	WaitStart()
	if v := testutil.ToFloat64(waiting); v != 1 {
		t.Fatalf("waiting: %v", v)
	}
	WaitEnd("deepseek", 10*time.Millisecond)
	GenerateStart()
	if v := testutil.ToFloat64(inflight); v != 1 {
		t.Fatalf("inflight: %v", v)
	}
	GenerateEnd("deepseek", 100*time.Millisecond, true)
	RecordRequest("deepseek", false)
	RecordChars("deepseek", "prompt", 5)
	RecordChars("deepseek", "output", 12)

	if v := testutil.ToFloat64(waiting); v != 0 {
		t.Fatalf("waiting after end: %v", v)
	}
	if v := testutil.ToFloat64(inflight); v != 0 {
		t.Fatalf("inflight after end: %v", v)
	}
	if v := testutil.ToFloat64(generateRequests.WithLabelValues("deepseek", "success")); v != 1 {
		t.Fatalf("success requests: %v", v)
	}
	if v := testutil.ToFloat64(generateRequests.WithLabelValues("deepseek", "error")); v != 1 {
		t.Fatalf("error requests: %v", v)
	}
	if v := testutil.ToFloat64(generateChars.WithLabelValues("output", "deepseek")); v != 12 {
		t.Fatalf("output chars: %v", v)
	}
	if v := testutil.ToFloat64(slots); v != 2 {
		t.Fatalf("slots: %v", v)
	}
	if v := testutil.ToFloat64(buildInfo.WithLabelValues("2024-01-01", "abc", "1.0.0")); v != 1 {
		t.Fatalf("build info: %v", v)
	}
	if n := testutil.CollectAndCount(generateDuration); n != 1 {
		t.Fatalf("duration series: %d", n)
	}
}
