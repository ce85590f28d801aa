package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "genserve_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "server"},
		},
		[]string{"date", "sha", "version"},
	)

	generateRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genserve_generate_requests_total",
			Help: "Number of generate requests by outcome",
		},
		[]string{"model", "outcome"},
	)

	generateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genserve_generate_duration_seconds",
			Help:    "Time spent in the model generate call",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"model"},
	)

	generateWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genserve_generate_wait_seconds",
			Help:    "Time spent waiting for a model slot",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	generateChars = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genserve_generate_chars_total",
			Help: "Characters of prompt and generated text",
		},
		[]string{"kind", "model"},
	)

	inflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "genserve_generate_inflight",
			Help: "Generate calls currently running against the model",
		},
	)

	waiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "genserve_generate_waiting",
			Help: "Generate calls waiting for a model slot",
		},
	)

	slots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "genserve_generate_slots",
			Help: "Configured number of concurrent model slots",
		},
	)
)

// Register registers all collectors with r.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, generateRequests, generateDuration, generateWait, generateChars, inflight, waiting, slots)
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

func SetSlots(n int) { slots.Set(float64(n)) }

func WaitStart() { waiting.Inc() }

// WaitEnd records how long a request waited for a slot.
func WaitEnd(model string, d time.Duration) {
	waiting.Dec()
	generateWait.WithLabelValues(model).Observe(d.Seconds())
}

func GenerateStart() { inflight.Inc() }

// GenerateEnd records the outcome of a model call.
func GenerateEnd(model string, d time.Duration, success bool) {
	inflight.Dec()
	generateDuration.WithLabelValues(model).Observe(d.Seconds())
	RecordRequest(model, success)
}

// RecordRequest counts a request that finished with or without reaching the model.
func RecordRequest(model string, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	generateRequests.WithLabelValues(model, outcome).Inc()
}

// RecordChars adds n characters of the given kind ("prompt" or "output").
func RecordChars(model, kind string, n int) {
	generateChars.WithLabelValues(kind, model).Add(float64(n))
}
