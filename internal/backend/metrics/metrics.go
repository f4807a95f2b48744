package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Swap outcomes used as the "outcome" label.
const (
	OutcomeSuccess  = "success"
	OutcomeNoFace   = "no_face"
	OutcomeDecode   = "decode_error"
	OutcomeProvider = "provider_error"
	OutcomeError    = "error"
)

// Registry holds the service's Prometheus collectors on a private registry.
type Registry struct {
	registry      *prometheus.Registry
	swaps         *prometheus.CounterVec
	swapDuration  prometheus.Histogram
	resultBytes   prometheus.Counter
	prunedFiles   *prometheus.CounterVec
	modelFetchDur prometheus.Gauge
}

func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceswap_requests_total",
			Help: "Face swap requests by outcome.",
		}, []string{"outcome"}),
		swapDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "faceswap_pipeline_duration_seconds",
			Help:    "Time spent decoding, detecting and swapping per request.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		resultBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faceswap_result_bytes_total",
			Help: "Bytes of JPEG results written.",
		}),
		prunedFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceswap_pruned_files_total",
			Help: "Files removed by the retention janitor.",
		}, []string{"dir"}),
		modelFetchDur: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "faceswap_model_fetch_seconds",
			Help: "Duration of the startup model fetch.",
		}),
	}
	r.registry.MustRegister(
		r.swaps,
		r.swapDuration,
		r.resultBytes,
		r.prunedFiles,
		r.modelFetchDur,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Registry) ObserveSwap(outcome string, duration time.Duration) {
	r.swaps.WithLabelValues(outcome).Inc()
	r.swapDuration.Observe(duration.Seconds())
}

func (r *Registry) AddResultBytes(n int) {
	r.resultBytes.Add(float64(n))
}

func (r *Registry) AddPrunedFiles(dir string, n int) {
	r.prunedFiles.WithLabelValues(dir).Add(float64(n))
}

func (r *Registry) SetModelFetchDuration(d time.Duration) {
	r.modelFetchDur.Set(d.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
