package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the pipeline's collectors. All methods are nil-safe so
// callers that do not care about metrics can pass nil.
type Registry struct {
	reg *prometheus.Registry

	Batches          *prometheus.CounterVec
	RecordsConsumed  *prometheus.CounterVec
	RecordsSkipped   *prometheus.CounterVec
	DuplicatesDrop   *prometheus.CounterVec
	RowsUpserted     *prometheus.CounterVec
	WriteRetries     *prometheus.CounterVec
	FatalBatches     *prometheus.CounterVec
	Published        *prometheus.CounterVec
	BatchDurationSec *prometheus.HistogramVec
	State            *prometheus.GaugeVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	kind := []string{"kind"}
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_batches_total"}, kind)
	consumed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_records_consumed_total"}, kind)
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_records_skipped_total"}, kind)
	dups := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_duplicates_dropped_total"}, kind)
	upserted := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_rows_upserted_total"}, kind)
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_write_retries_total"}, kind)
	fatal := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_fatal_batches_total"}, kind)
	published := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_published_total"}, []string{"kind", "source"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_batch_duration_seconds",
		Buckets: prometheus.DefBuckets,
	}, kind)
	state := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_processor_state",
		Help: "1 for the state each processor is currently in.",
	}, []string{"kind", "state"})

	r.MustRegister(batches, consumed, skipped, dups, upserted, retries, fatal, published, duration, state)
	return &Registry{
		reg:              r,
		Batches:          batches,
		RecordsConsumed:  consumed,
		RecordsSkipped:   skipped,
		DuplicatesDrop:   dups,
		RowsUpserted:     upserted,
		WriteRetries:     retries,
		FatalBatches:     fatal,
		Published:        published,
		BatchDurationSec: duration,
		State:            state,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Counter names a per-kind counter.
type Counter int

const (
	CounterBatches Counter = iota
	CounterConsumed
	CounterSkipped
	CounterDuplicates
	CounterUpserted
	CounterWriteRetries
	CounterFatal
)

func (r *Registry) vec(c Counter) *prometheus.CounterVec {
	switch c {
	case CounterBatches:
		return r.Batches
	case CounterConsumed:
		return r.RecordsConsumed
	case CounterSkipped:
		return r.RecordsSkipped
	case CounterDuplicates:
		return r.DuplicatesDrop
	case CounterUpserted:
		return r.RowsUpserted
	case CounterWriteRetries:
		return r.WriteRetries
	case CounterFatal:
		return r.FatalBatches
	}
	return nil
}

// Add increments counter c for kind by n.
func (r *Registry) Add(c Counter, kind string, n int) {
	if r == nil || n <= 0 {
		return
	}
	if v := r.vec(c); v != nil {
		v.WithLabelValues(kind).Add(float64(n))
	}
}

func (r *Registry) ObserveBatch(kind string, d time.Duration) {
	if r == nil {
		return
	}
	r.BatchDurationSec.WithLabelValues(kind).Observe(d.Seconds())
}

func (r *Registry) CountPublished(kind, source string) {
	if r == nil {
		return
	}
	r.Published.WithLabelValues(kind, source).Inc()
}

// SetState marks state as current for kind and clears the previous one.
func (r *Registry) SetState(kind, prev, next string) {
	if r == nil {
		return
	}
	if prev != "" {
		r.State.WithLabelValues(kind, prev).Set(0)
	}
	r.State.WithLabelValues(kind, next).Set(1)
}

// HealthCheck reports why the process is unhealthy, or nil.
type HealthCheck func() error

// Server builds an HTTP server exposing /metrics and /healthz on addr.
// /healthz answers 503 with the check's error while check fails; a nil
// check is always healthy.
func (r *Registry) Server(addr string, check HealthCheck) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if check != nil {
			if err := check(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
