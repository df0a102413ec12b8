package extensions

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	atom "github.com/pumped-fn/pumped-atom"
)

// MetricsExtension exports register activity as Prometheus metrics
type MetricsExtension struct {
	atom.BaseExtension

	// publishTotal counts successful swaps by register
	publishTotal *prometheus.CounterVec
	// conflictTotal counts swaps that lost a race
	conflictTotal *prometheus.CounterVec
	// operationTotal counts wrapped operations by kind and result
	operationTotal *prometheus.CounterVec
	// operationAttempts tracks swap attempts per operation
	operationAttempts *prometheus.HistogramVec
	// operationDuration tracks operation latency
	operationDuration *prometheus.HistogramVec
	// version tracks the latest published version
	version *prometheus.GaugeVec
}

// NewMetricsExtension registers the metrics on reg under the given namespace.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetricsExtension(reg prometheus.Registerer, namespace string) *MetricsExtension {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &MetricsExtension{
		BaseExtension: atom.NewBaseExtension("metrics"),
		publishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "register_publish_total",
			Help:      "Total snapshots published by register",
		}, []string{"register"}),
		conflictTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "register_conflict_total",
			Help:      "Total compare-and-swap attempts that lost a race",
		}, []string{"register"}),
		operationTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "register_operation_total",
			Help:      "Total register operations by kind and result",
		}, []string{"register", "operation", "result"}),
		operationAttempts: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "register_operation_attempts",
			Help:      "Swap attempts needed per register operation",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50, 100},
		}, []string{"register", "operation"}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "register_operation_duration_seconds",
			Help:      "Register operation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 10), // 1µs to ~260ms
		}, []string{"register", "operation"}),
		version: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "register_version",
			Help:      "Latest published snapshot version",
		}, []string{"register"}),
	}
}

func (e *MetricsExtension) Order() int {
	return 10
}

func (e *MetricsExtension) Wrap(ctx context.Context, next func() (any, error), op *atom.Operation) (any, error) {
	start := time.Now()
	result, err := next()

	name := op.Register.Name()
	kind := string(op.Kind)
	e.operationDuration.WithLabelValues(name, kind).Observe(time.Since(start).Seconds())
	e.operationAttempts.WithLabelValues(name, kind).Observe(float64(op.Attempt))
	e.operationTotal.WithLabelValues(name, kind, resultLabel(result, err)).Inc()

	return result, err
}

func (e *MetricsExtension) OnPublish(ctx context.Context, ev atom.PublishEvent) {
	name := ev.Register.Name()
	e.publishTotal.WithLabelValues(name).Inc()
	e.version.WithLabelValues(name).Set(float64(ev.Version))
}

func (e *MetricsExtension) OnConflict(ctx context.Context, op *atom.Operation) {
	e.conflictTotal.WithLabelValues(op.Register.Name()).Inc()
}

func resultLabel(result any, err error) string {
	switch {
	case errors.Is(err, atom.ErrContentionExceeded):
		return "contention_exceeded"
	case err != nil:
		return "error"
	}
	// Value compare-and-swap reports a mismatch as false, not as an error
	if swapped, ok := result.(bool); ok && !swapped {
		return "mismatch"
	}
	return "success"
}
