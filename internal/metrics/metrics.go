package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Run results used as the "result" label.
const (
	ResultPassed = "passed"
	ResultFailed = "failed"
	ResultError  = "error"
)

// Metrics of a single harness run. A run is one process, so the collectors
// live in a private registry that is exported once at exit instead of being
// scraped.
type Metrics struct {
	Registry *prometheus.Registry

	KernelDuration prometheus.Histogram
	MatrixDim      prometheus.Gauge
	GOPS           prometheus.Gauge
	ImageBytes     prometheus.Gauge
	Runs           *prometheus.CounterVec
	StageFailures  *prometheus.CounterVec
}

// New registers the run collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		KernelDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mmult_kernel_duration_seconds",
			Help:    "Device-measured execution time of the mmult kernel",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12), // 1µs to ~4s
		}),
		MatrixDim: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mmult_matrix_dim",
			Help: "Dimension of the square matrices of the last run",
		}),
		GOPS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mmult_kernel_gops",
			Help: "Integer operations per nanosecond of the last kernel run",
		}),
		ImageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mmult_program_image_bytes",
			Help: "Size of the loaded program image",
		}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mmult_runs_total",
			Help: "Harness runs by outcome",
		}, []string{"result"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mmult_stage_failures_total",
			Help: "Pipeline failures by error kind",
		}, []string{"kind"}),
	}
}

// ObserveKernel records a completed dispatch.
func (m *Metrics) ObserveKernel(dim int, elapsedNS uint64) {
	m.MatrixDim.Set(float64(dim))
	m.KernelDuration.Observe(float64(elapsedNS) / 1e9)
	if elapsedNS > 0 {
		ops := 2 * float64(dim) * float64(dim) * float64(dim)
		m.GOPS.Set(ops / float64(elapsedNS))
	}
}

// RecordResult counts a finished run.
func (m *Metrics) RecordResult(result string) {
	m.Runs.WithLabelValues(result).Inc()
}

// RecordFailure counts a pipeline failure of the given kind.
func (m *Metrics) RecordFailure(kind string) {
	m.StageFailures.WithLabelValues(kind).Inc()
	m.RecordResult(ResultError)
}

// WriteTextfile writes the registry for the node_exporter textfile
// collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Push sends the registry to a Pushgateway, replacing the job's group.
func (m *Metrics) Push(url, job string) error {
	if err := push.New(url, job).Gatherer(m.Registry).Push(); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
