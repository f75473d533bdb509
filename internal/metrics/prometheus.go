package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rbx/ODC/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// It embeds NopMetrics and overrides only the concretely instrumented
// methods, so adding a new metric never requires touching every call site.
type PrometheusCollector struct {
	*NopMetrics

	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	opStarted   *prometheus.CounterVec
	opDuration  *prometheus.HistogramVec
	opResult    *prometheus.CounterVec
	fanOutSize  *prometheus.HistogramVec
	fanOutFail  *prometheus.CounterVec
	partitions  prometheus.Gauge
	restoreOK   prometheus.Counter
	restoreFail prometheus.Counter
}

var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a Prometheus-backed metrics collector. reg defaults
// to prometheus.DefaultRegisterer and namespace defaults to "odc".
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "odc"
	}
	return &PrometheusCollector{NopMetrics: NewNop(), reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.opStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace, Subsystem: "controller",
			Name: "operations_started_total", Help: "Lifecycle operations started, by operation.",
		}, []string{"operation"})

		p.opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace, Subsystem: "controller",
			Name: "operation_duration_seconds", Help: "Lifecycle operation duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"operation"})

		p.opResult = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace, Subsystem: "controller",
			Name: "operations_completed_total", Help: "Lifecycle operations completed, by operation and status.",
		}, []string{"operation", "status"})

		p.fanOutSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace, Subsystem: "topology",
			Name: "fanout_task_count", Help: "Number of tasks addressed by a fan-out operation.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"transition"})

		p.fanOutFail = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace, Subsystem: "topology",
			Name: "fanout_failed_tasks_total", Help: "Tasks that failed a fan-out operation, by transition.",
		}, []string{"transition"})

		p.partitions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace, Subsystem: "registry",
			Name: "partitions", Help: "Current number of partitions in the registry.",
		})

		p.restoreOK = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace, Subsystem: "registry",
			Name: "restored_total", Help: "Partitions successfully restored at startup.",
		})
		p.restoreFail = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace, Subsystem: "registry",
			Name: "restore_failed_total", Help: "Partitions that failed to restore at startup.",
		})

		p.reg.MustRegister(p.opStarted, p.opDuration, p.opResult, p.fanOutSize, p.fanOutFail, p.partitions, p.restoreOK, p.restoreFail)
	})
}

func (p *PrometheusCollector) OperationStarted(partitionID, operation string) {
	p.ensureRegistered()
	p.opStarted.WithLabelValues(operation).Inc()
}

func (p *PrometheusCollector) OperationCompleted(partitionID, operation string, duration time.Duration, status types.Status) {
	p.ensureRegistered()
	p.opDuration.WithLabelValues(operation).Observe(duration.Seconds())
	p.opResult.WithLabelValues(operation, string(status)).Inc()
}

func (p *PrometheusCollector) FanOutStarted(partitionID string, transition types.Transition, taskCount int) {
	p.ensureRegistered()
	p.fanOutSize.WithLabelValues(transition.String()).Observe(float64(taskCount))
}

func (p *PrometheusCollector) FanOutCompleted(partitionID string, transition types.Transition, duration time.Duration, failed int) {
	p.ensureRegistered()
	if failed > 0 {
		p.fanOutFail.WithLabelValues(transition.String()).Add(float64(failed))
	}
}

func (p *PrometheusCollector) PartitionCreated(string) {
	p.ensureRegistered()
	p.partitions.Inc()
}

func (p *PrometheusCollector) PartitionRemoved(string) {
	p.ensureRegistered()
	p.partitions.Dec()
}

func (p *PrometheusCollector) RestoreCompleted(restored, failed int) {
	p.ensureRegistered()
	p.restoreOK.Add(float64(restored))
	p.restoreFail.Add(float64(failed))
}
