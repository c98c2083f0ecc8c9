package resilience

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsNamespace prefixes every exported series.
const metricsNamespace = "invoker"

// PrometheusMetrics implements Metrics over fixed Prometheus vectors. Each
// metric name maps to one vector with a fixed label set; missing tags export
// as empty labels and names without a vector are dropped.
type PrometheusMetrics struct {
	counters   map[string]*labeledCounter
	histograms map[string]*labeledHistogram
	gauges     map[string]*labeledGauge
}

type labeledCounter struct {
	vec    *prometheus.CounterVec
	labels []string
}

type labeledHistogram struct {
	vec    *prometheus.HistogramVec
	labels []string
}

type labeledGauge struct {
	vec    *prometheus.GaugeVec
	labels []string
}

var (
	callLabels    = []string{"vendor", "model", "operation"}
	attemptLabels = []string{"vendor", "model", "operation", "result"}
	errorLabels   = []string{"vendor", "model", "operation", "error_category"}
	vendorLabels  = []string{"vendor"}
	modelLabels   = []string{"model", "result"}
	latencyBucket = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}
)

// NewPrometheusMetrics registers the invocation metrics with reg. A nil reg
// uses the default registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	counter := func(name, help string, labels []string) *labeledCounter {
		return &labeledCounter{
			vec: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      promName(name),
				Help:      help,
			}, labels),
			labels: labels,
		}
	}
	histogram := func(name, help string, labels []string) *labeledHistogram {
		return &labeledHistogram{
			vec: factory.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      promName(name),
				Help:      help,
				Buckets:   latencyBucket,
			}, labels),
			labels: labels,
		}
	}
	gauge := func(name, help string, labels []string) *labeledGauge {
		return &labeledGauge{
			vec: factory.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      promName(name),
				Help:      help,
			}, labels),
			labels: labels,
		}
	}

	return &PrometheusMetrics{
		counters: map[string]*labeledCounter{
			MetricRequests:          counter(MetricRequests, "Backend calls started", callLabels),
			MetricRequestSuccess:    counter(MetricRequestSuccess, "Backend calls that succeeded", callLabels),
			MetricRequestErrors:     counter(MetricRequestErrors, "Backend calls that failed", errorLabels),
			MetricAttempts:          counter(MetricAttempts, "Coordinator attempts by result", attemptLabels),
			MetricCircuitRejections: counter(MetricCircuitRejections, "Executions rejected by an open circuit", vendorLabels),
			MetricInvocations:       counter(MetricInvocations, "Logical invocations by terminal result", modelLabels),
			MetricFailovers:         counter(MetricFailovers, "Vendor switches within an invocation", []string{"model"}),
			MetricRateLimited:       counter(MetricRateLimited, "Calls denied by the local rate limiter", vendorLabels),
		},
		histograms: map[string]*labeledHistogram{
			MetricRequestDuration: histogram(MetricRequestDuration, "Backend call latency in milliseconds", callLabels),
			MetricAttemptDuration: histogram(MetricAttemptDuration, "Attempt latency in milliseconds", callLabels),
			MetricBackoff:         histogram(MetricBackoff, "Backoff before retry in milliseconds", vendorLabels),
		},
		gauges: map[string]*labeledGauge{
			MetricCircuitOpen: gauge(MetricCircuitOpen, "1 while the vendor circuit is open", vendorLabels),
		},
	}
}

// IncrementCounter adds value to the named counter.
func (p *PrometheusMetrics) IncrementCounter(name string, tags map[string]string, value float64) {
	if c, ok := p.counters[name]; ok {
		c.vec.WithLabelValues(labelValues(c.labels, tags)...).Add(value)
	}
}

// RecordHistogram observes value in the named histogram.
func (p *PrometheusMetrics) RecordHistogram(name string, tags map[string]string, value float64) {
	if h, ok := p.histograms[name]; ok {
		h.vec.WithLabelValues(labelValues(h.labels, tags)...).Observe(value)
	}
}

// SetGauge sets the named gauge.
func (p *PrometheusMetrics) SetGauge(name string, tags map[string]string, value float64) {
	if g, ok := p.gauges[name]; ok {
		g.vec.WithLabelValues(labelValues(g.labels, tags)...).Set(value)
	}
}

func labelValues(labels []string, tags map[string]string) []string {
	values := make([]string, len(labels))
	for i, l := range labels {
		values[i] = tags[l]
	}
	return values
}

// promName converts a dotted metric name to a Prometheus identifier.
func promName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
