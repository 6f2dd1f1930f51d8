package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusSink exports events as metrics on its own registry.
type PrometheusSink struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	dispatchRounds   prometheus.Counter
	dispatchDuration prometheus.Histogram
	responses        *prometheus.CounterVec
	punished         prometheus.Counter
	settled          prometheus.Counter
	dropped          prometheus.Counter
	rewards          prometheus.Histogram
	rmse             prometheus.Histogram
	pending          prometheus.Gauge
}

type Option func(*PrometheusSink)

func WithNamespace(namespace string) Option {
	return func(p *PrometheusSink) {
		if namespace != "" {
			p.namespace = namespace
		}
	}
}

// WithDurationBuckets sets the dispatch duration buckets in seconds.
func WithDurationBuckets(buckets []float64) Option {
	return func(p *PrometheusSink) {
		if len(buckets) > 0 {
			p.buckets = buckets
		}
	}
}

// WithGoCollector adds Go runtime and process collectors.
func WithGoCollector() Option {
	return func(p *PrometheusSink) {
		p.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
}

func NewPrometheusSink(opts ...Option) *PrometheusSink {
	p := &PrometheusSink{
		namespace: "zeus",
		buckets:   prometheus.DefBuckets,
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(p)
	}

	auto := promauto.With(p.registry)
	p.dispatchRounds = auto.NewCounter(prometheus.CounterOpts{
		Namespace: p.namespace,
		Subsystem: "dispatch",
		Name:      "rounds_total",
		Help:      "Dispatch rounds completed",
	})
	p.dispatchDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: p.namespace,
		Subsystem: "dispatch",
		Name:      "duration_seconds",
		Help:      "Wall time of a dispatch round",
		Buckets:   p.buckets,
	})
	p.responses = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Subsystem: "dispatch",
		Name:      "worker_outcomes_total",
		Help:      "Worker outcomes by result",
	}, []string{"outcome"})
	p.punished = auto.NewCounter(prometheus.CounterOpts{
		Namespace: p.namespace,
		Subsystem: "reputation",
		Name:      "punished_total",
		Help:      "Workers zeroed for not answering",
	})
	p.settled = auto.NewCounter(prometheus.CounterOpts{
		Namespace: p.namespace,
		Subsystem: "scoring",
		Name:      "challenges_settled_total",
		Help:      "Challenges scored and pruned",
	})
	p.dropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: p.namespace,
		Subsystem: "scoring",
		Name:      "responses_dropped_total",
		Help:      "Stored responses of workers that deregistered before scoring",
	})
	p.rewards = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: p.namespace,
		Subsystem: "scoring",
		Name:      "reward",
		Help:      "Distribution of per-worker rewards",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})
	p.rmse = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: p.namespace,
		Subsystem: "scoring",
		Name:      "rmse",
		Help:      "Distribution of weighted RMSE of unpenalized predictions",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	p.pending = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: p.namespace,
		Subsystem: "store",
		Name:      "pending_entries",
		Help:      "Challenges awaiting ground truth",
	})
	return p
}

func (p *PrometheusSink) Record(e Event) {
	switch ev := e.(type) {
	case DispatchEvent:
		p.dispatchRounds.Inc()
		p.dispatchDuration.Observe(ev.Duration.Seconds())
		p.responses.WithLabelValues("responded").Add(float64(ev.Responded))
		p.responses.WithLabelValues("absent").Add(float64(ev.Absent))
	case PunishEvent:
		p.punished.Add(float64(len(ev.Hotkeys)))
	case ScoreEvent:
		p.settled.Inc()
		p.dropped.Add(float64(ev.Dropped))
		for _, r := range ev.Results {
			p.rewards.Observe(r.Reward)
			if r.Metrics.Penalty == 0 {
				p.rmse.Observe(r.Metrics.RMSE)
			}
		}
	case PendingEvent:
		p.pending.Set(float64(ev.Pending))
	}
}

// Registry exposes the private registry, mainly for tests.
func (p *PrometheusSink) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
