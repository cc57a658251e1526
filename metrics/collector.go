// Package metrics exports store and invocation metrics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/localmesh/engine"
	"github.com/hupe1980/localmesh/store"
)

const startKey = "metrics.start"

// Collector records model store events and agent invocations. It implements
// store.Observer; Callbacks returns the engine hooks for invocations.
type Collector struct {
	// store metrics
	loadsTotal    *prometheus.CounterVec
	loadDuration  *prometheus.HistogramVec
	loadsInFlight *prometheus.GaugeVec
	cacheHits     *prometheus.CounterVec
	accessWait    *prometheus.HistogramVec
	evictions     *prometheus.CounterVec

	// invocation metrics
	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	invocationTokens   *prometheus.CounterVec
}

var _ store.Observer = (*Collector)(nil)

// NewCollector creates a collector and registers its metrics on reg. A nil
// reg uses prometheus.DefaultRegisterer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		loadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_loads_total",
				Help:      "Total number of model loads by outcome",
			},
			[]string{"slug", "outcome"},
		),
		loadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_load_duration_seconds",
				Help:      "Model load duration in seconds",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"slug"},
		),
		loadsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_loads_in_flight",
				Help:      "Number of model loads currently running",
			},
			[]string{"slug"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_cache_hits_total",
				Help:      "Total number of requests served by an existing store entry",
			},
			[]string{"slug"},
		),
		accessWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_access_wait_seconds",
				Help:      "Time spent queued for exclusive model access",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"slug"},
		),
		evictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_evictions_total",
				Help:      "Total number of evicted models",
			},
			[]string{"slug"},
		),
		invocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of agent invocations by outcome",
			},
			[]string{"agent", "outcome"},
		),
		invocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Agent invocation duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"agent"},
		),
		invocationTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocation_tokens_total",
				Help:      "Total number of tokens streamed by invocations",
			},
			[]string{"agent"},
		),
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

// OnLoadStart implements store.Observer.
func (c *Collector) OnLoadStart(slug string) {
	c.loadsInFlight.WithLabelValues(slug).Inc()
}

// OnLoadDone implements store.Observer.
func (c *Collector) OnLoadDone(slug string, d time.Duration, err error) {
	c.loadsInFlight.WithLabelValues(slug).Dec()
	c.loadsTotal.WithLabelValues(slug, outcome(err)).Inc()
	c.loadDuration.WithLabelValues(slug).Observe(d.Seconds())
}

// OnCacheHit implements store.Observer.
func (c *Collector) OnCacheHit(slug string) {
	c.cacheHits.WithLabelValues(slug).Inc()
}

// OnAccessWait implements store.Observer.
func (c *Collector) OnAccessWait(slug string, d time.Duration) {
	c.accessWait.WithLabelValues(slug).Observe(d.Seconds())
}

// OnEvict implements store.Observer.
func (c *Collector) OnEvict(slug string) {
	c.evictions.WithLabelValues(slug).Inc()
}

// Callbacks returns engine callbacks recording invocation count, duration
// and streamed tokens.
func (c *Collector) Callbacks() []engine.Callback {
	return []engine.Callback{
		engine.NewFunctionCallback(engine.CallbackBeforeAgent, func(_ context.Context, cc *engine.CallbackContext) error {
			cc.Metadata[startKey] = time.Now()
			return nil
		}),
		engine.NewFunctionCallback(engine.CallbackAfterAgent, func(_ context.Context, cc *engine.CallbackContext) error {
			c.invocationsTotal.WithLabelValues(cc.AgentName, outcome(cc.Err)).Inc()
			if start, ok := cc.Metadata[startKey].(time.Time); ok {
				c.invocationDuration.WithLabelValues(cc.AgentName).Observe(time.Since(start).Seconds())
			}
			if ic := cc.InvocationContext; ic != nil && ic.Bus != nil {
				c.invocationTokens.WithLabelValues(cc.AgentName).Add(float64(ic.Bus.Len()))
			}
			return nil
		}),
	}
}
