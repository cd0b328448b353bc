// Package metrics adapts the spec's "per-topic metrics" (§4.7) and
// general observability needs onto github.com/prometheus/client_golang,
// behind the small Counter/Gauge/Averager/Registry seam the teacher
// uses (_examples/luxfi-consensus/metrics/metric.go), generalized to
// accept Prometheus label pairs so call sites (gossip topics, DHT
// record kinds, validator verdicts) can be distinguished without a
// distinct metric name per dynamic value.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter tracks a monotonically increasing count.
type Counter interface {
	Inc()
	Add(delta float64)
}

// Gauge tracks a value that can move up or down.
type Gauge interface {
	Set(value float64)
	Add(delta float64)
}

// Averager tracks a running average of observed values.
type Averager interface {
	Observe(value float64)
	Read() float64
}

type promCounter struct{ c prometheus.Counter }

func (p promCounter) Inc()             { p.c.Inc() }
func (p promCounter) Add(delta float64) { p.c.Add(delta) }

type promGauge struct{ g prometheus.Gauge }

func (p promGauge) Set(v float64)      { p.g.Set(v) }
func (p promGauge) Add(delta float64) { p.g.Add(delta) }

type averager struct {
	mu    sync.RWMutex
	sum   float64
	count float64
	prom  prometheus.Summary
}

func (a *averager) Observe(value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sum += value
	a.count++
	if a.prom != nil {
		a.prom.Observe(value)
	}
}

func (a *averager) Read() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.count == 0 {
		return 0
	}
	return a.sum / a.count
}

// Registry is a namespaced collection of metrics backed by a single
// prometheus.Registerer, matching the teacher's Registry seam
// generalized to support per-metric label pairs.
type Registry struct {
	reg prometheus.Registerer

	mu        sync.Mutex
	counters  map[string]*prometheus.CounterVec
	gauges    map[string]*prometheus.GaugeVec
	averagers map[string]*averager
}

// NewRegistry wraps reg (typically prometheus.NewRegistry(), or
// prometheus.DefaultRegisterer for the process default).
func NewRegistry(reg prometheus.Registerer) *Registry {
	return &Registry{
		reg:       reg,
		counters:  make(map[string]*prometheus.CounterVec),
		gauges:    make(map[string]*prometheus.GaugeVec),
		averagers: make(map[string]*averager),
	}
}

// Counter returns (creating if needed) a named counter with the given
// label=value pairs, e.g. Counter("gossip_published_total", "topic", "discovery").
func (r *Registry) Counter(name string, labelPairs ...string) Counter {
	labels, values := splitPairs(labelPairs)
	r.mu.Lock()
	vec, ok := r.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, labels)
		if r.reg != nil {
			_ = r.reg.Register(vec) // a second registration attempt for the same name is a no-op error, safe to ignore
		}
		r.counters[name] = vec
	}
	r.mu.Unlock()
	return promCounter{c: vec.WithLabelValues(values...)}
}

// Gauge returns (creating if needed) a named gauge with the given
// label=value pairs.
func (r *Registry) Gauge(name string, labelPairs ...string) Gauge {
	labels, values := splitPairs(labelPairs)
	r.mu.Lock()
	vec, ok := r.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, labels)
		if r.reg != nil {
			_ = r.reg.Register(vec)
		}
		r.gauges[name] = vec
	}
	r.mu.Unlock()
	return promGauge{g: vec.WithLabelValues(values...)}
}

// Averager returns (creating if needed) a named running average.
// Averagers are not label-partitioned; one instance per name.
func (r *Registry) Averager(name string) Averager {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.averagers[name]; ok {
		return a
	}
	a := &averager{}
	r.averagers[name] = a
	return a
}

func splitPairs(pairs []string) (labels, values []string) {
	for i := 0; i+1 < len(pairs); i += 2 {
		labels = append(labels, pairs[i])
		values = append(values, pairs[i+1])
	}
	return labels, values
}
