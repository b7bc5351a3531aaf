// Package metrics keeps the process-lifetime gauges and counters reported by
// the control loop. The registry is read by periodic flushes and exposed to
// Prometheus; it is never reset.
package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "boxcounter"

// Kind is the metric type.
type Kind string

// Metric kinds
const (
	KindGauge   Kind = "gauge"
	KindCounter Kind = "counter"
)

// Sample is the current value of one metric.
type Sample struct {
	Name  string // namespace-prefixed
	Type  Kind
	Value float64
}

// Registry holds one sample per name. Gauges overwrite, counters accumulate.
// Safe for concurrent use.
type Registry struct {
	namespace string

	mu      sync.Mutex
	samples map[string]Sample
}

// NewRegistry creates an empty registry. An empty namespace selects DefaultNamespace.
func NewRegistry(namespace string) *Registry {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Registry{namespace: namespace, samples: make(map[string]Sample)}
}

// Namespace returns the prefix applied to every name.
func (r *Registry) Namespace() string { return r.namespace }

func (r *Registry) fullName(name string) string {
	return r.namespace + "_" + name
}

// SetGauge sets name to value.
func (r *Registry) SetGauge(name string, value float64) {
	full := r.fullName(name)
	r.mu.Lock()
	r.samples[full] = Sample{Name: full, Type: KindGauge, Value: value}
	r.mu.Unlock()
}

// IncCounter adds delta to name. Negative deltas are ignored.
// A name previously used as a gauge restarts from zero as a counter.
func (r *Registry) IncCounter(name string, delta float64) {
	if delta < 0 {
		return
	}
	full := r.fullName(name)
	r.mu.Lock()
	s := r.samples[full]
	if s.Type != KindCounter {
		s = Sample{Name: full, Type: KindCounter}
	}
	s.Value += delta
	r.samples[full] = s
	r.mu.Unlock()
}

// Get returns the sample for an unprefixed name.
func (r *Registry) Get(name string) (Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.samples[r.fullName(name)]
	return s, ok
}

// Snapshot returns every sample sorted by name.
func (r *Registry) Snapshot() []Sample {
	r.mu.Lock()
	out := make([]Sample, 0, len(r.samples))
	for _, s := range r.samples {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Describe implements prometheus.Collector. The metric set grows at runtime,
// so the registry is an unchecked collector and describes nothing up front.
func (r *Registry) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	for _, s := range r.Snapshot() {
		vt := prometheus.GaugeValue
		if s.Type == KindCounter {
			vt = prometheus.CounterValue
		}
		desc := prometheus.NewDesc(s.Name, string(s.Type)+" reported by the control loop", nil, nil)
		m, err := prometheus.NewConstMetric(desc, vt, s.Value)
		if err != nil {
			ch <- prometheus.NewInvalidMetric(desc, err)
			continue
		}
		ch <- m
	}
}
