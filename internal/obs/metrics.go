package obs

import (
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Label is a key/value pair attached to measurements.
type Label struct {
	Key   string
	Value string
}

// Meter is a very small interface for emitting counters/histograms.
// Implementations may no-op or bridge to a metrics system.
type Meter interface {
	Counter(name string, value float64, labels ...Label)
	Histogram(name string, value float64, labels ...Label)
}

// NopMeter is a Meter that discards all measurements.
type NopMeter struct{}

func (NopMeter) Counter(name string, value float64, labels ...Label)   {}
func (NopMeter) Histogram(name string, value float64, labels ...Label) {}

// DurationBuckets are the histogram buckets, in milliseconds, used for
// every histogram created by PromMeter.
var DurationBuckets = prometheus.ExponentialBuckets(1, 2, 14)

// PromMeter creates Prometheus vectors on first use of a metric name.
// The label keys of the first observation fix the vector's schema;
// later observations with a different key set are dropped.
type PromMeter struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*counterEntry
	histograms map[string]*histogramEntry
}

type counterEntry struct {
	keys []string
	vec  *prometheus.CounterVec
}

type histogramEntry struct {
	keys []string
	vec  *prometheus.HistogramVec
}

// NewPromMeter returns a meter registering into reg. A nil reg uses the
// default Prometheus registerer.
func NewPromMeter(reg prometheus.Registerer) *PromMeter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PromMeter{
		reg:        reg,
		counters:   make(map[string]*counterEntry),
		histograms: make(map[string]*histogramEntry),
	}
}

func (m *PromMeter) Counter(name string, value float64, labels ...Label) {
	keys, values := split(labels)
	m.mu.Lock()
	e, ok := m.counters[name]
	if !ok {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help(name)}, keys)
		if err := m.reg.Register(vec); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					vec = existing
				}
			}
		}
		e = &counterEntry{keys: keys, vec: vec}
		m.counters[name] = e
	}
	m.mu.Unlock()
	if !slices.Equal(e.keys, keys) || value < 0 {
		return
	}
	e.vec.WithLabelValues(values...).Add(value)
}

func (m *PromMeter) Histogram(name string, value float64, labels ...Label) {
	keys, values := split(labels)
	m.mu.Lock()
	e, ok := m.histograms[name]
	if !ok {
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help(name), Buckets: DurationBuckets}, keys)
		if err := m.reg.Register(vec); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
					vec = existing
				}
			}
		}
		e = &histogramEntry{keys: keys, vec: vec}
		m.histograms[name] = e
	}
	m.mu.Unlock()
	if !slices.Equal(e.keys, keys) {
		return
	}
	e.vec.WithLabelValues(values...).Observe(value)
}

func split(labels []Label) (keys, values []string) {
	keys = make([]string, len(labels))
	values = make([]string, len(labels))
	for i, l := range labels {
		keys[i] = l.Key
		values[i] = l.Value
	}
	return keys, values
}

func help(name string) string {
	return "appbridge metric " + name + "."
}
