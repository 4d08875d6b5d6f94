package worker

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/b1naryth1ef/seedmap"
	"github.com/b1naryth1ef/seedmap/protocol"
)

const namespace = "seedmap"

// Action outcomes used as the outcome label.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeSkipped = "skipped"
)

// Metrics are the host's prometheus collectors.
type Metrics struct {
	actions   *prometheus.CounterVec
	duration  prometheus.Histogram
	slotsUsed prometheus.Gauge
	evictions prometheus.Counter

	lastEvictions uint64
}

// NewMetrics creates the host collectors and registers them on reg. A nil
// reg leaves them unregistered. Hosts sharing one reg share the collectors,
// so their counts add up and the slot gauge reports the host that served
// last.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		actions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Actions executed by the host, by kind and outcome.",
		}, []string{"kind", "outcome"})),
		duration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sequence_duration_seconds",
			Help:      "Time spent executing one request.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		})),
		slotsUsed: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slots_used",
			Help:      "Seeds resident in the world-data texture.",
		})),
		evictions: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_evictions_total",
			Help:      "Seeds evicted to make room for another seed.",
		})),
	}
}

// register adds c to reg, returning the collector already registered under
// the same descriptor instead of failing.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) observe(req protocol.Request, resp protocol.Response) {
	for i, res := range resp.Results {
		outcome := outcomeOK
		switch {
		case res.OK:
		case errors.Is(res.Err, protocol.ErrSkipped):
			outcome = outcomeSkipped
		default:
			outcome = outcomeError
		}
		m.actions.WithLabelValues(req.Actions[i].Kind.String(), outcome).Inc()
	}
	m.duration.Observe(resp.Duration.Seconds())
}

func (m *Metrics) observeStats(s seedmap.Stats) {
	m.slotsUsed.Set(float64(s.SlotsUsed))
	if s.Evictions > m.lastEvictions {
		m.evictions.Add(float64(s.Evictions - m.lastEvictions))
	}
	m.lastEvictions = s.Evictions
}
