package delivery

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pushline/go-push-delivery/pkg/push"
)

// Stats accumulates delivery counters for the lifetime of the process.
// It is shared by every in-flight send, so the read-modify-write is
// serialized behind a mutex. Counters only grow; there is no reset.
type Stats struct {
	mu          sync.Mutex
	totalSent   int64
	totalFailed int64
	channels    map[push.Channel]push.ChannelStats

	deliveredTotal *prometheus.CounterVec
	failedTotal    *prometheus.CounterVec
}

// NewStats creates the aggregator. When reg is non-nil the counters are
// mirrored into Prometheus under push_delivered_total / push_failed_total.
func NewStats(reg prometheus.Registerer) *Stats {
	s := &Stats{channels: make(map[push.Channel]push.ChannelStats)}
	if reg != nil {
		s.deliveredTotal = promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_delivered_total",
				Help: "Total addresses delivered successfully.",
			},
			[]string{"channel"},
		)
		s.failedTotal = promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_failed_total",
				Help: "Total addresses that failed delivery.",
			},
			[]string{"channel"},
		)
	}
	return s
}

// Record adds one settled result to the running totals.
func (s *Stats) Record(result *push.Result) {
	counts := result.ChannelCounts()

	s.mu.Lock()
	s.totalSent += int64(result.TotalSent)
	s.totalFailed += int64(result.TotalFailed)
	for channel, cs := range counts {
		current := s.channels[channel]
		current.Sent += cs.Sent
		current.Failed += cs.Failed
		s.channels[channel] = current
	}
	s.mu.Unlock()

	if s.deliveredTotal != nil {
		for channel, cs := range counts {
			s.deliveredTotal.WithLabelValues(string(channel)).Add(float64(cs.Sent))
			s.failedTotal.WithLabelValues(string(channel)).Add(float64(cs.Failed))
		}
	}
}

// Snapshot returns a copy of the counters. Callers cannot mutate the
// aggregator through it.
func (s *Stats) Snapshot() push.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	channels := make(map[push.Channel]push.ChannelStats, len(s.channels))
	for channel, cs := range s.channels {
		channels[channel] = cs
	}
	return push.Stats{
		TotalSent:   s.totalSent,
		TotalFailed: s.totalFailed,
		Channels:    channels,
	}
}
