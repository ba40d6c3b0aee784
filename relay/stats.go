package relay

import (
	"sync"
	"sync/atomic"

	"github.com/montanaflynn/stats"
)

const driftWindow = 1024

// Counters is a point-in-time copy of the relay's message counters.
type Counters struct {
	Received    uint64 `json:"received"`
	Captured    uint64 `json:"captured"`
	Forwarded   uint64 `json:"forwarded"`
	Corrected   uint64 `json:"corrected"`
	Resets      uint64 `json:"resets"`
	SendErrors  uint64 `json:"send_errors"`
	// SamplesLost counts samples a subscriber's channel had no room for.
	SamplesLost uint64 `json:"samples_lost"`
}

// DriftSummary describes the max drift of the most recent forwarded samples.
type DriftSummary struct {
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean"`
	P50     float64 `json:"p50"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
	Max     float64 `json:"max"`
}

type relayStats struct {
	received    atomic.Uint64
	captured    atomic.Uint64
	forwarded   atomic.Uint64
	corrected   atomic.Uint64
	resets      atomic.Uint64
	sendErrors  atomic.Uint64
	samplesLost atomic.Uint64

	mu    sync.Mutex
	drift []float64
	next  int
}

func newRelayStats() *relayStats {
	return &relayStats{drift: make([]float64, 0, driftWindow)}
}

func (s *relayStats) observeDrift(d float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.drift) < driftWindow {
		s.drift = append(s.drift, d)
		return
	}
	s.drift[s.next] = d
	s.next = (s.next + 1) % driftWindow
}

func (s *relayStats) counters() Counters {
	return Counters{
		Received:    s.received.Load(),
		Captured:    s.captured.Load(),
		Forwarded:   s.forwarded.Load(),
		Corrected:   s.corrected.Load(),
		Resets:      s.resets.Load(),
		SendErrors:  s.sendErrors.Load(),
		SamplesLost: s.samplesLost.Load(),
	}
}

// driftSummary is computed over a copy so the window lock is not held while sorting.
func (s *relayStats) driftSummary() DriftSummary {
	s.mu.Lock()
	data := stats.Float64Data(append([]float64(nil), s.drift...))
	s.mu.Unlock()

	if len(data) == 0 {
		return DriftSummary{}
	}
	sum := DriftSummary{Samples: len(data)}
	sum.Mean, _ = stats.Mean(data)
	sum.P50, _ = stats.Percentile(data, 50)
	sum.P95, _ = stats.Percentile(data, 95)
	sum.P99, _ = stats.Percentile(data, 99)
	sum.Max, _ = stats.Max(data)
	return sum
}
