package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jdginn/antidrift/devices/router"
	"github.com/jdginn/antidrift/logging"
	"github.com/jdginn/antidrift/relay"
)

const DefaultStatsInterval = 30 * time.Second

type StatusSource interface {
	Status() relay.Status
}

type RouterCounters interface {
	Counters() router.Counters
}

// StatsLogger writes a periodic summary of the relay and router counters.
type StatsLogger struct {
	Interval time.Duration
	Relay    StatusSource
	// Router may be nil.
	Router RouterCounters

	log *slog.Logger
}

func NewStatsLogger(interval time.Duration, r StatusSource, rt RouterCounters) *StatsLogger {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	return &StatsLogger{
		Interval: interval,
		Relay:    r,
		Router:   rt,
		log:      logging.Get(logging.APP),
	}
}

func (l *StatsLogger) Run(ctx context.Context) {
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	prev := l.Relay.Status().Counters
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := l.Relay.Status()
			l.log.Info("Relay stats", l.attrs(prev, st)...)
			prev = st.Counters
		}
	}
}

func (l *StatsLogger) attrs(prev relay.Counters, st relay.Status) []any {
	rate := float64(st.Counters.Forwarded-prev.Forwarded) / l.Interval.Seconds()
	attrs := []any{
		"mode", st.Mode,
		"trackers", st.Trackers,
		"received", humanize.Comma(int64(st.Counters.Received)),
		"forwarded", humanize.Comma(int64(st.Counters.Forwarded)),
		"corrected", humanize.Comma(int64(st.Counters.Corrected)),
		"send_errors", st.Counters.SendErrors,
		"samples_lost", humanize.Comma(int64(st.Counters.SamplesLost)),
		"rate", humanize.SIWithDigits(rate, 1, "msg/s"),
		"drift_p95", humanize.FtoaWithDigits(st.Drift.P95, 3),
		"epoch_started", humanize.Time(st.Epoch.StartedAt),
	}
	if l.Router != nil {
		c := l.Router.Counters()
		attrs = append(attrs,
			"malformed", humanize.Comma(int64(c.Malformed)),
			"dropped", humanize.Comma(int64(c.Dropped)))
	}
	return attrs
}
