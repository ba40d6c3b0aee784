// Package relay ties the parameter store, tracker state, calibration gate and forwarder together into one
// explicit context. Nothing in the relay is global; every adapter (OSC router, HTTP control, MIDI, telemetry)
// holds a *Relay.
package relay

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"

	"github.com/jdginn/antidrift/calibration"
	"github.com/jdginn/antidrift/filter"
	"github.com/jdginn/antidrift/logging"
	"github.com/jdginn/antidrift/params"
	"github.com/jdginn/antidrift/tracker"
)

// Forwarder emits a corrected vector downstream.
type Forwarder interface {
	Forward(key tracker.Key, values []float64) error
}

type Config struct {
	Params params.Params
	// LivenessTTL is how long a silent tracker stays in ActiveTrackers. Zero means DefaultLivenessTTL.
	LivenessTTL time.Duration
}

func DefaultConfig() Config {
	return Config{Params: params.Default(), LivenessTTL: DefaultLivenessTTL}
}

// Sample is published on the sample feed for every vector that was forwarded.
type Sample struct {
	Tracker   string    `json:"tracker"`
	Channel   string    `json:"channel"`
	Values    []float64 `json:"values"`
	Raw       []float64 `json:"raw"`
	Corrected bool      `json:"corrected"`
	MaxDrift  float64   `json:"max_drift"`
	Time      time.Time `json:"time"`
}

// Status is a snapshot of the relay for display.
type Status struct {
	Mode       string            `json:"mode"`
	Epoch      calibration.Epoch `json:"epoch"`
	Parameters params.Params     `json:"parameters"`
	Trackers   int               `json:"trackers"`
	Counters   Counters          `json:"counters"`
	Drift      DriftSummary      `json:"drift"`
	StartedAt  time.Time         `json:"started_at"`
}

type Relay struct {
	params *params.Store
	store  *tracker.Store
	calib  *calibration.Controller
	fwd    Forwarder

	stats   *relayStats
	live    *liveness
	samples event.FeedOf[Sample]

	startedAt time.Time
	closeOnce sync.Once
	log       *slog.Logger
}

// New validates cfg.Params and returns a relay that starts uncalibrated. Call Close to release it.
func New(cfg Config, fwd Forwarder) (*Relay, error) {
	ps, err := params.NewStore(cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("initial parameters: %w", err)
	}
	r := &Relay{
		params:    ps,
		store:     tracker.NewStore(),
		fwd:       fwd,
		stats:     newRelayStats(),
		live:      newLiveness(cfg.LivenessTTL),
		startedAt: time.Now(),
		log:       logging.Get(logging.APP),
	}
	r.calib = calibration.NewController(r.store, func(st *tracker.State, pos []float64) filter.Result {
		return filter.Apply(st, pos, r.params.Get())
	})
	r.live.start()
	return r, nil
}

// Handle runs one tracker vector through the calibration gate and, when calibrated, forwards the corrected
// result. A returned error means the vector was computed but could not be sent.
//
// The forward happens after the tracker's lock is released. Concurrent calls for the same key keep the filter
// state consistent but may forward out of order; the router sends every key to a single shard for that reason.
func (r *Relay) Handle(key tracker.Key, position []float64) error {
	now := time.Now()
	r.live.touch(key, now)
	r.stats.received.Add(1)

	out := r.calib.Submit(key, position)
	if out.Reset {
		r.stats.resets.Add(1)
		r.log.Debug("Tracker vector length changed, state reset", "tracker", key, "len", len(position))
	}
	if !out.Forward {
		r.stats.captured.Add(1)
		return nil
	}

	r.stats.observeDrift(out.Result.MaxDrift)
	if out.Result.Corrected {
		r.stats.corrected.Add(1)
	}
	if err := r.fwd.Forward(key, out.Result.Output); err != nil {
		r.stats.sendErrors.Add(1)
		return fmt.Errorf("forward %s: %w", key, err)
	}
	r.stats.forwarded.Add(1)

	r.samples.Send(Sample{
		Tracker:   key.ID,
		Channel:   key.Channel.String(),
		Values:    out.Result.Output,
		Raw:       slices.Clone(position),
		Corrected: out.Result.Corrected,
		MaxDrift:  out.Result.MaxDrift,
		Time:      now,
	})
	return nil
}

// UpdateParameters applies a partial parameter change. Invalid changes are rejected and leave the parameters
// untouched.
func (r *Relay) UpdateParameters(u params.Update) (params.Params, error) {
	p, err := r.params.Set(u)
	if err != nil {
		r.log.Warn("Rejected parameter update", "error", err)
		return p, err
	}
	r.log.Info("Parameters updated",
		"drift_threshold", p.DriftThreshold,
		"filter_coefficient", p.FilterCoefficient)
	return p, nil
}

func (r *Relay) Parameters() params.Params {
	return r.params.Get()
}

// TriggerCalibration clears all tracker state and starts forwarding. It may be called repeatedly.
func (r *Relay) TriggerCalibration() calibration.Epoch {
	return r.calib.Calibrate()
}

func (r *Relay) Mode() calibration.Mode {
	return r.calib.Mode()
}

func (r *Relay) Counters() Counters {
	return r.stats.counters()
}

func (r *Relay) Status() Status {
	return Status{
		Mode:       r.calib.Mode().String(),
		Epoch:      r.calib.Epoch(),
		Parameters: r.params.Get(),
		Trackers:   r.store.Len(),
		Counters:   r.stats.counters(),
		Drift:      r.stats.driftSummary(),
		StartedAt:  r.startedAt,
	}
}

// ActiveTrackers lists the trackers heard from within the liveness TTL, whether or not the relay is calibrated.
func (r *Relay) ActiveTrackers() []ActiveTracker {
	return r.live.active()
}

// SubscribeSamples delivers forwarded samples to ch. Delivery never waits on the subscriber: a sample that finds
// ch full is dropped and counted in Counters.SamplesLost, so size ch for the bursts the subscriber must absorb.
func (r *Relay) SubscribeSamples(ch chan<- Sample) event.Subscription {
	in := make(chan Sample)
	feedSub := r.samples.Subscribe(in)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer feedSub.Unsubscribe()
		for {
			select {
			case s := <-in:
				select {
				case ch <- s:
				default:
					r.stats.samplesLost.Add(1)
				}
			case err := <-feedSub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	})
}

func (r *Relay) Close() {
	r.closeOnce.Do(r.live.stop)
}
