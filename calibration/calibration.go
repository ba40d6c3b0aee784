// Package calibration gates the relay between capturing reference positions and forwarding corrected ones.
package calibration

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdginn/antidrift/filter"
	"github.com/jdginn/antidrift/logging"
	"github.com/jdginn/antidrift/mode"
	"github.com/jdginn/antidrift/tracker"
)

type Mode uint8

const (
	Uncalibrated Mode = 1 << iota
	Calibrated
)

func (m Mode) String() string {
	switch m {
	case Uncalibrated:
		return "uncalibrated"
	case Calibrated:
		return "calibrated"
	default:
		return "unknown"
	}
}

// Epoch identifies the span between two calibrations. Every tracker state belongs to exactly one epoch.
type Epoch struct {
	ID        uuid.UUID `json:"id"`
	StartedAt time.Time `json:"started_at"`
}

func newEpoch() Epoch {
	return Epoch{ID: uuid.New(), StartedAt: time.Now()}
}

// Corrector computes the forwarded vector for a tracker and updates its state.
type Corrector func(st *tracker.State, position []float64) filter.Result

// Outcome describes what happened to one submitted position.
type Outcome struct {
	// Forward is false while uncalibrated; the position was only captured as a reference.
	Forward bool
	Result  filter.Result
	// Reset is true when the tracker's stored state was dropped because the vector length changed.
	Reset bool
}

type submission struct {
	state    *tracker.State
	position []float64
	outcome  *Outcome
}

// Controller owns the calibration mode and the tracker store it guards.
//
// Submissions hold the epoch lock shared and the tracker's own lock exclusively. Calibrate holds the epoch lock
// exclusively, so no submission ever sees a partially cleared store or a mode that disagrees with it.
type Controller struct {
	mu    sync.RWMutex
	modes *mode.ModeManager[Mode]
	store *tracker.Store
	epoch Epoch

	capture func(*submission) bool
	correct func(*submission) bool

	log *slog.Logger
}

func NewController(store *tracker.Store, corrector Corrector) *Controller {
	c := &Controller{
		modes: mode.NewModeManager(Uncalibrated),
		store: store,
		epoch: newEpoch(),
		log:   logging.Get(logging.APP),
	}
	c.capture = mode.When(c.modes, Uncalibrated, func(s *submission) {
		s.state.Reference = slices.Clone(s.position)
	})
	c.correct = mode.When(c.modes, Calibrated, func(s *submission) {
		s.outcome.Result = corrector(s.state, s.position)
		s.outcome.Forward = true
	})
	c.modes.OnEnter(Calibrated, func(prev Mode) {
		c.log.Info("Relay calibrated, forwarding corrected positions", "previous", prev)
	})
	return c
}

// Submit routes one position through the active mode: captured as the tracker's reference while uncalibrated,
// corrected while calibrated.
func (c *Controller) Submit(key tracker.Key, position []float64) Outcome {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out Outcome
	c.store.Update(key, func(st *tracker.State) {
		out.Reset = st.FitShape(len(position))
		s := &submission{state: st, position: position, outcome: &out}
		if !c.capture(s) {
			c.correct(s)
		}
	})
	return out
}

// Calibrate clears all tracker state, switches to Calibrated, and starts a new epoch. Calling it while already
// calibrated re-zeroes everything again.
func (c *Controller) Calibrate() Epoch {
	c.mu.Lock()
	defer c.mu.Unlock()

	cleared := c.store.Len()
	c.store.Clear()
	c.modes.SetMode(Calibrated)
	c.epoch = newEpoch()
	c.log.Info("Calibration complete", "epoch", c.epoch.ID, "cleared_trackers", cleared)
	return c.epoch
}

func (c *Controller) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modes.Current()
}

func (c *Controller) Epoch() Epoch {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}
