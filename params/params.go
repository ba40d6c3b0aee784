// Package params holds the tunable numeric parameters of the drift filter.
package params

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

const (
	DefaultDriftThreshold    = 5.0
	DefaultFilterCoefficient = 0.85
)

var (
	ErrInvalidThreshold   = errors.New("drift threshold must be a finite number greater than zero")
	ErrInvalidCoefficient = errors.New("filter coefficient must be a finite number between 0 and 1")
)

// Params is a consistent pair of filter parameters.
type Params struct {
	DriftThreshold    float64 `json:"drift_threshold"`
	FilterCoefficient float64 `json:"filter_coefficient"`
}

func Default() Params {
	return Params{
		DriftThreshold:    DefaultDriftThreshold,
		FilterCoefficient: DefaultFilterCoefficient,
	}
}

func (p Params) Validate() error {
	if math.IsNaN(p.DriftThreshold) || math.IsInf(p.DriftThreshold, 0) || p.DriftThreshold <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, p.DriftThreshold)
	}
	if math.IsNaN(p.FilterCoefficient) || p.FilterCoefficient < 0 || p.FilterCoefficient > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidCoefficient, p.FilterCoefficient)
	}
	return nil
}

// Update is a partial change to Params. Nil fields keep their current value.
//
// The JSON shape matches the settings endpoint so the same document can be used for startup configuration and
// runtime updates.
type Update struct {
	DriftThreshold    *float64 `json:"drift_threshold,omitempty"`
	FilterCoefficient *float64 `json:"filter_coefficient,omitempty"`
}

func (u Update) IsEmpty() bool {
	return u.DriftThreshold == nil && u.FilterCoefficient == nil
}

func (u Update) apply(p Params) Params {
	if u.DriftThreshold != nil {
		p.DriftThreshold = *u.DriftThreshold
	}
	if u.FilterCoefficient != nil {
		p.FilterCoefficient = *u.FilterCoefficient
	}
	return p
}

// Float64 returns a pointer to v, for building an Update.
func Float64(v float64) *float64 { return &v }

// Store holds the current Params. Reads are lock-free snapshots; writers are serialized so that a partial update
// never loses a concurrent change to the other field.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[Params]
}

// NewStore returns a Store seeded with initial, which must be valid.
func NewStore(initial Params) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	s := &Store{}
	s.current.Store(&initial)
	return s, nil
}

// Get returns both parameters as one snapshot.
func (s *Store) Get() Params {
	return *s.current.Load()
}

// Set applies u and returns the resulting parameters. An invalid result is rejected and the store is left
// unchanged.
func (s *Store) Set(u Update) (Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := u.apply(*s.current.Load())
	if err := next.Validate(); err != nil {
		return *s.current.Load(), err
	}
	s.current.Store(&next)
	return next, nil
}
