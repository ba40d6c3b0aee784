package mode

import (
	"sync"

	"golang.org/x/exp/constraints"
)

// ModeManager holds the currently active mode and gates callbacks on it.
//
// Modes are bit flags so that a callback can be bound to a set of modes at once; a callback bound to a set runs
// whenever the current mode is a member of that set.
//
// Effects registered with OnEnter run each time their mode becomes active.
type ModeManager[M constraints.Integer] struct {
	mu       sync.RWMutex
	currMode M
	onEnter  map[M][]func(prev M)
}

func NewModeManager[M constraints.Integer](startingMode M) *ModeManager[M] {
	return &ModeManager[M]{
		currMode: startingMode,
		onEnter:  map[M][]func(prev M){},
	}
}

// Current returns the active mode.
func (mm *ModeManager[M]) Current() M {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.currMode
}

// Active reports whether the current mode is in the set of modes given.
func (mm *ModeManager[M]) Active(modes M) bool {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.currMode&modes != 0
}

// SetMode sets the currently active mode.
//
// If the new mode differs from the current mode, each effect registered for the new mode runs with the previous
// mode. Effects run after the switch is visible and outside the manager's lock. Reports whether the mode changed.
func (mm *ModeManager[M]) SetMode(mode M) bool {
	mm.mu.Lock()
	if mm.currMode == mode {
		mm.mu.Unlock()
		return false
	}
	prev := mm.currMode
	mm.currMode = mode
	effects := append([]func(M){}, mm.onEnter[mode]...)
	mm.mu.Unlock()

	for _, effect := range effects {
		effect(prev)
	}
	return true
}

// OnEnter registers an effect to run whenever mode becomes active.
func (mm *ModeManager[M]) OnEnter(mode M, effect func(prev M)) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.onEnter[mode] = append(mm.onEnter[mode], effect)
}

// When wraps callback so that it only runs while one of modes is active. The wrapped callback reports whether it
// ran.
//
// The argument type is inferred from the callback, so the same gate works for any handler signature.
func When[A any, M constraints.Integer](mm *ModeManager[M], modes M, callback func(A)) func(A) bool {
	return func(args A) bool {
		if !mm.Active(modes) {
			return false
		}
		callback(args)
		return true
	}
}
