// Package tracker holds per-tracker filter state.
package tracker

import (
	"slices"
	"sort"
	"sync"
)

// Channel distinguishes the vector streams a single tracker can send.
type Channel uint8

const (
	Position Channel = iota
	Rotation
)

func (c Channel) String() string {
	switch c {
	case Position:
		return "position"
	case Rotation:
		return "rotation"
	default:
		return "unknown"
	}
}

// Key identifies one filtered stream. ID is opaque.
type Key struct {
	ID      string
	Channel Channel
}

func (k Key) String() string {
	if k.Channel == Position {
		return k.ID
	}
	return k.ID + "/" + k.Channel.String()
}

// State is the filter state kept for one Key.
type State struct {
	// Last is the most recently forwarded vector.
	Last []float64
	// Reference is captured only while uncalibrated.
	Reference []float64
}

// FitShape drops any stored vector whose length differs from n, so that a tracker changing its argument count
// starts over as a new tracker. It reports whether anything was dropped.
func (st *State) FitShape(n int) bool {
	reset := false
	if st.Last != nil && len(st.Last) != n {
		st.Last = nil
		reset = true
	}
	if st.Reference != nil && len(st.Reference) != n {
		st.Reference = nil
		reset = true
	}
	return reset
}

func (st State) clone() State {
	return State{
		Last:      slices.Clone(st.Last),
		Reference: slices.Clone(st.Reference),
	}
}

type entry struct {
	mu    sync.Mutex
	state State
}

// Store maps keys to State. Mutation of one key is serialized by that key's own lock; distinct keys proceed in
// parallel.
type Store struct {
	mu      sync.Mutex
	entries map[Key]*entry
}

func NewStore() *Store {
	return &Store{entries: map[Key]*entry{}}
}

func (s *Store) entry(key Key) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}

// Update runs fn with exclusive access to the state for key, creating an empty state on first use.
//
// fn must not retain the pointer after it returns.
func (s *Store) Update(key Key, fn func(*State)) {
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
}

// Get returns a copy of the state for key.
func (s *Store) Get(key Key) (State, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return State{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone(), true
}

// Keys returns every key with state, sorted by ID then channel.
func (s *Store) Keys() []Key {
	s.mu.Lock()
	keys := make([]Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ID != keys[j].ID {
			return keys[i].ID < keys[j].ID
		}
		return keys[i].Channel < keys[j].Channel
	})
	return keys
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear drops every entry. Callers that need Clear to be atomic with respect to Update must exclude updates
// themselves.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = map[Key]*entry{}
	s.mu.Unlock()
}
