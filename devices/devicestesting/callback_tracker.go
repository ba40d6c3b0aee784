package devicestesting

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jdginn/antidrift/tracker"
)

// CallbackTracker helps track and verify callback invocations in tests
type CallbackTracker struct {
	mu       sync.Mutex
	calls    int
	lastArgs []interface{}
	t        *testing.T
}

// NewCallbackTracker creates a new CallbackTracker for use in tests
func NewCallbackTracker(t *testing.T) *CallbackTracker {
	return &CallbackTracker{
		t:        t,
		lastArgs: make([]interface{}, 0),
	}
}

// WrapCallback wraps a callback function to track its invocations
// The wrapped function will have the same signature as the original
func WrapCallback[T any](ct *CallbackTracker, callback func(T) error) func(T) error {
	return func(arg T) error {
		ct.mu.Lock()
		ct.calls++
		ct.lastArgs = append(ct.lastArgs, arg)
		ct.mu.Unlock()

		if callback != nil {
			return callback(arg)
		}
		return nil
	}
}

func (ct *CallbackTracker) Calls() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.calls
}

// Args returns every argument seen so far, in call order.
func (ct *CallbackTracker) Args() []interface{} {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return slices.Clone(ct.lastArgs)
}

// AssertCalled asserts that the callback was called exactly n times
func (ct *CallbackTracker) AssertCalled(expectedCalls int, msg ...any) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	assert.Equal(ct.t, expectedCalls, ct.calls, msg...)
}

// AssertCalledOnce asserts that the callback was called exactly once
func (ct *CallbackTracker) AssertCalledOnce(msg ...any) {
	ct.AssertCalled(1, msg...)
}

// AssertNotCalled asserts that the callback was never called
func (ct *CallbackTracker) AssertNotCalled(msg ...any) {
	ct.AssertCalled(0, msg...)
}

// AssertEventuallyCalled waits up to a second for the callback to reach n calls, for callbacks run on other
// goroutines.
func (ct *CallbackTracker) AssertEventuallyCalled(expectedCalls int, msg ...any) {
	assert.Eventually(ct.t, func() bool {
		return ct.Calls() == expectedCalls
	}, time.Second, 5*time.Millisecond, msg...)
}

// TrackerCall is one recorded tracker vector.
type TrackerCall struct {
	Key    tracker.Key
	Values []float64
}

// RecordingHandler records every tracker vector it is handed. It satisfies the router's TrackerHandler.
type RecordingHandler struct {
	*CallbackTracker
	handle func(TrackerCall) error
}

// NewRecordingHandler records calls and then runs next, which may be nil.
func NewRecordingHandler(t *testing.T, next func(TrackerCall) error) *RecordingHandler {
	ct := NewCallbackTracker(t)
	return &RecordingHandler{
		CallbackTracker: ct,
		handle:          WrapCallback(ct, next),
	}
}

func (h *RecordingHandler) Handle(key tracker.Key, values []float64) error {
	return h.handle(TrackerCall{Key: key, Values: slices.Clone(values)})
}

// TrackerCalls returns the recorded calls in order.
func (h *RecordingHandler) TrackerCalls() []TrackerCall {
	args := h.Args()
	out := make([]TrackerCall, len(args))
	for i, a := range args {
		out[i] = a.(TrackerCall)
	}
	return out
}
