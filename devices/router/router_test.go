package router

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdginn/antidrift/devices/devicestesting"
	"github.com/jdginn/antidrift/tracker"
)

func TestMatchAddr(t *testing.T) {
	tests := []struct {
		pattern        []string
		addr           []string
		expectMatch    bool
		expectCaptures []string
	}{
		{[]string{"tracker", "@"}, []string{"tracker", "hip"}, true, []string{"hip"}},
		{[]string{"tracker", "@", "rotation"}, []string{"tracker", "42", "rotation"}, true, []string{"42"}},
		{[]string{"meta", "logging", "@", "level"}, []string{"meta", "logging", "app", "level"}, true, []string{"app"}},
		{[]string{"tracker", "@"}, []string{"tracker", "hip", "position"}, false, nil},
		{[]string{"tracker", "@", "rotation"}, []string{"tracker", "hip", "position"}, false, nil},
		{[]string{"tracker", "@"}, []string{"trackers", "hip"}, false, nil},
	}

	for _, tt := range tests {
		ok, caps := matchAddr(tt.pattern, tt.addr)
		assert.Equal(t, tt.expectMatch, ok, "match result mismatch for pattern=%q addr=%q", tt.pattern, tt.addr)
		if tt.expectMatch {
			assert.Equal(t, tt.expectCaptures, caps, "captures mismatch for pattern=%q addr=%q", tt.pattern, tt.addr)
		}
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		addr    string
		want    Route
		wantErr error
	}{
		{addr: "/tracker/hip", want: Route{Kind: TrackerUpdate, Key: tracker.Key{ID: "hip"}}},
		{addr: "tracker/hip", want: Route{Kind: TrackerUpdate, Key: tracker.Key{ID: "hip"}}},
		{addr: "/tracker/hip/position", want: Route{Kind: TrackerUpdate, Key: tracker.Key{ID: "hip"}}},
		{addr: "/tracker/left_foot/rotation", want: Route{Kind: TrackerUpdate, Key: tracker.Key{ID: "left_foot", Channel: tracker.Rotation}}},
		{addr: "/tracker/7", want: Route{Kind: TrackerUpdate, Key: tracker.Key{ID: "7"}}},
		{addr: "/meta/logging/osc_in/level", want: Route{Kind: LogLevel}},
		{addr: "/tracker/hip/velocity", want: Route{Kind: Ignored}},
		{addr: "/tracker/hip/position/extra", want: Route{Kind: Ignored}},
		{addr: "/tracker", want: Route{Kind: Ignored}},
		{addr: "/vmt/room/unity", want: Route{Kind: Ignored}},
		{addr: "", want: Route{Kind: Ignored}},
		{addr: "/tracker/", wantErr: ErrEmptyTrackerID},
		{addr: "/tracker//rotation", wantErr: ErrEmptyTrackerID},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got, err := Resolve(tt.addr)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				var perr *ParseError
				require.True(t, errors.As(err, &perr))
				assert.Equal(t, tt.addr, perr.Address)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestForwardAddress(t *testing.T) {
	assert.Equal(t, "/tracker/hip", ForwardAddress(tracker.Key{ID: "hip"}))
	assert.Equal(t, "/tracker/hip/rotation", ForwardAddress(tracker.Key{ID: "hip", Channel: tracker.Rotation}))
}

func TestValues(t *testing.T) {
	tests := []struct {
		name    string
		args    []interface{}
		want    []float64
		wantErr error
	}{
		{name: "mixed numeric", args: []interface{}{float32(1.5), float64(2), int32(3), int64(-4)}, want: []float64{1.5, 2, 3, -4}},
		{name: "single", args: []interface{}{float32(0)}, want: []float64{0}},
		{name: "empty", args: nil, wantErr: ErrNoArguments},
		{name: "string", args: []interface{}{float32(1), "x"}, wantErr: ErrNonNumericArgument},
		{name: "bool", args: []interface{}{true}, wantErr: ErrNonNumericArgument},
		{name: "nan", args: []interface{}{math.NaN()}, wantErr: ErrNonFiniteArgument},
		{name: "inf", args: []interface{}{float32(math.Inf(1))}, wantErr: ErrNonFiniteArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Values(tt.args)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDispatchInline(t *testing.T) {
	h := devicestesting.NewRecordingHandler(t, nil)
	r := New(h, Config{})
	defer r.Close()

	r.Dispatch(osc.NewMessage("/tracker/hip", float32(1), float32(2), float32(3)))
	r.Dispatch(osc.NewMessage("/tracker/hip/rotation", float32(0), float32(0), float32(0)))
	r.Dispatch(osc.NewMessage("/tracker/hip", "bad"))
	r.Dispatch(osc.NewMessage("/tracker/hip"))
	r.Dispatch(osc.NewMessage("/unrelated", float32(1)))

	h.AssertCalled(2)
	calls := h.TrackerCalls()
	assert.Equal(t, tracker.Key{ID: "hip"}, calls[0].Key)
	assert.Equal(t, []float64{1, 2, 3}, calls[0].Values)
	assert.Equal(t, tracker.Key{ID: "hip", Channel: tracker.Rotation}, calls[1].Key)

	c := r.Counters()
	assert.EqualValues(t, 2, c.Dispatched)
	assert.EqualValues(t, 2, c.Malformed)
	assert.EqualValues(t, 1, c.Ignored)
}

func TestDispatchBundleFlattens(t *testing.T) {
	h := devicestesting.NewRecordingHandler(t, nil)
	r := New(h, Config{})
	defer r.Close()

	inner := osc.NewBundle(time.Now())
	require.NoError(t, inner.Append(osc.NewMessage("/tracker/chest", float32(4))))
	outer := osc.NewBundle(time.Now().Add(time.Hour))
	require.NoError(t, outer.Append(osc.NewMessage("/tracker/hip", float32(1))))
	require.NoError(t, outer.Append(inner))

	r.Dispatch(outer)

	h.AssertCalled(2, "bundles are dispatched immediately regardless of timetag")
	calls := h.TrackerCalls()
	assert.Equal(t, "hip", calls[0].Key.ID)
	assert.Equal(t, "chest", calls[1].Key.ID)
}

func TestHandlerErrorsAreCounted(t *testing.T) {
	h := devicestesting.NewRecordingHandler(t, func(devicestesting.TrackerCall) error {
		return errors.New("send failed")
	})
	r := New(h, Config{})
	defer r.Close()

	r.Dispatch(osc.NewMessage("/tracker/hip", float32(1)))
	assert.EqualValues(t, 1, r.Counters().HandlerErrors)
}

func TestShardsPreservePerTrackerOrder(t *testing.T) {
	h := devicestesting.NewRecordingHandler(t, nil)
	r := New(h, Config{Workers: 4, QueueSize: 4096})

	ids := []string{"hip", "chest", "left_foot", "right_foot"}
	const n = 500
	for i := 0; i < n; i++ {
		for _, id := range ids {
			r.Dispatch(osc.NewMessage("/tracker/"+id, float32(i)))
		}
	}
	r.Close()

	h.AssertCalled(n * len(ids))
	next := map[string]float64{}
	for _, c := range h.TrackerCalls() {
		require.Equal(t, next[c.Key.ID], c.Values[0], "out of order for %s", c.Key.ID)
		next[c.Key.ID]++
	}
}

func TestFullShardDrops(t *testing.T) {
	release := make(chan struct{})
	h := devicestesting.NewRecordingHandler(t, func(devicestesting.TrackerCall) error {
		<-release
		return nil
	})
	r := New(h, Config{Workers: 1, QueueSize: 1})

	// One message blocks in the handler, one fills the queue, the rest are dropped.
	r.Dispatch(osc.NewMessage("/tracker/hip", float32(0)))
	h.AssertEventuallyCalled(1)
	for i := 1; i < 5; i++ {
		r.Dispatch(osc.NewMessage("/tracker/hip", float32(i)))
	}
	close(release)
	r.Close()

	h.AssertCalled(2)
	assert.EqualValues(t, 3, r.Counters().Dropped)
}

func TestDispatchAfterCloseDrops(t *testing.T) {
	h := devicestesting.NewRecordingHandler(t, nil)
	r := New(h, Config{Workers: 2})
	r.Close()
	r.Close()

	r.Dispatch(osc.NewMessage("/tracker/hip", float32(1)))
	h.AssertNotCalled()
	assert.EqualValues(t, 1, r.Counters().Dropped)
}
