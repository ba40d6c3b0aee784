package devices_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdginn/antidrift/devices"
	devtest "github.com/jdginn/antidrift/devices/devicestesting"
	"github.com/jdginn/antidrift/devices/router"
	"github.com/jdginn/antidrift/relay"
	"github.com/jdginn/antidrift/tracker"
)

func TestOscForwarder(t *testing.T) {
	tests := []struct {
		name     string
		key      tracker.Key
		values   []float64
		wantAddr string
		wantArgs []interface{}
	}{
		{
			name:     "position vector",
			key:      tracker.Key{ID: "hip"},
			values:   []float64{17.18, 2.015, 3},
			wantAddr: "/tracker/hip",
			wantArgs: []interface{}{float32(17.18), float32(2.015), float32(3)},
		},
		{
			name:     "rotation vector",
			key:      tracker.Key{ID: "hip", Channel: tracker.Rotation},
			values:   []float64{0, 0, 0},
			wantAddr: "/tracker/hip/rotation",
			wantArgs: []interface{}{float32(0), float32(0), float32(0)},
		},
		{
			name:     "preserves count and order",
			key:      tracker.Key{ID: "7"},
			values:   []float64{5, 4, 3, 2, 1},
			wantAddr: "/tracker/7",
			wantArgs: []interface{}{float32(5), float32(4), float32(3), float32(2), float32(1)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &devtest.MockOscSender{}
			fwd := devices.NewOscForwarder(sender)

			require.NoError(t, fwd.Forward(tt.key, tt.values))

			sent := sender.GetSentMessages()
			require.Len(t, sent, 1)
			assert.Equal(t, tt.wantAddr, sent[0].Address)
			assert.Equal(t, tt.wantArgs, sent[0].Arguments)
			assert.EqualValues(t, 1, fwd.Sent())
		})
	}
}

func TestOscForwarderSendFailure(t *testing.T) {
	sender := &devtest.MockOscSender{}
	sender.SetError(true)
	fwd := devices.NewOscForwarder(sender)

	err := fwd.Forward(tracker.Key{ID: "hip"}, []float64{1})
	assert.ErrorIs(t, err, devtest.ErrMockSend)
	assert.EqualValues(t, 1, fwd.Failed())
	assert.Empty(t, sender.GetSentMessages())
}

func TestNewOscClientRejectsBadAddress(t *testing.T) {
	for _, addr := range []string{"localhost", "127.0.0.1:notaport", "127.0.0.1:0", "127.0.0.1:70000"} {
		_, err := devices.NewOscClient(addr)
		assert.Error(t, err, addr)
	}
	c, err := devices.NewOscClient("127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, 9000, c.Port())
}

// startListener serves on an ephemeral port and returns a client aimed at it.
func startListener(t *testing.T, d osc.Dispatcher) (*devices.OscListener, *osc.Client, net.Addr, func()) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	l := devices.NewOscListener(conn.LocalAddr().String(), d)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx, conn) }()

	addr := conn.LocalAddr().(*net.UDPAddr)
	stop := func() {
		cancel()
		require.NoError(t, <-done)
	}
	return l, osc.NewClient("127.0.0.1", addr.Port), conn.LocalAddr(), stop
}

func TestOscListenerDispatches(t *testing.T) {
	h := devtest.NewRecordingHandler(t, nil)
	rt := router.New(h, router.Config{Workers: 2, QueueSize: 16})
	l, client, addr, stop := startListener(t, rt)

	require.NoError(t, client.Send(osc.NewMessage("/tracker/hip", float32(1), float32(2), float32(3))))
	h.AssertEventuallyCalled(1)

	raw, err := net.Dial("udp", addr.String())
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Write([]byte("not osc"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return l.ParseErrors() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Send(osc.NewMessage("/tracker/chest", float32(4))))
	h.AssertEventuallyCalled(2, "a bad datagram must not stop the listener")

	stop()
	assert.EqualValues(t, 3, l.Received())
	assert.Equal(t, []float64{1, 2, 3}, h.TrackerCalls()[0].Values)
}

func TestOscListenerBindFailure(t *testing.T) {
	taken, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	l := devices.NewOscListener(taken.LocalAddr().String(), router.New(devtest.NewRecordingHandler(t, nil), router.Config{}))
	err = l.Run(context.Background())
	assert.Error(t, err)
}

func TestOscListenerStopsOnCancel(t *testing.T) {
	l := devices.NewOscListener("127.0.0.1:0", router.New(devtest.NewRecordingHandler(t, nil), router.Config{Workers: 1}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}

// A calibrated relay wired to a listener forwards the filtered scenario end to end.
func TestRelayEndToEnd(t *testing.T) {
	sender := &devtest.MockOscSender{}
	r, err := relay.New(relay.DefaultConfig(), devices.NewOscForwarder(sender))
	require.NoError(t, err)
	defer r.Close()

	rt := router.New(r, router.Config{Workers: 2, QueueSize: 16})
	_, client, _, stop := startListener(t, rt)

	require.NoError(t, client.Send(osc.NewMessage("/tracker/hip", float32(9), float32(9), float32(9))))
	assert.Eventually(t, func() bool { return r.Counters().Captured == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, sender.GetSentMessages(), "nothing is forwarded before calibration")

	r.TriggerCalibration()
	for _, v := range [][]float32{{1, 2, 3}, {1.2, 2.1, 3}, {20, 2, 3}} {
		require.NoError(t, client.Send(osc.NewMessage("/tracker/hip", v[0], v[1], v[2])))
	}
	assert.Eventually(t, func() bool { return len(sender.GetSentMessages()) == 3 }, time.Second, 5*time.Millisecond)
	stop()

	last := sender.GetSentMessages()[2]
	assert.Equal(t, "/tracker/hip", last.Address)
	require.Len(t, last.Arguments, 3)
	assert.InDelta(t, 17.18, last.Arguments[0], 1e-3)
	assert.InDelta(t, 2.015, last.Arguments[1], 1e-3)
	assert.InDelta(t, 3.0, last.Arguments[2], 1e-3)
}
