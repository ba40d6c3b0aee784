package cli

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdginn/antidrift/params"
)

func TestLoadRelayConfigDefaults(t *testing.T) {
	rc, err := loadRelayConfig(newViper())
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, rc.Listen)
	assert.Equal(t, DefaultForwardAddr, rc.Forward)
	assert.Equal(t, DefaultControlAddr, rc.Control)
	assert.Equal(t, params.Default(), rc.Relay.Params)
	assert.Equal(t, 4, rc.Router.Workers)
	assert.Equal(t, uint8(60), rc.Midi.CalibrateKey)
	assert.Equal(t, 10.0, rc.Midi.ThresholdMax)
	assert.False(t, rc.Influx.Enabled())
}

func TestLoadRelayConfigFromEnv(t *testing.T) {
	t.Setenv("ANTIDRIFT_THRESHOLD", "2.5")
	t.Setenv("ANTIDRIFT_MIDI_PORT", "IAC Driver Bus 1")
	t.Setenv("ANTIDRIFT_INFLUX_URL", "http://localhost:8086")

	rc, err := loadRelayConfig(newViper())
	require.NoError(t, err)
	assert.Equal(t, 2.5, rc.Relay.Params.DriftThreshold)
	assert.Equal(t, "IAC Driver Bus 1", rc.MidiPort)
	assert.Equal(t, "http://localhost:8086", rc.Influx.URL)
}

func TestLoadRelayConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "antidrift.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
forward: 10.0.0.2:9000
coefficient: 0.5
liveness_ttl: 2s
midi:
  channel: 3
  calibrate_key: 36
`), 0o644))

	v := newViper()
	require.NoError(t, readConfigFile(v, path))
	rc, err := loadRelayConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.2:9000", rc.Forward)
	assert.Equal(t, 0.5, rc.Relay.Params.FilterCoefficient)
	assert.Equal(t, params.DefaultDriftThreshold, rc.Relay.Params.DriftThreshold)
	assert.Equal(t, 2*time.Second, rc.Relay.LivenessTTL)
	assert.Equal(t, uint8(3), rc.Midi.Channel)
	assert.Equal(t, uint8(36), rc.Midi.CalibrateKey)
}

func TestReadConfigFileMissing(t *testing.T) {
	require.NoError(t, readConfigFile(newViper(), ""))
	assert.Error(t, readConfigFile(newViper(), filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestLoadRelayConfigRejects(t *testing.T) {
	tests := map[string]struct {
		key   string
		value any
		want  error
	}{
		"zero threshold":      {key: "threshold", value: 0.0, want: params.ErrInvalidThreshold},
		"coefficient above 1": {key: "coefficient", value: 1.5, want: params.ErrInvalidCoefficient},
		"empty listen":        {key: "listen", value: ""},
		"empty forward":       {key: "forward", value: ""},
		"midi channel 16":     {key: "midi.channel", value: 16},
		"calibrate key 128":   {key: "midi.calibrate_key", value: 128},
		"threshold cc 300":    {key: "midi.threshold_cc", value: 300},
		"coefficient cc 200":  {key: "midi.coefficient_cc", value: 200},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			v := newViper()
			v.Set(tt.key, tt.value)
			_, err := loadRelayConfig(v)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestRelayFlagsOverrideEnv(t *testing.T) {
	t.Setenv("ANTIDRIFT_THRESHOLD", "2.5")
	t.Setenv("ANTIDRIFT_LISTEN", "127.0.0.1:7000")

	v := newViper()
	root := newRootCmd(v)
	cmd, _, err := root.Find([]string{"relay"})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags([]string{"--threshold", "7", "--workers", "0"}))
	cmd.PreRun(cmd, nil)

	rc, err := loadRelayConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 7.0, rc.Relay.Params.DriftThreshold)
	assert.Equal(t, 0, rc.Router.Workers)
	assert.Equal(t, "127.0.0.1:7000", rc.Listen, "unset flag falls through to env")
}

func TestConfigureLoggingRejectsUnknownLevel(t *testing.T) {
	v := newViper()
	v.Set("log.level", "loud")
	assert.Error(t, configureLogging(v))
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd(newViper())
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"relay", "replay", "listen"}, names)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func freeUDPAddr(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())
	return addr
}

func TestListenCommandDumpsMessages(t *testing.T) {
	addr := freeUDPAddr(t)
	var out syncBuffer

	root := newRootCmd(newViper())
	root.SetArgs([]string{"listen", "--listen", addr})
	root.SetOut(&out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	client := osc.NewClient("127.0.0.1", mustPort(t, addr))
	assert.Eventually(t, func() bool {
		_ = client.Send(osc.NewMessage("/tracker/hip", float32(1), float32(2), float32(3)))
		return strings.Contains(out.String(), "tracker hip [1 2 3]")
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listen command did not stop")
	}
}

func mustPort(t *testing.T, addr string) int {
	t.Helper()
	udp, err := net.ResolveUDPAddr("udp", addr)
	require.NoError(t, err)
	return udp.Port
}

func TestReplayCommandPublishesScript(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
interval: 1ms
frames:
  - landmarks:
      23: {x: 0.4, y: 0.6, z: 0, visibility: 0.9}
      24: {x: 0.6, y: 0.6, z: 0, visibility: 0.9}
`), 0o644))

	root := newRootCmd(newViper())
	root.SetArgs([]string{"replay", path, "--target", conn.LocalAddr().String()})
	require.NoError(t, root.Execute())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1024)
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	packet, err := osc.ParsePacket(string(buf[:n]))
	require.NoError(t, err)
	msg, ok := packet.(*osc.Message)
	require.True(t, ok)
	assert.Equal(t, "/tracker/hip/position", msg.Address)
	require.Len(t, msg.Arguments, 3)
	assert.InDelta(t, 0.5, msg.Arguments[0], 1e-6)
	assert.InDelta(t, 0.6, msg.Arguments[1], 1e-6)
}

func TestReplayCommandMissingScript(t *testing.T) {
	root := newRootCmd(newViper())
	root.SetArgs([]string{"replay", filepath.Join(t.TempDir(), "missing.yaml"), "--target", "127.0.0.1:9"})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.Execute())
}
