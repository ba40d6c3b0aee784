package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	midi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"golang.org/x/sync/errgroup"

	"github.com/jdginn/antidrift/control"
	"github.com/jdginn/antidrift/devices"
	"github.com/jdginn/antidrift/devices/router"
	"github.com/jdginn/antidrift/logging"
	"github.com/jdginn/antidrift/params"
	"github.com/jdginn/antidrift/relay"
	"github.com/jdginn/antidrift/telemetry"
)

func newRelayCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the anti-drift relay",
		Long: `Listens for tracker positions over OSC, captures references until calibrated, then forwards
smoothed positions downstream. Calibrate and tune through the control server or a MIDI controller.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := loadRelayConfig(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRelay(ctx, rc)
		},
	}

	midiCfg := devices.DefaultMidiControlConfig()
	rtCfg := router.DefaultConfig()
	flags := cmd.Flags()
	flags.String("listen", DefaultListenAddr, "UDP address to receive tracker OSC on")
	flags.String("forward", DefaultForwardAddr, "UDP address of the tracking host")
	flags.String("control", DefaultControlAddr, "HTTP control address (empty disables it)")
	flags.Float64("threshold", params.DefaultDriftThreshold, "initial drift threshold")
	flags.Float64("coefficient", params.DefaultFilterCoefficient, "initial filter coefficient, 0 to 1")
	flags.Int("workers", rtCfg.Workers, "dispatch workers (0 dispatches on the listener goroutine)")
	flags.Int("queue", rtCfg.QueueSize, "per-worker queue length")
	flags.Duration("liveness-ttl", relay.DefaultLivenessTTL, "how long a silent tracker is still listed as active")
	flags.Duration("stats-interval", telemetry.DefaultStatsInterval, "interval between stats log lines")
	flags.String("midi-port", "", "MIDI input port name (empty disables MIDI control)")
	flags.Uint8("midi-channel", midiCfg.Channel, "MIDI channel, 0-15")
	flags.String("influx-url", "", "InfluxDB URL (empty disables export)")
	flags.String("influx-token", "", "InfluxDB token")
	flags.String("influx-org", "", "InfluxDB organization")
	flags.String("influx-bucket", "", "InfluxDB bucket")

	// Bound here rather than at construction: listen shares the "listen" key.
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		bindFlags(v, cmd.Flags(), map[string]string{
			"listen":         "listen",
			"forward":        "forward",
			"control":        "control",
			"threshold":      "threshold",
			"coefficient":    "coefficient",
			"workers":        "workers",
			"queue":          "queue",
			"liveness_ttl":   "liveness-ttl",
			"stats_interval": "stats-interval",
			"midi.port":      "midi-port",
			"midi.channel":   "midi-channel",
			"influx.url":     "influx-url",
			"influx.token":   "influx-token",
			"influx.org":     "influx-org",
			"influx.bucket":  "influx-bucket",
		})
	}
	return cmd
}

// runRelay wires the relay to its adapters and runs until ctx is cancelled or any adapter fails.
func runRelay(ctx context.Context, rc relayConfig) error {
	log := logging.Get(logging.APP)

	var in drivers.In
	if rc.MidiPort != "" {
		port, err := midi.FindInPort(rc.MidiPort)
		if err != nil {
			return fmt.Errorf("find midi port %q: %w", rc.MidiPort, err)
		}
		in = port
	}

	fwd, err := devices.DialOscForwarder(rc.Forward)
	if err != nil {
		return err
	}
	r, err := relay.New(rc.Relay, fwd)
	if err != nil {
		return err
	}
	defer r.Close()

	rt := router.New(r, rc.Router)
	defer rt.Close()

	var ctl *devices.MidiControl
	if in != nil {
		ctl = devices.NewMidiControl(in, rc.Midi, r)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return devices.NewOscListener(rc.Listen, rt).Run(ctx)
	})

	if rc.Control != "" {
		srv := control.NewServer(rc.Control, r)
		g.Go(func() error { return srv.Run(ctx) })
	}

	if ctl != nil {
		g.Go(func() error { return ctl.Run(ctx) })
	}

	if rc.Influx.Enabled() {
		exp := telemetry.NewInfluxExporter(rc.Influx)
		g.Go(func() error { return exp.Run(ctx, r) })
	}

	stats := telemetry.NewStatsLogger(rc.StatsInterval, r, rt)
	g.Go(func() error {
		stats.Run(ctx)
		return nil
	})

	log.Info("Relay running, waiting for calibration",
		"listen", rc.Listen,
		"forward", rc.Forward,
		"control", rc.Control,
		"drift_threshold", rc.Relay.Params.DriftThreshold,
		"filter_coefficient", rc.Relay.Params.FilterCoefficient)

	err = g.Wait()
	log.Info("Relay stopped", "forwarded", fwd.Sent(), "send_failures", fwd.Failed())
	return err
}
