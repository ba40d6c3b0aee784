package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jdginn/antidrift/devices"
	"github.com/jdginn/antidrift/devices/router"
	"github.com/jdginn/antidrift/logging"
	"github.com/jdginn/antidrift/params"
	"github.com/jdginn/antidrift/relay"
	"github.com/jdginn/antidrift/telemetry"
)

const envPrefix = "ANTIDRIFT"

const (
	DefaultListenAddr  = "127.0.0.1:9002"
	DefaultForwardAddr = "127.0.0.1:9000"
	DefaultControlAddr = "127.0.0.1:9003"
)

// newViper returns a config store with defaults set and environment overrides enabled. A key such as
// "midi.port" is read from ANTIDRIFT_MIDI_PORT.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	midi := devices.DefaultMidiControlConfig()
	rt := router.DefaultConfig()
	defaults := map[string]any{
		"listen":              DefaultListenAddr,
		"forward":             DefaultForwardAddr,
		"control":             DefaultControlAddr,
		"threshold":           params.DefaultDriftThreshold,
		"coefficient":         params.DefaultFilterCoefficient,
		"workers":             rt.Workers,
		"queue":               rt.QueueSize,
		"liveness_ttl":        relay.DefaultLivenessTTL,
		"stats_interval":      telemetry.DefaultStatsInterval,
		"log.format":          "text",
		"log.level":           "",
		"midi.port":           "",
		"midi.channel":        midi.Channel,
		"midi.calibrate_key":  midi.CalibrateKey,
		"midi.threshold_cc":   midi.ThresholdCC,
		"midi.coefficient_cc": midi.CoefficientCC,
		"midi.threshold_min":  midi.ThresholdMin,
		"midi.threshold_max":  midi.ThresholdMax,
		"influx.url":          "",
		"influx.token":        "",
		"influx.org":          "",
		"influx.bucket":       "",
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

// readConfigFile merges path into v. An empty path is not an error.
func readConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func configureLogging(v *viper.Viper) error {
	var level *slog.Level
	if s := v.GetString("log.level"); s != "" {
		lvl, err := logging.ParseLevel(s)
		if err != nil {
			return err
		}
		level = &lvl
	}
	return logging.Configure(v.GetString("log.format"), os.Stderr, level)
}

type relayConfig struct {
	Listen        string
	Forward       string
	Control       string
	Relay         relay.Config
	Router        router.Config
	StatsInterval time.Duration
	MidiPort      string
	Midi          devices.MidiControlConfig
	Influx        telemetry.InfluxConfig
}

// loadRelayConfig reads every relay setting. Initial parameters go through the same validation as runtime updates.
func loadRelayConfig(v *viper.Viper) (relayConfig, error) {
	rc := relayConfig{
		Listen:  v.GetString("listen"),
		Forward: v.GetString("forward"),
		Control: v.GetString("control"),
		Relay: relay.Config{
			Params: params.Params{
				DriftThreshold:    v.GetFloat64("threshold"),
				FilterCoefficient: v.GetFloat64("coefficient"),
			},
			LivenessTTL: v.GetDuration("liveness_ttl"),
		},
		Router: router.Config{
			Workers:   v.GetInt("workers"),
			QueueSize: v.GetInt("queue"),
		},
		StatsInterval: v.GetDuration("stats_interval"),
		MidiPort:      v.GetString("midi.port"),
		Midi: devices.MidiControlConfig{
			Channel:       uint8(v.GetUint("midi.channel")),
			CalibrateKey:  uint8(v.GetUint("midi.calibrate_key")),
			ThresholdCC:   uint8(v.GetUint("midi.threshold_cc")),
			CoefficientCC: uint8(v.GetUint("midi.coefficient_cc")),
			ThresholdMin:  v.GetFloat64("midi.threshold_min"),
			ThresholdMax:  v.GetFloat64("midi.threshold_max"),
		},
		Influx: telemetry.InfluxConfig{
			URL:    v.GetString("influx.url"),
			Token:  v.GetString("influx.token"),
			Org:    v.GetString("influx.org"),
			Bucket: v.GetString("influx.bucket"),
		},
	}
	if err := rc.Relay.Params.Validate(); err != nil {
		return rc, fmt.Errorf("initial parameters: %w", err)
	}
	if rc.Listen == "" {
		return rc, fmt.Errorf("listen address is required")
	}
	if rc.Forward == "" {
		return rc, fmt.Errorf("forward address is required")
	}
	if ch := v.GetUint("midi.channel"); ch > 15 {
		return rc, fmt.Errorf("midi channel must be 0-15, got %d", ch)
	}
	for _, key := range []string{"midi.calibrate_key", "midi.threshold_cc", "midi.coefficient_cc"} {
		if b := v.GetUint(key); b > 127 {
			return rc, fmt.Errorf("%s must be 0-127, got %d", key, b)
		}
	}
	return rc, nil
}
