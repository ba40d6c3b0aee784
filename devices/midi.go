package devices

import (
	"context"
	"fmt"
	"log/slog"

	midi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/jdginn/antidrift/calibration"
	"github.com/jdginn/antidrift/logging"
	"github.com/jdginn/antidrift/params"
)

// RelayControl is the part of the relay a control surface drives.
type RelayControl interface {
	TriggerCalibration() calibration.Epoch
	UpdateParameters(u params.Update) (params.Params, error)
}

type MidiControlConfig struct {
	// Channel is zero-based.
	Channel       uint8
	CalibrateKey  uint8
	ThresholdCC   uint8
	CoefficientCC uint8
	// ThresholdMin and ThresholdMax are the drift thresholds at CC values 0 and 127.
	ThresholdMin float64
	ThresholdMax float64
}

func DefaultMidiControlConfig() MidiControlConfig {
	return MidiControlConfig{
		Channel:       0,
		CalibrateKey:  60,
		ThresholdCC:   20,
		CoefficientCC: 21,
		ThresholdMin:  1,
		ThresholdMax:  10,
	}
}

// MidiControl maps a MIDI controller onto the relay: a note triggers calibration and two CCs set the parameters.
type MidiControl struct {
	inPort drivers.In
	cfg    MidiControlConfig
	relay  RelayControl
	log    *slog.Logger
}

func NewMidiControl(inPort drivers.In, cfg MidiControlConfig, relay RelayControl) *MidiControl {
	return &MidiControl{
		inPort: inPort,
		cfg:    cfg,
		relay:  relay,
		log:    logging.Get(logging.MIDI_IN),
	}
}

// Run listens on the input port until ctx is cancelled.
func (m *MidiControl) Run(ctx context.Context) error {
	if !m.inPort.IsOpen() {
		if err := m.inPort.Open(); err != nil {
			return fmt.Errorf("open midi port %s: %w", m.inPort.String(), err)
		}
	}
	defer m.inPort.Close()

	stop, err := midi.ListenTo(m.inPort, m.handleMessage)
	if err != nil {
		return fmt.Errorf("listen on midi port %s: %w", m.inPort.String(), err)
	}
	m.log.Info("Starting MIDI control", "inPort", m.inPort.String(), "channel", m.cfg.Channel)

	<-ctx.Done()
	stop()
	return nil
}

func (m *MidiControl) handleMessage(msg midi.Message, timestampms int32) {
	var channel, key, velocity, control, value uint8
	switch {
	case msg.GetNoteOn(&channel, &key, &velocity):
		m.log.Debug("received Note On message", "channel", channel, "key", key, "velocity", velocity, "timestamp", timestampms)
		if channel != m.cfg.Channel || key != m.cfg.CalibrateKey || velocity == 0 {
			return
		}
		epoch := m.relay.TriggerCalibration()
		m.log.Info("Calibration triggered from MIDI", "epoch", epoch.ID)

	case msg.GetControlChange(&channel, &control, &value):
		m.log.Debug("received Control Change message", "channel", channel, "control", control, "value", value, "timestamp", timestampms)
		if channel != m.cfg.Channel {
			return
		}
		var u params.Update
		switch control {
		case m.cfg.ThresholdCC:
			u.DriftThreshold = params.Float64(m.cfg.ThresholdMin + float64(value)/127*(m.cfg.ThresholdMax-m.cfg.ThresholdMin))
		case m.cfg.CoefficientCC:
			u.FilterCoefficient = params.Float64(float64(value) / 127)
		default:
			return
		}
		if _, err := m.relay.UpdateParameters(u); err != nil {
			m.log.Error("failed to process Control Change", "control", control, "error", err)
		}
	}
}
