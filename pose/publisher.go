package pose

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hypebeast/go-osc/osc"

	"github.com/jdginn/antidrift/devices"
	"github.com/jdginn/antidrift/logging"
)

// Publisher sends the visible segments of each frame as /tracker/<id>/position and /tracker/<id>/rotation.
type Publisher struct {
	sender devices.Sender
	log    *slog.Logger
}

func NewPublisher(sender devices.Sender) *Publisher {
	return &Publisher{sender: sender, log: logging.Get(logging.OSC_OUT)}
}

// Publish returns the number of segments sent. Every visible segment is attempted even if an earlier send fails.
func (p *Publisher) Publish(f Frame) (int, error) {
	var errs []error
	sent := 0
	for _, seg := range Segments(f) {
		if !seg.Visible {
			continue
		}
		if err := p.send("/tracker/"+seg.ID+"/position", seg.Position); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := p.send("/tracker/"+seg.ID+"/rotation", seg.Rotation); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (p *Publisher) send(addr string, values []float64) error {
	msg := osc.NewMessage(addr)
	for _, v := range values {
		msg.Append(float32(v))
	}
	if err := p.sender.Send(msg); err != nil {
		return fmt.Errorf("send %s: %w", addr, err)
	}
	p.log.Debug("Published segment", "address", addr, "values", values)
	return nil
}
