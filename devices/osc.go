package devices

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/hypebeast/go-osc/osc"

	"github.com/jdginn/antidrift/devices/router"
	"github.com/jdginn/antidrift/logging"
	"github.com/jdginn/antidrift/tracker"
)

// Sender sends one OSC packet. *osc.Client satisfies it.
type Sender interface {
	Send(packet osc.Packet) error
}

// OscForwarder sends corrected tracker vectors to the downstream tracking host.
//
// Every send is fire-and-forget: a failure is logged, counted and returned, never retried.
type OscForwarder struct {
	c Sender

	sent   atomic.Uint64
	failed atomic.Uint64

	log *slog.Logger
}

func NewOscForwarder(c Sender) *OscForwarder {
	return &OscForwarder{c: c, log: logging.Get(logging.OSC_OUT)}
}

// DialOscForwarder returns a forwarder sending to addr ("host:port") over UDP.
func DialOscForwarder(addr string) (*OscForwarder, error) {
	c, err := NewOscClient(addr)
	if err != nil {
		return nil, err
	}
	return NewOscForwarder(c), nil
}

// NewOscClient builds a go-osc UDP client from a "host:port" address.
func NewOscClient(addr string) (*osc.Client, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("osc address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("osc address %q: invalid port", addr)
	}
	return osc.NewClient(host, port), nil
}

// Forward sends values under the key's downstream address as float32 arguments, preserving order and count.
func (o *OscForwarder) Forward(key tracker.Key, values []float64) error {
	msg := osc.NewMessage(router.ForwardAddress(key))
	for _, v := range values {
		msg.Append(float32(v))
	}
	if err := o.c.Send(msg); err != nil {
		o.failed.Add(1)
		o.log.Warn("Failed to forward tracker", "address", msg.Address, "error", err)
		return err
	}
	o.sent.Add(1)
	o.log.Debug("Forwarded tracker", "address", msg.Address, "values", values)
	return nil
}

func (o *OscForwarder) Sent() uint64 { return o.sent.Load() }

func (o *OscForwarder) Failed() uint64 { return o.failed.Load() }
