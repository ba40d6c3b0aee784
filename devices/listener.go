package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"github.com/jdginn/antidrift/logging"
)

const maxDatagramSize = 65535

// OscListener reads OSC datagrams from a UDP socket and hands every parsed packet to its dispatcher. It keeps no
// tracker state.
type OscListener struct {
	Addr       string
	Dispatcher osc.Dispatcher

	received    atomic.Uint64
	parseErrors atomic.Uint64

	log *slog.Logger
}

func NewOscListener(addr string, d osc.Dispatcher) *OscListener {
	return &OscListener{
		Addr:       addr,
		Dispatcher: d,
		log:        logging.Get(logging.OSC_IN),
	}
}

// Run binds Addr and serves until ctx is cancelled. A bind failure is returned immediately.
func (l *OscListener) Run(ctx context.Context) error {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", l.Addr)
	if err != nil {
		return fmt.Errorf("bind osc listener on %s: %w", l.Addr, err)
	}
	return l.Serve(ctx, conn)
}

// Serve reads from conn until ctx is cancelled. On the way out it stops reading, closes the dispatcher if it has
// a Close method (waiting for queued messages), and only then closes conn.
func (l *OscListener) Serve(ctx context.Context, conn net.PacketConn) error {
	defer conn.Close()
	defer func() {
		if c, ok := l.Dispatcher.(interface{ Close() }); ok {
			c.Close()
		}
	}()

	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	l.log.Info("Listening for OSC messages", "addr", conn.LocalAddr().String())
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.log.Info("OSC listener stopped", "received", l.received.Load())
				return nil
			}
			return fmt.Errorf("read osc datagram: %w", err)
		}
		l.received.Add(1)

		packet, err := parsePacket(buf[:n])
		if err != nil {
			l.parseErrors.Add(1)
			l.log.Warn("Dropping unparseable OSC datagram", "from", from.String(), "bytes", n, "error", err)
			continue
		}
		l.Dispatcher.Dispatch(packet)
	}
}

// parsePacket never panics; go-osc can on some truncated inputs.
func parsePacket(data []byte) (packet osc.Packet, err error) {
	defer func() {
		if r := recover(); r != nil {
			packet, err = nil, fmt.Errorf("parse osc packet: %v", r)
		}
	}()
	packet, err = osc.ParsePacket(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse osc packet: %w", err)
	}
	if packet == nil {
		return nil, errors.New("parse osc packet: empty packet")
	}
	return packet, nil
}

func (l *OscListener) Received() uint64 { return l.received.Load() }

func (l *OscListener) ParseErrors() uint64 { return l.parseErrors.Load() }
