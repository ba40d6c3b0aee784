package devices

import (
	"fmt"
	"io"
	"sync"

	"github.com/hypebeast/go-osc/osc"

	"github.com/jdginn/antidrift/devices/router"
)

// DumpDispatcher prints every message it receives along with how the relay would route it.
type DumpDispatcher struct {
	mu sync.Mutex
	w  io.Writer
}

func NewDumpDispatcher(w io.Writer) *DumpDispatcher {
	return &DumpDispatcher{w: w}
}

// Dispatch implements osc.Dispatcher.
func (d *DumpDispatcher) Dispatch(packet osc.Packet) {
	switch p := packet.(type) {
	case *osc.Message:
		d.dump(p)
	case *osc.Bundle:
		for _, m := range p.Messages {
			d.dump(m)
		}
		for _, b := range p.Bundles {
			d.Dispatch(b)
		}
	}
}

func (d *DumpDispatcher) dump(msg *osc.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	route, err := router.Resolve(msg.Address)
	if err != nil {
		fmt.Fprintf(d.w, "malformed %s %v: %v\n", msg.Address, msg.Arguments, err)
		return
	}
	switch route.Kind {
	case router.TrackerUpdate:
		values, err := router.Values(msg.Arguments)
		if err != nil {
			fmt.Fprintf(d.w, "malformed %s %v: %v\n", msg.Address, msg.Arguments, err)
			return
		}
		fmt.Fprintf(d.w, "tracker %s %v\n", route.Key, values)
	default:
		fmt.Fprintf(d.w, "%s %s %v\n", route.Kind, msg.Address, msg.Arguments)
	}
}
