// Package router resolves inbound OSC addresses against a fixed routing table and dispatches tracker vectors to
// a handler on per-tracker shard workers.
package router

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hypebeast/go-osc/osc"

	"github.com/jdginn/antidrift/logging"
	"github.com/jdginn/antidrift/tracker"
)

var (
	ErrNoArguments        = errors.New("message has no arguments")
	ErrNonNumericArgument = errors.New("argument is not numeric")
	ErrNonFiniteArgument  = errors.New("argument is not finite")
	ErrEmptyTrackerID     = errors.New("empty tracker id")
)

// ParseError reports a message that matched a route but could not be turned into a tracker vector.
type ParseError struct {
	Address string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("osc message %q: %v", e.Address, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type Kind uint8

const (
	Ignored Kind = iota
	TrackerUpdate
	LogLevel
)

func (k Kind) String() string {
	switch k {
	case TrackerUpdate:
		return "tracker"
	case LogLevel:
		return "log_level"
	default:
		return "ignored"
	}
}

// Route is the resolved meaning of an address.
type Route struct {
	Kind Kind
	// Key is set for TrackerUpdate routes.
	Key tracker.Key
}

type routeEntry struct {
	// "@" captures a segment.
	pattern []string
	kind    Kind
	channel tracker.Channel
}

var routes = []routeEntry{
	{pattern: []string{"tracker", "@"}, kind: TrackerUpdate, channel: tracker.Position},
	{pattern: []string{"tracker", "@", "position"}, kind: TrackerUpdate, channel: tracker.Position},
	{pattern: []string{"tracker", "@", "rotation"}, kind: TrackerUpdate, channel: tracker.Rotation},
	{pattern: []string{"meta", "logging", "@", "level"}, kind: LogLevel},
}

// matchAddr checks if addrSegs matches pattern exactly, segment for segment.
// Each "@" in pattern acts as a wildcard for a segment, and captured segments are returned.
func matchAddr(pattern, addrSegs []string) (bool, []string) {
	if len(pattern) != len(addrSegs) {
		return false, nil
	}
	var captures []string
	for i, p := range pattern {
		if p == "@" {
			captures = append(captures, addrSegs[i])
		} else if p != addrSegs[i] {
			return false, nil
		}
	}
	return true, captures
}

// Resolve maps an OSC address onto a route. The leading "/" is optional. Addresses matching no route resolve to
// Ignored without error.
func Resolve(address string) (Route, error) {
	segs := strings.Split(strings.TrimPrefix(address, "/"), "/")
	for _, r := range routes {
		ok, captures := matchAddr(r.pattern, segs)
		if !ok {
			continue
		}
		if r.kind != TrackerUpdate {
			return Route{Kind: r.kind}, nil
		}
		if captures[0] == "" {
			return Route{}, &ParseError{Address: address, Err: ErrEmptyTrackerID}
		}
		return Route{Kind: TrackerUpdate, Key: tracker.Key{ID: captures[0], Channel: r.channel}}, nil
	}
	return Route{Kind: Ignored}, nil
}

// ForwardAddress is the downstream address for a key. Positions go out on /tracker/<id>; rotations keep their
// own /tracker/<id>/rotation address instead of sharing it, so the host never reads a rotation as a position.
func ForwardAddress(key tracker.Key) string {
	if key.Channel == tracker.Rotation {
		return "/tracker/" + key.ID + "/rotation"
	}
	return "/tracker/" + key.ID
}

// Values converts OSC arguments to a vector. Every argument must be a finite number.
func Values(args []interface{}) ([]float64, error) {
	if len(args) == 0 {
		return nil, ErrNoArguments
	}
	out := make([]float64, len(args))
	for i, arg := range args {
		var v float64
		switch a := arg.(type) {
		case float32:
			v = float64(a)
		case float64:
			v = a
		case int32:
			v = float64(a)
		case int64:
			v = float64(a)
		default:
			return nil, fmt.Errorf("%w: argument %d has type %T", ErrNonNumericArgument, i, arg)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: argument %d is %v", ErrNonFiniteArgument, i, v)
		}
		out[i] = v
	}
	return out, nil
}

// TrackerHandler receives every well-formed tracker vector.
type TrackerHandler interface {
	Handle(key tracker.Key, values []float64) error
}

type Config struct {
	// Workers is the number of shard workers. Zero or less dispatches inline on the caller's goroutine.
	Workers int
	// QueueSize is the buffer of each shard. A full shard drops new messages.
	QueueSize int
}

func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 256}
}

// Counters is a point-in-time copy of the router's message counters.
type Counters struct {
	Dispatched    uint64 `json:"dispatched"`
	Ignored       uint64 `json:"ignored"`
	Malformed     uint64 `json:"malformed"`
	Dropped       uint64 `json:"dropped"`
	HandlerErrors uint64 `json:"handler_errors"`
}

type job struct {
	key    tracker.Key
	values []float64
}

// Router is a custom osc.Dispatcher, implementing the osc.Dispatcher interface.
//
// All messages for one tracker id land on the same shard, so per-tracker order is preserved while distinct
// trackers are handled concurrently.
type Router struct {
	handler TrackerHandler

	mu     sync.RWMutex
	closed bool
	shards []chan job
	wg     sync.WaitGroup

	dispatched    atomic.Uint64
	ignored       atomic.Uint64
	malformed     atomic.Uint64
	dropped       atomic.Uint64
	handlerErrors atomic.Uint64

	log *slog.Logger
}

func New(handler TrackerHandler, cfg Config) *Router {
	r := &Router{
		handler: handler,
		log:     logging.Get(logging.OSC_IN),
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = DefaultConfig().QueueSize
	}
	for i := 0; i < cfg.Workers; i++ {
		ch := make(chan job, queue)
		r.shards = append(r.shards, ch)
		r.wg.Add(1)
		go r.work(ch)
	}
	return r
}

func (r *Router) work(ch <-chan job) {
	defer r.wg.Done()
	for j := range ch {
		r.handle(j)
	}
}

func (r *Router) handle(j job) {
	if err := r.handler.Handle(j.key, j.values); err != nil {
		r.handlerErrors.Add(1)
		r.log.Debug("Tracker handler failed", "tracker", j.key, "error", err)
	}
}

func (r *Router) shardFor(key tracker.Key) chan job {
	h := fnv.New32a()
	h.Write([]byte(key.ID))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

func (r *Router) enqueue(j job) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	if len(r.shards) == 0 {
		r.handle(j)
		return
	}
	select {
	case r.shardFor(j.key) <- j:
	default:
		r.dropped.Add(1)
		r.log.Warn("Shard queue full, dropping message", "tracker", j.key)
	}
}

// Dispatch dispatches OSC packets. Implements the Dispatcher interface.
//
// Bundles are flattened and dispatched immediately; timetags are not honoured.
func (r *Router) Dispatch(packet osc.Packet) {
	switch p := packet.(type) {
	default:
		return

	case *osc.Message:
		r.dispatchMessage(p)

	case *osc.Bundle:
		for _, message := range p.Messages {
			r.dispatchMessage(message)
		}
		for _, b := range p.Bundles {
			r.Dispatch(b)
		}
	}
}

func (r *Router) dispatchMessage(msg *osc.Message) {
	route, err := Resolve(msg.Address)
	if err != nil {
		r.malformed.Add(1)
		r.log.Warn("Dropping malformed OSC message", "error", err)
		return
	}

	switch route.Kind {
	case TrackerUpdate:
		values, err := Values(msg.Arguments)
		if err != nil {
			r.malformed.Add(1)
			r.log.Warn("Dropping malformed OSC message", "error", &ParseError{Address: msg.Address, Err: err})
			return
		}
		r.dispatched.Add(1)
		r.log.Debug("OSC message", "address", msg.Address, "values", values)
		r.enqueue(job{key: route.Key, values: values})

	case LogLevel:
		if err := logging.HandleOSCSetCategoryLevel(msg); err != nil {
			r.malformed.Add(1)
			r.log.Warn("Rejected log level message", "error", err)
		}

	default:
		r.ignored.Add(1)
		r.log.Debug("Ignoring OSC message", "address", msg.Address)
	}
}

// Close stops accepting messages and waits for every queued message to be handled.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, ch := range r.shards {
		close(ch)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Router) Counters() Counters {
	return Counters{
		Dispatched:    r.dispatched.Load(),
		Ignored:       r.ignored.Load(),
		Malformed:     r.malformed.Load(),
		Dropped:       r.dropped.Load(),
		HandlerErrors: r.handlerErrors.Load(),
	}
}
