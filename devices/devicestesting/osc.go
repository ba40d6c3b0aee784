package devicestesting

import (
	"errors"
	"slices"
	"sync"

	"github.com/hypebeast/go-osc/osc"

	"github.com/jdginn/antidrift/tracker"
)

var ErrMockSend = errors.New("mock send error")

// MockOscSender records every packet sent through it. Bundles are flattened into their messages.
type MockOscSender struct {
	mu           sync.Mutex
	sentMessages []*osc.Message
	shouldError  bool
}

func (m *MockOscSender) Send(packet osc.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldError {
		return ErrMockSend
	}
	m.record(packet)
	return nil
}

func (m *MockOscSender) record(packet osc.Packet) {
	switch p := packet.(type) {
	case *osc.Message:
		m.sentMessages = append(m.sentMessages, p)
	case *osc.Bundle:
		for _, msg := range p.Messages {
			m.sentMessages = append(m.sentMessages, msg)
		}
		for _, b := range p.Bundles {
			m.record(b)
		}
	}
}

func (m *MockOscSender) GetSentMessages() []*osc.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sentMessages)
}

// SetError configures the mock to return errors
func (m *MockOscSender) SetError(shouldError bool) {
	m.mu.Lock()
	m.shouldError = shouldError
	m.mu.Unlock()
}

// MockForwarder records forwarded vectors in place of a network forwarder.
type MockForwarder struct {
	mu          sync.Mutex
	forwarded   []TrackerCall
	shouldError bool
}

func (m *MockForwarder) Forward(key tracker.Key, values []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldError {
		return ErrMockSend
	}
	m.forwarded = append(m.forwarded, TrackerCall{Key: key, Values: slices.Clone(values)})
	return nil
}

func (m *MockForwarder) Forwarded() []TrackerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.forwarded)
}

// SetError configures the mock to return errors
func (m *MockForwarder) SetError(shouldError bool) {
	m.mu.Lock()
	m.shouldError = shouldError
	m.mu.Unlock()
}
