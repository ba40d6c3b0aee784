package pose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Script is a recorded sequence of frames, for driving the relay without a camera.
//
//	interval: 33ms
//	loop: true
//	frames:
//	  - delay: 100ms
//	    landmarks:
//	      23: {x: 0.4, y: 0.6, z: 0, visibility: 0.9}
//	      24: {x: 0.6, y: 0.6, z: 0, visibility: 0.9}
type Script struct {
	// Interval is the wait before a frame that has no delay of its own.
	Interval time.Duration `yaml:"interval"`
	Loop     bool          `yaml:"loop"`
	Frames   []ScriptFrame `yaml:"frames"`
}

type ScriptFrame struct {
	Delay time.Duration `yaml:"delay"`
	Frame `yaml:",inline"`
}

func (s *Script) delay(i int) time.Duration {
	if d := s.Frames[i].Delay; d > 0 {
		return d
	}
	return s.Interval
}

func (s *Script) Validate() error {
	if len(s.Frames) == 0 {
		return errors.New("replay script has no frames")
	}
	if s.Interval < 0 {
		return fmt.Errorf("replay script interval is negative: %v", s.Interval)
	}
	var total time.Duration
	for i, f := range s.Frames {
		if f.Delay < 0 {
			return fmt.Errorf("replay frame %d has negative delay %v", i, f.Delay)
		}
		total += s.delay(i)
	}
	if s.Loop && total == 0 {
		return errors.New("looping replay script needs a non-zero interval or frame delay")
	}
	return nil
}

func ParseScript(r io.Reader) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode replay script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func LoadScript(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay script: %w", err)
	}
	defer f.Close()
	return ParseScript(f)
}

// ReplaySource plays a Script back in real time.
type ReplaySource struct {
	script *Script

	mu     sync.Mutex
	next   int
	closed bool
}

func NewReplaySource(s *Script) *ReplaySource {
	return &ReplaySource{script: s}
}

// ReplayOpener loads the script at path each time the source is opened.
func ReplayOpener(path string) Opener {
	return func(context.Context) (Source, error) {
		s, err := LoadScript(path)
		if err != nil {
			return nil, err
		}
		return NewReplaySource(s), nil
	}
}

func (s *ReplaySource) Next(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Frame{}, errors.New("replay source is closed")
	}
	if s.next >= len(s.script.Frames) {
		if !s.script.Loop {
			s.mu.Unlock()
			return Frame{}, io.EOF
		}
		s.next = 0
	}
	i := s.next
	s.next++
	s.mu.Unlock()

	if d := s.script.delay(i); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-t.C:
		}
	}
	return s.script.Frames[i].Frame, nil
}

func (s *ReplaySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *ReplaySource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
