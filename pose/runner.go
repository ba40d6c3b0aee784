package pose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/jdginn/antidrift/logging"
)

// Source yields frames. Next returns io.EOF when there are no more.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Opener acquires a Source.
type Opener func(ctx context.Context) (Source, error)

// Runner is a cancellable capture task: it owns one Source at a time and publishes every frame it yields. The
// source is closed on every exit path.
type Runner struct {
	open Opener
	pub  *Publisher

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	log *slog.Logger
}

func NewRunner(open Opener, pub *Publisher) *Runner {
	return &Runner{open: open, pub: pub, log: logging.Get(logging.APP)}
}

// Start acquires a source and begins publishing in the background. A running capture is stopped first.
func (r *Runner) Start(ctx context.Context) error {
	r.Stop()

	src, err := r.open(ctx)
	if err != nil {
		return fmt.Errorf("open pose source: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	r.cancel, r.done, r.err = cancel, done, nil
	r.mu.Unlock()

	go func() {
		defer close(done)
		err := r.loop(ctx, src)
		if cerr := src.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close pose source: %w", cerr))
		}
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
	}()
	r.log.Info("Pose capture started")
	return nil
}

func (r *Runner) loop(ctx context.Context, src Source) error {
	frames := 0
	for {
		f, err := src.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			r.log.Info("Pose source exhausted", "frames", frames)
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return fmt.Errorf("read pose frame: %w", err)
		}
		frames++
		if _, err := r.pub.Publish(f); err != nil {
			r.log.Warn("Failed to publish pose frame", "frame", frames, "error", err)
		}
	}
}

// Wait blocks until the current capture ends on its own or is stopped, and returns its error.
func (r *Runner) Wait() error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stop cancels the current capture and waits for its source to be released. It is a no-op when nothing runs.
func (r *Runner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	err := r.Wait()
	r.log.Info("Pose capture stopped")
	return err
}
