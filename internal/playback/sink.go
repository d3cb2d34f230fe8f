// Package playback feeds synthesized audio to an output device and
// dispatches queued directives by kind.
package playback

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrDeviceUnavailable is returned when the output device cannot be
	// opened or fails mid-stream. It is fatal for the session.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrStopped is returned by Feed and Idle when Stop interrupted them.
	ErrStopped = errors.New("playback stopped")
	// ErrSinkClosed is returned after Close.
	ErrSinkClosed = errors.New("sink closed")
)

// Sink is an audio output accepting 24 kHz mono 16-bit PCM.
//
// Feed and Idle are called only from the playback worker. Stop and Pause
// may be called from any goroutine and make a blocked Feed or Idle return.
type Sink interface {
	// Feed blocks until the sink has accepted pcm.
	Feed(ctx context.Context, pcm []byte) error
	// Idle blocks until everything fed so far has played.
	Idle(ctx context.Context) error
	// Stop discards buffered and in-flight audio and returns promptly.
	Stop() error
	// Pause holds or resumes output.
	Pause(paused bool) error
	// Playing reports whether audio is currently being output.
	Playing() bool
	// Close releases the device.
	Close() error
}

// gate coordinates stop and pause between the worker and other goroutines.
// Each Stop closes the current stop channel and arms a fresh one, so a
// Feed only observes stops issued after it began.
type gate struct {
	mu     sync.Mutex
	stopCh chan struct{}
	paused bool
	resume chan struct{}
	closed bool
}

func newGate() *gate {
	resume := make(chan struct{})
	close(resume)
	return &gate{
		stopCh: make(chan struct{}),
		resume: resume,
	}
}

// current returns the stop channel a new operation should watch.
func (g *gate) current() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopCh
}

func (g *gate) stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	close(g.stopCh)
	g.stopCh = make(chan struct{})
}

func (g *gate) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	close(g.stopCh)
}

func (g *gate) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func (g *gate) setPaused(paused bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if paused == g.paused {
		return
	}
	g.paused = paused
	if paused {
		g.resume = make(chan struct{})
	} else {
		close(g.resume)
	}
}

func (g *gate) isPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// wait blocks while paused. It returns ErrStopped when stop fires and the
// context error when ctx ends.
func (g *gate) wait(ctx context.Context, stop <-chan struct{}) error {
	g.mu.Lock()
	resume := g.resume
	g.mu.Unlock()

	select {
	case <-stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	select {
	case <-resume:
		return nil
	case <-stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
