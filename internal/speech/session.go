// Package speech is the session facade: it turns directive sequences into
// queue items and exposes cancel, pause and parameter control.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/voxline/internal/directive"
	"github.com/dgnsrekt/voxline/internal/params"
	"github.com/dgnsrekt/voxline/internal/playback"
	"github.com/dgnsrekt/voxline/internal/queue"
	"github.com/dgnsrekt/voxline/internal/tts"
)

var (
	// ErrSessionTerminated is returned by Submit after shutdown or a fatal sink error.
	ErrSessionTerminated = errors.New("speech session terminated")
	// ErrInvalidDirective is returned for a nil directive in a sequence.
	ErrInvalidDirective = errors.New("invalid directive")
	// ErrVoicesUnsupported is returned when the engine cannot list voices.
	ErrVoicesUnsupported = errors.New("engine does not list voices")
)

// Disconnecter is implemented by sinks that hold a connection worth
// releasing while the session is idle.
type Disconnecter interface {
	Disconnect() error
}

// Config holds the session dependencies.
type Config struct {
	Engine tts.Engine
	Sink   playback.Sink
	Store  *params.Store
	// IdleTimeout releases a Disconnecter sink after this long without
	// work. Zero disables it.
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// Session owns one worker, its queue and the parameter store.
type Session struct {
	engine tts.Engine
	sink   playback.Sink
	store  *params.Store
	queue  *queue.Queue
	logger *slog.Logger

	subMu   sync.RWMutex
	subs    map[int]directive.NotifyFunc
	nextSub int

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a session and starts its worker.
func New(cfg Config) *Session {
	s := &Session{
		engine: cfg.Engine,
		sink:   cfg.Sink,
		store:  cfg.Store,
		logger: cfg.Logger,
		subs:   make(map[int]directive.NotifyFunc),
	}

	q := queue.NewQueue(cfg.IdleTimeout, cfg.Logger)
	handler := playback.NewHandler(cfg.Engine, cfg.Sink, cfg.Store, q, s.notify, cfg.Logger)
	q.SetPlaybackHandler(handler.Handle)
	q.SetCancelCallback(func() {
		if err := s.sink.Stop(); err != nil {
			s.logger.Error("failed to stop sink", "error", err)
		}
	})
	if d, ok := cfg.Sink.(Disconnecter); ok {
		q.SetIdleCallback(func() {
			s.logger.Info("session idle, releasing sink connection")
			if err := d.Disconnect(); err != nil {
				s.logger.Error("failed to disconnect sink", "error", err)
			}
		})
	}
	q.SetShutdownCallback(func(err error) {
		if err != nil {
			s.logger.Error("session terminated by fatal error", "error", err)
		}
	})

	s.queue = q
	q.Start()
	return s
}

// Submit enqueues a sequence and returns its submission ID. The sequence
// always ends with exactly one end-of-sequence marker; an explicit marker
// ends it early and the directives after it are ignored. Utterances carry
// the temporary pitch in effect at their position.
func (s *Session) Submit(seq []directive.Directive) (string, error) {
	id := uuid.New().String()

	base := s.store.Snapshot()
	base.TemporaryPitch = base.Pitch

	items := make([]*queue.Item, 0, len(seq)+1)
	ended := false
	for i, d := range seq {
		if d == nil {
			return "", fmt.Errorf("%w: nil at position %d", ErrInvalidDirective, i)
		}
		if p, ok := d.(directive.PitchOverride); ok {
			base.TemporaryPitch = s.store.ClampPitch(p.Value)
		}
		items = append(items, queue.NewItem(id, d, base))
		if _, ok := d.(directive.EndOfSequence); ok {
			ended = true
			break
		}
	}
	if !ended {
		items = append(items, queue.NewItem(id, directive.EndOfSequence{}, base))
	}

	if err := s.queue.Submit(items); err != nil {
		if errors.Is(err, queue.ErrQueueClosed) {
			return "", s.terminated()
		}
		return "", err
	}

	s.logger.Debug("sequence submitted", "submission_id", id, "directives", len(items))
	return id, nil
}

func (s *Session) terminated() error {
	if err := s.queue.Err(); err != nil {
		return errors.Join(ErrSessionTerminated, err)
	}
	return ErrSessionTerminated
}

// Cancel stops current speech and drops pending audio. It is a no-op when
// nothing is speaking.
func (s *Session) Cancel() {
	s.queue.CancelAll()
}

// SetParameter writes a numeric parameter, clamped to its range.
func (s *Session) SetParameter(name params.Name, value int) error {
	return s.store.Set(name, value)
}

// SetVoice selects the voice for subsequent utterances.
func (s *Session) SetVoice(id string) {
	s.store.SetVoice(id)
}

// Parameters returns the current parameters.
func (s *Session) Parameters() params.Parameters {
	return s.store.Snapshot()
}

// Pause pauses or resumes the sink.
func (s *Session) Pause(paused bool) error {
	return s.sink.Pause(paused)
}

// Speaking reports whether a submitted sequence is still playing.
func (s *Session) Speaking() bool {
	return s.queue.Speaking()
}

// Voices lists the engine's voices.
func (s *Session) Voices(ctx context.Context, refresh bool) ([]tts.Voice, error) {
	lister, ok := s.engine.(tts.VoiceLister)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVoicesUnsupported, s.engine.Name())
	}
	return lister.Voices(ctx, refresh)
}

// Subscribe registers fn for index and done notifications. fn runs on the
// worker goroutine and must not block. The returned function unsubscribes.
func (s *Session) Subscribe(fn directive.NotifyFunc) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Session) notify(n directive.Notification) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, fn := range s.subs {
		fn(n)
	}
}

// Done is closed once the worker has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.queue.Done()
}

// Err returns the fatal error that terminated the session, if any.
func (s *Session) Err() error {
	return s.queue.Err()
}

// Shutdown cancels speech, joins the worker and closes the sink. No
// notification is delivered after it returns. It is safe to call twice.
func (s *Session) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.queue.CancelAll()
		s.queue.Stop()

		s.subMu.Lock()
		clear(s.subs)
		s.subMu.Unlock()

		s.shutdownErr = s.sink.Close()
		s.logger.Info("speech session shut down")
	})
	return s.shutdownErr
}
