package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/dgnsrekt/voxline/internal/audio"
)

// DefaultFramesPerBuffer keeps the device buffer at 20 ms so Stop cuts
// audio almost immediately.
const DefaultFramesPerBuffer = 480

// PortAudioSink plays PCM on the default output device through a blocking
// PortAudio stream. The stream is started on the first Feed and stopped
// once Idle has waited out the queued audio, so no underflow is reported
// between utterances.
type PortAudioSink struct {
	gate   *gate
	logger *slog.Logger

	stream  *portaudio.Stream
	buf     []int16
	latency time.Duration

	mu      sync.Mutex
	started bool
	playEnd time.Time
}

// NewPortAudioSink opens the default output device at 24 kHz mono 16-bit.
func NewPortAudioSink(framesPerBuffer int, logger *slog.Logger) (*PortAudioSink, error) {
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize portaudio: %v", ErrDeviceUnavailable, err)
	}

	buf := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, audio.Channels, float64(audio.SampleRate), len(buf), buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: open default stream: %v", ErrDeviceUnavailable, err)
	}

	var latency time.Duration
	if info := stream.Info(); info != nil {
		latency = info.OutputLatency
	}

	logger.Info("audio device opened",
		"sample_rate", audio.SampleRate,
		"channels", audio.Channels,
		"frames_per_buffer", framesPerBuffer,
		"output_latency", latency,
	)

	return &PortAudioSink{
		gate:    newGate(),
		logger:  logger,
		stream:  stream,
		buf:     buf,
		latency: latency,
	}, nil
}

// Feed writes pcm to the device one buffer at a time. Write blocks until
// the device has room, which paces the worker.
func (s *PortAudioSink) Feed(ctx context.Context, pcm []byte) error {
	if s.gate.isClosed() {
		return ErrSinkClosed
	}
	stop := s.gate.current()
	samples := audio.Int16s(pcm)
	chunk := audio.Duration(len(s.buf) * audio.BytesPerSample)

	for off := 0; off < len(samples); off += len(s.buf) {
		if err := s.gate.wait(ctx, stop); err != nil {
			return err
		}
		if err := s.start(); err != nil {
			return err
		}

		n := copy(s.buf, samples[off:])
		clear(s.buf[n:])

		err := s.stream.Write()
		select {
		case <-stop:
			return ErrStopped
		default:
		}
		if err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return fmt.Errorf("%w: write: %v", ErrDeviceUnavailable, err)
		}

		s.mu.Lock()
		s.playEnd = time.Now().Add(chunk + s.latency)
		s.mu.Unlock()
	}
	return nil
}

func (s *PortAudioSink) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("%w: start stream: %v", ErrDeviceUnavailable, err)
	}
	s.started = true
	return nil
}

// Idle waits until the last written buffer has left the device, then stops
// the stream.
func (s *PortAudioSink) Idle(ctx context.Context) error {
	stop := s.gate.current()

	s.mu.Lock()
	end, started := s.playEnd, s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	if wait := time.Until(end); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-stop:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("%w: stop stream: %v", ErrDeviceUnavailable, err)
	}
	return nil
}

// Stop aborts the stream, dropping whatever the device still buffers.
func (s *PortAudioSink) Stop() error {
	s.gate.stop()
	return s.abort()
}

func (s *PortAudioSink) abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.playEnd = time.Time{}
	if !s.started {
		return nil
	}
	s.started = false
	if err := s.stream.Abort(); err != nil {
		s.logger.Warn("failed to abort stream", "error", err)
		return err
	}
	return nil
}

// Pause holds Feed at the next buffer boundary and silences the device.
func (s *PortAudioSink) Pause(paused bool) error {
	s.gate.setPaused(paused)
	if paused {
		return s.abort()
	}
	return nil
}

// Playing reports whether written audio is still coming out of the device.
func (s *PortAudioSink) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && time.Now().Before(s.playEnd)
}

// Close releases the stream and terminates PortAudio.
func (s *PortAudioSink) Close() error {
	s.gate.close()
	abortErr := s.abort()
	closeErr := s.stream.Close()
	termErr := portaudio.Terminate()
	return errors.Join(abortErr, closeErr, termErr)
}
