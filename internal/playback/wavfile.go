package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/dgnsrekt/voxline/internal/audio"
)

// wavChunkBytes is 100 ms of playback PCM.
const wavChunkBytes = audio.BytesPerSecond / 10

// WAVFileSink records the playback stream into a WAV file. With realtime
// set, Idle waits for the recorded duration as a device would, so pacing
// and cancellation behave like live output.
type WAVFileSink struct {
	gate     *gate
	logger   *slog.Logger
	realtime bool
	format   *goaudio.Format

	mu      sync.Mutex
	file    *os.File
	enc     *wav.Encoder
	written int
	playEnd time.Time
}

// NewWAVFileSink creates path and writes a 24 kHz mono 16-bit WAV stream to it.
func NewWAVFileSink(path string, realtime bool, logger *slog.Logger) (*WAVFileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrDeviceUnavailable, path, err)
	}

	logger.Info("recording playback to file", "path", path, "realtime", realtime)

	return &WAVFileSink{
		gate:     newGate(),
		logger:   logger,
		realtime: realtime,
		format:   &goaudio.Format{NumChannels: audio.Channels, SampleRate: audio.SampleRate},
		file:     f,
		enc:      wav.NewEncoder(f, audio.SampleRate, audio.BitsPerSample, audio.Channels, 1),
	}, nil
}

// Feed appends pcm to the file in 100 ms chunks, checking for stop and
// pause between chunks.
func (s *WAVFileSink) Feed(ctx context.Context, pcm []byte) error {
	stop := s.gate.current()

	for off := 0; off < len(pcm); off += wavChunkBytes {
		if err := s.gate.wait(ctx, stop); err != nil {
			if s.gate.isClosed() {
				return ErrSinkClosed
			}
			return err
		}

		end := min(off+wavChunkBytes, len(pcm))
		if err := s.write(pcm[off:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *WAVFileSink) write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enc == nil {
		return ErrSinkClosed
	}
	buf := &goaudio.IntBuffer{Format: s.format, Data: audio.Ints(pcm), SourceBitDepth: audio.BitsPerSample}
	if err := s.enc.Write(buf); err != nil {
		return fmt.Errorf("%w: write wav: %v", ErrDeviceUnavailable, err)
	}
	s.written += len(pcm)

	if s.realtime {
		now := time.Now()
		if s.playEnd.Before(now) {
			s.playEnd = now
		}
		s.playEnd = s.playEnd.Add(audio.Duration(len(pcm)))
	}
	return nil
}

// Idle returns at once unless the sink runs in realtime.
func (s *WAVFileSink) Idle(ctx context.Context) error {
	if !s.realtime {
		return nil
	}
	stop := s.gate.current()

	s.mu.Lock()
	wait := time.Until(s.playEnd)
	s.mu.Unlock()
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop interrupts a blocked Feed or Idle. Audio already written stays in
// the file.
func (s *WAVFileSink) Stop() error {
	s.gate.stop()
	s.mu.Lock()
	s.playEnd = time.Time{}
	s.mu.Unlock()
	return nil
}

// Pause holds Feed at the next chunk boundary.
func (s *WAVFileSink) Pause(paused bool) error {
	s.gate.setPaused(paused)
	return nil
}

// Playing reports whether realtime playback is still running.
func (s *WAVFileSink) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realtime && time.Now().Before(s.playEnd)
}

// Written returns the number of PCM bytes recorded.
func (s *WAVFileSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close finalizes the WAV header and closes the file.
func (s *WAVFileSink) Close() error {
	s.gate.close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return nil
	}
	encErr := s.enc.Close()
	fileErr := s.file.Close()
	s.enc = nil
	s.logger.Info("recording closed", "bytes", s.written)
	return errors.Join(encErr, fileErr)
}
