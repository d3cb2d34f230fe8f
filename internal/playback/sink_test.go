package playback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"

	"github.com/dgnsrekt/voxline/internal/audio"
)

const testTimeout = 5 * time.Second

func TestGate_WaitWhilePaused(t *testing.T) {
	g := newGate()

	if err := g.wait(context.Background(), g.current()); err != nil {
		t.Fatalf("wait() on open gate = %v", err)
	}

	g.setPaused(true)
	done := make(chan error, 1)
	go func() { done <- g.wait(context.Background(), g.current()) }()

	select {
	case err := <-done:
		t.Fatalf("wait() returned %v while paused", err)
	case <-time.After(20 * time.Millisecond):
	}

	g.setPaused(false)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("wait() after resume = %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for resume")
	}
}

func TestGate_StopUnblocksPausedWait(t *testing.T) {
	g := newGate()
	g.setPaused(true)

	stop := g.current()
	done := make(chan error, 1)
	go func() { done <- g.wait(context.Background(), stop) }()

	g.stop()
	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("wait() = %v, want ErrStopped", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for stop")
	}

	// A stop only affects operations that began before it.
	g.setPaused(false)
	if err := g.wait(context.Background(), g.current()); err != nil {
		t.Errorf("wait() after stop = %v, want nil", err)
	}
}

func TestGate_ContextAndClose(t *testing.T) {
	g := newGate()
	g.setPaused(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.wait(ctx, g.current()); !errors.Is(err, context.Canceled) {
		t.Errorf("wait(cancelled) = %v, want context.Canceled", err)
	}

	g.close()
	g.stop()
	g.close()
	if !g.isClosed() {
		t.Error("expected gate to be closed")
	}
}

func TestWAVFileSink_Records(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	sink, err := NewWAVFileSink(path, false, testLogger())
	if err != nil {
		t.Fatalf("NewWAVFileSink() error = %v", err)
	}

	pcm := make([]byte, 0, 12000)
	for i := 0; i < 6000; i++ {
		pcm = append(pcm, byte(i), byte(i>>8)&0x3f)
	}
	if err := sink.Feed(context.Background(), pcm); err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if err := sink.Idle(context.Background()); err != nil {
		t.Fatalf("Idle() error = %v", err)
	}
	if err := sink.Feed(context.Background(), audio.Silence(100)); err != nil {
		t.Fatalf("Feed(silence) error = %v", err)
	}
	if got, want := sink.Written(), len(pcm)+len(audio.Silence(100)); got != want {
		t.Errorf("Written() = %d, want %d", got, want)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer() error = %v", err)
	}
	if dec.SampleRate != audio.SampleRate || dec.NumChans != audio.Channels || dec.BitDepth != audio.BitsPerSample {
		t.Errorf("format = %d Hz %d ch %d bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	if got, want := len(buf.Data), sink.Written()/2; got != want {
		t.Errorf("decoded %d samples, want %d", got, want)
	}
	want := audio.Ints(pcm)
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, buf.Data[i], want[i])
		}
	}
}

func TestWAVFileSink_RealtimeIdleStops(t *testing.T) {
	sink, err := NewWAVFileSink(filepath.Join(t.TempDir(), "out.wav"), true, testLogger())
	if err != nil {
		t.Fatalf("NewWAVFileSink() error = %v", err)
	}
	defer sink.Close()

	if err := sink.Feed(context.Background(), audio.Silence(10_000)); err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if !sink.Playing() {
		t.Error("expected realtime sink to be playing")
	}

	done := make(chan error, 1)
	go func() { done <- sink.Idle(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	sink.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Idle() = %v, want ErrStopped", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Stop did not interrupt Idle")
	}
	if sink.Playing() {
		t.Error("expected Playing() false after Stop")
	}
}

func TestWAVFileSink_PausedFeedStops(t *testing.T) {
	sink, err := NewWAVFileSink(filepath.Join(t.TempDir(), "out.wav"), false, testLogger())
	if err != nil {
		t.Fatalf("NewWAVFileSink() error = %v", err)
	}
	defer sink.Close()

	sink.Pause(true)
	done := make(chan error, 1)
	go func() { done <- sink.Feed(context.Background(), audio.Silence(500)) }()

	time.Sleep(10 * time.Millisecond)
	if sink.Written() != 0 {
		t.Errorf("paused sink wrote %d bytes", sink.Written())
	}
	sink.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Feed() = %v, want ErrStopped", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Stop did not interrupt a paused Feed")
	}
}

func TestWAVFileSink_FeedAfterClose(t *testing.T) {
	sink, err := NewWAVFileSink(filepath.Join(t.TempDir(), "out.wav"), false, testLogger())
	if err != nil {
		t.Fatalf("NewWAVFileSink() error = %v", err)
	}
	sink.Close()

	if err := sink.Feed(context.Background(), audio.Silence(10)); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Feed() after Close = %v, want ErrSinkClosed", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestNewWAVFileSink_BadPath(t *testing.T) {
	_, err := NewWAVFileSink(filepath.Join(t.TempDir(), "missing", "out.wav"), false, testLogger())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("NewWAVFileSink() error = %v, want ErrDeviceUnavailable", err)
	}
}
