package audio

import (
	"bytes"
	"io"
	"math"
	"testing"
	"time"
)

func TestSilence(t *testing.T) {
	tests := []struct {
		ms   int
		want int
	}{
		{0, 0},
		{-5, 0},
		{1000, 48000},
		{250, 12000},
		{MaxSilenceMs, MaxSilenceMs * BytesPerSecond / 1000},
		{MaxSilenceMs + 1, MaxSilenceMs * BytesPerSecond / 1000},
		{math.MaxInt, MaxSilenceMs * BytesPerSecond / 1000},
	}

	for _, tt := range tests {
		if got := len(Silence(tt.ms)); got != tt.want {
			t.Errorf("len(Silence(%d)) = %d, want %d", tt.ms, got, tt.want)
		}
	}
}

func TestDuration(t *testing.T) {
	if got := Duration(BytesPerSecond); got != time.Second {
		t.Errorf("Duration(1s of PCM) = %v, want 1s", got)
	}
	if got := Duration(len(Silence(500))); got != 500*time.Millisecond {
		t.Errorf("Duration(500ms of PCM) = %v", got)
	}
}

func TestInt16s(t *testing.T) {
	got := Int16s([]byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x80, 0x7F})
	want := []int16{1, -1, -32768}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}

	ints := Ints([]byte{0xFF, 0xFF, 0x10, 0x00})
	if ints[0] != -1 || ints[1] != 16 {
		t.Errorf("Ints() = %v, want [-1 16]", ints)
	}
}

func TestUpsampleMonoToStereo(t *testing.T) {
	in := []byte{0x01, 0x02, 0x03, 0x04}
	want := []byte{
		0x01, 0x02, 0x01, 0x02, 0x01, 0x02, 0x01, 0x02,
		0x03, 0x04, 0x03, 0x04, 0x03, 0x04, 0x03, 0x04,
	}

	if got := UpsampleMonoToStereo(in); !bytes.Equal(got, want) {
		t.Errorf("UpsampleMonoToStereo() = %v, want %v", got, want)
	}
}

func TestPCMFrameReader_ReadFrame(t *testing.T) {
	data := make([]byte, 10)
	reader := NewPCMFrameReader(data, 4)

	for i := 0; i < 2; i++ {
		frame, err := reader.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() %d error = %v", i, err)
		}
		if len(frame) != 4 {
			t.Errorf("frame %d length = %d, want 4", i, len(frame))
		}
	}

	if _, err := reader.ReadFrame(); err != io.EOF {
		t.Errorf("ReadFrame() error = %v, want io.EOF", err)
	}
	if reader.Remaining() != 2 {
		t.Errorf("Remaining() = %d, want 2", reader.Remaining())
	}
}

func TestPCMFrameReader_ReadPartial(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6}
	reader := NewPCMFrameReader(data, 4)

	if _, err := reader.ReadPartial(); err != nil {
		t.Fatalf("ReadPartial() 1 error = %v", err)
	}

	frame, err := reader.ReadPartial()
	if err != nil {
		t.Fatalf("ReadPartial() 2 error = %v", err)
	}
	if !bytes.Equal(frame, []byte{5, 6, 0, 0}) {
		t.Errorf("padded frame = %v", frame)
	}

	if _, err := reader.ReadPartial(); err != io.EOF {
		t.Errorf("ReadPartial() 3 error = %v, want io.EOF", err)
	}

	reader.Reset()
	if reader.Remaining() != len(data) {
		t.Errorf("Remaining() after reset = %d, want %d", reader.Remaining(), len(data))
	}
}
