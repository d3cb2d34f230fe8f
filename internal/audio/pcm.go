// Package audio describes the playback PCM format and converts between it
// and the formats the sinks and engines use.
package audio

import (
	"encoding/binary"
	"io"
	"time"
)

// Playback format: every sink is fed 24 kHz mono 16-bit PCM.
const (
	SampleRate     = 24000
	Channels       = 1
	BitsPerSample  = 16
	BytesPerSample = BitsPerSample / 8
	BytesPerSecond = SampleRate * Channels * BytesPerSample
)

// MaxSilenceMs bounds a single silence buffer. Longer breaks are played
// as consecutive buffers.
const MaxSilenceMs = 60_000

// Silence returns durationMs milliseconds of zero samples, clamped to
// MaxSilenceMs.
func Silence(durationMs int) []byte {
	if durationMs <= 0 {
		return nil
	}
	durationMs = min(durationMs, MaxSilenceMs)
	samples := SampleRate * durationMs / 1000
	return make([]byte, samples*Channels*BytesPerSample)
}

// Duration returns how long n bytes of playback PCM take to play.
func Duration(n int) time.Duration {
	return time.Duration(n) * time.Second / BytesPerSecond
}

// Int16s decodes little-endian 16-bit samples. A trailing odd byte is ignored.
func Int16s(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// Ints widens 16-bit PCM samples to int, the sample type go-audio buffers use.
func Ints(pcm []byte) []int {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return samples
}

// UpsampleMonoToStereo doubles the sample rate of mono PCM by repeating each
// sample and duplicates it into two channels. 24 kHz mono becomes 48 kHz
// stereo, which is what Discord voice expects.
func UpsampleMonoToStereo(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*8)
	for i := 0; i < n; i++ {
		lo, hi := pcm[i*2], pcm[i*2+1]
		for j := 0; j < 4; j++ {
			out[i*8+j*2] = lo
			out[i*8+j*2+1] = hi
		}
	}
	return out
}

// PCMFrameReader splits raw PCM into fixed-size frames.
type PCMFrameReader struct {
	data      []byte
	offset    int
	frameSize int
}

// NewPCMFrameReader creates a reader yielding frames of frameBytes bytes.
func NewPCMFrameReader(pcmData []byte, frameBytes int) *PCMFrameReader {
	return &PCMFrameReader{data: pcmData, frameSize: frameBytes}
}

// ReadFrame returns the next complete frame, or io.EOF when fewer than
// frameBytes remain.
func (r *PCMFrameReader) ReadFrame() ([]byte, error) {
	if r.offset+r.frameSize > len(r.data) {
		return nil, io.EOF
	}

	frame := r.data[r.offset : r.offset+r.frameSize]
	r.offset += r.frameSize
	return frame, nil
}

// ReadPartial returns the next frame, padding a short final frame with
// silence. It returns io.EOF once all data has been consumed.
func (r *PCMFrameReader) ReadPartial() ([]byte, error) {
	if r.offset >= len(r.data) {
		return nil, io.EOF
	}
	if r.offset+r.frameSize <= len(r.data) {
		return r.ReadFrame()
	}

	frame := make([]byte, r.frameSize)
	copy(frame, r.data[r.offset:])
	r.offset = len(r.data)
	return frame, nil
}

// Reset rewinds the reader.
func (r *PCMFrameReader) Reset() {
	r.offset = 0
}

// Remaining returns the number of unread bytes.
func (r *PCMFrameReader) Remaining() int {
	return len(r.data) - r.offset
}
