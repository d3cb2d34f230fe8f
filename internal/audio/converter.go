package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

var (
	// ErrFFmpegNotFound is returned when ffmpeg is not installed.
	ErrFFmpegNotFound = errors.New("ffmpeg not found in PATH")
	// ErrConversionFailed is returned when ffmpeg conversion fails.
	ErrConversionFailed = errors.New("audio conversion failed")
)

// Converter resamples WAV audio with ffmpeg.
type Converter struct {
	ffmpegPath string
}

// NewConverter creates a converter using the ffmpeg found in PATH.
func NewConverter() (*Converter, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, ErrFFmpegNotFound
	}
	return &Converter{ffmpegPath: path}, nil
}

// NewConverterWithPath creates a converter with a specific ffmpeg path.
func NewConverterWithPath(path string) *Converter {
	return &Converter{ffmpegPath: path}
}

// ConvertToPlaybackPCM converts WAV audio of any rate and channel count to
// the playback format (24 kHz, mono, 16-bit signed little-endian).
func (c *Converter) ConvertToPlaybackPCM(ctx context.Context, wavData []byte) ([]byte, error) {
	return c.ConvertToPCM(ctx, wavData, SampleRate, Channels)
}

// ConvertToPCM converts WAV audio to raw s16le PCM at the given rate and
// channel count.
func (c *Converter) ConvertToPCM(ctx context.Context, wavData []byte, sampleRate, channels int) ([]byte, error) {
	if len(wavData) == 0 {
		return nil, errors.New("empty input data")
	}

	args := []string{
		"-f", "wav",
		"-i", "pipe:0",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", fmt.Sprintf("%d", channels),
		"-f", "s16le",
		"-loglevel", "error",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	cmd.Stdin = bytes.NewReader(wavData)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s", ErrConversionFailed, stderr.String())
	}

	return stdout.Bytes(), nil
}
