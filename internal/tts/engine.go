package tts

import (
	"context"
	"errors"

	"github.com/dgnsrekt/voxline/internal/params"
)

var (
	// ErrBackendUnavailable is returned when every attempt at a synthesis
	// phase failed with a transient error.
	ErrBackendUnavailable = errors.New("synthesis backend unavailable")
	// ErrInvalidResponse is returned for a non-transient failure: an
	// unexpected status, a malformed body or a truncated audio payload.
	ErrInvalidResponse = errors.New("invalid synthesis response")
)

// SynthesizeRequest contains the text and the parameter snapshot to
// synthesize it with.
type SynthesizeRequest struct {
	Text   string
	Params params.Parameters
}

// AudioResult represents synthesized audio output.
type AudioResult struct {
	// Data is raw signed 16-bit little-endian PCM in the playback format.
	// Empty means the text produced no audio.
	Data []byte
	// SampleRate is the audio sample rate in Hz.
	SampleRate int
	// Channels is the number of audio channels.
	Channels int
}

// Empty reports whether the result carries no audio.
func (a *AudioResult) Empty() bool {
	return a == nil || len(a.Data) == 0
}

// Engine is the interface for text-to-speech synthesis.
type Engine interface {
	// Synthesize converts text to playback PCM.
	Synthesize(ctx context.Context, req SynthesizeRequest) (*AudioResult, error)
	// Name returns the engine identifier.
	Name() string
}

// Voice is a selectable voice id with a human readable name.
type Voice struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// VoiceLister is implemented by engines that can enumerate their voices.
type VoiceLister interface {
	Voices(ctx context.Context, refresh bool) ([]Voice, error)
}
