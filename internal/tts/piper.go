package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"

	"github.com/dgnsrekt/voxline/internal/audio"
	"github.com/dgnsrekt/voxline/internal/wav"
)

var (
	// ErrPiperNotFound is returned when the piper binary is not found.
	ErrPiperNotFound = errors.New("piper binary not found")
	// ErrNoModelSpecified is returned when no model is configured.
	ErrNoModelSpecified = errors.New("no piper model specified")
)

// DefaultPiperSampleRate is the output rate of most Piper voices.
const DefaultPiperSampleRate = 22050

// Resampler converts a WAV container to playback PCM.
type Resampler interface {
	ConvertToPlaybackPCM(ctx context.Context, wavData []byte) ([]byte, error)
}

// PiperConfig holds configuration for the Piper TTS engine.
type PiperConfig struct {
	// BinaryPath is the path to the piper executable.
	BinaryPath string
	// ModelPath is the path to the ONNX model file.
	ModelPath string
	// SampleRate is the model's output rate.
	SampleRate int
	// Scales maps the rate parameter to --length_scale.
	Scales ScaleMapping
}

// PiperEngine implements Engine by running a local Piper binary per utterance.
type PiperEngine struct {
	config    PiperConfig
	resampler Resampler
	logger    *slog.Logger
}

// NewPiperEngine creates a Piper engine. The resampler brings the model's
// output to the playback format.
func NewPiperEngine(cfg PiperConfig, resampler Resampler, logger *slog.Logger) (*PiperEngine, error) {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "piper"
	}
	if _, err := exec.LookPath(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPiperNotFound, cfg.BinaryPath)
	}
	if cfg.ModelPath == "" {
		return nil, ErrNoModelSpecified
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultPiperSampleRate
	}

	return &PiperEngine{
		config:    cfg,
		resampler: resampler,
		logger:    logger,
	}, nil
}

// Name returns the engine identifier.
func (p *PiperEngine) Name() string {
	return "piper"
}

// Synthesize converts text to playback PCM using Piper.
func (p *PiperEngine) Synthesize(ctx context.Context, req SynthesizeRequest) (*AudioResult, error) {
	result := &AudioResult{SampleRate: audio.SampleRate, Channels: audio.Channels}
	if req.Text == suppressedText || req.Text == "" {
		return result, nil
	}

	args := p.args(req)

	p.logger.Debug("running piper",
		"binary", p.config.BinaryPath,
		"model", p.config.ModelPath,
		"voice", req.Params.Voice,
		"text_length", len(req.Text),
	)

	cmd := exec.CommandContext(ctx, p.config.BinaryPath, args...)
	cmd.Stdin = bytes.NewReader([]byte(NormalizeText(req.Text)))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Error("piper failed",
			"error", err,
			"stderr", stderr.String(),
		)
		return nil, fmt.Errorf("%w: piper: %v", ErrBackendUnavailable, err)
	}

	raw := stdout.Bytes()
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: piper produced no audio", ErrInvalidResponse)
	}

	pcm := raw
	if p.config.SampleRate != audio.SampleRate {
		converted, err := p.resampler.ConvertToPlaybackPCM(ctx, wav.WrapRawPCM(raw, p.config.SampleRate, 1, 16))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: resample: %v", ErrInvalidResponse, err)
		}
		pcm = converted
	}

	p.logger.Debug("piper synthesis complete", "pcm_bytes", len(pcm))

	result.Data = pcm
	return result, nil
}

func (p *PiperEngine) args(req SynthesizeRequest) []string {
	args := []string{
		"--model", p.config.ModelPath,
		"--output-raw",
	}
	if speed := p.config.Scales.Speed.Apply(req.Params.Rate); speed > 0 {
		args = append(args, "--length_scale", strconv.FormatFloat(1/speed, 'f', 3, 64))
	}
	// Multi-speaker models take a numeric speaker id.
	if _, err := strconv.Atoi(req.Params.Voice); err == nil {
		args = append(args, "--speaker", req.Params.Voice)
	}
	return args
}
