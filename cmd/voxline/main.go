package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgnsrekt/voxline/internal/api"
	"github.com/dgnsrekt/voxline/internal/audio"
	"github.com/dgnsrekt/voxline/internal/config"
	"github.com/dgnsrekt/voxline/internal/discord"
	"github.com/dgnsrekt/voxline/internal/logging"
	"github.com/dgnsrekt/voxline/internal/params"
	"github.com/dgnsrekt/voxline/internal/playback"
	"github.com/dgnsrekt/voxline/internal/speech"
	"github.com/dgnsrekt/voxline/internal/telemetry"
	"github.com/dgnsrekt/voxline/internal/tts"
)

const version = "0.1.0"

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		// Use stderr before logger is initialized
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Initialize structured logger
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting voxline", "version", version)

	// Warn if bearer token auth is disabled
	if cfg.AuthDisabled() {
		logger.Warn("HTTP bearer authentication is disabled (BEARER_TOKEN is empty)")
	}

	// Log loaded configuration (without sensitive values)
	logger.Info("configuration loaded",
		"log_level", cfg.LogLevel,
		"log_format", cfg.LogFormat,
		"http_port", cfg.HTTPPort,
		"tts_engine", cfg.TTSEngine,
		"sink", cfg.Sink,
		"max_text_length", cfg.MaxTextLength,
		"metrics_enabled", cfg.MetricsEnabled,
	)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	// Metrics must be installed before the queue creates its instruments
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		shutdownMetrics, handler, err := telemetry.Setup(ctx, "voxline", version, logger)
		if err != nil {
			logger.Warn("failed to initialize metrics", "error", err)
		} else {
			metricsHandler = handler
			defer shutdownMetrics(context.Background())
		}
	}

	engine, err := newEngine(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize TTS engine", "error", err)
		os.Exit(1)
	}

	sink, err := newSink(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize audio output", "error", err)
		os.Exit(1)
	}

	store := params.NewStore(params.Parameters{
		Rate:       cfg.DefaultRate,
		Pitch:      cfg.DefaultPitch,
		Inflection: cfg.DefaultInflection,
		Volume:     cfg.DefaultVolume,
		Voice:      cfg.DefaultVoice,
	}, params.Limits{
		Rate:       params.Bounds{Min: 1, Max: 100},
		Pitch:      params.Bounds{Min: 1, Max: 100},
		Inflection: params.Bounds{Min: cfg.InflectionMin, Max: cfg.InflectionMax},
		Volume:     params.Bounds{Min: 1, Max: 100},
	})

	session := speech.New(speech.Config{
		Engine:      engine,
		Sink:        sink,
		Store:       store,
		IdleTimeout: cfg.AutoLeaveIdle,
		Logger:      logger,
	})
	logger.Info("audio pipeline ready", "engine", engine.Name())

	// Create and start HTTP server
	server := api.New(cfg, logger, session, metricsHandler)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown signal or a fatal playback error
	select {
	case <-ctx.Done():
	case <-session.Done():
		logger.Error("speech session stopped", "error", session.Err())
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := session.Shutdown(); err != nil {
		logger.Error("failed to release audio output", "error", err)
	}

	logger.Info("shutdown complete")
}

// newEngine registers every engine the configuration allows and selects
// the configured one.
func newEngine(cfg *config.Config, logger *slog.Logger) (tts.Engine, error) {
	scales := tts.DefaultScaleMapping()
	if cfg.ScalesFile != "" {
		loaded, err := tts.LoadScaleMapping(cfg.ScalesFile)
		if err != nil {
			return nil, err
		}
		scales = loaded
		logger.Info("scale mapping loaded", "path", cfg.ScalesFile)
	}

	registry := tts.NewRegistry()

	voicevox := tts.NewVoicevoxClient(tts.VoicevoxConfig{
		BaseURL:       cfg.VoicevoxURL,
		MaxAttempts:   cfg.SynthMaxAttempts,
		RetryInterval: cfg.SynthRetryInterval,
		QueryTimeout:  cfg.SynthQueryTimeout,
		RenderTimeout: cfg.SynthRenderTimeout,
		Scales:        scales,
	}, logger)
	if err := registry.Register(voicevox); err != nil {
		return nil, err
	}

	if cfg.PiperModel != "" {
		converter, err := audio.NewConverter()
		if err != nil {
			logger.Warn("ffmpeg not available, piper output cannot be resampled", "error", err)
		} else {
			piper, err := tts.NewPiperEngine(tts.PiperConfig{
				BinaryPath: cfg.PiperPath,
				ModelPath:  cfg.PiperModel,
				SampleRate: cfg.PiperSampleRate,
				Scales:     scales,
			}, converter, logger)
			if err != nil {
				logger.Warn("failed to initialize Piper TTS", "error", err)
			} else if err := registry.Register(piper); err != nil {
				logger.Warn("failed to register Piper TTS", "error", err)
			} else {
				logger.Info("Piper TTS engine registered", "model", cfg.PiperModel)
			}
		}
	}

	logger.Info("TTS engines registered", "engines", registry.Names())
	return registry.Select(cfg.TTSEngine)
}

// newSink opens the configured audio output.
func newSink(cfg *config.Config, logger *slog.Logger) (playback.Sink, error) {
	switch cfg.Sink {
	case config.SinkPortAudio:
		return playback.NewPortAudioSink(cfg.FramesPerBuffer, logger)

	case config.SinkWAV:
		return playback.NewWAVFileSink(cfg.WAVOutput, cfg.WAVRealtime, logger)

	case config.SinkDiscord:
		vm, err := discord.NewVoiceManager(
			cfg.DiscordToken,
			cfg.GuildID,
			cfg.DefaultVoiceChannelID,
			logger,
		)
		if err != nil {
			return nil, err
		}
		if err := vm.Open(); err != nil {
			return nil, err
		}
		logger.Info("Discord session opened")
		return vm, nil
	}
	return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
}
