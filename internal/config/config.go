package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Engines and sinks the daemon can be configured with.
const (
	EngineVoicevox = "voicevox"
	EnginePiper    = "piper"

	SinkPortAudio = "portaudio"
	SinkDiscord   = "discord"
	SinkWAV       = "wav"
)

// Config holds all application configuration.
type Config struct {
	// HTTP settings
	HTTPPort    int
	BearerToken string

	// Synthesis settings
	TTSEngine          string
	VoicevoxURL        string
	SynthMaxAttempts   int
	SynthRetryInterval time.Duration
	SynthQueryTimeout  time.Duration
	SynthRenderTimeout time.Duration
	ScalesFile         string
	PiperPath          string
	PiperModel         string
	PiperSampleRate    int

	// Output settings
	Sink                  string
	WAVOutput             string
	WAVRealtime           bool
	FramesPerBuffer       int
	DiscordToken          string
	GuildID               string
	DefaultVoiceChannelID string
	AutoLeaveIdle         time.Duration

	// Initial parameters
	DefaultVoice      string
	DefaultRate       int
	DefaultPitch      int
	DefaultInflection int
	DefaultVolume     int
	InflectionMin     int
	InflectionMax     int

	// Behavior settings
	MaxTextLength int
	MaxBreakMs    int

	// Observability settings
	MetricsEnabled bool
	LogLevel       string
	LogFormat      string
}

// Load reads configuration from environment variables with sane defaults.
func Load() (*Config, error) {
	cfg := &Config{
		// HTTP settings
		HTTPPort:    getEnvInt("HTTP_PORT", 8080),
		BearerToken: os.Getenv("BEARER_TOKEN"),

		// Synthesis settings
		TTSEngine:          getEnvString("TTS_ENGINE", EngineVoicevox),
		VoicevoxURL:        getEnvString("VOICEVOX_URL", "http://localhost:50021"),
		SynthMaxAttempts:   getEnvInt("SYNTH_MAX_ATTEMPTS", 10),
		SynthRetryInterval: getEnvDuration("SYNTH_RETRY_INTERVAL", 100*time.Millisecond),
		SynthQueryTimeout:  getEnvDuration("SYNTH_QUERY_TIMEOUT", 10*time.Second),
		SynthRenderTimeout: getEnvDuration("SYNTH_RENDER_TIMEOUT", 5*time.Minute),
		ScalesFile:         os.Getenv("SCALES_FILE"),
		PiperPath:          getEnvString("PIPER_PATH", "piper"),
		PiperModel:         os.Getenv("PIPER_MODEL"),
		PiperSampleRate:    getEnvInt("PIPER_SAMPLE_RATE", 22050),

		// Output settings
		Sink:                  getEnvString("SINK", SinkPortAudio),
		WAVOutput:             getEnvString("WAV_OUTPUT", "voxline.wav"),
		WAVRealtime:           getEnvBool("WAV_REALTIME", false),
		FramesPerBuffer:       getEnvInt("FRAMES_PER_BUFFER", 480),
		DiscordToken:          os.Getenv("DISCORD_TOKEN"),
		GuildID:               os.Getenv("GUILD_ID"),
		DefaultVoiceChannelID: os.Getenv("DEFAULT_VOICE_CHANNEL_ID"),
		AutoLeaveIdle:         getEnvDuration("AUTO_LEAVE_IDLE", 5*time.Minute),

		// Initial parameters
		DefaultVoice:      getEnvString("DEFAULT_VOICE", "1"),
		DefaultRate:       getEnvInt("DEFAULT_RATE", 50),
		DefaultPitch:      getEnvInt("DEFAULT_PITCH", 50),
		DefaultInflection: getEnvInt("DEFAULT_INFLECTION", 50),
		DefaultVolume:     getEnvInt("DEFAULT_VOLUME", 100),
		InflectionMin:     getEnvInt("INFLECTION_MIN", 1),
		InflectionMax:     getEnvInt("INFLECTION_MAX", 100),

		// Behavior settings
		MaxTextLength: getEnvInt("MAX_TEXT_LENGTH", 1000),
		MaxBreakMs:    getEnvInt("MAX_BREAK_MS", 60000),

		// Observability settings
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		LogLevel:       getEnvString("LOG_LEVEL", "info"),
		LogFormat:      getEnvString("LOG_FORMAT", "text"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// AuthDisabled returns true if bearer token authentication is disabled.
func (c *Config) AuthDisabled() bool {
	return c.BearerToken == ""
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return errors.New("HTTP_PORT must be between 1 and 65535")
	}

	if c.MaxTextLength < 1 {
		return errors.New("MAX_TEXT_LENGTH must be at least 1")
	}

	if c.MaxBreakMs < 1 {
		return errors.New("MAX_BREAK_MS must be at least 1")
	}

	switch c.TTSEngine {
	case EngineVoicevox:
		if c.VoicevoxURL == "" {
			return errors.New("VOICEVOX_URL is required for the voicevox engine")
		}
	case EnginePiper:
		if c.PiperModel == "" {
			return errors.New("PIPER_MODEL is required for the piper engine")
		}
	default:
		return errors.New("TTS_ENGINE must be one of: voicevox, piper")
	}

	if c.SynthMaxAttempts < 1 {
		return errors.New("SYNTH_MAX_ATTEMPTS must be at least 1")
	}

	if c.SynthRetryInterval < 0 {
		return errors.New("SYNTH_RETRY_INTERVAL must be non-negative")
	}

	switch c.Sink {
	case SinkPortAudio:
		if c.FramesPerBuffer < 1 {
			return errors.New("FRAMES_PER_BUFFER must be at least 1")
		}
	case SinkWAV:
		if c.WAVOutput == "" {
			return errors.New("WAV_OUTPUT is required for the wav sink")
		}
	case SinkDiscord:
		if c.DiscordToken == "" || c.GuildID == "" || c.DefaultVoiceChannelID == "" {
			return errors.New("DISCORD_TOKEN, GUILD_ID and DEFAULT_VOICE_CHANNEL_ID are required for the discord sink")
		}
	default:
		return errors.New("SINK must be one of: portaudio, discord, wav")
	}

	if c.AutoLeaveIdle < 0 {
		return errors.New("AUTO_LEAVE_IDLE must be non-negative")
	}

	if c.InflectionMin > c.InflectionMax {
		return errors.New("INFLECTION_MIN must not exceed INFLECTION_MAX")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.LogFormat] {
		return errors.New("LOG_FORMAT must be one of: text, json")
	}

	return nil
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as a bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
