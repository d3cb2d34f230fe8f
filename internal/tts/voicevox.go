package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v5"

	"github.com/dgnsrekt/voxline/internal/audio"
	"github.com/dgnsrekt/voxline/internal/wav"
)

// Defaults for VoicevoxConfig.
const (
	DefaultVoicevoxURL   = "http://localhost:50021"
	DefaultMaxAttempts   = 10
	DefaultRetryInterval = 100 * time.Millisecond
	DefaultQueryTimeout  = 10 * time.Second
	DefaultRenderTimeout = 5 * time.Minute
)

// suppressedText is the placeholder the host sends to keep a symbol silent.
const suppressedText = "  "

var multiSpace = regexp.MustCompile(` {2,}`)

// VoicevoxConfig holds configuration for the VOICEVOX engine.
type VoicevoxConfig struct {
	// BaseURL is the engine root, e.g. http://localhost:50021.
	BaseURL string
	// MaxAttempts bounds the attempts of each phase.
	MaxAttempts int
	// RetryInterval is the fixed sleep between attempts.
	RetryInterval time.Duration
	// QueryTimeout bounds one audio_query request.
	QueryTimeout time.Duration
	// RenderTimeout bounds one synthesis request.
	RenderTimeout time.Duration
	// Scales maps parameters to the query overlay.
	Scales ScaleMapping
	// HTTPClient overrides the client used for requests.
	HTTPClient *http.Client
}

func (c *VoicevoxConfig) setDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultVoicevoxURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = DefaultRenderTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
}

// VoicevoxClient implements Engine against a VOICEVOX compatible HTTP API.
// Synthesis runs in two phases, audio_query then synthesis, each retried
// at a fixed interval.
type VoicevoxClient struct {
	config  VoicevoxConfig
	logger  *slog.Logger
	catalog *VoiceCatalog
}

// NewVoicevoxClient creates a client. Zero config fields take defaults.
func NewVoicevoxClient(cfg VoicevoxConfig, logger *slog.Logger) *VoicevoxClient {
	cfg.setDefaults()
	c := &VoicevoxClient{
		config: cfg,
		logger: logger,
	}
	c.catalog = NewVoiceCatalog(c)
	return c
}

// Name returns the engine identifier.
func (c *VoicevoxClient) Name() string {
	return "voicevox"
}

// Synthesize runs the query and render phases and returns raw PCM with the
// WAV header removed.
func (c *VoicevoxClient) Synthesize(ctx context.Context, req SynthesizeRequest) (*AudioResult, error) {
	result := &AudioResult{SampleRate: audio.SampleRate, Channels: audio.Channels}
	if req.Text == suppressedText || req.Text == "" {
		return result, nil
	}

	text := NormalizeText(req.Text)
	speaker := req.Params.Voice

	q := url.Values{}
	q.Set("text", text)
	q.Set("speaker", speaker)
	body, err := c.do(ctx, "query", c.config.QueryTimeout, http.MethodPost, "/audio_query?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var query map[string]any
	if err := sonic.Unmarshal(body, &query); err != nil {
		return nil, fmt.Errorf("%w: audio query: %v", ErrInvalidResponse, err)
	}
	if query == nil {
		return nil, fmt.Errorf("%w: empty audio query", ErrInvalidResponse)
	}
	c.config.Scales.Overlay(req.Params).apply(query)

	payload, err := sonic.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("%w: encode audio query: %v", ErrInvalidResponse, err)
	}

	r := url.Values{}
	r.Set("speaker", speaker)
	container, err := c.do(ctx, "render", c.config.RenderTimeout, http.MethodPost, "/synthesis?"+r.Encode(), payload)
	if err != nil {
		return nil, err
	}

	pcm, err := wav.StripHeader(container)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	c.logger.Debug("voicevox synthesis complete",
		"speaker", speaker,
		"text_length", len(text),
		"pcm_bytes", len(pcm),
	)

	result.Data = pcm
	return result, nil
}

// Voices returns the flattened speaker styles, served from the catalog cache
// unless refresh is set.
func (c *VoicevoxClient) Voices(ctx context.Context, refresh bool) ([]Voice, error) {
	if refresh {
		if err := c.catalog.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	return c.catalog.Voices(ctx)
}

// FetchSpeakers retrieves the speaker list from the engine.
func (c *VoicevoxClient) FetchSpeakers(ctx context.Context) ([]Speaker, error) {
	body, err := c.do(ctx, "speakers", c.config.QueryTimeout, http.MethodGet, "/speakers", nil)
	if err != nil {
		return nil, err
	}
	var speakers []Speaker
	if err := sonic.Unmarshal(body, &speakers); err != nil {
		return nil, fmt.Errorf("%w: speakers: %v", ErrInvalidResponse, err)
	}
	return speakers, nil
}

// do performs one phase with the fixed-interval retry policy. Transient
// failures carry ErrBackendUnavailable, permanent ones ErrInvalidResponse.
func (c *VoicevoxClient) do(ctx context.Context, phase string, timeout time.Duration, method, path string, body []byte) ([]byte, error) {
	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		return c.attempt(ctx, timeout, method, path, body)
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.config.RetryInterval)),
		backoff.WithMaxTries(uint(c.config.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("voicevox request failed, retrying",
				"phase", phase,
				"attempt", attempt,
				"retry_in", next,
				"error", err,
			)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, ErrBackendUnavailable) {
			c.logger.Warn("voicevox retries exhausted",
				"phase", phase,
				"attempts", attempt,
				"error", err,
			)
		}
		return nil, fmt.Errorf("%s: %w", phase, err)
	}
	return out, nil
}

func (c *VoicevoxClient) attempt(ctx context.Context, timeout time.Duration, method, path string, body []byte) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrInvalidResponse, err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrBackendUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case transientStatus(resp.StatusCode):
		return nil, fmt.Errorf("%w: status %d", ErrBackendUnavailable, resp.StatusCode)
	default:
		return nil, backoff.Permanent(fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode))
	}
}

// transientStatus reports whether a status is worth another attempt:
// server errors, request timeout and rate limiting. Any other non-2xx
// status means the request itself is wrong and fails at once.
func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// NormalizeText prepares text for the engine: runs of spaces collapse to
// one and ASCII question marks become full-width so they are voiced as a
// rising intonation.
func NormalizeText(text string) string {
	text = multiSpace.ReplaceAllString(text, " ")
	return strings.ReplaceAll(text, "?", "？")
}
