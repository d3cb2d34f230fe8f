package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dgnsrekt/voxline/internal/config"
	"github.com/dgnsrekt/voxline/internal/directive"
	"github.com/dgnsrekt/voxline/internal/logging"
	"github.com/dgnsrekt/voxline/internal/params"
	"github.com/dgnsrekt/voxline/internal/speech"
	"github.com/dgnsrekt/voxline/internal/tts"
)

const testTimeout = 5 * time.Second

// fakeSession records calls made by the handlers.
type fakeSession struct {
	mu         sync.Mutex
	store      *params.Store
	submitted  [][]directive.Directive
	submitErr  error
	cancels    int
	paused     bool
	speaking   bool
	voices     []tts.Voice
	voicesErr  error
	refreshed  bool
	err        error
	subscriber directive.NotifyFunc
	subscribed chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		store:      params.NewStore(params.Defaults(), params.DefaultLimits()),
		subscribed: make(chan struct{}, 1),
	}
}

func (f *fakeSession) Submit(seq []directive.Directive) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, seq)
	return "sub-1", nil
}

func (f *fakeSession) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeSession) Pause(p bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = p
	return nil
}

func (f *fakeSession) SetParameter(name params.Name, value int) error {
	return f.store.Set(name, value)
}

func (f *fakeSession) SetVoice(id string)            { f.store.SetVoice(id) }
func (f *fakeSession) Parameters() params.Parameters { return f.store.Snapshot() }
func (f *fakeSession) Speaking() bool                { return f.speaking }
func (f *fakeSession) Err() error                    { return f.err }

func (f *fakeSession) Voices(ctx context.Context, refresh bool) ([]tts.Voice, error) {
	f.refreshed = refresh
	return f.voices, f.voicesErr
}

func (f *fakeSession) Subscribe(fn directive.NotifyFunc) func() {
	f.mu.Lock()
	f.subscriber = fn
	f.mu.Unlock()
	f.subscribed <- struct{}{}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.subscriber = nil
	}
}

func testConfig() *config.Config {
	return &config.Config{
		HTTPPort:      8080,
		BearerToken:   "test-token",
		MaxTextLength: 100,
		MaxBreakMs:    5000,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

func testServer(cfg *config.Config) *Server {
	return testServerWith(cfg, newFakeSession())
}

func testServerWith(cfg *config.Config, session Session) *Server {
	logger := logging.New("error", "text") // quiet logger for tests
	return New(cfg, logger, session, nil)
}

// do sends an authenticated request through the full router.
func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-token")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	session := newFakeSession()
	session.speaking = true
	srv := testServerWith(testConfig(), session)

	req := httptest.NewRequest("GET", "/v1/healthz", nil)
	w := httptest.NewRecorder()

	srv.handleHealthz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Status != "ok" || !resp.Speaking {
		t.Errorf("unexpected health response %+v", resp)
	}
}

func TestHealthzTerminated(t *testing.T) {
	session := newFakeSession()
	session.err = errors.New("device gone")
	srv := testServerWith(testConfig(), session)

	w := do(srv, "GET", "/v1/healthz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestSpeakSuccess(t *testing.T) {
	session := newFakeSession()
	srv := testServerWith(testConfig(), session)

	body := `{"directives":[
		{"type":"text","text":"hello"},
		{"type":"index","index":1},
		{"type":"break","duration_ms":300},
		{"type":"pitch","value":70},
		{"type":"text","text":"world"},
		{"type":"end"}
	]}`
	w := do(srv, "POST", "/v1/speak", body)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d: %s", http.StatusAccepted, w.Code, w.Body.String())
	}

	var resp SpeakResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.SubmissionID != "sub-1" {
		t.Errorf("expected submission_id sub-1, got %q", resp.SubmissionID)
	}

	want := []directive.Directive{
		directive.Utterance{Text: "hello"},
		directive.IndexMarker{Index: 1},
		directive.Silence{DurationMs: 300},
		directive.PitchOverride{Value: 70},
		directive.Utterance{Text: "world"},
		directive.EndOfSequence{},
	}
	if len(session.submitted) != 1 || len(session.submitted[0]) != len(want) {
		t.Fatalf("submitted %v", session.submitted)
	}
	for i, d := range session.submitted[0] {
		if d != want[i] {
			t.Errorf("directive %d = %#v, want %#v", i, d, want[i])
		}
	}
}

func TestSpeakTextShorthandAndInterrupt(t *testing.T) {
	session := newFakeSession()
	srv := testServerWith(testConfig(), session)

	w := do(srv, "POST", "/v1/speak", `{"text":"Hello, world!","interrupt":true}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, w.Code)
	}
	if session.cancels != 1 {
		t.Errorf("expected interrupt to cancel once, got %d", session.cancels)
	}
	if got := session.submitted[0]; len(got) != 1 || got[0] != (directive.Utterance{Text: "Hello, world!"}) {
		t.Errorf("submitted %v", got)
	}
}

func TestSpeakBadRequests(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "invalid json", body: `{invalid}`, wantErr: "invalid JSON body"},
		{name: "empty", body: `{}`, wantErr: "text or directives are required"},
		{name: "too long", body: `{"text":"` + strings.Repeat("a", 101) + `"}`, wantErr: "text exceeds maximum length"},
		{name: "unknown type", body: `{"directives":[{"type":"sing"}]}`, wantErr: `directive 0: unknown type "sing"`},
		{name: "negative break", body: `{"directives":[{"type":"break","duration_ms":-1}]}`, wantErr: "directive 0: duration_ms must be non-negative"},
		{name: "break too long", body: `{"directives":[{"type":"break","duration_ms":5001}]}`, wantErr: "directive 0: duration_ms exceeds maximum of 5000"},
		{name: "huge break", body: `{"directives":[{"type":"break","duration_ms":9000000000000000000}]}`, wantErr: "directive 0: duration_ms exceeds maximum of 5000"},
		{name: "empty text", body: `{"directives":[{"type":"text"}]}`, wantErr: "directive 0: text is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(testConfig())
			w := do(srv, "POST", "/v1/speak", tt.body)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if resp.Error != tt.wantErr {
				t.Errorf("expected error %q, got %q", tt.wantErr, resp.Error)
			}
		})
	}
}

func TestSpeakSessionTerminated(t *testing.T) {
	session := newFakeSession()
	session.submitErr = speech.ErrSessionTerminated
	srv := testServerWith(testConfig(), session)

	w := do(srv, "POST", "/v1/speak", `{"text":"hello"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestCancelAndPause(t *testing.T) {
	session := newFakeSession()
	srv := testServerWith(testConfig(), session)

	if w := do(srv, "POST", "/v1/cancel", ""); w.Code != http.StatusNoContent {
		t.Errorf("cancel: expected status %d, got %d", http.StatusNoContent, w.Code)
	}
	if session.cancels != 1 {
		t.Errorf("expected 1 cancel, got %d", session.cancels)
	}

	if w := do(srv, "POST", "/v1/pause", `{"paused":true}`); w.Code != http.StatusOK {
		t.Errorf("pause: expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !session.paused {
		t.Error("expected session to be paused")
	}
}

func TestParams(t *testing.T) {
	session := newFakeSession()
	srv := testServerWith(testConfig(), session)

	w := do(srv, "PUT", "/v1/params", `{"name":"rate","value":500}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var p params.Parameters
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if p.Rate != 100 {
		t.Errorf("expected clamped rate 100, got %d", p.Rate)
	}

	if w := do(srv, "PUT", "/v1/params", `{"name":"voice","voice":"8"}`); w.Code != http.StatusOK {
		t.Errorf("voice: expected status %d, got %d", http.StatusOK, w.Code)
	}
	if w := do(srv, "PUT", "/v1/params", `{"name":"tempo","value":3}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown: expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if w := do(srv, "PUT", "/v1/params", `{"name":"rate"}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing value: expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	w = do(srv, "GET", "/v1/params", "")
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if p.Voice != "8" || p.Rate != 100 {
		t.Errorf("unexpected params %+v", p)
	}
}

func TestVoices(t *testing.T) {
	session := newFakeSession()
	session.voices = []tts.Voice{{ID: "3", DisplayName: "ずんだもん(ノーマル)"}}
	srv := testServerWith(testConfig(), session)

	w := do(srv, "GET", "/v1/voices?refresh=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp VoicesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(resp.Voices) != 1 || resp.Voices[0].ID != "3" {
		t.Errorf("unexpected voices %+v", resp.Voices)
	}
	if !session.refreshed {
		t.Error("expected refresh to be passed through")
	}

	if w := do(srv, "GET", "/v1/voices?refresh=maybe", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad refresh: expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestVoicesErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{speech.ErrVoicesUnsupported, http.StatusNotImplemented},
		{tts.ErrBackendUnavailable, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		session := newFakeSession()
		session.voicesErr = tt.err
		srv := testServerWith(testConfig(), session)

		if w := do(srv, "GET", "/v1/voices", ""); w.Code != tt.want {
			t.Errorf("%v: expected status %d, got %d", tt.err, tt.want, w.Code)
		}
	}
}

func TestMetricsRoute(t *testing.T) {
	logger := logging.New("error", "text")
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("voxline_queue_depth 0\n"))
	})
	srv := New(testConfig(), logger, newFakeSession(), metrics)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("voxline_queue_depth")) {
		t.Errorf("unexpected metrics response %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	testServer(testConfig()).Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected /metrics disabled, got %d", w.Code)
	}
}

func TestEventsStream(t *testing.T) {
	session := newFakeSession()
	srv := testServerWith(testConfig(), session)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	header := http.Header{"Authorization": []string{"Bearer test-token"}}
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	select {
	case <-session.subscribed:
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for subscription")
	}

	session.mu.Lock()
	notify := session.subscriber
	session.mu.Unlock()
	notify(directive.Notification{Index: 4})
	notify(directive.Notification{Done: true})

	conn.SetReadDeadline(time.Now().Add(testTimeout))
	for _, want := range []directive.Notification{{Index: 4}, {Done: true}} {
		var got directive.Notification
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if got != want {
			t.Errorf("event = %+v, want %+v", got, want)
		}
	}
}

func TestEventsRequireAuth(t *testing.T) {
	srv := testServer(testConfig())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", resp)
	}
}
