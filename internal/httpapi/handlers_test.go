package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"duckrace/server/internal/arena"
	"duckrace/server/internal/logging"
	"duckrace/server/internal/metrics"
	"duckrace/server/internal/race"
)

type stubReadiness struct {
	clients int
	pending int
	uptime  time.Duration
	err     error
}

func (s *stubReadiness) SnapshotClientCounts() (int, int) { return s.clients, s.pending }
func (s *stubReadiness) StartupError() error              { return s.err }
func (s *stubReadiness) Uptime() time.Duration            { return s.uptime }

type stubDumper struct {
	location string
	err      error
	calls    int
}

func (s *stubDumper) DumpReplay(ctx context.Context) (string, error) {
	s.calls++
	return s.location, s.err
}

func newRaceHandlers(t *testing.T, monitor *metrics.RunMonitor) *HandlerSet {
	t.Helper()
	a := arena.New(arena.WithMonitor(monitor), arena.WithLogger(logging.NewTestLogger()), arena.WithMaxParticipants(4))
	return NewHandlerSet(Options{Logger: logging.NewTestLogger(), Races: a, Monitor: monitor, MaxBodyBytes: 4096})
}

func postRace(h *HandlerSet, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/race", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.RaceHandler().ServeHTTP(rr, req)
	return rr
}

func TestRaceHandlerReturnsOutcome(t *testing.T) {
	monitor := metrics.NewRunMonitor()
	handlers := newRaceHandlers(t, monitor)

	rr := postRace(handlers, `{"title":"Pond Cup","seed":42,"participants":[{"id":"a","name":"Quackers"},{"id":"b","name":"Puddles"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var outcome arena.Outcome
	if err := json.Unmarshal(rr.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if outcome.Seed != 42 || outcome.Title != "Pond Cup" || len(outcome.Result.Standings) != 2 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if _, ok := outcome.Result.Events[len(outcome.Result.Events)-1].(race.FinishEvent); !ok {
		t.Fatalf("expected the last event to decode as a finish event")
	}
	if monitor.Snapshot().Races != 1 {
		t.Fatalf("expected the race to be observed")
	}
}

func TestRaceHandlerMapsErrors(t *testing.T) {
	handlers := newRaceHandlers(t, metrics.NewRunMonitor())
	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed", body: `{"title":`, want: http.StatusBadRequest},
		{name: "missing title", body: `{"participants":[{"id":"a","name":"A"}]}`, want: http.StatusBadRequest},
		{name: "empty roster", body: `{"title":"Cup","participants":[]}`, want: http.StatusBadRequest},
		{name: "unknown mode", body: `{"title":"Cup","mode":"lava","participants":[{"id":"a","name":"A"}]}`, want: http.StatusBadRequest},
		{name: "too large", body: `{"title":"` + strings.Repeat("x", 5000) + `"}`, want: http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := postRace(handlers, tc.body)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
			var payload errorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil || payload.Error == "" {
				t.Fatalf("expected JSON error body, got %q", rr.Body.String())
			}
		})
	}

	rr := httptest.NewRecorder()
	handlers.RaceHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/race", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rr.Code)
	}
}

func TestModesHandlerListsPresets(t *testing.T) {
	handlers := newRaceHandlers(t, nil)
	rr := httptest.NewRecorder()
	handlers.ModesHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/modes", nil))
	var presets []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &presets); err != nil {
		t.Fatalf("decode modes: %v", err)
	}
	names := make([]string, len(presets))
	for i, p := range presets {
		names[i] = p.Name
	}
	if strings.Join(names, ",") != "casual,chaos,classic" {
		t.Fatalf("unexpected modes %v", names)
	}
}

func TestCORSPreflightAndOrigins(t *testing.T) {
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), AllowedOrigins: []string{"https://pond.example"}})
	mux := http.NewServeMux()
	handlers.Register(mux)

	req := httptest.NewRequest(http.MethodOptions, "/api/race", nil)
	req.Header.Set("Origin", "https://pond.example")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || rr.Header().Get("Access-Control-Allow-Origin") != "https://pond.example" {
		t.Fatalf("unexpected preflight response %d %v", rr.Code, rr.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/race", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin must not be allowed, got %q", got)
	}
}

func TestHealthAndLiveness(t *testing.T) {
	fixed := time.Date(2025, time.January, 2, 15, 4, 5, 0, time.UTC)
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), TimeSource: func() time.Time { return fixed }})

	rr := httptest.NewRecorder()
	handlers.HealthHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if !strings.Contains(rr.Body.String(), `"status":"OK"`) {
		t.Fatalf("unexpected health body %q", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	handlers.LivenessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/livez", nil))
	var payload struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "alive" || payload.Timestamp != fixed.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestReadinessHandlerUnavailable(t *testing.T) {
	readiness := &stubReadiness{clients: 3, pending: 1, uptime: 45 * time.Second, err: errors.New("boom")}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Readiness: readiness})

	rr := httptest.NewRecorder()
	handlers.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var payload struct {
		Status         string `json:"status"`
		Message        string `json:"message"`
		Clients        int    `json:"clients"`
		PendingClients int    `json:"pending_clients"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "error" || payload.Message != "boom" || payload.Clients != 3 || payload.PendingClients != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestMetricsHandlerOutputsPrometheusFormat(t *testing.T) {
	monitor := metrics.NewRunMonitor()
	monitor.Observe(2*time.Millisecond, metrics.RunOutcome{Racers: 4, Events: 9, Fizzles: 1})
	monitor.Reject()
	handlers := NewHandlerSet(Options{
		Logger:        logging.NewTestLogger(),
		Readiness:     &stubReadiness{clients: 2, pending: 1, uptime: 90 * time.Second},
		Stats:         func() (int, int) { return 4, 2 },
		Monitor:       monitor,
		RelayRetained: func() int { return 7 },
	})

	rr := httptest.NewRecorder()
	handlers.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rr.Body.String()
	for _, substr := range []string{
		"duckrace_broadcasts_total 4",
		"duckrace_clients 2",
		"duckrace_pending_clients 1",
		"duckrace_uptime_seconds 90",
		"duckrace_relay_retained 7",
		"duckrace_races_total 1",
		"duckrace_races_rejected_total 1",
		"duckrace_events_total 9",
		"duckrace_skill_fizzles_total 1",
		"# TYPE duckrace_races_total counter",
	} {
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics missing %q:\n%s", substr, body)
		}
	}
}

func TestReplayDumpHandlerAuthAndRateLimits(t *testing.T) {
	now := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	dumper := &stubDumper{location: "/tmp/latest.json.gz"}
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Replay:      dumper,
		AdminToken:  "topsecret",
		RateLimiter: NewSlidingWindowLimiter(time.Minute, 1, func() time.Time { return now }),
	})

	makeRequest := func(token string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/replay/dump", bytes.NewReader(nil))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		handlers.ReplayDumpHandler().ServeHTTP(rr, req)
		return rr
	}

	if resp := makeRequest(""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for missing token, got %d", resp.Code)
	}
	if resp := makeRequest("topsecret"); resp.Code != http.StatusAccepted || !strings.Contains(resp.Body.String(), "latest.json.gz") {
		t.Fatalf("expected 202 with location, got %d %s", resp.Code, resp.Body.String())
	}
	if dumper.calls != 1 {
		t.Fatalf("expected dumper invoked once, got %d", dumper.calls)
	}
	resp := makeRequest("topsecret")
	if resp.Code != http.StatusTooManyRequests || resp.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected rate limit with Retry-After, got %d %q", resp.Code, resp.Header().Get("Retry-After"))
	}
}
