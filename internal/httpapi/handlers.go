// Package httpapi exposes the race endpoints and the operational probes over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"duckrace/server/internal/arena"
	"duckrace/server/internal/gameplay"
	"duckrace/server/internal/logging"
	"duckrace/server/internal/metrics"
	"duckrace/server/internal/replay"
)

// ReadinessProvider exposes server state required for readiness checks.
type ReadinessProvider interface {
	SnapshotClientCounts() (clients, pending int)
	StartupError() error
	Uptime() time.Duration
}

// StatsFunc returns cumulative relay deliveries and connected spectators.
type StatsFunc func() (broadcasts, clients int)

// RaceRunner simulates races on behalf of HTTP callers.
type RaceRunner interface {
	Run(ctx context.Context, req arena.Request) (arena.Outcome, error)
	Modes() []gameplay.Preset
}

// ReplayDumper triggers a dump of recently finished races and returns the artefact location.
type ReplayDumper interface {
	DumpReplay(ctx context.Context) (string, error)
}

// ReplayDumperFunc adapts a function into a ReplayDumper.
type ReplayDumperFunc func(ctx context.Context) (string, error)

// DumpReplay implements ReplayDumper.
func (f ReplayDumperFunc) DumpReplay(ctx context.Context) (string, error) { return f(ctx) }

// RateLimiter gates how frequently sensitive operations may be invoked. A refusal carries the
// wait before the next admission.
type RateLimiter interface {
	Reserve() (bool, time.Duration)
}

// Options configures the HandlerSet.
type Options struct {
	Logger         *logging.Logger
	Readiness      ReadinessProvider
	Stats          StatsFunc
	Races          RaceRunner
	Monitor        *metrics.RunMonitor
	RelayRetained  func() int
	Replay         ReplayDumper
	ReplayStats    func() replay.Stats
	StorageStats   func() replay.StorageStats
	AdminToken     string
	RateLimiter    RateLimiter
	MaxBodyBytes   int64
	AllowedOrigins []string
	TimeSource     func() time.Time
}

// HandlerSet bundles the race and operational handlers.
type HandlerSet struct {
	logger         *logging.Logger
	readiness      ReadinessProvider
	stats          StatsFunc
	races          RaceRunner
	monitor        *metrics.RunMonitor
	relayRetained  func() int
	replay         ReplayDumper
	replayStats    func() replay.Stats
	storageStats   func() replay.StorageStats
	adminToken     string
	rateLimiter    RateLimiter
	maxBodyBytes   int64
	allowedOrigins []string
	now            func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &HandlerSet{
		logger:         logger,
		readiness:      opts.Readiness,
		stats:          opts.Stats,
		races:          opts.Races,
		monitor:        opts.Monitor,
		relayRetained:  opts.RelayRetained,
		replay:         opts.Replay,
		replayStats:    opts.ReplayStats,
		storageStats:   opts.StorageStats,
		adminToken:     strings.TrimSpace(opts.AdminToken),
		rateLimiter:    opts.RateLimiter,
		maxBodyBytes:   maxBody,
		allowedOrigins: opts.AllowedOrigins,
		now:            now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.Handle("/api/race", h.cors(h.RaceHandler()))
	mux.Handle("/api/modes", h.cors(h.ModesHandler()))
	mux.HandleFunc("/health", h.HealthHandler())
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/replay/dump", h.ReplayDumpHandler())
}

// HealthHandler answers the classic liveness probe browsers and scripts poll.
func (h *HandlerSet) HealthHandler() http.HandlerFunc {
	type response struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{Status: "OK", Message: "Duck Race Server is running!"})
	}
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports readiness, including spectator counts and startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status         string  `json:"status"`
		Message        string  `json:"message,omitempty"`
		UptimeSeconds  float64 `json:"uptime_seconds"`
		Clients        int     `json:"clients"`
		PendingClients int     `json:"pending_clients"`
		Races          int     `json:"races"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok", Races: h.monitor.Snapshot().Races}
		if h.readiness != nil {
			resp.Clients, resp.PendingClients = h.readiness.SnapshotClientCounts()
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		gauge := func(name, help string, value any) {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %v\n", name, help, name, name, value)
		}
		counter := func(name, help string, value any) {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %v\n", name, help, name, name, value)
		}

		//1.- Spectator transport.
		broadcasts, clients := h.metricsStats()
		pending, uptime := h.pendingAndUptime()
		gauge("duckrace_uptime_seconds", "Server uptime in seconds.", math.Round(uptime))
		gauge("duckrace_clients", "Current connected spectator sockets.", clients)
		gauge("duckrace_pending_clients", "Spectator handshakes awaiting upgrade.", pending)
		counter("duckrace_broadcasts_total", "Relay envelopes delivered to spectators.", broadcasts)
		if h.relayRetained != nil {
			gauge("duckrace_relay_retained", "Race announcements retained for unacknowledged spectators.", h.relayRetained())
		}

		//2.- Simulation throughput and outcomes.
		stats := h.monitor.Snapshot()
		counter("duckrace_races_total", "Races simulated.", stats.Races)
		counter("duckrace_races_rejected_total", "Race requests rejected before simulation.", stats.Rejected)
		counter("duckrace_races_timed_out_total", "Races that hit the simulated duration ceiling.", stats.TimedOut)
		counter("duckrace_racers_total", "Racers simulated across all races.", stats.Racers)
		counter("duckrace_events_total", "Race events produced, finishes included.", stats.Events)
		counter("duckrace_skill_fizzles_total", "Skill casts that found no target.", stats.Fizzles)
		gauge("duckrace_simulation_seconds_avg", "Average wall-clock time per simulated race.", stats.Average.Seconds())
		gauge("duckrace_simulation_seconds_max", "Slowest simulated race.", stats.Max.Seconds())
		gauge("duckrace_simulation_seconds_last", "Most recent simulated race.", stats.Last.Seconds())

		//3.- Replay buffers and storage.
		if h.replayStats != nil {
			rs := h.replayStats()
			gauge("duckrace_replay_buffer_races", "Race outcomes buffered for the next dump.", rs.BufferedFrames)
			gauge("duckrace_replay_buffer_bytes", "Buffered race outcome size in bytes.", rs.BufferedBytes)
			counter("duckrace_replay_dropped_total", "Buffered outcomes dropped for capacity.", rs.Dropped)
			counter("duckrace_replay_dumps_total", "Replay dumps completed successfully.", rs.Dumps)
		}
		if h.storageStats != nil {
			ss := h.storageStats()
			gauge("duckrace_replay_bundles", "Replay bundles retained on disk.", ss.Bundles)
			gauge("duckrace_replay_storage_bytes", "Disk used by retained replay artefacts.", ss.Bytes)
		}
	}
}

// ReplayDumpHandler authorises and triggers replay dump creation.
func (h *HandlerSet) ReplayDumpHandler() http.HandlerFunc {
	type response struct {
		Status   string `json:"status"`
		Location string `json:"location,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.LoggerFromContext(r.Context()).With(
			logging.String("handler", "replay_dump"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("replay dump denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("replay dump denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil {
			if allowed, wait := h.rateLimiter.Reserve(); !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait.Seconds())))))
				reqLogger.Warn("replay dump denied: rate limit exceeded")
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
		}
		if h.replay == nil {
			reqLogger.Warn("replay dump denied: no dumper configured")
			http.Error(w, "replay dumping is unavailable", http.StatusServiceUnavailable)
			return
		}
		location, err := h.replay.DumpReplay(r.Context())
		if err != nil {
			reqLogger.Error("replay dump trigger failed", logging.Error(err))
			http.Error(w, "failed to trigger replay dump", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("replay dump triggered", logging.String("location", location))
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Location: location})
	}
}

func (h *HandlerSet) metricsStats() (broadcasts, clients int) {
	if h.stats != nil {
		return h.stats()
	}
	if h.readiness != nil {
		clients, _ = h.readiness.SnapshotClientCounts()
	}
	return
}

func (h *HandlerSet) pendingAndUptime() (pending int, uptime float64) {
	if h.readiness == nil {
		return 0, 0
	}
	_, pending = h.readiness.SnapshotClientCounts()
	return pending, h.readiness.Uptime().Seconds()
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
