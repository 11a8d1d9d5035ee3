package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the HTTP and WebSocket listen address.
	DefaultAddr = ":43127"
	// DefaultGRPCAddr is the gRPC listen address. Empty disables the gRPC server.
	DefaultGRPCAddr = ":43128"
	// DefaultPingInterval controls the keepalive cadence for spectator sockets.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frames and race request bodies.
	DefaultMaxPayloadBytes int64 = 1 << 20
	// DefaultMaxClients bounds concurrent spectator sockets. Zero disables the limit.
	DefaultMaxClients = 256
	// DefaultMaxParticipants bounds the roster size of a single race request.
	DefaultMaxParticipants = 64
	// DefaultRelayRetention caps how many race announcements the relay keeps for slow spectators.
	DefaultRelayRetention = 128
	// DefaultMode is the tuning preset used when a request names none.
	DefaultMode = "casual"

	// DefaultReplayDumpWindow bounds how frequently replay dump triggers may be requested.
	DefaultReplayDumpWindow = time.Minute
	// DefaultReplayDumpBurst sets how many replay dump requests may be made per window.
	DefaultReplayDumpBurst = 1
	// DefaultReplayMaxRaces caps how many replay bundles are kept on disk. Zero keeps all.
	DefaultReplayMaxRaces = 500
	// DefaultReplayMaxAge expires replay artefacts older than this. Zero keeps them forever.
	DefaultReplayMaxAge = 7 * 24 * time.Hour
	// DefaultRecorderCapacity bounds the finished races buffered for the admin dump.
	DefaultRecorderCapacity = 256

	// DefaultLogLevel controls verbosity.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "duckrace.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// GRPCAuthMode selects how the gRPC listener authenticates callers.
type GRPCAuthMode string

const (
	GRPCAuthModeNone         GRPCAuthMode = "none"
	GRPCAuthModeSharedSecret GRPCAuthMode = "shared_secret"
	GRPCAuthModeMTLS         GRPCAuthMode = "mtls"
)

// Config captures all runtime tunables for the race server.
type Config struct {
	Address          string
	AllowedOrigins   []string
	MaxPayloadBytes  int64
	PingInterval     time.Duration
	MaxClients       int
	TLSCertPath      string
	TLSKeyPath       string
	AdminToken       string
	ReplayDir        string
	ReplayDumpWindow time.Duration
	ReplayDumpBurst  int
	ReplayMaxRaces   int
	ReplayMaxAge     time.Duration
	RecorderCapacity int
	Logging          LoggingConfig

	GRPCAddress        string
	GRPCAuthMode       GRPCAuthMode
	GRPCSharedSecret   string
	GRPCServerCertPath string
	GRPCServerKeyPath  string
	GRPCClientCAPath   string

	WSAuthSecret    string
	SigningSecret   string
	TuningPath      string
	DefaultMode     string
	MaxParticipants int
	RelayRetention  int
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the configuration from DUCKRACE_* environment variables, applying defaults and
// reporting every invalid override in a single error.
func Load() (*Config, error) {
	cfg := &Config{
		Address:          getString("DUCKRACE_ADDR", DefaultAddr),
		AllowedOrigins:   parseList(os.Getenv("DUCKRACE_ALLOWED_ORIGINS")),
		MaxPayloadBytes:  DefaultMaxPayloadBytes,
		PingInterval:     DefaultPingInterval,
		MaxClients:       DefaultMaxClients,
		TLSCertPath:      strings.TrimSpace(os.Getenv("DUCKRACE_TLS_CERT")),
		TLSKeyPath:       strings.TrimSpace(os.Getenv("DUCKRACE_TLS_KEY")),
		AdminToken:       strings.TrimSpace(os.Getenv("DUCKRACE_ADMIN_TOKEN")),
		ReplayDir:        strings.TrimSpace(os.Getenv("DUCKRACE_REPLAY_DIR")),
		ReplayDumpWindow: DefaultReplayDumpWindow,
		ReplayDumpBurst:  DefaultReplayDumpBurst,
		ReplayMaxRaces:   DefaultReplayMaxRaces,
		ReplayMaxAge:     DefaultReplayMaxAge,
		RecorderCapacity: DefaultRecorderCapacity,
		Logging: LoggingConfig{
			Level:      getString("DUCKRACE_LOG_LEVEL", DefaultLogLevel),
			Path:       getString("DUCKRACE_LOG_PATH", DefaultLogPath),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
		GRPCAddress:        getString("DUCKRACE_GRPC_ADDR", DefaultGRPCAddr),
		GRPCAuthMode:       GRPCAuthMode(strings.ToLower(getString("DUCKRACE_GRPC_AUTH_MODE", string(GRPCAuthModeNone)))),
		GRPCSharedSecret:   strings.TrimSpace(os.Getenv("DUCKRACE_GRPC_SHARED_SECRET")),
		GRPCServerCertPath: strings.TrimSpace(os.Getenv("DUCKRACE_GRPC_SERVER_CERT")),
		GRPCServerKeyPath:  strings.TrimSpace(os.Getenv("DUCKRACE_GRPC_SERVER_KEY")),
		GRPCClientCAPath:   strings.TrimSpace(os.Getenv("DUCKRACE_GRPC_CLIENT_CA")),
		WSAuthSecret:       strings.TrimSpace(os.Getenv("DUCKRACE_WS_AUTH_SECRET")),
		SigningSecret:      strings.TrimSpace(os.Getenv("DUCKRACE_SIGNING_SECRET")),
		TuningPath:         strings.TrimSpace(os.Getenv("DUCKRACE_TUNING_PATH")),
		DefaultMode:        getString("DUCKRACE_DEFAULT_MODE", DefaultMode),
		MaxParticipants:    DefaultMaxParticipants,
		RelayRetention:     DefaultRelayRetention,
	}

	var problems []string

	parseInt64("DUCKRACE_MAX_PAYLOAD_BYTES", 1, &cfg.MaxPayloadBytes, &problems)
	parseDuration("DUCKRACE_PING_INTERVAL", &cfg.PingInterval, &problems)
	parseInt("DUCKRACE_MAX_CLIENTS", 0, &cfg.MaxClients, &problems)
	parseInt("DUCKRACE_MAX_PARTICIPANTS", 1, &cfg.MaxParticipants, &problems)
	parseInt("DUCKRACE_RELAY_RETENTION", 1, &cfg.RelayRetention, &problems)
	parseInt("DUCKRACE_LOG_MAX_SIZE_MB", 1, &cfg.Logging.MaxSizeMB, &problems)
	parseInt("DUCKRACE_LOG_MAX_BACKUPS", 0, &cfg.Logging.MaxBackups, &problems)
	parseInt("DUCKRACE_LOG_MAX_AGE_DAYS", 0, &cfg.Logging.MaxAgeDays, &problems)
	parseDuration("DUCKRACE_REPLAY_DUMP_WINDOW", &cfg.ReplayDumpWindow, &problems)
	parseInt("DUCKRACE_REPLAY_DUMP_BURST", 1, &cfg.ReplayDumpBurst, &problems)
	parseInt("DUCKRACE_REPLAY_MAX_RACES", 0, &cfg.ReplayMaxRaces, &problems)
	parseInt("DUCKRACE_RECORDER_CAPACITY", 1, &cfg.RecorderCapacity, &problems)

	if raw := strings.TrimSpace(os.Getenv("DUCKRACE_REPLAY_MAX_AGE")); raw != "" {
		value, err := time.ParseDuration(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("DUCKRACE_REPLAY_MAX_AGE must be a non-negative duration, got %q", raw))
		} else {
			cfg.ReplayMaxAge = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DUCKRACE_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("DUCKRACE_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "DUCKRACE_TLS_CERT and DUCKRACE_TLS_KEY must be provided together")
	}

	switch cfg.GRPCAuthMode {
	case GRPCAuthModeNone:
	case GRPCAuthModeSharedSecret:
		if cfg.GRPCSharedSecret == "" {
			problems = append(problems, "DUCKRACE_GRPC_SHARED_SECRET is required for shared_secret auth")
		}
	case GRPCAuthModeMTLS:
		if cfg.GRPCServerCertPath == "" || cfg.GRPCServerKeyPath == "" || cfg.GRPCClientCAPath == "" {
			problems = append(problems, "DUCKRACE_GRPC_SERVER_CERT, DUCKRACE_GRPC_SERVER_KEY and DUCKRACE_GRPC_CLIENT_CA are required for mtls auth")
		}
	default:
		problems = append(problems, fmt.Sprintf("DUCKRACE_GRPC_AUTH_MODE must be none, shared_secret or mtls, got %q", cfg.GRPCAuthMode))
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseInt(key string, floor int, dst *int, problems *[]string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < floor {
		*problems = append(*problems, fmt.Sprintf("%s must be an integer >= %d, got %q", key, floor, raw))
		return
	}
	*dst = value
}

func parseInt64(key string, floor int64, dst *int64, problems *[]string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < floor {
		*problems = append(*problems, fmt.Sprintf("%s must be an integer >= %d, got %q", key, floor, raw))
		return
	}
	*dst = value
}

func parseDuration(key string, dst *time.Duration, problems *[]string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	duration, err := time.ParseDuration(raw)
	if err != nil || duration <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
		return
	}
	*dst = duration
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
