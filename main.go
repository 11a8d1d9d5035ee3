package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"duckrace/server/internal/arena"
	"duckrace/server/internal/auth"
	configpkg "duckrace/server/internal/config"
	"duckrace/server/internal/gameplay"
	"duckrace/server/internal/httpapi"
	"duckrace/server/internal/logging"
	"duckrace/server/internal/metrics"
	"duckrace/server/internal/relay"
	"duckrace/server/internal/replay"
)

const (
	shutdownGrace       = 10 * time.Second
	replaySweepInterval = time.Hour
	replayDumpLabel     = "races"
	readHeaderTimeout   = 5 * time.Second
)

// server bundles every long-lived component built from configuration.
type server struct {
	cfg      *configpkg.Config
	log      *logging.Logger
	broker   *Broker
	arena    *arena.Arena
	stream   *relay.Stream
	recorder *replay.Recorder
	cleaner  *replay.Cleaner
	mux      *http.ServeMux
	grpc     *grpc.Server
	cleanup  func()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := configpkg.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logging.ReplaceGlobals(logger)
	defer logger.Sync()

	srv, err := newServer(cfg, logger)
	if err != nil {
		return err
	}
	defer srv.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.serve(ctx)
}

// newServer wires configuration into the arena, relay, replay storage and transports.
func newServer(cfg *configpkg.Config, logger *logging.Logger) (*server, error) {
	if logger == nil {
		logger = logging.L()
	}
	srv := &server{cfg: cfg, log: logger, cleanup: func() {}}

	//1.- Tuning catalog: embedded presets unless an operator file overrides them.
	catalog := gameplay.Default()
	if cfg.TuningPath != "" {
		loaded, err := gameplay.LoadFile(cfg.TuningPath)
		if err != nil {
			return nil, fmt.Errorf("load tuning: %w", err)
		}
		catalog = loaded
	}
	if _, err := catalog.Preset(cfg.DefaultMode); err != nil {
		return nil, fmt.Errorf("default mode: %w", err)
	}

	//2.- Relay and spectator broker.
	srv.stream = relay.NewStream(relay.Config{Retain: cfg.RelayRetention})
	brokerOpts := []BrokerOption{
		WithAllowedOrigins(cfg.AllowedOrigins),
		WithClientLimits(cfg.MaxPayloadBytes, cfg.PingInterval, cfg.MaxClients),
		WithBrokerLogger(logger.With(logging.Component("broker"))),
	}
	if cfg.WSAuthSecret != "" {
		authenticator, err := newHMACWebsocketAuthenticator(cfg.WSAuthSecret)
		if err != nil {
			return nil, fmt.Errorf("websocket auth: %w", err)
		}
		brokerOpts = append(brokerOpts, WithWebsocketAuthenticator(authenticator))
	}
	srv.broker = NewBroker(srv.stream, brokerOpts...)

	//3.- Arena with optional signing, recording and on-disk bundles.
	monitor := metrics.NewRunMonitor()
	arenaOpts := []arena.Option{
		arena.WithCatalog(catalog),
		arena.WithDefaultMode(cfg.DefaultMode),
		arena.WithMaxParticipants(cfg.MaxParticipants),
		arena.WithMonitor(monitor),
		arena.WithPublisher(srv.stream),
		arena.WithLogger(logger.With(logging.Component("arena"))),
	}
	if cfg.SigningSecret != "" {
		arenaOpts = append(arenaOpts, arena.WithSigner(auth.NewSigner(cfg.SigningSecret)))
	}
	if cfg.ReplayDir != "" {
		recorder, err := replay.NewRecorder(cfg.ReplayDir, cfg.RecorderCapacity, nil)
		if err != nil {
			return nil, fmt.Errorf("replay recorder: %w", err)
		}
		srv.recorder = recorder
		srv.cleaner = replay.NewCleaner(cfg.ReplayDir, replay.RetentionPolicy{
			MaxRaces: cfg.ReplayMaxRaces,
			MaxAge:   cfg.ReplayMaxAge,
		}, logger.With(logging.Component("replay_cleaner")))
		arenaOpts = append(arenaOpts, arena.WithRecorder(recorder), arena.WithReplayDir(cfg.ReplayDir))
	}
	srv.arena = arena.New(arenaOpts...)

	//4.- HTTP surface.
	handlerOpts := httpapi.Options{
		Logger:         logger.With(logging.Component("http")),
		Readiness:      srv.broker,
		Stats:          srv.brokerStats,
		Races:          srv.arena,
		Monitor:        monitor,
		RelayRetained:  srv.stream.Len,
		AdminToken:     cfg.AdminToken,
		RateLimiter:    httpapi.NewSlidingWindowLimiter(cfg.ReplayDumpWindow, cfg.ReplayDumpBurst, nil),
		MaxBodyBytes:   cfg.MaxPayloadBytes,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	if srv.recorder != nil {
		handlerOpts.Replay = httpapi.ReplayDumperFunc(srv.dumpReplay)
		handlerOpts.ReplayStats = srv.recorder.Snapshot
		handlerOpts.StorageStats = srv.cleaner.Stats
	}
	srv.mux = http.NewServeMux()
	httpapi.NewHandlerSet(handlerOpts).Register(srv.mux)
	srv.mux.HandleFunc("/ws", srv.broker.serveWS)
	srv.mux.Handle("/api/stats", statsHandler(srv.broker))

	//5.- Optional gRPC listener.
	if cfg.GRPCAddress != "" {
		grpcServer, cleanup, err := newGRPCServer(cfg, srv.arena, logger.With(logging.Component("grpc")))
		if err != nil {
			return nil, fmt.Errorf("grpc server: %w", err)
		}
		srv.grpc = grpcServer
		srv.cleanup = cleanup
	}
	return srv, nil
}

func (s *server) brokerStats() (broadcasts, clients int) {
	stats := s.broker.Stats()
	return stats.Broadcasts, stats.Clients
}

func (s *server) dumpReplay(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.recorder.Roll(replayDumpLabel)
}

// handler returns the HTTP handler tree with trace propagation applied.
func (s *server) handler() http.Handler {
	return logging.HTTPTraceMiddleware(s.log)(s.mux)
}

// serve runs every listener until ctx is cancelled or one of them fails.
func (s *server) serve(ctx context.Context) error {
	tlsEnabled := s.cfg.TLSCertPath != ""
	httpServer := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errs := make(chan error, 2)

	if s.cleaner != nil {
		go s.cleaner.Run(ctx, replaySweepInterval)
	}

	go func() {
		s.log.Info("race server listening",
			logging.String("url", listenerURL(s.cfg.Address, tlsEnabled)),
			logging.String("spectators", spectatorURL(s.cfg.Address, tlsEnabled)),
		)
		var err error
		if tlsEnabled {
			err = httpServer.ListenAndServeTLS(s.cfg.TLSCertPath, s.cfg.TLSKeyPath)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.grpc != nil {
		listener, err := net.Listen("tcp", s.cfg.GRPCAddress)
		if err != nil {
			s.broker.SetStartupError(fmt.Errorf("grpc listen: %w", err))
			_ = httpServer.Close()
			return fmt.Errorf("grpc listen: %w", err)
		}
		go func() {
			s.log.Info("gRPC listening", logging.String("address", listener.Addr().String()))
			if err := s.grpc.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errs <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		s.log.Info("shutdown requested")
	case runErr = <-errs:
		s.log.Error("listener failed", logging.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown incomplete", logging.Error(err))
	}
	if s.recorder != nil && s.recorder.Snapshot().BufferedFrames > 0 {
		if location, err := s.recorder.Roll("shutdown"); err != nil {
			s.log.Warn("final replay dump failed", logging.Error(err))
		} else {
			s.log.Info("final replay dump written", logging.String("location", location))
		}
	}
	return runErr
}
