// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/osa030/roomsync/internal/api/ws"
	"github.com/osa030/roomsync/internal/app/filter"
	"github.com/osa030/roomsync/internal/app/metadata"
	"github.com/osa030/roomsync/internal/app/notification"
	"github.com/osa030/roomsync/internal/app/session"
	"github.com/osa030/roomsync/internal/app/worker"
	"github.com/osa030/roomsync/internal/infra/config"
	"github.com/osa030/roomsync/internal/infra/coord"
	"github.com/osa030/roomsync/internal/infra/logger"
	"github.com/osa030/roomsync/internal/infra/metrics"
	"github.com/osa030/roomsync/internal/infra/spotify"
	"github.com/osa030/roomsync/internal/infra/store"
)

const heartbeatTask = "heartbeat"

var (
	app        = kingpin.New("roomsync-server", "roomsync synchronized room server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
	debugHTTP  = app.Flag("debug-http", "Run gin in debug mode").Bool()

	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("loading config: path=%s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("server error: %+v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// deferred cleanup runs even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(store.Config{
		Driver:       cfg.Store.Driver,
		DSN:          cfg.Store.DSN,
		MaxOpenConns: cfg.Store.MaxOpenConns,
		LogLevel:     cfg.Store.LogLevel,
		MaxAttempts:  cfg.Store.MaxAttempts,
		BaseDelay:    cfg.Store.RetryBase(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to open store")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return errors.Wrap(err, "failed to migrate store")
	}

	cs := openCoord(ctx, cfg.Coord)
	if cs != nil {
		defer cs.Close()
	}

	chain, err := newMetadataChain(ctx, cfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	bus := notification.NewManager(cs, m, cfg.Server.SendTimeout())
	defer bus.Close()
	go func() {
		if err := bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zlog.Error().Msgf("notification relay stopped: error=%v", err)
		}
	}()

	sessionMgr, err := session.NewManager(session.Deps{
		Config:   cfg,
		Store:    db,
		Coord:    cs,
		Bus:      bus,
		Metadata: chain,
		Metrics:  m,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create session manager")
	}

	backend := worker.ProbeBackend(ctx, cfg.Worker.LockDir, cs, cfg.Worker.LeaseTTL())
	if closer, ok := backend.(io.Closer); ok {
		defer closer.Close()
	}
	supervisor := worker.NewSupervisor(backend, cfg.Worker.Slots)
	heartbeat := worker.NewHeartbeat(sessionMgr, cfg.Worker.HeartbeatInterval(), cfg.Worker.HeartbeatTimeout())
	if _, err := supervisor.Start(ctx, heartbeatTask, heartbeat); err != nil {
		zlog.Warn().Msgf("heartbeat not started: backend=%s error=%v", backend.Name(), err)
	}

	checks := map[string]ws.HealthCheck{"store": db.Ping}
	if cs != nil {
		checks["coord"] = cs.Ping
	}
	handler := ws.NewHandler(sessionMgr, bus, m, cfg.Server.AllowedOrigins, cfg.Server.HandlerTimeout())
	router := ws.NewRouter(ws.RouterConfig{
		Secret:         cfg.Auth.Secret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Debug:          *debugHTTP,
		Checks:         checks,
	}, sessionMgr, handler, m)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(router, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("starting server: addr=%s", cfg.Server.Addr)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("received shutdown signal...")
	case err := <-serverErrCh:
		return errors.Wrap(err, "server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("failed to shutdown server: %v", err)
	}

	// Stop background work before closing the store it writes to
	cancel()
	supervisor.Wait()
	sessionMgr.Close()

	zlog.Info().Msg("server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// openCoord connects the coordination store. Without one the server still
// runs as a single process: fallback timers are disabled and disconnects
// remove users immediately.
func openCoord(ctx context.Context, cfg config.CoordConfig) coord.Store {
	switch cfg.Driver {
	case "memory":
		zlog.Info().Msg("coordination store: in-process memory")
		return coord.NewMemoryStore()
	case "none":
		zlog.Warn().Msg("coordination store disabled")
		return nil
	}

	rs := coord.NewRedisStore(coord.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Timeout:  cfg.Timeout(),
	})
	if err := rs.Ping(ctx); err != nil {
		zlog.Warn().Msgf("coordination store unreachable, running degraded: addr=%s error=%v", cfg.Addr, err)
		_ = rs.Close()
		return nil
	}
	zlog.Info().Msgf("coordination store: redis addr=%s db=%d", cfg.Addr, cfg.DB)
	return rs
}

func newMetadataChain(ctx context.Context, cfg *config.Config) (*metadata.ProviderChain, error) {
	var client metadata.SpotifyClient
	if cfg.HasProvider("spotify") {
		sc, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create Spotify client")
		}
		client = sc
	}

	chain, err := metadata.NewProviderChainFromConfig(cfg, client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create metadata providers")
	}
	return chain, nil
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	for _, factory := range filter.GetRegistered() {
		f := factory()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("executing hooks: stage=%s count=%d", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("failed to execute hook: %s", hook)
		}
	}
}
