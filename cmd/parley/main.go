package main

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/parley/internal/config"
	"github.com/luciancaetano/parley/internal/dispatch"
	"github.com/luciancaetano/parley/internal/lifecycle"
	"github.com/luciancaetano/parley/internal/pool"
	"github.com/luciancaetano/parley/internal/room"
	"github.com/luciancaetano/parley/ws"
)

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	logger = logger.Level(cfg.LogLevel)

	registry, err := room.NewRegistry(logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create room registry")
	}
	workers := pool.New(cfg.Workers, cfg.QueueSize, logger)
	dispatcher := dispatch.New(registry, workers, logger)
	lc := lifecycle.New(registry, workers, logger)

	checkOrigin := ws.AllOrigins()
	if !cfg.AllowsAllOrigins() {
		checkOrigin = ws.OriginList(cfg.AllowedOrigins)
	}

	rateLimit := ws.NoRateLimit()
	if cfg.RateLimitEnabled {
		rateLimit = ws.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	}

	serverCfg := ws.NewConfig(cfg.Addr(), rateLimit, checkOrigin, lc.OnConnect, lc.OnDisconnect)
	serverCfg.MaxMessageSize = cfg.MaxMessageSize
	serverCfg.AllowedOrigins = cfg.AllowedOrigins
	serverCfg.RoomLister = registry.ListCodes
	serverCfg.Logger = logger

	server := ws.New(serverCfg)
	server.SetMessageHandler(dispatcher.HandleMessage)
	lc.Bind(server)

	if err := server.Start(context.Background()); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Addr()).Msg("failed to start server")
	}

	logger.Info().
		Str("addr", cfg.Addr()).
		Str("env", cfg.Env).
		Int("workers", cfg.Workers).
		Msg("parley listening, type 'done' or press Ctrl+C to stop")

	go watchStdin(logger)

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"parley": func(ctx context.Context) error {
				logger.Info().Msg("graceful shutdown initiated")
				return lc.Shutdown(ctx)
			},
		},
	)

	exitCode := <-wait
	logger.Info().Int("exit_code", exitCode).Msg("server stopped")
	os.Exit(exitCode)
}

// watchStdin interrupts the process when an operator types "done".
func watchStdin(logger zerolog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "done" {
			continue
		}
		logger.Info().Msg("shutdown requested from stdin")
		self, err := os.FindProcess(os.Getpid())
		if err != nil {
			logger.Error().Err(err).Msg("failed to find own process")
			return
		}
		if err := self.Signal(os.Interrupt); err != nil {
			logger.Error().Err(err).Msg("failed to signal shutdown")
		}
		return
	}
}
