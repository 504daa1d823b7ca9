package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nicktill/beacon/pkg/config"
	"github.com/nicktill/beacon/pkg/sdk"
	"github.com/nicktill/beacon/pkg/sdk/httpx"
)

const shopAddr = ":3000"

var startTime = time.Now()

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Str("service", "example-shop").Logger()

	// BEACON_SERVER_URL and BEACON_APP_KEY are required, e.g.
	//   BEACON_SERVER_URL=http://localhost:8080 BEACON_APP_KEY=demo go run ./cmd/example
	cfg, err := config.LoadSDK()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	client, err := sdk.New(cfg.ClientConfig(), sdk.WithLogger(log.With().Str("component", "beacon").Logger()))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create beacon client")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to init beacon client")
	}
	client.BeginSession(ctx)

	mux := http.NewServeMux()
	setupHandlers(mux, client)

	server := &http.Server{
		Addr:              shopAddr,
		Handler:           httpx.Middleware(client)(mux),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	go func() {
		log.Info().Str("addr", shopAddr).Str("collector", cfg.ServerURL).Msg("example shop listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	go startTrafficSimulator(ctx, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down example shop")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}
	// Ends the session and makes a last upload attempt
	if err := client.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("beacon shutdown, queued records are kept for the next run")
	}

	log.Info().Msg("example shop exited")
}
