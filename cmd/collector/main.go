package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/nicktill/beacon/pkg/collector"
	"github.com/nicktill/beacon/pkg/config"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Str("service", "collector").Logger()

	cfg, err := config.LoadCollector()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		log = log.Level(zerolog.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Live tail hub
	hub := collector.NewHub(log.With().Str("component", "hub").Logger())
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	handler := collector.NewHandler(collector.Config{
		RecentRequests: cfg.RecentRequests,
		ForceStatus:    cfg.ForceStatus,
		Salt:           cfg.Salt,
	}, hub, log.With().Str("component", "ingest").Logger())

	router := mux.NewRouter()

	// CORS middleware for browser SDKs
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	handler.Routes(router)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		ReadTimeout:       config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Int("recent_requests", cfg.RecentRequests).
			Int("force_status", cfg.ForceStatus).
			Bool("checksum", cfg.Salt != "").
			Msg("collector listening")
		log.Info().Msg("endpoints: GET|POST /i, GET|DELETE /requests, PUT /control/status, GET /ws, GET /health")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received")

	// Cancel first so hub.Run returns before wg.Wait
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Uint64("received", handler.Recent().Total()).Msg("collector exited cleanly")
	case <-time.After(5 * time.Second):
		log.Warn().Msg("background tasks did not stop in time")
	}
}
