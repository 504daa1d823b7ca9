package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// startTrafficSimulator walks through a shopping journey against the shop
// so the collector has something to show
func startTrafficSimulator(ctx context.Context, log zerolog.Logger) {
	// Give server a moment to fully start
	time.Sleep(500 * time.Millisecond)

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	journey := []string{
		"/api/products",
		"/api/cart?sku=W-1",
		"/api/cart?sku=G-2",
		"/api/checkout",
		"/api/login?user=ada",
		"/api/products",
		"/api/panic",
	}
	log.Info().Msg("traffic simulator started, one request every 3 seconds")

	for step := 0; ; step++ {
		select {
		case <-ctx.Done():
			log.Info().Msg("traffic simulator stopped")
			return
		case <-ticker.C:
			endpoint := journey[step%len(journey)]

			resp, err := http.Get("http://localhost" + shopAddr + endpoint)
			if err != nil {
				log.Warn().Err(err).Str("endpoint", endpoint).Msg("simulated request failed")
				continue
			}
			resp.Body.Close()
			log.Debug().Int("step", step).Str("endpoint", endpoint).Int("status", resp.StatusCode).Msg("simulated request")
		}
	}
}
