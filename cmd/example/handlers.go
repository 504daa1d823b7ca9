package main

import (
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/nicktill/beacon/pkg/httpx"
	"github.com/nicktill/beacon/pkg/sdk"
	"github.com/nicktill/beacon/pkg/sdk/records"
)

var errPaymentDeclined = errors.New("payment declined")

// setupHandlers configures all HTTP handlers. Every request is already
// recorded by httpx.Middleware; handlers add the shop's own events.
func setupHandlers(mux *http.ServeMux, client *sdk.Client) {
	mux.HandleFunc("/api/products", handleProducts(client))
	mux.HandleFunc("/api/cart", handleCart(client))
	mux.HandleFunc("/api/checkout", handleCheckout(client))
	mux.HandleFunc("/api/login", handleLogin(client))
	mux.HandleFunc("/api/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("simulated handler crash")
	})
	mux.HandleFunc("/health", handleHealth())
}

// handleProducts records a product list view
func handleProducts(client *sdk.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client.RecordView(r.Context(), "products")

		time.Sleep(time.Duration(30+rand.Intn(30)) * time.Millisecond)
		httpx.RespondJSON(w, http.StatusOK, map[string]any{
			"products": []map[string]any{
				{"sku": "W-1", "name": "Widget", "price": 9.99},
				{"sku": "G-2", "name": "Gadget", "price": 24.5},
			},
		})
	}
}

// handleCart adds a product to the cart and starts timing the checkout
func handleCart(client *sdk.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sku := r.URL.Query().Get("sku")
		if sku == "" {
			sku = "W-1"
		}
		client.QueueEvent(r.Context(), "add_to_cart",
			sdk.WithSegmentation(records.NewSegmentation("sku", sku)),
		)
		client.StartEvent("checkout")

		httpx.RespondJSON(w, http.StatusOK, map[string]string{"added": sku})
	}
}

// handleCheckout ends the timed checkout event with the order total.
// Some payments fail and are reported as handled exceptions.
func handleCheckout(client *sdk.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Duration(80+rand.Intn(40)) * time.Millisecond)

		if rand.Float32() < 0.1 {
			client.CancelEvent("checkout")
			client.QueueException(r.Context(), errPaymentDeclined.Error(), "", map[string]string{"provider": "demo-pay"})
			httpx.RespondError(w, http.StatusPaymentRequired, errPaymentDeclined)
			return
		}

		total := 9.99 + float64(rand.Intn(5))*24.5
		client.EndEvent(r.Context(), "checkout",
			sdk.WithSum(total),
			sdk.WithSegmentation(records.NewSegmentation("currency", "EUR")),
		)
		httpx.RespondJSON(w, http.StatusOK, map[string]any{"total": total})
	}
}

// handleLogin switches the anonymous device to the user's id, keeping the
// data recorded so far, and fills in the profile
func handleLogin(client *sdk.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Query().Get("user")
		if user == "" {
			httpx.RespondErrorString(w, http.StatusBadRequest, "user is required")
			return
		}

		client.ChangeDeviceID(r.Context(), "user-"+user, true)
		client.UpdateUserProfile(r.Context(), func(p *records.UserProfile) {
			p.SetUsername(user)
			p.SetCustom("plan", "free")
		})
		client.AddBreadcrumb("login " + user)

		httpx.RespondJSON(w, http.StatusOK, map[string]string{"device_id": client.DeviceID()})
	}
}

// handleHealth handles /health endpoint
func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"uptime": time.Since(startTime).Round(time.Second).String(),
		})
	}
}
