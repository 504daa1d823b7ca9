package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/nicktill/beacon/pkg/sdk"
	"github.com/nicktill/beacon/pkg/sdk/request"
	"github.com/nicktill/beacon/pkg/sdk/transport"
	"github.com/nicktill/beacon/pkg/storage/memory"
)

// captureSender collects the requests the client delivers
type captureSender struct {
	mu    sync.Mutex
	paths []string
}

func (c *captureSender) Send(ctx context.Context, path string) (transport.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, path)
	return transport.Result{StatusCode: http.StatusOK, Body: `{"result":"Success"}`}, nil
}

type sentEvent struct {
	Key          string            `json:"key"`
	Duration     *float64          `json:"dur"`
	Segmentation map[string]string `json:"segmentation"`
}

type sentCrash struct {
	Name     string            `json:"_name"`
	NonFatal bool              `json:"_nonfatal"`
	Logs     string            `json:"_logs"`
	Custom   map[string]string `json:"_custom"`
}

// events decodes every event and crash the client sent
func (c *captureSender) decode(t *testing.T) ([]sentEvent, []sentCrash) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var events []sentEvent
	var crashes []sentCrash
	for _, path := range c.paths {
		params, err := request.Decode(path)
		if err != nil {
			t.Fatalf("Failed to decode %q: %v", path, err)
		}
		if raw := params.Get("events"); raw != "" {
			var batch []sentEvent
			if err := json.Unmarshal([]byte(raw), &batch); err != nil {
				t.Fatalf("Failed to decode events: %v", err)
			}
			events = append(events, batch...)
		}
		if raw := params.Get("crash"); raw != "" {
			var crash sentCrash
			if err := json.Unmarshal([]byte(raw), &crash); err != nil {
				t.Fatalf("Failed to decode crash: %v", err)
			}
			crashes = append(crashes, crash)
		}
	}
	return events, crashes
}

// waitFor decodes the sent records until at least the given number of
// events and crashes arrived
func (c *captureSender) waitFor(t *testing.T, events, crashes int) ([]sentEvent, []sentCrash) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		gotEvents, gotCrashes := c.decode(t)
		if len(gotEvents) >= events && len(gotCrashes) >= crashes {
			return gotEvents, gotCrashes
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d events and %d crashes, got %d and %d",
				events, crashes, len(gotEvents), len(gotCrashes))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// stallingSender blocks every request until released or cancelled
type stallingSender struct {
	release chan struct{}
	sent    chan string
}

func (s *stallingSender) Send(ctx context.Context, path string) (transport.Result, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return transport.Result{}, ctx.Err()
	}
	s.sent <- path
	return transport.Result{StatusCode: http.StatusOK, Body: `{"result":"Success"}`}, nil
}

func newClient(t *testing.T) (*sdk.Client, *captureSender) {
	t.Helper()
	sender := &captureSender{}
	return newClientWithSender(t, sender), sender
}

func newClientWithSender(t *testing.T, sender transport.Sender) *sdk.Client {
	t.Helper()
	client, err := sdk.New(sdk.Config{
		ServerURL: "http://collector.test",
		AppKey:    "app-key",
	}, sdk.WithSender(sender), sdk.WithBlobStore(memory.New()))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if err := client.Init(context.Background()); err != nil {
		t.Fatalf("Failed to init client: %v", err)
	}
	t.Cleanup(func() { _ = client.Shutdown(context.Background()) })
	return client
}

func TestMiddleware_BasicRequest(t *testing.T) {
	client, sender := newClient(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	wrapped := Middleware(client)(handler)

	req := httptest.NewRequest("GET", "/api/users", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	events, _ := sender.waitFor(t, 1, 0)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Key != RequestEventKey {
		t.Errorf("Expected key %q, got %q", RequestEventKey, ev.Key)
	}
	want := map[string]string{"method": "GET", "path": "/api/users", "status": "200"}
	for k, v := range want {
		if ev.Segmentation[k] != v {
			t.Errorf("Expected segmentation %s=%s, got %q", k, v, ev.Segmentation[k])
		}
	}
	if ev.Duration == nil {
		t.Error("Expected a duration")
	}
}

func TestMiddleware_ErrorStatus(t *testing.T) {
	client, sender := newClient(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Error"))
	})

	wrapped := Middleware(client)(handler)

	req := httptest.NewRequest("POST", "/api/create", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	events, _ := sender.waitFor(t, 1, 0)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Segmentation["status"] != "500" {
		t.Errorf("Expected status 500, got %q", events[0].Segmentation["status"])
	}
}

func TestMiddleware_PanicRecorded(t *testing.T) {
	client, sender := newClient(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	wrapped := Middleware(client)(handler)

	req := httptest.NewRequest("GET", "/orders/42", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}

	events, crashes := sender.waitFor(t, 1, 1)
	if len(crashes) != 1 {
		t.Fatalf("Expected 1 crash, got %d", len(crashes))
	}
	crash := crashes[0]
	if crash.Name != "boom" || !crash.NonFatal {
		t.Errorf("Unexpected crash: %+v", crash)
	}
	if crash.Logs != "GET /orders/{id}" {
		t.Errorf("Expected breadcrumb of the request, got %q", crash.Logs)
	}
	if crash.Custom["path"] != "/orders/{id}" {
		t.Errorf("Expected custom path, got %v", crash.Custom)
	}

	if len(events) != 1 || events[0].Segmentation["status"] != "500" {
		t.Errorf("Expected one event with status 500, got %+v", events)
	}
}

func TestMiddleware_MultipleRequests(t *testing.T) {
	client, sender := newClient(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrapped := Middleware(client)(handler)

	paths := []string{"/api/users", "/api/posts", "/health"}
	for _, path := range paths {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
	}

	events, _ := sender.waitFor(t, len(paths), 0)
	if len(events) != len(paths) {
		t.Fatalf("Expected %d events, got %d", len(paths), len(events))
	}
	for i, path := range paths {
		if events[i].Segmentation["path"] != path {
			t.Errorf("Event %d: expected path %s, got %s", i, path, events[i].Segmentation["path"])
		}
	}
}

func TestMiddleware_DoesNotWaitForCollector(t *testing.T) {
	sender := &stallingSender{release: make(chan struct{}), sent: make(chan string, 4)}
	client := newClientWithSender(t, sender)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrapped := Middleware(client)(handler)

	served := make(chan struct{})
	go func() {
		defer close(served)
		req := httptest.NewRequest("GET", "/x", nil)
		wrapped.ServeHTTP(httptest.NewRecorder(), req)
	}()

	// Test 1: the response is served while the collector is stalled
	select {
	case <-served:
	case <-time.After(time.Second):
		t.Fatal("Expected the request to be served without waiting for the collector")
	}

	// Test 2: the queued event is delivered once the collector answers
	close(sender.release)
	select {
	case path := <-sender.sent:
		params, err := request.Decode(path)
		if err != nil {
			t.Fatalf("Failed to decode %q: %v", path, err)
		}
		if params.Get("events") == "" {
			t.Errorf("Expected an events request, got %q", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the background uploader to send the event")
	}
}

func TestResponseWriter_CapturesStatusCode(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)
	// Test: a second WriteHeader is ignored
	rw.WriteHeader(http.StatusOK)

	if rw.statusCode != http.StatusNotFound {
		t.Errorf("Expected status code 404, got %d", rw.statusCode)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected underlying recorder to have status 404, got %d", rec.Code)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/api/users/123", "/api/users/{id}"},
		{"/posts/456/comments", "/posts/{id}/comments"},
		{"/api/users/123e4567-e89b-12d3-a456-426614174000", "/api/users/{id}"},
		{"/health", "/health"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
