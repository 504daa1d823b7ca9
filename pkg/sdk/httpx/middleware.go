package httpx

import (
	"fmt"
	"net/http"
	"regexp"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/nicktill/beacon/pkg/sdk"
	"github.com/nicktill/beacon/pkg/sdk/records"
)

// RequestEventKey is the event recorded for every served request
const RequestEventKey = "http_request"

var (
	numericIDRe = regexp.MustCompile(`/\d+`)
	uuidRe      = regexp.MustCompile(`/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

// Middleware returns HTTP middleware that records every request with the
// beacon client. Records are only queued; the client's background
// uploader delivers them, so responses never wait on the collector. It
// records:
//   - a breadcrumb "METHOD path" before the handler runs
//   - an http_request event segmented by method, path and status, with
//     the handler duration in seconds
//   - a handled exception when the handler panics; the client gets a 500
//
// Usage:
//
//	client, _ := sdk.New(sdk.Config{...})
//	client.Init(ctx)
//	defer client.Shutdown(context.Background())
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/", handler)
//	http.ListenAndServe(":8080", httpx.Middleware(client)(mux))
func Middleware(client *sdk.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)
			client.AddBreadcrumb(r.Method + " " + path)

			// Wrap ResponseWriter to capture status code
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					client.QueueException(r.Context(), fmt.Sprint(rec), string(debug.Stack()),
						map[string]string{"method": r.Method, "path": path})
					if !rw.wroteHeader {
						http.Error(rw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					}
				}

				seg := records.NewSegmentation(
					"method", r.Method,
					"path", path,
					"status", strconv.Itoa(rw.statusCode),
				)
				client.QueueEvent(r.Context(), RequestEventKey,
					sdk.WithSegmentation(seg),
					sdk.WithDuration(time.Since(start).Seconds()),
				)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// normalizePath normalizes paths to keep segmentation values bounded.
// Examples:
//   - /api/users/123 → /api/users/{id}
//   - /posts/456/comments → /posts/{id}/comments
//   - /api/users/<uuid> → /api/users/{id}
func normalizePath(path string) string {
	path = uuidRe.ReplaceAllString(path, "/{id}")
	return numericIDRe.ReplaceAllString(path, "/{id}")
}
