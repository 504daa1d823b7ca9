package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// MaxGetURLLength is the longest URL sent as a GET. Longer requests are
// posted as a form.
const MaxGetURLLength = 2000

// maxBodyBytes caps how much of a response body is read
const maxBodyBytes = 64 << 10

// Sender defines the interface for delivering rendered requests
type Sender interface {
	Send(ctx context.Context, path string) (Result, error)
}

// PictureSender is implemented by senders that can post a user picture
// alongside a rendered request
type PictureSender interface {
	SendPicture(ctx context.Context, path string, picture io.Reader) (Result, error)
}

// Result is the collector's answer to one request
type Result struct {
	StatusCode int
	Body       string
}

// Success reports a 2xx response whose JSON body carries a "result" key
func (r Result) Success() bool {
	if r.StatusCode < 200 || r.StatusCode >= 300 {
		return false
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		return false
	}
	_, ok := body["result"]
	return ok
}

// BadRequest reports a response the collector will never accept, so
// retrying it is pointless
func (r Result) BadRequest() bool {
	return r.StatusCode == http.StatusBadRequest || r.StatusCode == http.StatusNotFound
}

// HTTPSender implements Sender using HTTP
type HTTPSender struct {
	serverURL string
	client    *http.Client
}

// NewHTTP creates a new HTTP sender for the collector at serverURL
func NewHTTP(serverURL string, timeout time.Duration) (*HTTPSender, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", serverURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSender{
		serverURL: strings.TrimRight(serverURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Send delivers a rendered "/i?..." request path
func (t *HTTPSender) Send(ctx context.Context, path string) (Result, error) {
	if path == "" {
		return Result{}, fmt.Errorf("empty request")
	}

	full := t.serverURL + path

	var req *http.Request
	var err error
	if len(full) > MaxGetURLLength {
		endpoint, query, _ := strings.Cut(full, "?")
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(query))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}

	return t.do(req)
}

// SendPicture posts picture as the raw request body to the rendered
// "/i?..." path. The content type is sniffed from the image.
func (t *HTTPSender) SendPicture(ctx context.Context, path string, picture io.Reader) (Result, error) {
	if path == "" {
		return Result{}, fmt.Errorf("empty request")
	}
	if picture == nil {
		return Result{}, fmt.Errorf("empty picture")
	}

	body := bufio.NewReader(picture)
	head, err := body.Peek(512)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return Result{}, fmt.Errorf("failed to read picture: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.serverURL+path, body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", http.DetectContentType(head))

	return t.do(req)
}

func (t *HTTPSender) do(req *http.Request) (Result, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{StatusCode: resp.StatusCode}, fmt.Errorf("failed to read response: %w", err)
	}

	return Result{StatusCode: resp.StatusCode, Body: string(body)}, nil
}
