// Package collector is a small stand-in for the analytics server. It accepts
// SDK requests on /i, keeps the most recent ones for inspection and streams
// them to WebSocket clients. It is meant for local development and failure
// drills, not for production traffic.
package collector

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/nicktill/beacon/pkg/httpx"
)

// maxBodyBytes caps a posted request body
const maxBodyBytes = 1 << 20

const checksumParam = "checksum256"

var (
	errMissingIdentity = errors.New("app_key and device_id are required")
	errBadChecksum     = errors.New("checksum256 does not match")
)

// Request is one decoded SDK request
type Request struct {
	ReceivedAt   time.Time         `json:"received_at"`
	Method       string            `json:"method"`
	Kinds        []string          `json:"kinds"`
	Params       map[string]string `json:"params"`
	PictureBytes int               `json:"picture_bytes,omitempty"`
	PictureType  string            `json:"picture_type,omitempty"`
}

// HasKind reports whether the request carries kind
func (r Request) HasKind(kind string) bool {
	for _, k := range r.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// kindParams maps a request kind to the parameter that marks it
var kindParams = []struct {
	kind  string
	param string
}{
	{"begin_session", "begin_session"},
	{"session_update", "session_duration"},
	{"end_session", "end_session"},
	{"events", "events"},
	{"crash", "crash"},
	{"user_details", "user_details"},
	{"consent", "consent"},
	{"location", "location"},
	{"location", "city"},
	{"merge", "old_device_id"},
	{"direct", "dr"},
}

func kindsOf(params url.Values) []string {
	var kinds []string
	seen := make(map[string]bool)
	for _, kp := range kindParams {
		if _, ok := params[kp.param]; ok && !seen[kp.kind] {
			seen[kp.kind] = true
			kinds = append(kinds, kp.kind)
		}
	}
	return kinds
}

// Config holds configuration for the handler
type Config struct {
	RecentRequests int
	ForceStatus    int
	Salt           string
}

// Handler serves the collector endpoints
type Handler struct {
	recent      *Recent
	hub         *Hub
	salt        string
	forceStatus atomic.Int32
	log         zerolog.Logger
}

// NewHandler creates a new collector handler. hub may be nil.
func NewHandler(cfg Config, hub *Hub, log zerolog.Logger) *Handler {
	h := &Handler{
		recent: NewRecent(cfg.RecentRequests),
		hub:    hub,
		salt:   cfg.Salt,
		log:    log,
	}
	h.forceStatus.Store(int32(cfg.ForceStatus))
	return h
}

// Routes registers the collector endpoints on router
func (h *Handler) Routes(router *mux.Router) {
	router.HandleFunc("/i", h.HandleIngest).Methods("GET", "POST")
	router.HandleFunc("/requests", h.HandleRequests).Methods("GET")
	router.HandleFunc("/requests", h.HandleReset).Methods("DELETE")
	router.HandleFunc("/control/status", h.HandleForceStatus).Methods("PUT")
	router.HandleFunc("/health", h.HandleHealth).Methods("GET")
	if h.hub != nil {
		router.HandleFunc("/ws", h.hub.HandleWebSocket).Methods("GET")
	}
}

// Recent returns the store of received requests
func (h *Handler) Recent() *Recent {
	return h.recent
}

// SetForceStatus makes every following /i request fail with status.
// Zero restores normal operation.
func (h *Handler) SetForceStatus(status int) {
	h.forceStatus.Store(int32(status))
}

// HandleIngest accepts one SDK request
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if status := int(h.forceStatus.Load()); status != 0 {
		h.log.Debug().Int("status", status).Msg("forced failure")
		httpx.RespondErrorString(w, status, "forced status")
		return
	}

	raw, picture, err := rawQuery(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if h.salt != "" && !validChecksum(raw, h.salt) {
		h.log.Warn().Msg("request checksum mismatch")
		httpx.RespondError(w, http.StatusBadRequest, errBadChecksum)
		return
	}

	params, err := url.ParseQuery(raw)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if params.Get("app_key") == "" || params.Get("device_id") == "" {
		httpx.RespondError(w, http.StatusBadRequest, errMissingIdentity)
		return
	}

	req := Request{
		ReceivedAt: time.Now().UTC(),
		Method:     r.Method,
		Kinds:      kindsOf(params),
		Params:     make(map[string]string, len(params)),
	}
	for k, v := range params {
		if k == checksumParam || len(v) == 0 {
			continue
		}
		req.Params[k] = v[0]
	}
	if len(picture) > 0 {
		req.Kinds = append(req.Kinds, "picture")
		req.PictureBytes = len(picture)
		req.PictureType = http.DetectContentType(picture)
	}

	h.recent.Add(req)
	if h.hub != nil {
		if err := h.hub.Broadcast(req); err != nil {
			h.log.Warn().Err(err).Msg("failed to broadcast request")
		}
	}

	h.log.Info().
		Str("device_id", req.Params["device_id"]).
		Strs("kinds", req.Kinds).
		Msg("request received")

	httpx.RespondJSON(w, http.StatusOK, map[string]string{"result": "Success"})
}

// HandleRequests lists the received requests, optionally filtered with
// ?kind= and ?device_id=
func (h *Handler) HandleRequests(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	deviceID := r.URL.Query().Get("device_id")

	out := make([]Request, 0)
	for _, req := range h.recent.List() {
		if kind != "" && !req.HasKind(kind) {
			continue
		}
		if deviceID != "" && req.Params["device_id"] != deviceID {
			continue
		}
		out = append(out, req)
	}

	httpx.RespondJSON(w, http.StatusOK, map[string]any{
		"requests": out,
		"count":    len(out),
		"total":    h.recent.Total(),
	})
}

// HandleReset drops the received requests
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	h.recent.Reset()
	w.WriteHeader(http.StatusNoContent)
}

type forceStatusRequest struct {
	Status int `json:"status"`
}

// HandleForceStatus sets or clears the forced failure status
func (h *Handler) HandleForceStatus(w http.ResponseWriter, r *http.Request) {
	var body forceStatusRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if body.Status != 0 && (body.Status < 100 || body.Status > 599) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "status must be 0 or a valid HTTP status")
		return
	}

	h.SetForceStatus(body.Status)
	h.log.Info().Int("status", body.Status).Msg("forced status updated")
	httpx.RespondJSON(w, http.StatusOK, body)
}

// HandleHealth reports collector status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":   "healthy",
		"received": h.recent.Total(),
	}
	if h.hub != nil {
		resp["live_clients"] = h.hub.Clients()
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}

// rawQuery returns the undecoded parameters: the query string of a GET,
// or the form body of a POST. Any other POST body is a user picture and
// is returned separately.
func rawQuery(r *http.Request) (query string, picture []byte, err error) {
	if r.Method != http.MethodPost {
		return r.URL.RawQuery, nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return "", nil, err
	}
	if len(body) == 0 {
		return r.URL.RawQuery, nil, nil
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/x-www-form-urlencoded" {
		return r.URL.RawQuery, body, nil
	}
	return string(body), nil, nil
}

// validChecksum checks the trailing checksum256 parameter, a SHA-256 of
// the preceding query string and the salt
func validChecksum(raw, salt string) bool {
	marker := "&" + checksumParam + "="
	i := strings.LastIndex(raw, marker)
	if i < 0 {
		return false
	}
	sum := sha256.Sum256([]byte(raw[:i] + salt))
	want := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(want), []byte(raw[i+len(marker):])) == 1
}
