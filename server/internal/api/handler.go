package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/obsidianstack/prioritymq/server/internal/alerts"
	"github.com/obsidianstack/prioritymq/server/internal/ratelimit"
	"github.com/obsidianstack/prioritymq/server/internal/store"
)

// maxBodyBytes caps the size of a POST /add body.
const maxBodyBytes = 64 << 10

// ClientCounter reports how many stream clients are connected.
type ClientCounter interface {
	Count() int
}

// Option configures a Handler.
type Option func(*Handler)

// WithStreamClients exposes the stream hub's client count on /metrics.
func WithStreamClients(c ClientCounter) Option {
	return func(h *Handler) { h.streams = c }
}

// Handler is the HTTP handler for all broker endpoints.
type Handler struct {
	store   *store.Store
	alerts  *alerts.Engine
	limiter *ratelimit.Manager
	streams ClientCounter
	mux     *http.ServeMux
}

// New creates a Handler wired to the given store and registers all routes.
// alertEngine and limiter may be nil.
func New(st *store.Store, alertEngine *alerts.Engine, limiter *ratelimit.Manager, opts ...Option) *Handler {
	h := &Handler{
		store:   st,
		alerts:  alertEngine,
		limiter: limiter,
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.mux.HandleFunc("/add", h.add)
	h.mux.HandleFunc("/pop", h.pop)
	h.mux.HandleFunc("/find/", h.find) // subtree: extracts {id}
	h.mux.HandleFunc("/list", h.list)
	h.mux.HandleFunc("/stats", h.stats)
	h.mux.HandleFunc("/alerts", h.listAlerts)
	h.mux.HandleFunc("/health", h.health)
	h.mux.HandleFunc("/metrics", h.metrics)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// add handles POST /add: admits one message.
func (h *Handler) add(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.limiter.AllowAdmit(r) {
		slog.Warn("api: admission rate limited", "client", h.limiter.Key(r))
		jsonErr(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req AddRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.ID == nil || req.Priority == nil || req.Timestamp == nil {
		jsonErr(w, http.StatusBadRequest, "id, priority and timestamp are required")
		return
	}

	if err := h.store.Admit(*req.ID, int(*req.Priority), *req.Timestamp); err != nil {
		var ae *store.AdmissionError
		if !errors.As(err, &ae) {
			jsonErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		slog.Debug("api: admission rejected",
			"id", *req.ID, "reason", ae.Reason.String())
		jsonErr(w, admissionStatus(ae.Reason), ae.Error())
		return
	}

	slog.Debug("api: message admitted",
		"id", *req.ID, "priority", int(*req.Priority), "timestamp", *req.Timestamp)
	jsonResp(w, http.StatusOK, AddResponse{Message: fmt.Sprintf("Message %s added", *req.ID)})
}

// pop handles GET /pop: removes and returns the highest-priority message.
func (h *Handler) pop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id, ok := h.store.PopHighest()
	if !ok {
		jsonResp(w, http.StatusOK, PopResponse{})
		return
	}
	slog.Debug("api: message popped", "id", id)
	jsonResp(w, http.StatusOK, PopResponse{ID: &id})
}

// find handles GET /find/{id}: looks up a live message without removing it.
func (h *Handler) find(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/find/")
	if id == "" {
		jsonErr(w, http.StatusBadRequest, "message id is required")
		return
	}

	e, ok := h.store.FindByID(id)
	if !ok {
		jsonResp(w, http.StatusOK, nil)
		return
	}
	jsonResp(w, http.StatusOK, FindResponse{Priority: e.Priority, Timestamp: e.Timestamp})
}

// list handles GET /list: all live ids in pop order.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.store.ListAll())
}

// stats handles GET /stats: store counters.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.store.Stats())
}

// listAlerts handles GET /alerts: firing and recently resolved alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.alerts == nil {
		jsonResp(w, http.StatusOK, []*alerts.Alert{})
		return
	}
	jsonResp(w, http.StatusOK, h.alerts.Active())
}

// health handles GET /health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{Status: "ok", Depth: h.store.Len()})
}

// --- helpers ----------------------------------------------------------------

// admissionStatus maps a rejection reason to an HTTP status code.
func admissionStatus(r store.Reason) int {
	if r == store.DuplicateID {
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
