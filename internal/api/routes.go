package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/connectivity"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/guard"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/queue"
	syncpkg "github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/sync"
)

// Handler exposes the agent's surface: the mutation entry point plus
// diagnostics for connectivity, feed state, and queue introspection.
type Handler struct {
	feedSync  *syncpkg.FeedSync
	drainer   *syncpkg.Drainer
	writer    *syncpkg.Writer
	queue     *queue.Queue
	monitor   *connectivity.Monitor
	authToken string
}

func NewHandler(feedSync *syncpkg.FeedSync, drainer *syncpkg.Drainer, writer *syncpkg.Writer,
	q *queue.Queue, monitor *connectivity.Monitor, authToken string) *Handler {
	return &Handler{
		feedSync:  feedSync,
		drainer:   drainer,
		writer:    writer,
		queue:     q,
		monitor:   monitor,
		authToken: authToken,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(h.authToken))

		r.Get("/sync/status", h.GetSyncStatus)
		r.Post("/sync/drain", h.TriggerDrain)
		r.Post("/mutations", h.ApplyMutation)
		r.Get("/queue", h.GetQueueStats)
		r.Post("/queue/clear", h.ClearQueue)
		r.Get("/connectivity", h.GetConnectivity)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"state": string(h.feedSync.State())})
}

func (h *Handler) TriggerDrain(w http.ResponseWriter, r *http.Request) {
	// The drain outlives the request; the request context is canceled the
	// moment this handler returns.
	go h.drainer.Drain(context.Background())
	writeJSON(w, map[string]string{"status": "draining"})
}

// ApplyMutation runs a write through the online/offline path: applied
// directly while online, queued while offline, rejected outright for
// online-only operations attempted offline.
func (h *Handler) ApplyMutation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Operation string                 `json:"operation"`
		Table     string                 `json:"table"`
		Type      queue.Op               `json:"type"`
		Data      map[string]interface{} `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Table == "" || !req.Type.Valid() {
		http.Error(w, "table and a valid type are required", http.StatusBadRequest)
		return
	}

	m := queue.Mutation{Table: req.Table, Op: req.Type, Data: req.Data}
	err := h.writer.Apply(r.Context(), req.Operation, m)

	var rcErr *guard.RequiresConnectionError
	switch {
	case err == nil:
		// Applied directly or queued for replay; either way it is accepted.
		writeJSON(w, map[string]string{"status": "accepted"})
	case errors.As(err, &rcErr):
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]string{"error": rcErr.Error()})
	case errors.Is(err, queue.ErrQueueFull):
		w.WriteHeader(http.StatusTooManyRequests)
		writeJSON(w, map[string]string{"error": err.Error()})
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	size, err := h.queue.Size(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"size":    size,
		"dropped": h.drainer.DroppedCount(),
	})
}

func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Clear(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "cleared"})
}

func (h *Handler) GetConnectivity(w http.ResponseWriter, r *http.Request) {
	st := h.monitor.CurrentState()
	writeJSON(w, map[string]bool{
		"isOnline":             st.IsOnline,
		"isFeedConnected":      st.IsFeedConnected,
		"showOfflineIndicator": st.ShowOfflineIndicator,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware enforces a static bearer token when one is configured.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
