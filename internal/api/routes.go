package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fleetsync/internal/config"
	"fleetsync/internal/data"
	"fleetsync/internal/store"
	syncpkg "fleetsync/internal/sync"
)

// Handler is the local HTTP surface the worker UI talks to: entity reads,
// sync control, and queue management.
type Handler struct {
	cfg    config.ServerConfig
	coord  *syncpkg.Coordinator
	facade *data.Facade
	store  store.Store
}

func NewHandler(cfg config.ServerConfig, coord *syncpkg.Coordinator, facade *data.Facade, st store.Store) *Handler {
	return &Handler{
		cfg:    cfg,
		coord:  coord,
		facade: facade,
		store:  st,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(h.cfg.CorsOrigins))

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMiddleware(h.cfg.AuthToken))

		r.Post("/sync/trigger", h.TriggerSync)
		r.Get("/sync/status", h.GetSyncStatus)

		r.Get("/queue", h.ListQueue)
		r.Get("/queue/failed", h.ListFailedQueue)
		r.Post("/queue/{id}/retry", h.RetryQueueItem)
		r.Delete("/queue/{id}", h.DiscardQueueItem)
		r.Delete("/queue", h.ClearQueue)

		r.Delete("/cache", h.ClearCache)
		r.Delete("/cache/{key}", h.DeleteCacheEntry)

		r.Get("/cars", h.GetCars)
		r.Get("/cars/available", h.GetAvailableCars)
		r.Get("/rentals", h.GetRentals)
		r.Get("/rentals/today", h.GetTodayRentals)
		r.Get("/schedule/today", h.GetTodaySchedule)
		r.Get("/customers", h.GetCustomers)
		r.Get("/dashboard/stats", h.GetDashboardStats)
		r.Get("/payments", h.GetPayments)

		r.Post("/changes", h.ApplyChange)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if !h.coord.IsOnline() {
		writeError(w, http.StatusConflict, "offline, cannot sync")
		return
	}
	go func() {
		_ = h.coord.Drain(context.Background())
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coord.Status())
}

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.QueueListPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, queuePayload(items))
}

func (h *Handler) ListFailedQueue(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.QueueListFailed(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, queuePayload(items))
}

func (h *Handler) RetryQueueItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid queue id")
		return
	}
	if err := h.coord.RetryMutation(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "retried"})
}

func (h *Handler) DiscardQueueItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid queue id")
		return
	}
	if err := h.coord.DiscardMutation(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "discarded"})
}

// ClearQueue drops every queued mutation, applied or not. Destructive;
// meant for abandoning a poisoned queue after the writes were redone by hand.
func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.ClearQueue(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.store.CacheClear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *Handler) DeleteCacheEntry(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.store.CacheDelete(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) GetCars(w http.ResponseWriter, r *http.Request) {
	cars, err := h.facade.GetCars(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cars)
}

func (h *Handler) GetAvailableCars(w http.ResponseWriter, r *http.Request) {
	cars, err := h.facade.GetAvailableCars(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cars)
}

func (h *Handler) GetRentals(w http.ResponseWriter, r *http.Request) {
	rentals, err := h.facade.GetRentals(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rentals)
}

func (h *Handler) GetTodayRentals(w http.ResponseWriter, r *http.Request) {
	rentals, err := h.facade.GetTodayRentals(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rentals)
}

func (h *Handler) GetTodaySchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.facade.GetTodaySchedule(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if schedule == nil {
		schedule = []data.ScheduleEntry{}
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (h *Handler) GetCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.facade.GetCustomers(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if customers == nil {
		customers = []data.Customer{}
	}
	writeJSON(w, http.StatusOK, customers)
}

func (h *Handler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.facade.GetDashboardStats(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) GetPayments(w http.ResponseWriter, r *http.Request) {
	snap, err := h.facade.GetPayments(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ApplyChange accepts an external change-feed event and folds it into the
// local cache.
func (h *Handler) ApplyChange(w http.ResponseWriter, r *http.Request) {
	var ev syncpkg.ChangeEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid change event")
		return
	}
	if err := h.coord.ApplyRemoteChange(r.Context(), ev); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

type queueItem struct {
	ID         int64           `json:"id"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	Payload    json.RawMessage `json:"payload"`
	Status     string          `json:"status"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
	EnqueuedAt int64           `json:"enqueued_at"`
}

func queuePayload(items []*store.QueuedMutation) []queueItem {
	out := make([]queueItem, 0, len(items))
	for _, m := range items {
		qi := queueItem{
			ID:         m.ID,
			Action:     string(m.Action),
			Resource:   m.Resource,
			Payload:    m.Payload,
			Status:     string(m.Status),
			Attempts:   m.Attempts,
			EnqueuedAt: m.EnqueuedAt.UnixMilli(),
		}
		if m.LastError.Valid {
			qi.LastError = m.LastError.String
		}
		out = append(out, qi)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
