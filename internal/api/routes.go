package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/config"
	"groundzero-sync-service/internal/connection"
	"groundzero-sync-service/internal/dataaccess"
	"groundzero-sync-service/internal/logger"
	"groundzero-sync-service/internal/realtime"
	"groundzero-sync-service/internal/store"
	"groundzero-sync-service/internal/sync"
)

type Handler struct {
	cfg         config.ServerConfig
	syncManager *sync.Manager
	controller  *connection.Controller
	router      *dataaccess.Router
	distributor *realtime.Distributor
	store       store.Store
}

func NewHandler(cfg config.ServerConfig, manager *sync.Manager, ctrl *connection.Controller, router *dataaccess.Router, dist *realtime.Distributor, st store.Store) *Handler {
	return &Handler{
		cfg:         cfg,
		syncManager: manager,
		controller:  ctrl,
		router:      router,
		distributor: dist,
		store:       st,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware(h.cfg.CorsOrigins))

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(h.cfg.AuthToken))

		r.Post("/sync/trigger", h.TriggerSync)
		r.Get("/sync/status", h.GetSyncStatus)
		r.Get("/sync/history", h.GetSyncHistory)
		r.Get("/conflicts", h.ListConflicts)

		r.Get("/mode", h.GetMode)
		r.Put("/mode", h.PutMode)
		r.Put("/network", h.PutNetwork)

		r.Get("/data/{table}", h.FetchRecords)
		r.Post("/data/{table}", h.InsertRecord)
		r.Patch("/data/{table}/{id}", h.UpdateRecord)
		r.Delete("/data/{table}/{id}", h.DeleteRecord)

		r.Get("/realtime/{table}", h.Realtime)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	res, err := h.syncManager.Trigger(r.Context())
	if errors.Is(err, sync.ErrNotCloud) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.syncManager.Status(r.Context()))
}

func (h *Handler) GetSyncHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset := paging(r)
	history, err := h.store.GetSyncHistory(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	limit, offset := paging(r)
	table := r.URL.Query().Get("table")
	if table != "" {
		if err := backend.CheckTable(table); err != nil {
			writeError(w, err)
			return
		}
	}
	conflicts, err := h.store.ListConflicts(r.Context(), table, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conflicts)
}

func (h *Handler) GetMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

type modeRequest struct {
	ForcedLAN   *bool   `json:"forced_lan"`
	LANEndpoint *string `json:"lan_endpoint"`
}

func (h *Handler) PutMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	if req.LANEndpoint != nil {
		if err := h.controller.SetLANEndpoint(r.Context(), *req.LANEndpoint); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.ForcedLAN != nil {
		if err := h.controller.SetForcedLAN(r.Context(), *req.ForcedLAN); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

type networkRequest struct {
	Online bool `json:"online"`
}

// PutNetwork relays platform online/offline signals to the controller.
func (h *Handler) PutNetwork(w http.ResponseWriter, r *http.Request) {
	var req networkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	h.controller.SetReachable(req.Online)
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

func paging(r *http.Request) (limit, offset int) {
	limit, offset = 50, 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case backend.IsConfiguration(err):
		status = http.StatusBadRequest
	case errors.Is(err, backend.ErrNotFound):
		status = http.StatusNotFound
	case backend.IsTransient(err):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logger.Log.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
