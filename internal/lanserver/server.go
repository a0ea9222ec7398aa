package lanserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/logger"
)

// Server exposes the repository as /api/{table} and the hub as /ws.
type Server struct {
	repo *Repository
	hub  *Hub
	// publishWrites broadcasts this server's own writes. It is off when a
	// binlog listener already publishes every change.
	publishWrites bool
}

func NewServer(repo *Repository, hub *Hub, publishWrites bool) *Server {
	return &Server{repo: repo, hub: hub, publishWrites: publishWrites}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.hub.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Get("/{table}", s.list)
		r.Post("/{table}", s.insert)
		r.Patch("/{table}/{id}", s.update)
		r.Delete("/{table}/{id}", s.delete)
	})

	return r
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	filters := map[string]string{}
	for k, v := range r.URL.Query() {
		filters[k] = v[0]
	}
	recs, err := s.repo.List(r.Context(), chi.URLParam(r, "table"), filters)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) insert(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	var rec backend.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := s.repo.Insert(r.Context(), table, rec); err != nil {
		writeError(w, err)
		return
	}
	id, _ := rec.ID()
	s.publish(backend.Change{Table: table, Type: backend.ChangeInsert, RecordID: id, Record: rec})
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	table, id := chi.URLParam(r, "table"), chi.URLParam(r, "id")
	var patch backend.Record
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := s.repo.Update(r.Context(), table, id, patch); err != nil {
		writeError(w, err)
		return
	}

	change := backend.Change{Table: table, Type: backend.ChangeUpdate, RecordID: id}
	if rec, err := s.repo.Get(r.Context(), table, id); err == nil {
		change.Record = rec
	}
	s.publish(change)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	table, id := chi.URLParam(r, "table"), chi.URLParam(r, "id")
	if err := s.repo.Delete(r.Context(), table, id); err != nil {
		writeError(w, err)
		return
	}
	s.publish(backend.Change{Table: table, Type: backend.ChangeDelete, RecordID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) publish(c backend.Change) {
	if s.publishWrites {
		s.hub.Broadcast(c)
	}
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
	case errors.Is(err, ErrUnknownTable), errors.Is(err, backend.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		logger.Log.Error("LAN request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
