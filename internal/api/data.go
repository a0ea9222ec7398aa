package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"groundzero-sync-service/internal/backend"
)

// Reserved query parameters on GET /data/{table}; every other parameter is
// an equality filter.
const (
	paramOrder     = "order"
	paramAscending = "ascending"
	paramLimit     = "limit"
	paramILike     = "ilike"
	paramIsNull    = "is_null"
)

func queryOptions(r *http.Request) (backend.QueryOptions, error) {
	q := r.URL.Query()
	opts := backend.QueryOptions{Filters: map[string]any{}}

	for key, vals := range q {
		switch key {
		case paramOrder:
			opts.OrderBy = &backend.Order{Column: vals[0]}
		case paramAscending, paramLimit, paramILike, paramIsNull, "access_token":
		default:
			opts.Filters[key] = vals[0]
		}
	}

	if opts.OrderBy != nil {
		opts.OrderBy.Ascending, _ = strconv.ParseBool(q.Get(paramAscending))
	}
	if v := q.Get(paramLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, &backend.ConfigurationError{Field: paramLimit, Reason: "must be a non-negative integer"}
		}
		opts.Limit = n
	}
	if v := q.Get(paramILike); v != "" {
		col, pattern, ok := strings.Cut(v, ":")
		if !ok {
			return opts, &backend.ConfigurationError{Field: paramILike, Reason: "expected column:pattern"}
		}
		opts.ILike = &backend.ILike{Column: col, Pattern: pattern}
	}
	opts.IsNull = q.Get(paramIsNull)
	return opts, nil
}

func (h *Handler) FetchRecords(w http.ResponseWriter, r *http.Request) {
	opts, err := queryOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	recs, err := h.router.Fetch(r.Context(), chi.URLParam(r, "table"), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) InsertRecord(w http.ResponseWriter, r *http.Request) {
	var rec backend.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil || rec == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	out, err := h.router.Insert(r.Context(), chi.URLParam(r, "table"), rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	var patch backend.Record
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil || len(patch) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := h.router.Update(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "id"), patch); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.router.Delete(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
