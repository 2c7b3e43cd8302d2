// Package handler exposes the data client over HTTP. Every entity operation
// is a POST to /api/{entity}/{op} carrying a JSON envelope, mirroring the
// client surface one to one.
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"agencydb/internal/client"
	"agencydb/internal/domain"
	"agencydb/internal/httputil"
)

type Handler struct {
	client *client.Client
	logger *slog.Logger
}

func New(c *client.Client, logger *slog.Logger) *Handler {
	return &Handler{client: c, logger: logger}
}

// Register mounts all routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/{entity}/{op}", h.Operation)
	mux.HandleFunc("POST /api/$raw/query", h.RawQuery)
	mux.HandleFunc("POST /api/$raw/execute", h.RawExecute)
	mux.HandleFunc("GET /health", h.Health)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type rawRequest struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
	Unsafe bool   `json:"unsafe"`
}

// RawQuery runs a SQL query through the store's escape hatch.
func (h *Handler) RawQuery(w http.ResponseWriter, r *http.Request) {
	var req rawRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var rows any
	var err error
	if req.Unsafe {
		rows, err = h.client.QueryRawUnsafe(r.Context(), req.SQL)
	} else {
		rows, err = h.client.QueryRaw(r.Context(), req.SQL, req.Params...)
	}
	if err != nil {
		h.handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, rows)
}

// RawExecute runs a SQL statement and returns affected rows.
func (h *Handler) RawExecute(w http.ResponseWriter, r *http.Request) {
	var req rawRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var count int64
	var err error
	if req.Unsafe {
		count, err = h.client.ExecuteRawUnsafe(r.Context(), req.SQL)
	} else {
		count, err = h.client.ExecuteRaw(r.Context(), req.SQL, req.Params...)
	}
	if err != nil {
		h.handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// handleError converts domain errors to HTTP responses
func (h *Handler) handleError(w http.ResponseWriter, err error) {
	var httpErr domain.HTTPError
	if errors.As(err, &httpErr) {
		httputil.RespondError(w, httpErr.StatusCode(), err.Error())
		return
	}

	h.logger.Error("unexpected error", "error", err)
	httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
}
