// Package api implements the Othala REST API using chi.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/oracle"
)

// maxBodyBytes caps request bodies; anything larger is rejected before
// decoding.
const maxBodyBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *oracle.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *oracle.Service) *Handler {
	return &Handler{svc: svc}
}

// writeServiceError maps service errors onto HTTP statuses. Validation
// errors pass through unchanged; everything else is an internal error.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalidPubkey),
		errors.Is(err, apperr.ErrInvalidMaxHops),
		errors.Is(err, apperr.ErrTooManyTargets):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		slog.Error("query failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// Distance handles GET /api/distance.
func (h *Handler) Distance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maxHops, _ := strconv.Atoi(q.Get("max_hops"))

	result, err := h.svc.Distance(r.Context(), oracle.DistanceRequest{
		From:           q.Get("from"),
		To:             q.Get("to"),
		MaxHops:        maxHops,
		IncludeBridges: q.Get("include_bridges") == "true",
		BypassCache:    q.Get("bypass_cache") == "true",
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// BatchDistance handles POST /api/distance/batch.
func (h *Handler) BatchDistance(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("body too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	var req BatchDistanceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	results, err := h.svc.BatchDistance(r.Context(), req.From, req.Targets, req.MaxHops, req.IncludeBridges, req.BypassCache)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BatchDistanceResponse{From: req.From, Results: results})
}

// Follows handles GET /api/follows.
func (h *Handler) Follows(w http.ResponseWriter, r *http.Request) {
	pubkey := r.URL.Query().Get("pubkey")
	follows, err := h.svc.FollowsOf(r.Context(), pubkey)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FollowsResponse{Pubkey: pubkey, Follows: follows})
}

// CommonFollows handles GET /api/common.
func (h *Handler) CommonFollows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	common, err := h.svc.CommonFollows(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CommonFollowsResponse{From: from, To: to, Common: common})
}

// ShortestPath handles GET /api/path.
func (h *Handler) ShortestPath(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	maxHops, _ := strconv.Atoi(q.Get("max_hops"))

	path, err := h.svc.ShortestPath(r.Context(), from, to, maxHops)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PathResponse{From: from, To: to, Path: path})
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats(r.Context()))
}
