// Package api exposes the tracking service over HTTP. The caller's identity
// arrives in the X-User-ID header, set by the gateway in front of us.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"relowatch/models"
	"relowatch/services"
)

const (
	ownerHeader  = "X-User-ID"
	maxBodyBytes = 1 << 20

	// nginx convention for a client that went away before the response
	statusClientClosedRequest = 499
)

type Handler struct {
	svc *services.TrackingService
}

func NewHandler(svc *services.TrackingService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/healthz", h.health).Methods("GET")

	r.HandleFunc("/websites", h.addWebsite).Methods("POST")
	r.HandleFunc("/websites", h.listWebsites).Methods("GET")
	r.HandleFunc("/websites/{id}", h.getWebsite).Methods("GET")
	r.HandleFunc("/websites/{id}", h.updateWebsite).Methods("PATCH")
	r.HandleFunc("/websites/{id}", h.deleteWebsite).Methods("DELETE")
	r.HandleFunc("/websites/{id}/scrape", h.scrapeWebsite).Methods("POST")
	r.HandleFunc("/websites/{id}/items", h.listItems).Methods("GET")
	r.HandleFunc("/websites/{id}/runs", h.listRuns).Methods("GET")
	r.HandleFunc("/websites/{id}/runs/{runID}/logs", h.listRunLogs).Methods("GET")

	r.HandleFunc("/notifications", h.listNotifications).Methods("GET")
	r.HandleFunc("/notifications/read", h.markRead).Methods("POST")
	r.HandleFunc("/notifications", h.clearNotifications).Methods("DELETE")

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) addWebsite(w http.ResponseWriter, r *http.Request) {
	var in services.NewWebsite
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	website, err := h.svc.AddWebsite(r.Context(), owner(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, website)
}

func (h *Handler) listWebsites(w http.ResponseWriter, r *http.Request) {
	websites, err := h.svc.ListWebsites(r.Context(), owner(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, websites)
}

func (h *Handler) getWebsite(w http.ResponseWriter, r *http.Request) {
	website, err := h.svc.GetWebsite(r.Context(), owner(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, website)
}

func (h *Handler) updateWebsite(w http.ResponseWriter, r *http.Request) {
	var upd services.WebsiteUpdate
	if err := decodeBody(r, &upd); err != nil {
		writeError(w, err)
		return
	}
	website, err := h.svc.UpdateWebsite(r.Context(), owner(r), mux.Vars(r)["id"], upd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, website)
}

func (h *Handler) deleteWebsite(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteWebsite(r.Context(), owner(r), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) scrapeWebsite(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ScrapeWebsite(r.Context(), owner(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := boolParam(r, "active")
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := h.svc.ListItems(r.Context(), owner(r), mux.Vars(r)["id"], activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	runs, err := h.svc.ListRuns(r.Context(), owner(r), mux.Vars(r)["id"], limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) listRunLogs(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID, err := strconv.ParseInt(vars["runID"], 10, 64)
	if err != nil {
		writeError(w, &models.ValidationError{Field: "run_id", Reason: "must be an integer"})
		return
	}
	logs, err := h.svc.ListRunLogs(r.Context(), owner(r), vars["id"], runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	unreadOnly, err := boolParam(r, "unread")
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := h.svc.ListNotifications(r.Context(), owner(r), unreadOnly, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type markReadRequest struct {
	IDs []string `json:"ids"`
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	n, err := h.svc.MarkNotificationsRead(r.Context(), owner(r), req.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (h *Handler) clearNotifications(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ClearNotifications(r.Context(), owner(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// =============================================================================
// Helpers
// =============================================================================

func owner(r *http.Request) string {
	return r.Header.Get(ownerHeader)
}

// decodeBody accepts an empty body as the zero value.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return &models.ValidationError{Field: "body", Reason: "invalid JSON"}
	}
	return nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &models.ValidationError{Field: name, Reason: "must be true or false"}
	}
	return b, nil
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &models.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return n, nil
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInactive), errors.Is(err, models.ErrScrapeInProgress):
		return http.StatusConflict
	case errors.Is(err, models.ErrParse), errors.Is(err, models.ErrUnsupportedSource):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrFetch):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("Request failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: models.Kind(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Failed to write response", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "took", time.Since(start))
	})
}
