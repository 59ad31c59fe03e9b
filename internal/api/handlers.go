// Package api exposes HTTP handlers for the activity service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"example.com/bulletin/internal/auth"
	"example.com/bulletin/internal/broadcast"
	"example.com/bulletin/internal/domain"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	hub     *broadcast.Hub
	now     func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock overrides the time passed to on-demand sweeps.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithHub enables GET /v1/stream backed by hub.
func WithHub(hub *broadcast.Hub) Option {
	return func(h *Handler) { h.hub = hub }
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, opts ...Option) *Handler {
	h := &Handler{service: service, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/v1/sweep", h.sweep)
	if h.hub != nil {
		mux.HandleFunc("/v1/stream", h.stream)
	}
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createActivity(w, r)
	case http.MethodGet:
		h.listActivities(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// activityByID dispatches /v1/activities/{id}[/{action}].
func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/activities/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}

	type route struct{ action, method string }
	handlers := map[route]func(http.ResponseWriter, *http.Request, string){
		{"", http.MethodGet}:             h.getActivity,
		{"", http.MethodPut}:             h.updateActivity,
		{"", http.MethodDelete}:          h.deleteActivity,
		{"archive", http.MethodPost}:     h.archiveActivity,
		{"votes", http.MethodPost}:       h.castVote,
		{"votes", http.MethodGet}:        h.myVote,
		{"results", http.MethodGet}:      h.results,
		{"close", http.MethodPost}:       h.closePoll,
		{"purchases", http.MethodPost}:   h.purchaseVotes,
		{"purchases", http.MethodGet}:    h.purchaseHistory,
		{"leaderboard", http.MethodGet}:  h.leaderboard,
		{"submissions", http.MethodPost}: h.submitForm,
		{"submissions", http.MethodGet}:  h.listSubmissions,
		{"quote", http.MethodPost}:       h.quotePrice,
	}

	if fn, ok := handlers[route{action, r.Method}]; ok {
		fn(w, r, id)
		return
	}
	for key := range handlers {
		if key.action == action {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", "unknown resource")
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	caller, ok := authorize(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	result, err := h.service.CreateActivity(r.Context(), caller, req.toDraft())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, MutationResponse{ActivityID: result.ID, Status: string(result.Status)})
}

func (h *Handler) updateActivity(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := authorize(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	result, err := h.service.UpdateActivity(r.Context(), id, caller, req.toDraft())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MutationResponse{ActivityID: result.ID, Status: string(result.Status)})
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := authorize(w, r, auth.ScopeActivitiesRead); !ok {
		return
	}

	activity, err := h.service.GetActivity(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, auth.ScopeActivitiesRead); !ok {
		return
	}

	var (
		items []domain.Activity
		err   error
	)
	switch view := r.URL.Query().Get("view"); view {
	case "", "published":
		items, err = h.service.ListPublished(r.Context())
	case "scheduled":
		items, err = h.service.ListScheduled(r.Context())
	case "archived":
		items, err = h.service.ListArchived(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "validation_failed", "view must be published, scheduled or archived")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := ListActivitiesResponse{Items: make([]ActivityView, 0, len(items))}
	for _, a := range items {
		resp.Items = append(resp.Items, toActivityView(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deleteActivity(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := authorize(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}
	if err := h.service.RemoveActivity(r.Context(), id, caller); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) archiveActivity(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := authorize(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}
	result, err := h.service.ArchiveActivity(r.Context(), id, caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MutationResponse{ActivityID: result.ID, Status: string(result.Status)})
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := authorize(w, r, auth.ScopeActivitiesAdmin); !ok {
		return
	}

	result, err := h.service.Sweep(r.Context(), h.now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{
		Published: result.Published,
		Deleted:   result.Deleted,
		Archived:  result.Archived,
		Failed:    result.Failed,
	})
}

// authorize resolves the caller identity and checks scope, writing the error
// response itself when either is missing.
func authorize(w http.ResponseWriter, r *http.Request, scope string) (domain.Identity, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return domain.Identity{}, false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return domain.Identity{}, false
	}
	return domain.Identity{UserID: claims.Subject, Name: claims.Name}, true
}

// writeDomainError maps domain error kinds to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrPaymentRequired):
		writeError(w, http.StatusPaymentRequired, "payment_required", err.Error())
	case errors.Is(err, domain.ErrMissingAnswer):
		writeError(w, http.StatusUnprocessableEntity, "missing_answer", err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrAlreadySubmitted):
		writeError(w, http.StatusConflict, "already_submitted", err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrClosed):
		writeError(w, http.StatusUnprocessableEntity, "closed", err.Error())
	case errors.Is(err, domain.ErrLimitExceeded):
		writeError(w, http.StatusUnprocessableEntity, "limit_exceeded", err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_balance", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
