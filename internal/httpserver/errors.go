package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"bulknotif/internal/campaign"
	"bulknotif/internal/delivery"
	"bulknotif/internal/domain"
	"bulknotif/internal/scheduler"
	"bulknotif/internal/templates"
)

const (
	ErrInvalidJSON      = "invalid json"
	ErrMissingID        = "missing id"
	ErrDependency       = "dependency error"
	ErrNotFound         = "not found"
	ErrBadForm          = "bad form"
	ErrInvalidSignature = "invalid signature"
	ErrUnauthorized     = "unauthorized"
	ErrTriggerBusy      = "trigger is already running"
	ErrIneligible       = "recipient is inactive or opted out"
	ErrBadQuery         = "invalid query parameter"
	ErrShuttingDown     = "dispatcher is shutting down"
)

// writeError maps domain errors to a status code and a constant message. Anything
// unrecognised is logged and reported as a dependency failure.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, scheduler.ErrUnknownTrigger):
		http.Error(w, ErrNotFound, http.StatusNotFound)
	case errors.Is(err, scheduler.ErrTriggerBusy):
		http.Error(w, ErrTriggerBusy, http.StatusConflict)
	case errors.Is(err, campaign.ErrRecipientIneligible):
		http.Error(w, ErrIneligible, http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrInvalidKind), errors.Is(err, domain.ErrInvalidAudience),
		errors.Is(err, domain.ErrMissingInstitution), errors.Is(err, domain.ErrMissingMessage),
		errors.Is(err, templates.ErrVariantOutOfRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, scheduler.ErrStopping):
		http.Error(w, ErrShuttingDown, http.StatusServiceUnavailable)
	case errors.Is(err, delivery.ErrMisconfigured):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		slog.ErrorContext(r.Context(), "request failed", "err", err, "method", r.Method, "path", r.URL.Path)
		http.Error(w, ErrDependency, http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
