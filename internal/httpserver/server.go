package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"bulknotif/internal/observability"
)

type Server struct {
	Mux *mux.Router
}

func New() *Server {
	return &Server{Mux: mux.NewRouter()}
}

// Dispatcher builds the dispatcher's router: unauthenticated health probes and
// the admin API behind bearer auth. Admin routes carry their full /v1 paths, so
// the auth subrouter adds no prefix of its own.
func Dispatcher(api *API, adminToken string, ready ...ReadyzCheck) *Server {
	s := New()
	s.Mux.HandleFunc("/healthz", Healthz())
	s.Mux.HandleFunc("/readyz", Readyz(2*time.Second, ready...))

	admin := s.Mux.NewRoute().Subrouter()
	admin.Use(AdminAuth(adminToken))
	api.Register(admin)

	s.Mux.Use(Metrics(observability.APIRequests))
	return s
}

// ReadyzCheck is one dependency probed by /readyz.
type ReadyzCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

// Readyz runs every check and reports each by name. Any failure makes the
// instance unready.
func Readyz(timeout time.Duration, checks ...ReadyzCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		status := http.StatusOK
		report := make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				slog.Warn("readiness check failed", "check", c.Name, "err", err)
				report[c.Name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			report[c.Name] = "ok"
		}
		writeJSON(w, status, report)
	}
}
