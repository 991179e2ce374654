// Package api wires the HTTP handlers of the engine behind a chi router.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	auditapi "github.com/kilianp07/bloodlink/api/audit"
	"github.com/kilianp07/bloodlink/api/donors"
	"github.com/kilianp07/bloodlink/api/requests"
	"github.com/kilianp07/bloodlink/core/audit"
	"github.com/kilianp07/bloodlink/core/engagement"
)

// Config defines the HTTP listener.
type Config struct {
	Addr           string   `json:"addr"`
	Token          string   `json:"token"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// Deps are the components served by the router. Audit, Donors and
// Engagement are optional.
type Deps struct {
	Manager    requests.Manager
	Audit      audit.Store
	Donors     donors.Lister
	Engagement engagement.Store
}

// NewRouter builds the API handler. When cfg.Token is set every /api route
// requires an "Authorization: Bearer <token>" header.
func NewRouter(cfg Config, d Deps) http.Handler {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(ar chi.Router) {
		ar.Use(bearer(cfg.Token))
		ar.Route("/requests", requests.NewHandler(d.Manager).Routes)
		if d.Audit != nil {
			ar.Method(http.MethodGet, "/audit", auditapi.NewHandler(d.Audit))
		}
		if d.Donors != nil {
			ar.Method(http.MethodGet, "/donors", donors.NewListHandler(d.Donors))
		}
		if d.Engagement != nil {
			ar.Method(http.MethodGet, "/donors/{id}/engagement", donors.NewEngagementHandler(d.Engagement))
		}
	})
	return r
}

func bearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte("Bearer " + token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(strings.TrimSpace(r.Header.Get("Authorization")))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
