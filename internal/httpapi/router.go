// Package httpapi assembles the chi router for the federation control plane:
// the inbound export endpoints peers pull from, the admin peer-management
// API, and the middleware stack around both (spec §6.2, §6.3).
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/amityvox/registry-federation/internal/federation"
)

// Deps bundles the collaborators Router needs. All fields are required
// except Audit, which NewRouter fills in with a fresh AuditLog if nil,
// Logger, which falls back to slog.Default() if nil, and CORSOrigins, which
// disables CORS entirely when empty.
type Deps struct {
	Service     *federation.Service
	Scheduler   *federation.Scheduler
	Audit       *federation.AuditLog
	Auth        federation.AuthGateway
	RegistryID  string
	Logger      *slog.Logger
	CORSOrigins []string
}

// NewRouter builds a chi.Mux exposing /api/federation/* (the inbound export
// surface) and /api/v1/peers* (the admin peer-management surface).
func NewRouter(deps Deps) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	audit := deps.Audit
	if audit == nil {
		audit = federation.NewAuditLog(0)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(slogMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(federationRateLimitMiddleware())
	if len(deps.CORSOrigins) > 0 {
		r.Use(corsMiddleware(deps.CORSOrigins))
	}

	exportH := &federation.ExportHandler{
		Service:    deps.Service,
		Audit:      audit,
		Auth:       deps.Auth,
		RegistryID: deps.RegistryID,
		Logger:     logger,
	}
	adminH := &federation.AdminHandler{
		Service:   deps.Service,
		Scheduler: deps.Scheduler,
		Logger:    logger,
	}

	r.Route("/api/federation", func(r chi.Router) {
		r.Get("/servers", exportH.HandleServers)
		r.Get("/agents", exportH.HandleAgents)
		r.Get("/security-scans", exportH.HandleSecurityScans)
		r.Get("/health", exportH.HandleHealth)
	})

	r.Route("/api/v1/peers", func(r chi.Router) {
		r.Get("/", adminH.HandleListPeers)
		r.Post("/", adminH.HandleCreatePeer)
		r.Get("/topology", adminH.HandleTopology)
		r.Post("/sync", adminH.HandleSyncAll)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", adminH.HandleGetPeer)
			r.Put("/", adminH.HandleUpdatePeer)
			r.Delete("/", adminH.HandleDeletePeer)
			r.Get("/status", adminH.HandleGetStatus)
			r.Post("/sync", adminH.HandleSyncPeer)
			r.Post("/enable", adminH.HandleSetEnabled(true))
			r.Post("/disable", adminH.HandleSetEnabled(false))
		})
	})

	return r
}

// corsMiddleware sets CORS headers for the configured allowed origins
// (cfg.HTTP.CORSOrigins), adapted from the teacher's internal/api
// server.go corsMiddleware for the federation API's bearer-token auth
// instead of session cookies.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	isWildcard := len(origins) == 1 && origins[0] == "*"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed := false
			for _, o := range origins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")
				if !isWildcard {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// slogMiddleware logs one structured line per request, mirroring the
// teacher's internal/api server.go slogMiddleware.
func slogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.LogAttrs(r.Context(), slog.LevelInfo, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
