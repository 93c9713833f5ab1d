// ABOUTME: HTTP server struct, constructor, and route wiring for Ask Ozzy.
// ABOUTME: Every handler reaches external systems only through the bindings.Env it holds.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/bindings"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/config"
)

// Server holds the dependencies for the HTTP layer.
type Server struct {
	env         *bindings.Env
	cfg         *config.Config
	argon2Sem   chan struct{}
	rateLimiter *ipRateLimiter
	registry    *prometheus.Registry
	metrics     *metrics
}

// NewServer creates a Server over env. cfg supplies HTTP-only tuning (cookie
// security, argon2 slots, rate-limit eviction); env supplies every capability.
func NewServer(env *bindings.Env, cfg *config.Config) *Server {
	slots := cfg.Argon2MaxConcurrent
	if slots < 1 {
		slots = 1
	}
	evictTTL := cfg.RateLimitEvictTTL
	if evictTTL <= 0 {
		evictTTL = 15 * time.Minute
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Server{
		env:       env,
		cfg:       cfg,
		argon2Sem: make(chan struct{}, slots),
		// 10 requests per minute, burst of 10.
		rateLimiter: newIPRateLimiter(rate.Limit(10.0/60), 10, evictTTL),
		registry:    reg,
		metrics:     newMetrics(reg),
	}
}

// Registry is the registry served on /metrics. Other components in the same
// process register their collectors here.
func (srv *Server) Registry() prometheus.Registerer { return srv.registry }

// Close stops background goroutines owned by the server.
func (srv *Server) Close() {
	srv.rateLimiter.Stop()
}

// Handler builds and returns the http.Handler.
func (srv *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Security headers first so they appear on every response including errors.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.healthzHandler)
	r.Handle("/metrics", promhttp.HandlerFor(srv.registry, promhttp.HandlerOpts{}))

	apiRouter := chi.NewRouter()

	// ── Public ────────────────────────────────────────────────────────────────
	apiRouter.Get("/push/public-key", srv.pushPublicKeyHandler)
	apiRouter.Post("/payments/webhook", srv.paymentWebhookHandler)
	apiRouter.With(srv.authRateLimit("bootstrap")).Post("/bootstrap", srv.bootstrapHandler)

	// ── Auth (huma for login, chi for the authenticated endpoints) ────────────
	authRouter := chi.NewRouter()
	authRouter.Use(srv.authRateLimit("auth"))
	humaConfig := huma.DefaultConfig("Ask Ozzy API", "0.1.0")
	humaConfig.Info.Description = "Department-scoped AI assistant API"
	registerAuthRoutes(humachi.New(authRouter, humaConfig), srv)
	authRouter.Group(func(r chi.Router) {
		r.Use(srv.RequireAuthenticated())
		r.Use(csrfProtect)
		r.Get("/me", srv.meHandler)
		r.Post("/logout", srv.logoutHandler)
	})
	apiRouter.Mount("/auth", authRouter)

	// ── Department-scoped data ────────────────────────────────────────────────
	apiRouter.Group(func(r chi.Router) {
		r.Use(srv.RequireAuthenticated())
		r.Use(csrfProtect)
		r.Route("/documents", func(r chi.Router) {
			r.Get("/", srv.listDocumentsHandler)
			r.Post("/", srv.createDocumentHandler)
			r.Get("/{id}", srv.getDocumentHandler)
			r.Delete("/{id}", srv.deleteDocumentHandler)
		})
		r.Post("/ask", srv.askHandler)
		r.Post("/users", srv.createUserHandler)
	})

	r.Mount("/api/v1", apiRouter)
	return r
}

// acquireArgon2 tries to acquire the argon2 semaphore. Returns false if all
// slots are in use; the caller should return 503 immediately (do NOT block).
func (srv *Server) acquireArgon2() bool {
	select {
	case srv.argon2Sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (srv *Server) releaseArgon2() { <-srv.argon2Sem }

// healthResponse is the JSON body for /healthz.
type healthResponse struct {
	Status   string `json:"status"`
	DB       string `json:"db,omitempty"`
	Sessions string `json:"sessions,omitempty"`
}

// healthzHandler returns 200 when the DB and session store are reachable and
// 503 with the failing dependency otherwise.
func (srv *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK

	if err := srv.env.DB().Ping(ctx); err != nil {
		slog.WarnContext(ctx, "healthz: db ping failed", "error", err)
		resp.Status, resp.DB, status = "degraded", "unavailable", http.StatusServiceUnavailable
	}
	if err := srv.env.Sessions().Ping(ctx); err != nil {
		slog.WarnContext(ctx, "healthz: sessions ping failed", "error", err)
		resp.Status, resp.Sessions, status = "degraded", "unavailable", http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON: encode failed", "error", err)
	}
}
