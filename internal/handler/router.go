/*
Package handler provides the HTTP handlers and routing setup for the studyhub server.

This file defines the main Router, applying the middleware stack (CORS, request ids,
logging, recovery, security headers, compression, body limits) and IP-based rate
limiting before delegating requests to the REST and WebSocket handlers.
*/
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/unrolled/secure"
	"golang.org/x/time/rate"

	"studyhub/internal/pkg/auth/jwt"
	"studyhub/internal/pkg/errs"
	"studyhub/internal/pkg/limiter"
	"studyhub/internal/pkg/logx"
	"studyhub/internal/pkg/req"
	"studyhub/internal/pkg/resp"
)

const (
	AuthRate     = 0.2
	AuthBurst    = 5
	CreateRate   = 0.05
	CreateBurst  = 3
	ConnectRate  = 0.5
	ConnectBurst = 10
)

// Router sets up the main HTTP routing table. ctx bounds the lifetime of the
// rate limiter janitors.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	authLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(AuthRate), AuthBurst)
	createLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(CreateRate), CreateBurst)
	connectLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(ConnectRate), ConnectBurst)

	r := chi.NewRouter()

	corsAllowedOrigins := deps.Config.AllowedOrigins
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)
	r.Use(newSecureMiddleware(deps).Handler)
	r.Use(middleware.Compress(5, "application/json", "text/plain"))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		resp.RespondError(w, r, errs.NewError(errs.ErrRouteNotFound, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		resp.RespondError(w, r, errs.NewError(errs.ErrMethodNotAllowed))
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("API is running"))
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		stats := deps.Coordinator.Stats()
		resp.RespondSuccess(w, r, map[string]any{
			"status":      "ok",
			"service":     "studyhub",
			"connections": stats.Connections,
			"rooms":       stats.Rooms,
		})
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		limitBody := req.LimitBody(deps.Config.MaxBodyBytes)

		api.Route("/auth", func(auth chi.Router) {
			auth.Use(limitBody)

			auth.With(authLimiter.Middleware).Post("/register", HandleRegister(deps))
			auth.With(authLimiter.Middleware).Post("/login", HandleLogin(deps))
			auth.With(jwt.RequireIdentity).Get("/me", HandleMe(deps))
		})

		api.Route("/session-rooms", func(rooms chi.Router) {
			rooms.Use(jwt.RequireIdentity)

			rooms.With(limitBody, createLimiter.Middleware).Post("/", HandleCreateRoom(deps))
			rooms.Get("/{id}", HandleGetRoom(deps))
			rooms.With(limitBody).Post("/{id}/attachments/presign", HandlePresignUploadURL(deps))
			rooms.Get("/{id}/attachments", HandlePresignDownloadURL(deps))

			// Direct uploads carry the file itself and are bounded by the attachment limit instead.
			rooms.Post("/{id}/attachments", HandleUploadAttachment(deps))
		})
	})

	r.With(connectLimiter.Middleware).Get("/ws", HandleWebSocket(deps, newUpgrader(deps)))

	return r
}

// newUpgrader accepts any origin in development and the configured origins otherwise.
func newUpgrader(deps *AppDeps) websocket.Upgrader {
	allowedOrigins := make(map[string]struct{}, len(deps.Config.AllowedOrigins))
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}
}

// newSecureMiddleware sets the hardening headers on every response. Host and
// TLS checks are skipped in development.
func newSecureMiddleware(deps *AppDeps) *secure.Secure {
	return secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		ReferrerPolicy:     "no-referrer",
		IsDevelopment:      deps.Config.IsDevelopment(),
	})
}
