// Package handler wires the gateway's HTTP surfaces.
package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-gateway/internal/domain"
)

// ServiceRouting is the static route-to-signing-service table, built once at
// startup and consulted by the authentication filter before dispatch.
type ServiceRouting struct{}

// ServiceFor implements auth.ServiceRouter.
func (ServiceRouting) ServiceFor(r *http.Request) domain.ServiceType {
	switch {
	case r.URL.Path == "/sts" || strings.HasPrefix(r.URL.Path, "/sts/"):
		return domain.ServiceSTS
	case r.URL.Path == "/logs" || strings.HasPrefix(r.URL.Path, "/logs/"):
		return domain.ServiceLogs
	default:
		return domain.ServiceS3
	}
}

// Router assembles the gateway's HTTP handler.
type Router struct {
	proxy          http.Handler
	stsHandler     *STSHandler
	logsHandler    *LogsHandler
	authMiddleware func(http.Handler) http.Handler
	logger         zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	Proxy          http.Handler
	STSHandler     *STSHandler
	LogsHandler    *LogsHandler
	AuthMiddleware func(http.Handler) http.Handler
	Logger         zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	return &Router{
		proxy:          config.Proxy,
		stsHandler:     config.STSHandler,
		logsHandler:    config.LogsHandler,
		authMiddleware: config.AuthMiddleware,
		logger:         config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler. Every route except the health
// check sits behind the authentication filter; the filter's service table
// decides which signing-service scope each surface requires.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", rt.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(rt.authMiddleware)

		r.Post("/sts", rt.stsHandler.AssumeRole)
		r.Get("/logs", rt.logsHandler.Recent)

		// Everything else is the S3 surface.
		r.Handle("/*", rt.proxy)
	})

	return r
}

// handleHealth handles health check requests.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}
