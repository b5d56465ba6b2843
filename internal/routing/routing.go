package routing

import (
	"net/http"

	"forummod/internal/handlers"
	"forummod/internal/middleware"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config holds the configuration needed for setting up routes
type Config struct {
	Handlers *handlers.Handler
	Logger   zerolog.Logger
}

// SetupRouter creates and configures the HTTP router with all routes and middleware
func SetupRouter(cfg Config) http.Handler {
	h := cfg.Handlers
	mux := http.NewServeMux()

	// Ban engine
	mux.HandleFunc("POST /api/bans", h.HandleBanCreate)
	mux.HandleFunc("GET /api/bans", h.HandleBanList)
	mux.HandleFunc("GET /api/bans/check", h.HandleBanCheck)
	mux.HandleFunc("GET /api/bans/usernames", h.HandleBanUsernames)
	mux.HandleFunc("POST /api/bans/unban", h.HandleBanUnban)
	mux.HandleFunc("GET /api/bans/{id}", h.HandleBanGet)
	mux.HandleFunc("POST /api/bans/{id}/unban", h.HandleBanUnbanByID)
	mux.HandleFunc("GET /api/bans/{id}/exceptions", h.HandleBanExceptionList)
	mux.HandleFunc("DELETE /api/bans/{id}/exceptions", h.HandleBanExceptionDelete)

	// Mute subsystem
	mux.HandleFunc("POST /api/mutes", h.HandleMuteCreate)
	mux.HandleFunc("GET /api/mutes", h.HandleMuteList)
	mux.HandleFunc("POST /api/mutes/unmute", h.HandleMuteUnmute)
	mux.HandleFunc("GET /api/mutes/status", h.HandleMuteStatus)
	mux.HandleFunc("POST /api/mutes/report", h.HandleMuteAndReport)

	// AI content review
	mux.HandleFunc("POST /api/review", h.HandleContentReview)

	// Audit trail (read-only; the trail has no mutation routes)
	mux.HandleFunc("GET /api/audit", h.HandleAuditList)

	// Operational endpoints
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	return middleware.LoggingMiddleware(cfg.Logger)(mux)
}
