package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forummod_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forummod_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "path"})
)

// Moderation metrics
var (
	ModerationActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forummod_moderation_actions_total",
		Help: "Total number of moderation actions performed",
	}, []string{"action", "source"})

	BanChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forummod_ban_checks_total",
		Help: "Total number of ban resolution checks",
	}, []string{"result"})

	AuditWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forummod_audit_write_failures_total",
		Help: "Total number of failed audit log writes (best-effort, non-fatal)",
	})
)

// AI moderation metrics
var (
	AIClassificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forummod_ai_classifications_total",
		Help: "Total number of AI moderation classifications",
	}, []string{"classification"})

	AIClassifierErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forummod_ai_classifier_errors_total",
		Help: "Total number of AI classifier request or decode failures",
	})
)

// NormalizePath reduces high-cardinality path labels by replacing dynamic
// segments with placeholders. This keeps the metric label space bounded.
func NormalizePath(path string) string {
	segments := splitPath(path)
	if len(segments) < 3 {
		return path
	}

	// The /api/bans/{id} routes carry record IDs; every other route is
	// static.
	if segments[0] == "api" && segments[1] == "bans" {
		switch segments[2] {
		case "unban", "check", "usernames":
			return path
		}
		if len(segments) == 3 {
			return "/api/bans/:id"
		}
		if len(segments) == 4 {
			switch segments[3] {
			case "unban":
				return "/api/bans/:id/unban"
			case "exceptions":
				return "/api/bans/:id/exceptions"
			}
		}
	}
	return path
}

func splitPath(path string) []string {
	// Skip leading slash
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	// Split on /
	var segments []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			if i > start {
				segments = append(segments, path[start:i])
			}
			start = i + 1
		}
	}
	if start < len(path) {
		segments = append(segments, path[start:])
	}
	return segments
}
