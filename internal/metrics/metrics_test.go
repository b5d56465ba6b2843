package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		// Exact routes (no normalization needed)
		{"/", "/"},
		{"/healthz", "/healthz"},
		{"/metrics", "/metrics"},
		{"/api/bans", "/api/bans"},
		{"/api/bans/unban", "/api/bans/unban"},
		{"/api/bans/check", "/api/bans/check"},
		{"/api/bans/usernames", "/api/bans/usernames"},
		{"/api/mutes", "/api/mutes"},
		{"/api/mutes/unmute", "/api/mutes/unmute"},
		{"/api/mutes/status", "/api/mutes/status"},
		{"/api/mutes/report", "/api/mutes/report"},
		{"/api/audit", "/api/audit"},

		// Ban records carry IDs
		{"/api/bans/42", "/api/bans/:id"},
		{"/api/bans/42/unban", "/api/bans/:id/unban"},
		{"/api/bans/42/exceptions", "/api/bans/:id/exceptions"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePath(tt.input))
		})
	}
}
