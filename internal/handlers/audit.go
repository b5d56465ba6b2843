package handlers

import (
	"net/http"
	"strconv"

	"forummod/internal/moderation"
)

const defaultAuditLimit = 100

// HandleAuditList handles GET /api/audit. Entries come back most recent
// first; target_user, course_id, action, and source filter, limit caps the
// page size.
func (h *Handler) HandleAuditList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultAuditLimit
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, &moderation.ValidationError{Field: "limit", Message: "must be a positive integer"})
			return
		}
		limit = parsed
	}

	entries, err := h.svc.ListAudit(r.Context(), moderation.AuditFilter{
		TargetUser: q.Get("target_user"),
		CourseID:   q.Get("course_id"),
		Action:     moderation.Action(q.Get("action")),
		Source:     moderation.Source(q.Get("source")),
		Limit:      limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []moderation.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
