package handlers

import (
	"net/http"

	"forummod/internal/aimod"
)

// SetReviewer configures the handler with the AI content reviewer. Left
// unset, the review endpoint reports the classifier as unavailable.
func (h *Handler) SetReviewer(reviewer *aimod.Moderator) {
	h.reviewer = reviewer
}

type reviewRequest struct {
	ContentType string `json:"content_type" validate:"required,oneof=thread comment"`
	ContentID   string `json:"content_id" validate:"required"`
	Body        string `json:"body" validate:"required"`
	Author      string `json:"author" validate:"required"`
	CourseID    string `json:"course_id"`
}

// HandleContentReview handles POST /api/review, running one piece of content
// through the classifier. A classifier outage yields status "unavailable"
// with 200: review is advisory and callers should not fail on it.
func (h *Handler) HandleContentReview(w http.ResponseWriter, r *http.Request) {
	if h.reviewer == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:   "classifier_not_configured",
			Message: "no content classifier is configured",
		})
		return
	}

	var req reviewRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	decision, err := h.reviewer.Review(r.Context(), aimod.Content{
		ContentType: req.ContentType,
		ContentID:   req.ContentID,
		Body:        req.Body,
		Author:      req.Author,
		CourseID:    req.CourseID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if decision == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "reviewed",
		"decision": decision,
	})
}
