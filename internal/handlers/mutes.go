package handlers

import (
	"net/http"

	"forummod/internal/moderation"
)

type muteRequest struct {
	MutedUser  string `json:"muted_user" validate:"required"`
	MutedBy    string `json:"muted_by" validate:"required"`
	CourseID   string `json:"course_id" validate:"required"`
	Scope      string `json:"scope" validate:"required,oneof=personal course"`
	Reason     string `json:"reason"`
	Privileged bool   `json:"privileged"`
}

// HandleMuteCreate handles POST /api/mutes.
func (h *Handler) HandleMuteCreate(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.MuteUser(r.Context(), moderation.MuteRequest{
		MutedUser:             req.MutedUser,
		MutedBy:               req.MutedBy,
		CourseID:              req.CourseID,
		Scope:                 req.Scope,
		Reason:                req.Reason,
		RequesterIsPrivileged: req.Privileged,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type unmuteRequest struct {
	MutedUser     string `json:"muted_user" validate:"required"`
	UnmutedBy     string `json:"unmuted_by" validate:"required"`
	CourseID      string `json:"course_id" validate:"required"`
	Scope         string `json:"scope" validate:"required,oneof=personal course"`
	MutedBy       string `json:"muted_by"`
	ExceptionUser string `json:"exception_user"`
	Reason        string `json:"reason"`
}

// HandleMuteUnmute handles POST /api/mutes/unmute. For a course-wide mute
// with exception_user set, the mute stays active and a per-viewer exception
// is recorded instead.
func (h *Handler) HandleMuteUnmute(w http.ResponseWriter, r *http.Request) {
	var req unmuteRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.UnmuteUser(r.Context(), moderation.UnmuteRequest{
		MutedUser:     req.MutedUser,
		UnmutedBy:     req.UnmutedBy,
		CourseID:      req.CourseID,
		Scope:         req.Scope,
		MutedBy:       req.MutedBy,
		ExceptionUser: req.ExceptionUser,
		Reason:        req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleMuteList handles GET /api/mutes. With muted_by set it lists the
// mutes that user applied; otherwise it lists a course's active mutes with
// the privileged/unprivileged visibility split.
func (h *Handler) HandleMuteList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	courseID := q.Get("course_id")
	if courseID == "" {
		writeError(w, &moderation.ValidationError{Field: "course_id", Message: "required"})
		return
	}

	var mutes []moderation.MuteRecord
	var err error
	if mutedBy := q.Get("muted_by"); mutedBy != "" {
		mutes, err = h.svc.GetMutedUsers(r.Context(), mutedBy, courseID, q.Get("scope"))
	} else {
		requester := q.Get("requester")
		if requester == "" {
			writeError(w, &moderation.ValidationError{Field: "requester", Message: "muted_by or requester is required"})
			return
		}
		mutes, err = h.svc.ListCourseMutes(r.Context(), courseID, requester, q.Get("privileged") == "true")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if mutes == nil {
		mutes = []moderation.MuteRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"mutes": mutes})
}

// HandleMuteStatus handles GET /api/mutes/status, resolving how muted_user
// appears to viewer in a course.
func (h *Handler) HandleMuteStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mutedUser := q.Get("muted_user")
	viewer := q.Get("viewer")
	courseID := q.Get("course_id")
	if mutedUser == "" {
		writeError(w, &moderation.ValidationError{Field: "muted_user", Message: "required"})
		return
	}
	if viewer == "" {
		writeError(w, &moderation.ValidationError{Field: "viewer", Message: "required"})
		return
	}
	if courseID == "" {
		writeError(w, &moderation.ValidationError{Field: "course_id", Message: "required"})
		return
	}

	status, err := h.svc.GetMuteStatus(r.Context(), mutedUser, viewer, courseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type muteAndReportRequest struct {
	muteRequest
	ThreadID  string `json:"thread_id"`
	CommentID string `json:"comment_id"`
}

// HandleMuteAndReport handles POST /api/mutes/report. The mute applies
// first; content flagging is best-effort and failures downgrade the status
// to "partial" without rolling anything back.
func (h *Handler) HandleMuteAndReport(w http.ResponseWriter, r *http.Request) {
	var req muteAndReportRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.MuteAndReport(r.Context(), moderation.MuteAndReportRequest{
		MuteRequest: moderation.MuteRequest{
			MutedUser:             req.MutedUser,
			MutedBy:               req.MutedBy,
			CourseID:              req.CourseID,
			Scope:                 req.Scope,
			Reason:                req.Reason,
			RequesterIsPrivileged: req.Privileged,
		},
		ThreadID:  req.ThreadID,
		CommentID: req.CommentID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
