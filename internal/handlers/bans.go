package handlers

import (
	"net/http"
	"sort"
	"strconv"

	"forummod/internal/moderation"
)

type banRequest struct {
	User     string `json:"user" validate:"required"`
	BannedBy string `json:"banned_by" validate:"required"`
	Scope    string `json:"scope" validate:"required,oneof=course organization"`
	CourseID string `json:"course_id"`
	OrgKey   string `json:"org_key"`
	Reason   string `json:"reason"`
}

// HandleBanCreate handles POST /api/bans.
func (h *Handler) HandleBanCreate(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.BanUser(r.Context(), moderation.BanRequest{
		Username: req.User,
		BannedBy: req.BannedBy,
		Scope:    req.Scope,
		CourseID: req.CourseID,
		OrgKey:   req.OrgKey,
		Reason:   req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleBanList handles GET /api/bans. A user query switches to per-user
// listing; otherwise course_id, org_key, and scope filter the result, with a
// bare course_id pulling in the course's org-level bans as well.
func (h *Handler) HandleBanList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if user := q.Get("user"); user != "" {
		var active *bool
		if v := q.Get("active"); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, &moderation.ValidationError{Field: "active", Message: "must be a boolean"})
				return
			}
			active = &parsed
		}
		bans, err := h.svc.GetUserBans(r.Context(), user, active)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"bans": emptyIfNilBans(bans)})
		return
	}

	bans, err := h.svc.ListBans(r.Context(), moderation.ListBansQuery{
		CourseID:        q.Get("course_id"),
		OrgKey:          q.Get("org_key"),
		Scope:           q.Get("scope"),
		IncludeInactive: q.Get("include_inactive") == "true",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bans": emptyIfNilBans(bans)})
}

func emptyIfNilBans(bans []moderation.Ban) []moderation.Ban {
	if bans == nil {
		return []moderation.Ban{}
	}
	return bans
}

// HandleBanGet handles GET /api/bans/{id}.
func (h *Handler) HandleBanGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, &moderation.ValidationError{Field: "id", Message: "must be an integer"})
		return
	}

	ban, err := h.svc.GetBan(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ban)
}

type unbanRequest struct {
	User       string `json:"user"`
	Scope      string `json:"scope"`
	CourseID   string `json:"course_id"`
	UnbannedBy string `json:"unbanned_by" validate:"required"`
	Reason     string `json:"reason"`
}

// HandleBanUnbanByID handles POST /api/bans/{id}/unban.
func (h *Handler) HandleBanUnbanByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, &moderation.ValidationError{Field: "id", Message: "must be an integer"})
		return
	}

	var req unbanRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.UnbanUser(r.Context(), moderation.UnbanRequest{
		BanID:      id,
		CourseID:   req.CourseID,
		UnbannedBy: req.UnbannedBy,
		Reason:     req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleBanUnban handles POST /api/bans/unban, locating the ban by user and
// scope rather than ID.
func (h *Handler) HandleBanUnban(w http.ResponseWriter, r *http.Request) {
	var req unbanRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.UnbanUser(r.Context(), moderation.UnbanRequest{
		Username:   req.User,
		Scope:      req.Scope,
		CourseID:   req.CourseID,
		UnbannedBy: req.UnbannedBy,
		Reason:     req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleBanCheck handles GET /api/bans/check. check_org defaults to true so
// the answer reflects the full scope-resolution rules; pass check_org=false
// to consult course-level bans only.
func (h *Handler) HandleBanCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user := q.Get("user")
	courseID := q.Get("course_id")
	if user == "" {
		writeError(w, &moderation.ValidationError{Field: "user", Message: "required"})
		return
	}
	if courseID == "" {
		writeError(w, &moderation.ValidationError{Field: "course_id", Message: "required"})
		return
	}
	checkOrg := q.Get("check_org") != "false"

	if checkOrg {
		scope, banned, err := h.svc.BanScope(r.Context(), user, courseID)
		if err != nil {
			writeError(w, err)
			return
		}
		resp := map[string]any{"user": user, "course_id": courseID, "banned": banned}
		if banned {
			resp["scope"] = scope
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	banned, err := h.svc.IsUserBanned(r.Context(), user, courseID, false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "course_id": courseID, "banned": banned})
}

// HandleBanUsernames handles GET /api/bans/usernames, returning the distinct
// usernames with an active ban applicable to a course or org.
func (h *Handler) HandleBanUsernames(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	courseID := q.Get("course_id")
	orgKey := q.Get("org_key")
	if courseID == "" && orgKey == "" {
		writeError(w, &moderation.ValidationError{Field: "course_id", Message: "course_id or org_key is required"})
		return
	}

	banned, err := h.svc.GetBannedUsernames(r.Context(), courseID, orgKey)
	if err != nil {
		writeError(w, err)
		return
	}

	usernames := make([]string, 0, len(banned))
	for u := range banned {
		usernames = append(usernames, u)
	}
	sort.Strings(usernames)
	writeJSON(w, http.StatusOK, map[string]any{"usernames": usernames})
}

// HandleBanExceptionList handles GET /api/bans/{id}/exceptions.
func (h *Handler) HandleBanExceptionList(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, &moderation.ValidationError{Field: "id", Message: "must be an integer"})
		return
	}

	exceptions, err := h.svc.ListBanExceptions(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if exceptions == nil {
		exceptions = []moderation.BanException{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"exceptions": exceptions})
}

// HandleBanExceptionDelete handles DELETE /api/bans/{id}/exceptions. The
// course and acting moderator come from query parameters; removing the
// exception re-applies the parent ban in that course.
func (h *Handler) HandleBanExceptionDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, &moderation.ValidationError{Field: "id", Message: "must be an integer"})
		return
	}
	q := r.URL.Query()

	if err := h.svc.RemoveBanException(r.Context(), id, q.Get("course_id"), q.Get("removed_by")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
}
