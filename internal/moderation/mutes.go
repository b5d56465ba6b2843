package moderation

import (
	"context"
	"fmt"
	"time"

	"forummod/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Mute-specific audit actions. The mute subsystem shares the audit sink with
// the ban engine (one append-only trail for every moderation decision).
const (
	ActionMute          Action = "mute"
	ActionUnmute        Action = "unmute"
	ActionMuteException Action = "mute_exception"
)

// MuteRequest carries the parameters of a mute operation.
type MuteRequest struct {
	MutedUser string
	MutedBy   string
	CourseID  string
	Scope     string
	Reason    string
	// RequesterIsPrivileged gates course-wide mutes, which only course
	// staff may apply.
	RequesterIsPrivileged bool
}

// MuteUser mutes a user, personally or course-wide. Idempotent under retry
// the same way BanUser is: an active mute for the same key is returned
// as-is, an inactive one is reactivated in place.
func (s *Service) MuteUser(ctx context.Context, req MuteRequest) (*MuteResult, error) {
	scope, err := ParseMuteScope(req.Scope)
	if err != nil {
		return nil, err
	}
	if req.MutedUser == "" {
		return nil, &ValidationError{Field: "muted_user", Message: "required"}
	}
	if req.MutedBy == "" {
		return nil, &ValidationError{Field: "muted_by", Message: "required"}
	}
	if req.MutedUser == req.MutedBy {
		return nil, &ValidationError{Field: "muted_user", Message: "users cannot mute themselves"}
	}
	if req.CourseID == "" {
		return nil, &ValidationError{Field: "course_id", Message: "required"}
	}
	if scope == MuteScopeCourse && !req.RequesterIsPrivileged {
		return nil, &ValidationError{Field: "scope", Message: "course-wide mutes require course privileges"}
	}

	mute := MuteRecord{
		MutedUser: req.MutedUser,
		MutedBy:   req.MutedBy,
		CourseID:  req.CourseID,
		Scope:     scope,
		Reason:    req.Reason,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}

	applied, created, reactivated, err := s.store.ApplyMute(ctx, mute)
	if err != nil {
		return nil, fmt.Errorf("apply mute: %w", err)
	}

	s.recordAudit(ctx, AuditEntry{
		Action:     ActionMute,
		Source:     SourceHuman,
		TargetUser: &applied.MutedUser,
		Moderator:  &req.MutedBy,
		CourseID:   req.CourseID,
		Scope:      string(scope),
		Reason:     req.Reason,
		Metadata: map[string]any{
			"mute_id":     applied.ID,
			"created":     created,
			"reactivated": reactivated,
		},
	})
	metrics.ModerationActionsTotal.WithLabelValues(string(ActionMute), string(SourceHuman)).Inc()

	log.Info().
		Str("muted_user", applied.MutedUser).
		Str("muted_by", applied.MutedBy).
		Str("course_id", applied.CourseID).
		Str("scope", string(scope)).
		Bool("reactivated", reactivated).
		Msg("user muted")

	return &MuteResult{Mute: applied, Reactivated: reactivated}, nil
}

// UnmuteRequest carries the parameters of an unmute operation.
//
// For a course-wide mute with ExceptionUser set, a per-viewer exception is
// created instead of deactivating the mute. For personal mutes, MutedBy
// selects whose mute to lift; it defaults to UnmutedBy (a user lifting their
// own mute).
type UnmuteRequest struct {
	MutedUser     string
	UnmutedBy     string
	CourseID      string
	Scope         string
	MutedBy       string
	ExceptionUser string
	Reason        string
}

// UnmuteUser reverses a mute, or carves a per-viewer exception out of a
// course-wide one.
func (s *Service) UnmuteUser(ctx context.Context, req UnmuteRequest) (*UnmuteResult, error) {
	scope, err := ParseMuteScope(req.Scope)
	if err != nil {
		return nil, err
	}
	if req.MutedUser == "" {
		return nil, &ValidationError{Field: "muted_user", Message: "required"}
	}
	if req.UnmutedBy == "" {
		return nil, &ValidationError{Field: "unmuted_by", Message: "required"}
	}
	if req.CourseID == "" {
		return nil, &ValidationError{Field: "course_id", Message: "required"}
	}

	mutedBy := req.MutedBy
	if scope == MuteScopePersonal && mutedBy == "" {
		mutedBy = req.UnmutedBy
	}

	mute, err := s.store.GetActiveMute(ctx, req.MutedUser, mutedBy, req.CourseID, scope)
	if err != nil {
		return nil, fmt.Errorf("get active mute: %w", err)
	}
	if mute == nil {
		return nil, &NotFoundError{
			Resource: "active mute",
			Key:      fmt.Sprintf("user %s course %s scope %s", req.MutedUser, req.CourseID, scope),
		}
	}

	now := time.Now().UTC()

	if scope == MuteScopeCourse && req.ExceptionUser != "" {
		exc, created, err := s.store.CreateMuteException(ctx, MuteException{
			MuteID:        mute.ID,
			MutedUser:     req.MutedUser,
			ExceptionUser: req.ExceptionUser,
			CourseID:      req.CourseID,
			Reason:        req.Reason,
			CreatedAt:     now,
		})
		if err != nil {
			return nil, fmt.Errorf("create mute exception: %w", err)
		}

		s.recordAudit(ctx, AuditEntry{
			Action:     ActionMuteException,
			Source:     SourceHuman,
			TargetUser: &mute.MutedUser,
			Moderator:  &req.UnmutedBy,
			CourseID:   req.CourseID,
			Scope:      string(scope),
			Reason:     req.Reason,
			Metadata: map[string]any{
				"mute_id":           mute.ID,
				"exception_id":      exc.ID,
				"exception_user":    req.ExceptionUser,
				"exception_created": created,
			},
		})
		metrics.ModerationActionsTotal.WithLabelValues(string(ActionMuteException), string(SourceHuman)).Inc()

		return &UnmuteResult{
			Status: "success",
			Message: fmt.Sprintf("User %s unmuted for viewer %s (course-wide mute still active for others)",
				mute.MutedUser, req.ExceptionUser),
			ExceptionCreated: true,
			Mute:             mute,
			Exception:        exc,
		}, nil
	}

	updated, err := s.store.DeactivateMute(ctx, mute.ID, req.UnmutedBy, now)
	if err != nil {
		return nil, fmt.Errorf("deactivate mute: %w", err)
	}

	s.recordAudit(ctx, AuditEntry{
		Action:     ActionUnmute,
		Source:     SourceHuman,
		TargetUser: &updated.MutedUser,
		Moderator:  &req.UnmutedBy,
		CourseID:   req.CourseID,
		Scope:      string(scope),
		Reason:     req.Reason,
		Metadata:   map[string]any{"mute_id": updated.ID},
	})
	metrics.ModerationActionsTotal.WithLabelValues(string(ActionUnmute), string(SourceHuman)).Inc()

	return &UnmuteResult{
		Status:  "success",
		Message: fmt.Sprintf("User %s unmuted successfully", updated.MutedUser),
		Mute:    updated,
	}, nil
}

// IsUserMuted resolves whether mutedUser appears muted to viewer in a course.
//
// True when a course-wide mute is active and no exception exists for this
// viewer, or when the viewer personally muted the user in this course. The
// two dimensions are independent: a viewer exception to the course-wide mute
// does not lift the viewer's own personal mute.
func (s *Service) IsUserMuted(ctx context.Context, mutedUser, viewer, courseID string) (bool, error) {
	courseMute, err := s.store.GetActiveMute(ctx, mutedUser, "", courseID, MuteScopeCourse)
	if err != nil {
		return false, fmt.Errorf("get course mute: %w", err)
	}
	if courseMute != nil {
		excepted, err := s.store.HasMuteException(ctx, mutedUser, viewer, courseID)
		if err != nil {
			return false, fmt.Errorf("check mute exception: %w", err)
		}
		if !excepted {
			return true, nil
		}
	}

	personal, err := s.store.GetActiveMute(ctx, mutedUser, viewer, courseID, MuteScopePersonal)
	if err != nil {
		return false, fmt.Errorf("get personal mute: %w", err)
	}
	return personal != nil, nil
}

// GetMuteStatus reports the mute records behind a viewer's resolution and
// which scope governs it.
func (s *Service) GetMuteStatus(ctx context.Context, mutedUser, viewer, courseID string) (*MuteStatus, error) {
	courseMute, err := s.store.GetActiveMute(ctx, mutedUser, "", courseID, MuteScopeCourse)
	if err != nil {
		return nil, fmt.Errorf("get course mute: %w", err)
	}
	var excepted bool
	if courseMute != nil {
		excepted, err = s.store.HasMuteException(ctx, mutedUser, viewer, courseID)
		if err != nil {
			return nil, fmt.Errorf("check mute exception: %w", err)
		}
	}
	personal, err := s.store.GetActiveMute(ctx, mutedUser, viewer, courseID, MuteScopePersonal)
	if err != nil {
		return nil, fmt.Errorf("get personal mute: %w", err)
	}

	status := &MuteStatus{PersonalMute: personal, CourseMute: courseMute}
	switch {
	case courseMute != nil && !excepted:
		status.Muted = true
		status.Scope = MuteScopeCourse
	case personal != nil:
		status.Muted = true
		status.Scope = MuteScopePersonal
	}
	return status, nil
}

// GetMutedUsers lists the active mutes a user has applied in a course.
// scope may be "personal", "course", or empty for both.
func (s *Service) GetMutedUsers(ctx context.Context, mutedBy, courseID, scope string) ([]MuteRecord, error) {
	f := MuteFilter{CourseID: courseID, ActiveOnly: true}
	switch scope {
	case "", "all":
		f.MutedBy = mutedBy
	case string(MuteScopePersonal):
		f.MutedBy = mutedBy
		f.Scope = MuteScopePersonal
	case string(MuteScopeCourse):
		f.Scope = MuteScopeCourse
	default:
		return nil, &ValidationError{Field: "scope", Message: "must be 'personal', 'course', or 'all'"}
	}
	return s.store.ListMutes(ctx, f)
}

// ListCourseMutes lists active mutes in a course with the visibility split:
// privileged requesters see course-wide mutes and everyone's personal mutes;
// unprivileged requesters see only their own personal mutes.
func (s *Service) ListCourseMutes(ctx context.Context, courseID, requester string, privileged bool) ([]MuteRecord, error) {
	if privileged {
		return s.store.ListMutes(ctx, MuteFilter{CourseID: courseID, ActiveOnly: true})
	}
	return s.store.ListMutes(ctx, MuteFilter{
		CourseID:   courseID,
		MutedBy:    requester,
		Scope:      MuteScopePersonal,
		ActiveOnly: true,
	})
}

// MuteAndReportRequest extends a mute with content to flag as abusive.
// ThreadID is tried as a thread and retried as a comment on failure, since
// callers sometimes pass a comment id there; CommentID is flagged directly.
type MuteAndReportRequest struct {
	MuteRequest
	ThreadID  string
	CommentID string
}

// MuteAndReport mutes a user and then best-effort flags the given content as
// abusive. Each flag attempt's outcome is captured independently; a flagging
// failure never rolls back the mute or blocks the other items.
func (s *Service) MuteAndReport(ctx context.Context, req MuteAndReportRequest) (*MuteAndReportResult, error) {
	muted, err := s.MuteUser(ctx, req.MuteRequest)
	if err != nil {
		return nil, err
	}

	var flagged []FlagResult

	if s.flagger != nil && req.ThreadID != "" {
		res := FlagResult{ContentType: "thread", ContentID: req.ThreadID, Flagged: true}
		if err := s.flagger.FlagAbuse(ctx, "thread", req.ThreadID, req.MutedBy); err != nil {
			log.Warn().Err(err).Str("thread_id", req.ThreadID).Msg("failed to flag thread, retrying as comment")
			res.ContentType = "comment"
			if err2 := s.flagger.FlagAbuse(ctx, "comment", req.ThreadID, req.MutedBy); err2 != nil {
				log.Warn().Err(err2).Str("comment_id", req.ThreadID).Msg("failed to flag comment")
				res.Flagged = false
				res.Error = err2.Error()
			}
		}
		flagged = append(flagged, res)
	}

	if s.flagger != nil && req.CommentID != "" {
		res := FlagResult{ContentType: "comment", ContentID: req.CommentID, Flagged: true}
		if err := s.flagger.FlagAbuse(ctx, "comment", req.CommentID, req.MutedBy); err != nil {
			log.Warn().Err(err).Str("comment_id", req.CommentID).Msg("failed to flag comment")
			res.Flagged = false
			res.Error = err.Error()
		}
		flagged = append(flagged, res)
	}

	status := "success"
	message := "User muted and reported"
	if len(flagged) > 0 {
		message = "User muted and content flagged"
		for _, f := range flagged {
			if !f.Flagged {
				status = "partial"
				break
			}
		}
	}

	return &MuteAndReportResult{
		Status:  status,
		Message: message,
		Mute:    muted,
		Flagged: flagged,
	}, nil
}
