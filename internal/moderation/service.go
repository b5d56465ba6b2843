package moderation

import (
	"context"
	"fmt"
	"time"

	"forummod/internal/courses"
	"forummod/internal/metrics"
	"forummod/internal/tracing"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultBanReason = "No reason provided"

// Service is the moderation engine. All writes go through it; it performs
// validation, resolves course organizations, delegates persistence to the
// Store, and appends audit entries. Safe for concurrent use.
type Service struct {
	store   Store
	orgs    *courses.Resolver
	flagger ContentFlagger
}

// NewService creates a moderation service. flagger may be nil; mute-and-report
// then skips the content-flagging step.
func NewService(store Store, orgs *courses.Resolver, flagger ContentFlagger) *Service {
	if orgs == nil {
		orgs = courses.NewResolver(nil)
	}
	return &Service{store: store, orgs: orgs, flagger: flagger}
}

// BanRequest carries the parameters of a ban operation.
type BanRequest struct {
	Username string
	BannedBy string
	Scope    string
	CourseID string
	OrgKey   string
	Reason   string
}

// BanUser bans a user from discussions.
//
// Course scope requires CourseID; organization scope requires OrgKey or a
// CourseID the org can be derived from. Re-banning an already-active key is
// an idempotent no-op; banning over an inactive ban reactivates the existing
// row in place. Always appends one audit entry.
func (s *Service) BanUser(ctx context.Context, req BanRequest) (*BanResult, error) {
	scope, err := ParseScope(req.Scope)
	if err != nil {
		return nil, err
	}
	if req.Username == "" {
		return nil, &ValidationError{Field: "user", Message: "required"}
	}
	if req.BannedBy == "" {
		return nil, &ValidationError{Field: "banned_by", Message: "required"}
	}

	ban := Ban{
		Username: req.Username,
		Scope:    scope,
		Reason:   req.Reason,
		IsActive: true,
		BannedBy: req.BannedBy,
		BannedAt: time.Now().UTC(),
	}
	if ban.Reason == "" {
		ban.Reason = defaultBanReason
	}

	switch scope {
	case ScopeCourse:
		if req.CourseID == "" {
			return nil, &ValidationError{Field: "course_id", Message: "required for course-level bans"}
		}
		courseID := req.CourseID
		ban.CourseID = &courseID
		// Denormalize the org key onto course-scope bans for querying
		if org, orgErr := s.orgs.OrgFor(ctx, req.CourseID); orgErr == nil {
			ban.OrgKey = &org
		} else if req.OrgKey != "" {
			orgKey := req.OrgKey
			ban.OrgKey = &orgKey
		}
	case ScopeOrganization:
		orgKey := req.OrgKey
		if orgKey == "" && req.CourseID != "" {
			orgKey, err = s.orgs.OrgFor(ctx, req.CourseID)
			if err != nil {
				return nil, &ValidationError{Field: "org_key", Message: "could not be determined for organization-level ban"}
			}
		}
		if orgKey == "" {
			return nil, &ValidationError{Field: "org_key", Message: "org_key or course_id is required for organization-level bans"}
		}
		ban.OrgKey = &orgKey
	}

	applied, created, reactivated, err := s.store.ApplyBan(ctx, ban)
	if err != nil {
		return nil, fmt.Errorf("apply ban: %w", err)
	}

	action := ActionBan
	if reactivated {
		action = ActionBanReactivate
	}
	s.recordAudit(ctx, AuditEntry{
		Action:     action,
		Source:     SourceHuman,
		TargetUser: &applied.Username,
		Moderator:  &req.BannedBy,
		CourseID:   req.CourseID,
		Scope:      string(scope),
		Reason:     req.Reason,
		Metadata: map[string]any{
			"ban_id":  applied.ID,
			"created": created,
		},
	})
	metrics.ModerationActionsTotal.WithLabelValues(string(action), string(SourceHuman)).Inc()

	log.Info().
		Str("user", applied.Username).
		Str("scope", string(scope)).
		Str("course_id", req.CourseID).
		Str("org_key", req.OrgKey).
		Str("banned_by", req.BannedBy).
		Bool("reactivated", reactivated).
		Msg("user banned")

	return &BanResult{Ban: applied, Reactivated: reactivated}, nil
}

// UnbanRequest carries the parameters of an unban operation. The ban is
// located either by BanID or by (Username, Scope, CourseID).
type UnbanRequest struct {
	BanID      int64
	Username   string
	Scope      string
	CourseID   string
	UnbannedBy string
	Reason     string
}

// UnbanUser reverses a ban.
//
// For an organization-scope ban with a CourseID supplied, a course exception
// is created (idempotently) and the org ban stays active; otherwise the ban
// is deactivated in place with the unban fields stamped. Always appends one
// audit entry.
func (s *Service) UnbanUser(ctx context.Context, req UnbanRequest) (*UnbanResult, error) {
	if req.UnbannedBy == "" {
		return nil, &ValidationError{Field: "unbanned_by", Message: "required"}
	}

	ban, err := s.findActiveBan(ctx, req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	if ban.Scope == ScopeOrganization && req.CourseID != "" {
		reason := req.Reason
		if reason == "" {
			reason = "Course-level exception to organization ban"
		}
		exc, created, err := s.store.CreateBanException(ctx, BanException{
			BanID:      ban.ID,
			CourseID:   req.CourseID,
			UnbannedBy: req.UnbannedBy,
			Reason:     reason,
			CreatedAt:  now,
		})
		if err != nil {
			return nil, fmt.Errorf("create ban exception: %w", err)
		}

		var orgKey string
		if ban.OrgKey != nil {
			orgKey = *ban.OrgKey
		}
		s.recordAudit(ctx, AuditEntry{
			Action:     ActionBanException,
			Source:     SourceHuman,
			TargetUser: &ban.Username,
			Moderator:  &req.UnbannedBy,
			CourseID:   req.CourseID,
			Scope:      string(ScopeOrganization),
			Reason:     "Exception to org ban: " + req.Reason,
			Metadata: map[string]any{
				"ban_id":            ban.ID,
				"exception_id":      exc.ID,
				"exception_created": created,
				"org_key":           orgKey,
			},
		})
		metrics.ModerationActionsTotal.WithLabelValues(string(ActionBanException), string(SourceHuman)).Inc()

		log.Info().
			Int64("ban_id", ban.ID).
			Str("user", ban.Username).
			Str("course_id", req.CourseID).
			Str("unbanned_by", req.UnbannedBy).
			Msg("ban exception created")

		return &UnbanResult{
			Status: "success",
			Message: fmt.Sprintf("User %s unbanned from %s (org-level ban still active for other courses)",
				ban.Username, req.CourseID),
			ExceptionCreated: true,
			Ban:              ban,
			Exception:        exc,
		}, nil
	}

	updated, err := s.store.DeactivateBan(ctx, ban.ID, req.UnbannedBy, now)
	if err != nil {
		return nil, fmt.Errorf("deactivate ban: %w", err)
	}

	var courseID string
	if updated.CourseID != nil {
		courseID = *updated.CourseID
	}
	s.recordAudit(ctx, AuditEntry{
		Action:     ActionUnban,
		Source:     SourceHuman,
		TargetUser: &updated.Username,
		Moderator:  &req.UnbannedBy,
		CourseID:   courseID,
		Scope:      string(updated.Scope),
		Reason:     "Unban: " + req.Reason,
		Metadata:   map[string]any{"ban_id": updated.ID},
	})
	metrics.ModerationActionsTotal.WithLabelValues(string(ActionUnban), string(SourceHuman)).Inc()

	log.Info().
		Int64("ban_id", updated.ID).
		Str("user", updated.Username).
		Str("unbanned_by", req.UnbannedBy).
		Msg("user unbanned")

	return &UnbanResult{
		Status:  "success",
		Message: fmt.Sprintf("User %s unbanned successfully", updated.Username),
		Ban:     updated,
	}, nil
}

// findActiveBan locates the active ban an unban request targets.
func (s *Service) findActiveBan(ctx context.Context, req UnbanRequest) (*Ban, error) {
	if req.BanID != 0 {
		ban, err := s.store.GetBan(ctx, req.BanID)
		if err != nil {
			return nil, fmt.Errorf("get ban: %w", err)
		}
		if ban == nil || !ban.IsActive {
			return nil, &NotFoundError{Resource: "active ban", Key: fmt.Sprintf("%d", req.BanID)}
		}
		return ban, nil
	}

	if req.Username == "" {
		return nil, &ValidationError{Field: "ban_id", Message: "either ban_id or user must be provided"}
	}

	var scope Scope
	if req.Scope != "" {
		var err error
		scope, err = ParseScope(req.Scope)
		if err != nil {
			return nil, err
		}
	}

	active := true
	bans, err := s.store.GetUserBans(ctx, req.Username, &active)
	if err != nil {
		return nil, fmt.Errorf("get user bans: %w", err)
	}
	for i := range bans {
		b := &bans[i]
		if scope != "" && b.Scope != scope {
			continue
		}
		// A course-scope candidate must match the named course even when the
		// request omits the scope; org-scope candidates are carved per course
		// via exceptions rather than matched here.
		if req.CourseID != "" && b.Scope == ScopeCourse {
			if b.CourseID == nil || *b.CourseID != req.CourseID {
				continue
			}
		}
		return b, nil
	}
	return nil, &NotFoundError{
		Resource: "active ban",
		Key:      fmt.Sprintf("user %s scope %s", req.Username, req.Scope),
	}
}

// ListBansQuery filters the ban listing.
type ListBansQuery struct {
	CourseID        string
	OrgKey          string
	Scope           string
	IncludeInactive bool
}

// ListBans returns ban records ordered by ban timestamp descending. A course
// filter without a scope also pulls in organization-scope bans for the
// course's org, ORed with the course predicate.
func (s *Service) ListBans(ctx context.Context, q ListBansQuery) ([]Ban, error) {
	f := BanFilter{
		CourseID:        q.CourseID,
		OrgKey:          q.OrgKey,
		IncludeInactive: q.IncludeInactive,
	}
	if q.Scope != "" {
		scope, err := ParseScope(q.Scope)
		if err != nil {
			return nil, err
		}
		f.Scope = scope
	}
	if q.CourseID != "" && f.Scope == "" {
		if org, err := s.orgs.OrgFor(ctx, q.CourseID); err == nil {
			f.CourseOrgKey = org
		}
	}
	return s.store.ListBans(ctx, f)
}

// GetBan returns one ban by ID.
func (s *Service) GetBan(ctx context.Context, id int64) (*Ban, error) {
	ban, err := s.store.GetBan(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get ban: %w", err)
	}
	if ban == nil {
		return nil, &NotFoundError{Resource: "ban", Key: fmt.Sprintf("%d", id)}
	}
	return ban, nil
}

// ListBanExceptions returns the course exceptions attached to a ban.
func (s *Service) ListBanExceptions(ctx context.Context, banID int64) ([]BanException, error) {
	if _, err := s.GetBan(ctx, banID); err != nil {
		return nil, err
	}
	return s.store.ListBanExceptions(ctx, banID)
}

// RemoveBanException deletes a course exception from a ban, restoring the
// parent ban's effect in that course.
func (s *Service) RemoveBanException(ctx context.Context, banID int64, courseID, removedBy string) error {
	if courseID == "" {
		return &ValidationError{Field: "course_id", Message: "required"}
	}
	if removedBy == "" {
		return &ValidationError{Field: "removed_by", Message: "required"}
	}

	ban, err := s.GetBan(ctx, banID)
	if err != nil {
		return err
	}
	has, err := s.store.HasBanException(ctx, banID, courseID)
	if err != nil {
		return fmt.Errorf("has ban exception: %w", err)
	}
	if !has {
		return &NotFoundError{Resource: "ban exception", Key: fmt.Sprintf("%d/%s", banID, courseID)}
	}
	if err := s.store.DeleteBanException(ctx, banID, courseID); err != nil {
		return fmt.Errorf("delete ban exception: %w", err)
	}

	s.recordAudit(ctx, AuditEntry{
		Action:     ActionBanExceptionRemoved,
		Source:     SourceHuman,
		TargetUser: &ban.Username,
		Moderator:  &removedBy,
		CourseID:   courseID,
		Scope:      string(ban.Scope),
		Metadata:   map[string]any{"ban_id": banID},
	})
	metrics.ModerationActionsTotal.WithLabelValues(string(ActionBanExceptionRemoved), string(SourceHuman)).Inc()

	log.Info().
		Int64("ban_id", banID).
		Str("user", ban.Username).
		Str("course_id", courseID).
		Str("removed_by", removedBy).
		Msg("ban exception removed")

	return nil
}

// GetUserBans returns a user's bans, optionally filtered by active state.
func (s *Service) GetUserBans(ctx context.Context, username string, active *bool) ([]Ban, error) {
	return s.store.GetUserBans(ctx, username, active)
}

// IsUserBanned reports whether a user has an effective ban for a course.
// With checkOrg false, only course-scope bans are consulted.
func (s *Service) IsUserBanned(ctx context.Context, username, courseID string, checkOrg bool) (bool, error) {
	var banned bool
	var err error
	if checkOrg {
		_, banned, err = s.BanScope(ctx, username, courseID)
	} else {
		var ban *Ban
		ban, err = s.store.GetActiveBan(ctx, username, ScopeCourse, courseID)
		banned = ban != nil
	}
	if err != nil {
		return false, err
	}
	if banned {
		metrics.BanChecksTotal.WithLabelValues("banned").Inc()
	} else {
		metrics.BanChecksTotal.WithLabelValues("clear").Inc()
	}
	return banned, nil
}

// BanScope resolves the effective ban state of a user in a course.
//
// An active organization ban outranks everything unless an exception exists
// for this course. The exception only lifts the org-wide block: a separate
// course-level ban still applies, so resolution falls through to the course
// check rather than returning clear.
func (s *Service) BanScope(ctx context.Context, username, courseID string) (Scope, bool, error) {
	ctx, span := tracing.ResolveSpan(ctx, username, courseID)
	defer span.End()

	if org, err := s.orgs.OrgFor(ctx, courseID); err == nil && org != "" {
		orgBan, err := s.store.GetActiveBan(ctx, username, ScopeOrganization, org)
		if err != nil {
			tracing.EndWithError(span, err)
			return "", false, fmt.Errorf("get org ban: %w", err)
		}
		if orgBan != nil {
			excepted, err := s.store.HasBanException(ctx, orgBan.ID, courseID)
			if err != nil {
				tracing.EndWithError(span, err)
				return "", false, fmt.Errorf("check ban exception: %w", err)
			}
			if !excepted {
				return ScopeOrganization, true, nil
			}
		}
	}

	courseBan, err := s.store.GetActiveBan(ctx, username, ScopeCourse, courseID)
	if err != nil {
		tracing.EndWithError(span, err)
		return "", false, fmt.Errorf("get course ban: %w", err)
	}
	if courseBan != nil {
		return ScopeCourse, true, nil
	}
	return "", false, nil
}

// GetBannedUsernames returns the set of usernames with an active ban
// applicable to the course (course-scope ORed with the course's org) or to
// the org key. Intended for cheap membership testing by feed filters.
func (s *Service) GetBannedUsernames(ctx context.Context, courseID, orgKey string) (map[string]struct{}, error) {
	var courseOrg string
	if courseID != "" {
		if org, err := s.orgs.OrgFor(ctx, courseID); err == nil {
			courseOrg = org
		} else {
			courseOrg = orgKey
		}
	}
	names, err := s.store.ActiveBanUsernames(ctx, courseID, courseOrg, orgKey)
	if err != nil {
		return nil, fmt.Errorf("list banned usernames: %w", err)
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set, nil
}

// ListAudit returns audit entries, most recent first. The trail is
// append-only; there is no corresponding mutation operation.
func (s *Service) ListAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	return s.store.ListAudit(ctx, f)
}

// RecordAudit appends an externally-originated audit entry (used by the AI
// moderation pipeline with Source set to SourceAI). ID and timestamp are
// filled in when zero.
func (s *Service) RecordAudit(ctx context.Context, e AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := s.store.AppendAudit(ctx, e); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	metrics.ModerationActionsTotal.WithLabelValues(string(e.Action), string(e.Source)).Inc()
	return nil
}

// recordAudit appends an audit entry best-effort. A failed write degrades
// observability only: it is logged and counted, never propagated, so the
// primary state change stands.
func (s *Service) recordAudit(ctx context.Context, e AuditEntry) {
	e.ID = uuid.NewString()
	e.Timestamp = time.Now().UTC()
	if err := s.store.AppendAudit(ctx, e); err != nil {
		metrics.AuditWriteFailuresTotal.Inc()
		log.Error().Err(err).
			Str("action", string(e.Action)).
			Msg("failed to write audit entry")
	}
}
