// Package moderation implements the discussion ban/mute rules engine:
// scoped bans with per-course exceptions, personal and course-wide mutes
// with per-viewer exceptions, and an append-only audit trail.
package moderation

import "time"

// Scope is the reach of a ban: one course or a whole organization.
type Scope string

const (
	ScopeCourse       Scope = "course"
	ScopeOrganization Scope = "organization"
)

// ParseScope validates a scope value.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeCourse, ScopeOrganization:
		return Scope(s), nil
	}
	return "", &ValidationError{Field: "scope", Message: "must be 'course' or 'organization'"}
}

// MuteScope is the reach of a mute: one viewer's personal mute, or a
// course-wide mute applied by a privileged moderator.
type MuteScope string

const (
	MuteScopePersonal MuteScope = "personal"
	MuteScopeCourse   MuteScope = "course"
)

// ParseMuteScope validates a mute scope value.
func ParseMuteScope(s string) (MuteScope, error) {
	switch MuteScope(s) {
	case MuteScopePersonal, MuteScopeCourse:
		return MuteScope(s), nil
	}
	return "", &ValidationError{Field: "scope", Message: "must be 'personal' or 'course'"}
}

// Ban is the current state of one ban action.
//
// Course-scope bans carry CourseID plus a denormalized OrgKey for querying;
// organization-scope bans carry OrgKey only. At most one active ban exists
// per (user, course) course-scope key and per (user, org) organization-scope
// key; inactive bans accumulate as history. Rows are never hard-deleted by
// the unban path.
type Ban struct {
	ID         int64      `json:"id"`
	Username   string     `json:"user"`
	CourseID   *string    `json:"course_id"`
	OrgKey     *string    `json:"org_key"`
	Scope      Scope      `json:"scope"`
	Reason     string     `json:"reason"`
	IsActive   bool       `json:"is_active"`
	BannedBy   string     `json:"banned_by"`
	BannedAt   time.Time  `json:"banned_at"`
	UnbannedAt *time.Time `json:"unbanned_at"`
	UnbannedBy *string    `json:"unbanned_by"`
}

// BanException is a course-level carve-out from an organization-level ban.
// At most one exception exists per (ban, course). Exceptions are deleted
// with their parent ban.
type BanException struct {
	ID         int64     `json:"id"`
	BanID      int64     `json:"ban_id"`
	CourseID   string    `json:"course_id"`
	UnbannedBy string    `json:"unbanned_by"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// MuteRecord is a personal or course-wide mute. Personal mutes are keyed by
// (muted_user, muted_by, course); course-wide mutes by (muted_user, course).
// The active-flag uniqueness pattern mirrors Ban.
type MuteRecord struct {
	ID        int64      `json:"id"`
	MutedUser string     `json:"muted_user"`
	MutedBy   string     `json:"muted_by"`
	CourseID  string     `json:"course_id"`
	Scope     MuteScope  `json:"scope"`
	Reason    string     `json:"reason"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	UnmutedAt *time.Time `json:"unmuted_at"`
	UnmutedBy *string    `json:"unmuted_by"`
}

// MuteException lets one specific viewer see a course-wide-muted user's
// content again. Keyed by (muted_user, exception_user, course); deleted with
// the parent mute.
type MuteException struct {
	ID            int64     `json:"id"`
	MuteID        int64     `json:"mute_id"`
	MutedUser     string    `json:"muted_user"`
	ExceptionUser string    `json:"exception_user"`
	CourseID      string    `json:"course_id"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}

// Action identifies the kind of moderation decision an audit entry records.
type Action string

const (
	ActionBan                 Action = "ban"
	ActionBanReactivate       Action = "ban_reactivate"
	ActionUnban               Action = "unban"
	ActionBanException        Action = "ban_exception"
	ActionBanExceptionRemoved Action = "ban_exception_removed"
	ActionBulkDelete          Action = "bulk_delete"
	ActionContentFlagged      Action = "content_flagged"
	ActionContentSoftDelete   Action = "content_soft_deleted"
	ActionContentApproved     Action = "content_approved"
	ActionNoAction            Action = "no_action"
)

// Source identifies who initiated a moderation decision.
type Source string

const (
	SourceHuman  Source = "human"
	SourceAI     Source = "ai"
	SourceSystem Source = "system"
)

// AuditEntry is one immutable record of a moderation decision. Entries are
// append-only: no layer exposes update or delete.
//
// TargetUser is set for user-directed actions; Body and OriginalAuthor for
// content-directed ones. Moderator is nil for automated decisions. The
// classifier fields are populated only when Source is SourceAI.
type AuditEntry struct {
	ID               string         `json:"id"`
	Action           Action         `json:"action_type"`
	Source           Source         `json:"source"`
	Timestamp        time.Time      `json:"timestamp"`
	TargetUser       *string        `json:"target_user"`
	Moderator        *string        `json:"moderator"`
	CourseID         string         `json:"course_id,omitempty"`
	Scope            string         `json:"scope,omitempty"`
	Reason           string         `json:"reason,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Body             string         `json:"body,omitempty"`
	OriginalAuthor   string         `json:"original_author,omitempty"`
	Classification   string         `json:"classification,omitempty"`
	ClassifierOutput map[string]any `json:"classifier_output,omitempty"`
	ConfidenceScore  *float64       `json:"confidence_score,omitempty"`
	Reasoning        string         `json:"reasoning,omitempty"`
}

// BanResult is returned by a ban operation. Reactivated is true when an
// inactive ban for the same key was restored in place instead of inserted.
type BanResult struct {
	Ban         *Ban `json:"ban"`
	Reactivated bool `json:"reactivated"`
}

// UnbanResult is returned by an unban operation. ExceptionCreated is true
// when the request produced a course exception to an org-level ban rather
// than deactivating the ban itself.
type UnbanResult struct {
	Status           string        `json:"status"`
	Message          string        `json:"message"`
	ExceptionCreated bool          `json:"exception_created"`
	Ban              *Ban          `json:"ban"`
	Exception        *BanException `json:"exception"`
}

// MuteResult is returned by a mute operation.
type MuteResult struct {
	Mute        *MuteRecord `json:"mute"`
	Reactivated bool        `json:"reactivated"`
}

// UnmuteResult is returned by an unmute operation.
type UnmuteResult struct {
	Status           string         `json:"status"`
	Message          string         `json:"message"`
	ExceptionCreated bool           `json:"exception_created"`
	Mute             *MuteRecord    `json:"mute"`
	Exception        *MuteException `json:"exception"`
}

// MuteStatus reports how a user appears to a particular viewer in a course.
// Scope names the mute governing the resolution: course when a course-wide
// mute applies to this viewer, personal otherwise. Empty when not muted.
type MuteStatus struct {
	Muted        bool        `json:"muted"`
	Scope        MuteScope   `json:"scope,omitempty"`
	PersonalMute *MuteRecord `json:"personal_mute"`
	CourseMute   *MuteRecord `json:"course_mute"`
}

// FlagResult is the per-item outcome of the content-flagging step of a
// mute-and-report operation.
type FlagResult struct {
	ContentType string `json:"content_type"`
	ContentID   string `json:"content_id"`
	Flagged     bool   `json:"flagged"`
	Error       string `json:"error,omitempty"`
}

// MuteAndReportResult combines the mute outcome with the per-item flag
// results. Status is "success" when every flag attempt succeeded, "partial"
// otherwise; flag failures never roll back the mute itself.
type MuteAndReportResult struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Mute    *MuteResult  `json:"mute_record"`
	Flagged []FlagResult `json:"flagged_items"`
}
