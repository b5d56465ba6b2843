package moderation

import (
	"context"
	"time"
)

// BanFilter selects bans for listing.
//
// When CourseID is set without a Scope, the result is the union of
// course-scope bans for that course and organization-scope bans for
// CourseOrgKey (the course's resolved organization): the two predicates are
// ORed so the caller sees the full ban surface applicable to the course.
type BanFilter struct {
	CourseID        string
	CourseOrgKey    string
	OrgKey          string
	Scope           Scope
	IncludeInactive bool
}

// MuteFilter selects mute records for listing.
type MuteFilter struct {
	MutedUser  string
	MutedBy    string
	CourseID   string
	Scope      MuteScope
	ActiveOnly bool
}

// AuditFilter selects audit entries for listing. Zero fields match all;
// Limit caps the result (most recent first).
type AuditFilter struct {
	TargetUser string
	CourseID   string
	Action     Action
	Source     Source
	Limit      int
}

// Store is the persistence capability for the moderation engine. Two
// interchangeable implementations exist (SQLite and BoltDB), selected by
// configuration. Implementations must be safe for concurrent use and must
// enforce the active-row uniqueness constraints atomically at the storage
// layer.
type Store interface {
	// ApplyBan inserts a ban, or resolves against the existing row for the
	// same natural key: an active row is returned as-is (idempotent re-ban),
	// an inactive row is reactivated in place. The whole sequence runs in one
	// transaction; a lost insert race falls back to the same resolution.
	// Returns (ban, created, reactivated).
	ApplyBan(ctx context.Context, ban Ban) (*Ban, bool, bool, error)

	// DeactivateBan marks a ban inactive and stamps the unban fields. The row
	// is kept as history.
	DeactivateBan(ctx context.Context, banID int64, unbannedBy string, at time.Time) (*Ban, error)

	GetBan(ctx context.Context, id int64) (*Ban, error)

	// GetActiveBan looks up the active ban for a natural key. key is the
	// course id for ScopeCourse and the org key for ScopeOrganization.
	// Returns nil, nil when there is none.
	GetActiveBan(ctx context.Context, username string, scope Scope, key string) (*Ban, error)

	ListBans(ctx context.Context, f BanFilter) ([]Ban, error)
	GetUserBans(ctx context.Context, username string, active *bool) ([]Ban, error)

	// ActiveBanUsernames returns the distinct usernames with an active ban
	// matching the course (ORed with its org, same union rule as ListBans)
	// or the org key.
	ActiveBanUsernames(ctx context.Context, courseID, courseOrgKey, orgKey string) ([]string, error)

	// DeleteBan hard-deletes a ban and, by cascade, all of its exceptions.
	// Administrative cleanup only; the unban path never deletes.
	DeleteBan(ctx context.Context, id int64) error

	// CreateBanException is an idempotent get-or-create on (ban, course).
	// The parent ban must be organization-scope; a course-scope parent is a
	// ValidationError and a missing parent a NotFoundError. Returns
	// (exception, created).
	CreateBanException(ctx context.Context, exc BanException) (*BanException, bool, error)
	HasBanException(ctx context.Context, banID int64, courseID string) (bool, error)
	ListBanExceptions(ctx context.Context, banID int64) ([]BanException, error)
	DeleteBanException(ctx context.Context, banID int64, courseID string) error

	// ApplyMute mirrors ApplyBan for mute records.
	ApplyMute(ctx context.Context, m MuteRecord) (*MuteRecord, bool, bool, error)
	DeactivateMute(ctx context.Context, muteID int64, unmutedBy string, at time.Time) (*MuteRecord, error)

	// GetActiveMute looks up an active mute. mutedBy is matched only for
	// MuteScopePersonal. Returns nil, nil when there is none.
	GetActiveMute(ctx context.Context, mutedUser, mutedBy, courseID string, scope MuteScope) (*MuteRecord, error)

	ListMutes(ctx context.Context, f MuteFilter) ([]MuteRecord, error)

	// CreateMuteException is an idempotent get-or-create on
	// (muted_user, exception_user, course). Returns (exception, created).
	CreateMuteException(ctx context.Context, exc MuteException) (*MuteException, bool, error)
	HasMuteException(ctx context.Context, mutedUser, exceptionUser, courseID string) (bool, error)

	// AppendAudit appends one audit entry. There is deliberately no update or
	// delete counterpart anywhere in the interface.
	AppendAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error)

	Close() error
}

// ContentFlagger flags a piece of discussion content as abusive. It is
// implemented by the content layer; mute-and-report treats every call as
// best-effort.
type ContentFlagger interface {
	FlagAbuse(ctx context.Context, contentType, contentID, flaggedBy string) error
}
