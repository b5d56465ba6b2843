package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"forummod/internal/moderation"
)

// ModerationStore implements moderation.Store using SQLite.
type ModerationStore struct {
	db *sql.DB
}

// NewModerationStore creates a ModerationStore backed by the given database.
// The database must already have the moderation schema applied.
func NewModerationStore(db *sql.DB) *ModerationStore {
	return &ModerationStore{db: db}
}

// Ensure ModerationStore implements the interface at compile time.
var _ moderation.Store = (*ModerationStore)(nil)

func (s *ModerationStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so tests and shared components can reuse
// the connection.
func (s *ModerationStore) DB() *sql.DB {
	return s.db
}

func isUniqueViolation(err error) bool {
	var dup *moderation.ErrDuplicateKey
	if errors.As(err, &dup) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// asDuplicate converts a driver-level unique violation into the typed store
// error so callers resolve the race without matching driver strings.
func asDuplicate(err error, constraint string) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return &moderation.ErrDuplicateKey{Constraint: constraint}
	}
	return err
}

func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// ========== Bans ==========

const banColumns = `id, username, course_id, org_key, scope, reason, is_active, banned_by, banned_at, unbanned_at, unbanned_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBan(row rowScanner) (*moderation.Ban, error) {
	var b moderation.Ban
	var courseID, orgKey, unbannedAt, unbannedBy sql.NullString
	var isActive int
	var bannedAtStr string
	err := row.Scan(&b.ID, &b.Username, &courseID, &orgKey, &b.Scope, &b.Reason,
		&isActive, &b.BannedBy, &bannedAtStr, &unbannedAt, &unbannedBy)
	if err != nil {
		return nil, err
	}
	b.CourseID = strPtr(courseID)
	b.OrgKey = strPtr(orgKey)
	b.IsActive = isActive == 1
	b.BannedAt, _ = time.Parse(time.RFC3339Nano, bannedAtStr)
	b.UnbannedAt = timePtr(unbannedAt)
	b.UnbannedBy = strPtr(unbannedBy)
	return &b, nil
}

// banKeyClause returns the natural-key predicate and args for a ban. The key
// is (username, course_id) for course scope and (username, org_key) for
// organization scope.
func banKeyClause(ban moderation.Ban) (string, []any) {
	if ban.Scope == moderation.ScopeCourse {
		return `username = ? AND scope = 'course' AND course_id = ?`,
			[]any{ban.Username, nullStr(ban.CourseID)}
	}
	return `username = ? AND scope = 'organization' AND org_key = ?`,
		[]any{ban.Username, nullStr(ban.OrgKey)}
}

func (s *ModerationStore) ApplyBan(ctx context.Context, ban moderation.Ban) (*moderation.Ban, bool, bool, error) {
	result, created, reactivated, err := s.applyBanOnce(ctx, ban)
	if isUniqueViolation(err) {
		// Lost an insert race against a concurrent writer for the same key.
		// The winning row now exists, so a second pass resolves against it.
		result, created, reactivated, err = s.applyBanOnce(ctx, ban)
	}
	return result, created, reactivated, err
}

func (s *ModerationStore) applyBanOnce(ctx context.Context, ban moderation.Ban) (*moderation.Ban, bool, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, false, fmt.Errorf("apply ban: %w", err)
	}
	defer tx.Rollback()

	keyClause, keyArgs := banKeyClause(ban)

	// Active row for the key wins unchanged: re-banning is idempotent.
	existing, err := scanBanMaybe(tx.QueryRowContext(ctx,
		`SELECT `+banColumns+` FROM discussion_bans WHERE `+keyClause+` AND is_active = 1`, keyArgs...))
	if err != nil {
		return nil, false, false, fmt.Errorf("apply ban: %w", err)
	}
	if existing != nil {
		return existing, false, false, tx.Commit()
	}

	// An inactive row for the key is reactivated in place rather than
	// duplicated, so the key's history stays on one row chain.
	prior, err := scanBanMaybe(tx.QueryRowContext(ctx,
		`SELECT `+banColumns+` FROM discussion_bans WHERE `+keyClause+` ORDER BY id DESC LIMIT 1`, keyArgs...))
	if err != nil {
		return nil, false, false, fmt.Errorf("apply ban: %w", err)
	}
	if prior != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE discussion_bans
			SET is_active = 1, reason = ?, banned_by = ?, banned_at = ?, org_key = ?,
			    unbanned_at = NULL, unbanned_by = NULL
			WHERE id = ?
		`, ban.Reason, ban.BannedBy, ban.BannedAt.UTC().Format(time.RFC3339Nano), nullStr(ban.OrgKey), prior.ID)
		if err != nil {
			return nil, false, false, fmt.Errorf("reactivate ban: %w", err)
		}
		updated, err := scanBan(tx.QueryRowContext(ctx,
			`SELECT `+banColumns+` FROM discussion_bans WHERE id = ?`, prior.ID))
		if err != nil {
			return nil, false, false, fmt.Errorf("reactivate ban: %w", err)
		}
		return updated, false, true, tx.Commit()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO discussion_bans (username, course_id, org_key, scope, reason, is_active, banned_by, banned_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
	`, ban.Username, nullStr(ban.CourseID), nullStr(ban.OrgKey), ban.Scope, ban.Reason,
		ban.BannedBy, ban.BannedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, false, false, asDuplicate(err, "active ban key")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, false, fmt.Errorf("apply ban: %w", err)
	}
	inserted, err := scanBan(tx.QueryRowContext(ctx,
		`SELECT `+banColumns+` FROM discussion_bans WHERE id = ?`, id))
	if err != nil {
		return nil, false, false, fmt.Errorf("apply ban: %w", err)
	}
	return inserted, true, false, tx.Commit()
}

func scanBanMaybe(row *sql.Row) (*moderation.Ban, error) {
	b, err := scanBan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (s *ModerationStore) DeactivateBan(ctx context.Context, banID int64, unbannedBy string, at time.Time) (*moderation.Ban, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE discussion_bans
		SET is_active = 0, unbanned_at = ?, unbanned_by = ?
		WHERE id = ? AND is_active = 1
	`, at.UTC().Format(time.RFC3339Nano), unbannedBy, banID)
	if err != nil {
		return nil, fmt.Errorf("deactivate ban: %w", err)
	}
	return s.GetBan(ctx, banID)
}

func (s *ModerationStore) GetBan(ctx context.Context, id int64) (*moderation.Ban, error) {
	return scanBanMaybe(s.db.QueryRowContext(ctx,
		`SELECT `+banColumns+` FROM discussion_bans WHERE id = ?`, id))
}

func (s *ModerationStore) GetActiveBan(ctx context.Context, username string, scope moderation.Scope, key string) (*moderation.Ban, error) {
	keyColumn := "org_key"
	if scope == moderation.ScopeCourse {
		keyColumn = "course_id"
	}
	return scanBanMaybe(s.db.QueryRowContext(ctx,
		`SELECT `+banColumns+` FROM discussion_bans
		 WHERE username = ? AND scope = ? AND `+keyColumn+` = ? AND is_active = 1`,
		username, scope, key))
}

func (s *ModerationStore) ListBans(ctx context.Context, f moderation.BanFilter) ([]moderation.Ban, error) {
	var clauses []string
	var args []any

	switch {
	case f.CourseID != "" && f.Scope == "":
		// Union rule: everything banning someone from this course, whether
		// the ban names the course or its whole organization.
		clauses = append(clauses, `((scope = 'course' AND course_id = ?) OR (scope = 'organization' AND org_key = ?))`)
		args = append(args, f.CourseID, f.CourseOrgKey)
	case f.CourseID != "":
		clauses = append(clauses, `scope = ? AND course_id = ?`)
		args = append(args, f.Scope, f.CourseID)
	case f.OrgKey != "":
		clauses = append(clauses, `scope = 'organization' AND org_key = ?`)
		args = append(args, f.OrgKey)
	case f.Scope != "":
		clauses = append(clauses, `scope = ?`)
		args = append(args, f.Scope)
	}
	if !f.IncludeInactive {
		clauses = append(clauses, `is_active = 1`)
	}

	query := `SELECT ` + banColumns + ` FROM discussion_bans`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY banned_at DESC, id DESC`

	return s.queryBans(ctx, query, args...)
}

func (s *ModerationStore) GetUserBans(ctx context.Context, username string, active *bool) ([]moderation.Ban, error) {
	query := `SELECT ` + banColumns + ` FROM discussion_bans WHERE username = ?`
	args := []any{username}
	if active != nil {
		query += ` AND is_active = ?`
		if *active {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	query += ` ORDER BY banned_at DESC, id DESC`
	return s.queryBans(ctx, query, args...)
}

func (s *ModerationStore) queryBans(ctx context.Context, query string, args ...any) ([]moderation.Ban, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bans: %w", err)
	}
	defer rows.Close()

	var bans []moderation.Ban
	for rows.Next() {
		b, err := scanBan(rows)
		if err != nil {
			return nil, fmt.Errorf("query bans: %w", err)
		}
		bans = append(bans, *b)
	}
	return bans, rows.Err()
}

func (s *ModerationStore) ActiveBanUsernames(ctx context.Context, courseID, courseOrgKey, orgKey string) ([]string, error) {
	var clauses []string
	var args []any
	if courseID != "" {
		clauses = append(clauses, `(scope = 'course' AND course_id = ?)`, `(scope = 'organization' AND org_key = ?)`)
		args = append(args, courseID, courseOrgKey)
	}
	if orgKey != "" {
		clauses = append(clauses, `(scope = 'organization' AND org_key = ?)`)
		args = append(args, orgKey)
	}

	query := `SELECT DISTINCT username FROM discussion_bans WHERE is_active = 1`
	if len(clauses) > 0 {
		query += ` AND (` + strings.Join(clauses, " OR ") + `)`
	}
	query += ` ORDER BY username`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("active ban usernames: %w", err)
	}
	defer rows.Close()

	var usernames []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("active ban usernames: %w", err)
		}
		usernames = append(usernames, u)
	}
	return usernames, rows.Err()
}

func (s *ModerationStore) DeleteBan(ctx context.Context, id int64) error {
	// Exceptions go with the ban via ON DELETE CASCADE.
	_, err := s.db.ExecContext(ctx, `DELETE FROM discussion_bans WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete ban: %w", err)
	}
	return nil
}

// ========== Ban exceptions ==========

const banExceptionColumns = `id, ban_id, course_id, unbanned_by, reason, created_at`

func scanBanException(row rowScanner) (*moderation.BanException, error) {
	var e moderation.BanException
	var createdAtStr string
	err := row.Scan(&e.ID, &e.BanID, &e.CourseID, &e.UnbannedBy, &e.Reason, &createdAtStr)
	if err != nil {
		return nil, err
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	return &e, nil
}

func (s *ModerationStore) CreateBanException(ctx context.Context, exc moderation.BanException) (*moderation.BanException, bool, error) {
	// Exceptions carve a course out of an organization-wide ban; a
	// course-scope parent is rejected for any input.
	parent, err := s.GetBan(ctx, exc.BanID)
	if err != nil {
		return nil, false, fmt.Errorf("get ban: %w", err)
	}
	if parent == nil {
		return nil, false, &moderation.NotFoundError{Resource: "ban", Key: fmt.Sprintf("%d", exc.BanID)}
	}
	if parent.Scope != moderation.ScopeOrganization {
		return nil, false, &moderation.ValidationError{Field: "scope", Message: "exceptions apply to organization-scope bans only"}
	}

	existing, err := s.getBanException(ctx, exc.BanID, exc.CourseID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO discussion_ban_exceptions (ban_id, course_id, unbanned_by, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, exc.BanID, exc.CourseID, exc.UnbannedBy, exc.Reason, exc.CreatedAt.UTC().Format(time.RFC3339Nano))
	if isUniqueViolation(err) {
		existing, gerr := s.getBanException(ctx, exc.BanID, exc.CourseID)
		if gerr != nil {
			return nil, false, gerr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create ban exception: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("create ban exception: %w", err)
	}
	exc.ID = id
	return &exc, true, nil
}

func (s *ModerationStore) getBanException(ctx context.Context, banID int64, courseID string) (*moderation.BanException, error) {
	e, err := scanBanException(s.db.QueryRowContext(ctx,
		`SELECT `+banExceptionColumns+` FROM discussion_ban_exceptions WHERE ban_id = ? AND course_id = ?`,
		banID, courseID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *ModerationStore) HasBanException(ctx context.Context, banID int64, courseID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM discussion_ban_exceptions WHERE ban_id = ? AND course_id = ?`,
		banID, courseID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has ban exception: %w", err)
	}
	return true, nil
}

func (s *ModerationStore) ListBanExceptions(ctx context.Context, banID int64) ([]moderation.BanException, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+banExceptionColumns+` FROM discussion_ban_exceptions WHERE ban_id = ? ORDER BY created_at DESC`,
		banID)
	if err != nil {
		return nil, fmt.Errorf("list ban exceptions: %w", err)
	}
	defer rows.Close()

	var exceptions []moderation.BanException
	for rows.Next() {
		e, err := scanBanException(rows)
		if err != nil {
			return nil, fmt.Errorf("list ban exceptions: %w", err)
		}
		exceptions = append(exceptions, *e)
	}
	return exceptions, rows.Err()
}

func (s *ModerationStore) DeleteBanException(ctx context.Context, banID int64, courseID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM discussion_ban_exceptions WHERE ban_id = ? AND course_id = ?`, banID, courseID)
	if err != nil {
		return fmt.Errorf("delete ban exception: %w", err)
	}
	return nil
}

// ========== Mutes ==========

const muteColumns = `id, muted_user, muted_by, course_id, scope, reason, is_active, created_at, unmuted_at, unmuted_by`

func scanMute(row rowScanner) (*moderation.MuteRecord, error) {
	var m moderation.MuteRecord
	var unmutedAt, unmutedBy sql.NullString
	var isActive int
	var createdAtStr string
	err := row.Scan(&m.ID, &m.MutedUser, &m.MutedBy, &m.CourseID, &m.Scope, &m.Reason,
		&isActive, &createdAtStr, &unmutedAt, &unmutedBy)
	if err != nil {
		return nil, err
	}
	m.IsActive = isActive == 1
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	m.UnmutedAt = timePtr(unmutedAt)
	m.UnmutedBy = strPtr(unmutedBy)
	return &m, nil
}

func scanMuteMaybe(row *sql.Row) (*moderation.MuteRecord, error) {
	m, err := scanMute(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// muteKeyClause returns the natural-key predicate for a mute. Personal mutes
// are keyed per muter; course-wide mutes per course.
func muteKeyClause(m moderation.MuteRecord) (string, []any) {
	if m.Scope == moderation.MuteScopePersonal {
		return `muted_user = ? AND muted_by = ? AND course_id = ? AND scope = 'personal'`,
			[]any{m.MutedUser, m.MutedBy, m.CourseID}
	}
	return `muted_user = ? AND course_id = ? AND scope = 'course'`,
		[]any{m.MutedUser, m.CourseID}
}

func (s *ModerationStore) ApplyMute(ctx context.Context, m moderation.MuteRecord) (*moderation.MuteRecord, bool, bool, error) {
	result, created, reactivated, err := s.applyMuteOnce(ctx, m)
	if isUniqueViolation(err) {
		result, created, reactivated, err = s.applyMuteOnce(ctx, m)
	}
	return result, created, reactivated, err
}

func (s *ModerationStore) applyMuteOnce(ctx context.Context, m moderation.MuteRecord) (*moderation.MuteRecord, bool, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, false, fmt.Errorf("apply mute: %w", err)
	}
	defer tx.Rollback()

	keyClause, keyArgs := muteKeyClause(m)

	existing, err := scanMuteMaybe(tx.QueryRowContext(ctx,
		`SELECT `+muteColumns+` FROM discussion_mutes WHERE `+keyClause+` AND is_active = 1`, keyArgs...))
	if err != nil {
		return nil, false, false, fmt.Errorf("apply mute: %w", err)
	}
	if existing != nil {
		return existing, false, false, tx.Commit()
	}

	prior, err := scanMuteMaybe(tx.QueryRowContext(ctx,
		`SELECT `+muteColumns+` FROM discussion_mutes WHERE `+keyClause+` ORDER BY id DESC LIMIT 1`, keyArgs...))
	if err != nil {
		return nil, false, false, fmt.Errorf("apply mute: %w", err)
	}
	if prior != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE discussion_mutes
			SET is_active = 1, reason = ?, muted_by = ?, created_at = ?,
			    unmuted_at = NULL, unmuted_by = NULL
			WHERE id = ?
		`, m.Reason, m.MutedBy, m.CreatedAt.UTC().Format(time.RFC3339Nano), prior.ID)
		if err != nil {
			return nil, false, false, fmt.Errorf("reactivate mute: %w", err)
		}
		updated, err := scanMute(tx.QueryRowContext(ctx,
			`SELECT `+muteColumns+` FROM discussion_mutes WHERE id = ?`, prior.ID))
		if err != nil {
			return nil, false, false, fmt.Errorf("reactivate mute: %w", err)
		}
		return updated, false, true, tx.Commit()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO discussion_mutes (muted_user, muted_by, course_id, scope, reason, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
	`, m.MutedUser, m.MutedBy, m.CourseID, m.Scope, m.Reason, m.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, false, false, asDuplicate(err, "active mute key")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, false, fmt.Errorf("apply mute: %w", err)
	}
	inserted, err := scanMute(tx.QueryRowContext(ctx,
		`SELECT `+muteColumns+` FROM discussion_mutes WHERE id = ?`, id))
	if err != nil {
		return nil, false, false, fmt.Errorf("apply mute: %w", err)
	}
	return inserted, true, false, tx.Commit()
}

func (s *ModerationStore) DeactivateMute(ctx context.Context, muteID int64, unmutedBy string, at time.Time) (*moderation.MuteRecord, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE discussion_mutes
		SET is_active = 0, unmuted_at = ?, unmuted_by = ?
		WHERE id = ? AND is_active = 1
	`, at.UTC().Format(time.RFC3339Nano), unmutedBy, muteID)
	if err != nil {
		return nil, fmt.Errorf("deactivate mute: %w", err)
	}
	return scanMuteMaybe(s.db.QueryRowContext(ctx,
		`SELECT `+muteColumns+` FROM discussion_mutes WHERE id = ?`, muteID))
}

func (s *ModerationStore) GetActiveMute(ctx context.Context, mutedUser, mutedBy, courseID string, scope moderation.MuteScope) (*moderation.MuteRecord, error) {
	if scope == moderation.MuteScopePersonal {
		return scanMuteMaybe(s.db.QueryRowContext(ctx,
			`SELECT `+muteColumns+` FROM discussion_mutes
			 WHERE muted_user = ? AND muted_by = ? AND course_id = ? AND scope = 'personal' AND is_active = 1`,
			mutedUser, mutedBy, courseID))
	}
	return scanMuteMaybe(s.db.QueryRowContext(ctx,
		`SELECT `+muteColumns+` FROM discussion_mutes
		 WHERE muted_user = ? AND course_id = ? AND scope = 'course' AND is_active = 1`,
		mutedUser, courseID))
}

func (s *ModerationStore) ListMutes(ctx context.Context, f moderation.MuteFilter) ([]moderation.MuteRecord, error) {
	var clauses []string
	var args []any
	if f.MutedUser != "" {
		clauses = append(clauses, `muted_user = ?`)
		args = append(args, f.MutedUser)
	}
	if f.MutedBy != "" {
		clauses = append(clauses, `muted_by = ?`)
		args = append(args, f.MutedBy)
	}
	if f.CourseID != "" {
		clauses = append(clauses, `course_id = ?`)
		args = append(args, f.CourseID)
	}
	if f.Scope != "" {
		clauses = append(clauses, `scope = ?`)
		args = append(args, f.Scope)
	}
	if f.ActiveOnly {
		clauses = append(clauses, `is_active = 1`)
	}

	query := `SELECT ` + muteColumns + ` FROM discussion_mutes`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mutes: %w", err)
	}
	defer rows.Close()

	var mutes []moderation.MuteRecord
	for rows.Next() {
		m, err := scanMute(rows)
		if err != nil {
			return nil, fmt.Errorf("list mutes: %w", err)
		}
		mutes = append(mutes, *m)
	}
	return mutes, rows.Err()
}

// ========== Mute exceptions ==========

const muteExceptionColumns = `id, mute_id, muted_user, exception_user, course_id, reason, created_at`

func scanMuteException(row rowScanner) (*moderation.MuteException, error) {
	var e moderation.MuteException
	var createdAtStr string
	err := row.Scan(&e.ID, &e.MuteID, &e.MutedUser, &e.ExceptionUser, &e.CourseID, &e.Reason, &createdAtStr)
	if err != nil {
		return nil, err
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	return &e, nil
}

func (s *ModerationStore) CreateMuteException(ctx context.Context, exc moderation.MuteException) (*moderation.MuteException, bool, error) {
	existing, err := s.getMuteException(ctx, exc.MutedUser, exc.ExceptionUser, exc.CourseID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO discussion_mute_exceptions (mute_id, muted_user, exception_user, course_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, exc.MuteID, exc.MutedUser, exc.ExceptionUser, exc.CourseID, exc.Reason,
		exc.CreatedAt.UTC().Format(time.RFC3339Nano))
	if isUniqueViolation(err) {
		existing, gerr := s.getMuteException(ctx, exc.MutedUser, exc.ExceptionUser, exc.CourseID)
		if gerr != nil {
			return nil, false, gerr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create mute exception: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("create mute exception: %w", err)
	}
	exc.ID = id
	return &exc, true, nil
}

func (s *ModerationStore) getMuteException(ctx context.Context, mutedUser, exceptionUser, courseID string) (*moderation.MuteException, error) {
	e, err := scanMuteException(s.db.QueryRowContext(ctx,
		`SELECT `+muteExceptionColumns+` FROM discussion_mute_exceptions
		 WHERE muted_user = ? AND exception_user = ? AND course_id = ?`,
		mutedUser, exceptionUser, courseID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *ModerationStore) HasMuteException(ctx context.Context, mutedUser, exceptionUser, courseID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM discussion_mute_exceptions
		 WHERE muted_user = ? AND exception_user = ? AND course_id = ?`,
		mutedUser, exceptionUser, courseID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has mute exception: %w", err)
	}
	return true, nil
}

// ========== Audit log ==========

const auditColumns = `id, action_type, source, timestamp, target_user, moderator, course_id, scope, reason, metadata, body, original_author, classification, classifier_output, confidence_score, reasoning`

func (s *ModerationStore) AppendAudit(ctx context.Context, e moderation.AuditEntry) error {
	metadata, err := json.Marshal(orEmpty(e.Metadata))
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	classifierOutput, err := json.Marshal(orEmpty(e.ClassifierOutput))
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	var confidence sql.NullFloat64
	if e.ConfidenceScore != nil {
		confidence = sql.NullFloat64{Float64: *e.ConfidenceScore, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO moderation_audit_log (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Action, e.Source, e.Timestamp.UTC().Format(time.RFC3339Nano),
		nullStr(e.TargetUser), nullStr(e.Moderator), e.CourseID, e.Scope, e.Reason,
		string(metadata), e.Body, e.OriginalAuthor, e.Classification,
		string(classifierOutput), confidence, e.Reasoning)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func (s *ModerationStore) ListAudit(ctx context.Context, f moderation.AuditFilter) ([]moderation.AuditEntry, error) {
	var clauses []string
	var args []any
	if f.TargetUser != "" {
		clauses = append(clauses, `target_user = ?`)
		args = append(args, f.TargetUser)
	}
	if f.CourseID != "" {
		clauses = append(clauses, `course_id = ?`)
		args = append(args, f.CourseID)
	}
	if f.Action != "" {
		clauses = append(clauses, `action_type = ?`)
		args = append(args, f.Action)
	}
	if f.Source != "" {
		clauses = append(clauses, `source = ?`)
		args = append(args, f.Source)
	}

	query := `SELECT ` + auditColumns + ` FROM moderation_audit_log`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []moderation.AuditEntry
	for rows.Next() {
		var e moderation.AuditEntry
		var timestampStr, metadataStr, classifierOutputStr string
		var targetUser, moderator sql.NullString
		var confidence sql.NullFloat64
		err := rows.Scan(&e.ID, &e.Action, &e.Source, &timestampStr, &targetUser, &moderator,
			&e.CourseID, &e.Scope, &e.Reason, &metadataStr, &e.Body, &e.OriginalAuthor,
			&e.Classification, &classifierOutputStr, &confidence, &e.Reasoning)
		if err != nil {
			return nil, fmt.Errorf("list audit: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, timestampStr)
		e.TargetUser = strPtr(targetUser)
		e.Moderator = strPtr(moderator)
		_ = json.Unmarshal([]byte(metadataStr), &e.Metadata)
		_ = json.Unmarshal([]byte(classifierOutputStr), &e.ClassifierOutput)
		if confidence.Valid {
			v := confidence.Float64
			e.ConfidenceScore = &v
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
