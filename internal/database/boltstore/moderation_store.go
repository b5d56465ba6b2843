package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"forummod/internal/moderation"

	bolt "go.etcd.io/bbolt"
)

// ModerationStore implements moderation.Store on top of BoltDB. Writer
// transactions are serialized by bbolt, so the active-row uniqueness
// invariants only need the per-key index, not retry loops.
type ModerationStore struct {
	db *bolt.DB
}

// Ensure ModerationStore implements the interface at compile time.
var _ moderation.Store = (*ModerationStore)(nil)

func (s *ModerationStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying BoltDB instance for advanced operations.
func (s *ModerationStore) DB() *bolt.DB {
	return s.db
}

func itob(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// banKey is the natural key a ban is unique under while active.
func banKey(b moderation.Ban) []byte {
	if b.Scope == moderation.ScopeCourse {
		courseID := ""
		if b.CourseID != nil {
			courseID = *b.CourseID
		}
		return []byte(b.Username + "|course|" + courseID)
	}
	orgKey := ""
	if b.OrgKey != nil {
		orgKey = *b.OrgKey
	}
	return []byte(b.Username + "|organization|" + orgKey)
}

func lookupBanKey(username string, scope moderation.Scope, key string) []byte {
	return []byte(username + "|" + string(scope) + "|" + key)
}

// ========== Bans ==========

func (s *ModerationStore) ApplyBan(ctx context.Context, ban moderation.Ban) (*moderation.Ban, bool, bool, error) {
	var result *moderation.Ban
	var created, reactivated bool

	err := s.db.Update(func(tx *bolt.Tx) error {
		bans := tx.Bucket(BucketBans)
		byKey := tx.Bucket(BucketBansByKey)
		key := banKey(ban)

		if idBytes := byKey.Get(key); idBytes != nil {
			data := bans.Get(idBytes)
			if data == nil {
				return fmt.Errorf("ban index points at missing record for key %s", key)
			}
			var existing moderation.Ban
			if err := json.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("failed to unmarshal ban: %w", err)
			}

			if existing.IsActive {
				result = &existing
				return nil
			}

			// Inactive row for the key: reactivate in place so the key's
			// history stays on one record.
			existing.IsActive = true
			existing.Reason = ban.Reason
			existing.BannedBy = ban.BannedBy
			existing.BannedAt = ban.BannedAt
			existing.OrgKey = ban.OrgKey
			existing.UnbannedAt = nil
			existing.UnbannedBy = nil

			updated, err := json.Marshal(existing)
			if err != nil {
				return fmt.Errorf("failed to marshal ban: %w", err)
			}
			if err := bans.Put(idBytes, updated); err != nil {
				return err
			}
			result = &existing
			reactivated = true
			return nil
		}

		id, err := bans.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate ban id: %w", err)
		}
		ban.ID = int64(id)
		ban.IsActive = true

		data, err := json.Marshal(ban)
		if err != nil {
			return fmt.Errorf("failed to marshal ban: %w", err)
		}
		if err := bans.Put(itob(id), data); err != nil {
			return err
		}
		if err := byKey.Put(key, itob(id)); err != nil {
			return err
		}
		result = &ban
		created = true
		return nil
	})
	if err != nil {
		return nil, false, false, err
	}
	return result, created, reactivated, nil
}

func (s *ModerationStore) DeactivateBan(ctx context.Context, banID int64, unbannedBy string, at time.Time) (*moderation.Ban, error) {
	var result *moderation.Ban

	err := s.db.Update(func(tx *bolt.Tx) error {
		bans := tx.Bucket(BucketBans)
		data := bans.Get(itob(uint64(banID)))
		if data == nil {
			return nil
		}

		var ban moderation.Ban
		if err := json.Unmarshal(data, &ban); err != nil {
			return fmt.Errorf("failed to unmarshal ban: %w", err)
		}
		if ban.IsActive {
			ban.IsActive = false
			ban.UnbannedAt = &at
			ban.UnbannedBy = &unbannedBy

			updated, err := json.Marshal(ban)
			if err != nil {
				return fmt.Errorf("failed to marshal ban: %w", err)
			}
			if err := bans.Put(itob(uint64(banID)), updated); err != nil {
				return err
			}
		}
		result = &ban
		return nil
	})
	return result, err
}

func (s *ModerationStore) GetBan(ctx context.Context, id int64) (*moderation.Ban, error) {
	var ban *moderation.Ban

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(BucketBans).Get(itob(uint64(id)))
		if data == nil {
			return nil
		}
		ban = &moderation.Ban{}
		return json.Unmarshal(data, ban)
	})
	return ban, err
}

func (s *ModerationStore) GetActiveBan(ctx context.Context, username string, scope moderation.Scope, key string) (*moderation.Ban, error) {
	var ban *moderation.Ban

	err := s.db.View(func(tx *bolt.Tx) error {
		idBytes := tx.Bucket(BucketBansByKey).Get(lookupBanKey(username, scope, key))
		if idBytes == nil {
			return nil
		}
		data := tx.Bucket(BucketBans).Get(idBytes)
		if data == nil {
			return nil
		}
		var b moderation.Ban
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		if b.IsActive {
			ban = &b
		}
		return nil
	})
	return ban, err
}

// banMatchesFilter applies the same predicate rules as the SQLite backend,
// including the course-or-org union when a course is given without a scope.
func banMatchesFilter(b moderation.Ban, f moderation.BanFilter) bool {
	if !f.IncludeInactive && !b.IsActive {
		return false
	}
	switch {
	case f.CourseID != "" && f.Scope == "":
		courseMatch := b.Scope == moderation.ScopeCourse && b.CourseID != nil && *b.CourseID == f.CourseID
		orgMatch := b.Scope == moderation.ScopeOrganization && b.OrgKey != nil && *b.OrgKey == f.CourseOrgKey
		return courseMatch || orgMatch
	case f.CourseID != "":
		return b.Scope == f.Scope && b.CourseID != nil && *b.CourseID == f.CourseID
	case f.OrgKey != "":
		return b.Scope == moderation.ScopeOrganization && b.OrgKey != nil && *b.OrgKey == f.OrgKey
	case f.Scope != "":
		return b.Scope == f.Scope
	}
	return true
}

func (s *ModerationStore) ListBans(ctx context.Context, f moderation.BanFilter) ([]moderation.Ban, error) {
	var bans []moderation.Ban

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketBans).ForEach(func(k, v []byte) error {
			var b moderation.Ban
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			if banMatchesFilter(b, f) {
				bans = append(bans, b)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortBans(bans)
	return bans, nil
}

func (s *ModerationStore) GetUserBans(ctx context.Context, username string, active *bool) ([]moderation.Ban, error) {
	var bans []moderation.Ban

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketBans).ForEach(func(k, v []byte) error {
			var b moderation.Ban
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			if b.Username != username {
				return nil
			}
			if active != nil && b.IsActive != *active {
				return nil
			}
			bans = append(bans, b)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortBans(bans)
	return bans, nil
}

func sortBans(bans []moderation.Ban) {
	sort.Slice(bans, func(i, j int) bool {
		if !bans[i].BannedAt.Equal(bans[j].BannedAt) {
			return bans[i].BannedAt.After(bans[j].BannedAt)
		}
		return bans[i].ID > bans[j].ID
	})
}

func (s *ModerationStore) ActiveBanUsernames(ctx context.Context, courseID, courseOrgKey, orgKey string) ([]string, error) {
	seen := make(map[string]struct{})

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketBans).ForEach(func(k, v []byte) error {
			var b moderation.Ban
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			if !b.IsActive {
				return nil
			}
			match := false
			if courseID != "" {
				if b.Scope == moderation.ScopeCourse && b.CourseID != nil && *b.CourseID == courseID {
					match = true
				}
				if b.Scope == moderation.ScopeOrganization && b.OrgKey != nil && *b.OrgKey == courseOrgKey {
					match = true
				}
			}
			if orgKey != "" && b.Scope == moderation.ScopeOrganization && b.OrgKey != nil && *b.OrgKey == orgKey {
				match = true
			}
			if match {
				seen[b.Username] = struct{}{}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	usernames := make([]string, 0, len(seen))
	for u := range seen {
		usernames = append(usernames, u)
	}
	sort.Strings(usernames)
	return usernames, nil
}

func (s *ModerationStore) DeleteBan(ctx context.Context, id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bans := tx.Bucket(BucketBans)
		idBytes := itob(uint64(id))
		data := bans.Get(idBytes)
		if data == nil {
			return nil
		}

		var ban moderation.Ban
		if err := json.Unmarshal(data, &ban); err != nil {
			return fmt.Errorf("failed to unmarshal ban: %w", err)
		}

		if err := bans.Delete(idBytes); err != nil {
			return err
		}

		byKey := tx.Bucket(BucketBansByKey)
		key := banKey(ban)
		if bytes.Equal(byKey.Get(key), idBytes) {
			if err := byKey.Delete(key); err != nil {
				return err
			}
		}

		// Cascade: drop every exception under this ban.
		exceptions := tx.Bucket(BucketBanExceptions)
		prefix := banExceptionPrefix(id)
		c := exceptions.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if err := exceptions.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ========== Ban exceptions ==========

func banExceptionPrefix(banID int64) []byte {
	return []byte(fmt.Sprintf("%020d|", banID))
}

func banExceptionKey(banID int64, courseID string) []byte {
	return []byte(fmt.Sprintf("%020d|%s", banID, courseID))
}

func (s *ModerationStore) CreateBanException(ctx context.Context, exc moderation.BanException) (*moderation.BanException, bool, error) {
	var result *moderation.BanException
	var created bool

	err := s.db.Update(func(tx *bolt.Tx) error {
		// Exceptions carve a course out of an organization-wide ban; a
		// course-scope parent is rejected for any input.
		banData := tx.Bucket(BucketBans).Get(itob(uint64(exc.BanID)))
		if banData == nil {
			return &moderation.NotFoundError{Resource: "ban", Key: fmt.Sprintf("%d", exc.BanID)}
		}
		var parent moderation.Ban
		if err := json.Unmarshal(banData, &parent); err != nil {
			return fmt.Errorf("failed to unmarshal ban: %w", err)
		}
		if parent.Scope != moderation.ScopeOrganization {
			return &moderation.ValidationError{Field: "scope", Message: "exceptions apply to organization-scope bans only"}
		}

		bucket := tx.Bucket(BucketBanExceptions)
		key := banExceptionKey(exc.BanID, exc.CourseID)

		if data := bucket.Get(key); data != nil {
			existing := &moderation.BanException{}
			if err := json.Unmarshal(data, existing); err != nil {
				return fmt.Errorf("failed to unmarshal ban exception: %w", err)
			}
			result = existing
			return nil
		}

		id, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate exception id: %w", err)
		}
		exc.ID = int64(id)

		data, err := json.Marshal(exc)
		if err != nil {
			return fmt.Errorf("failed to marshal ban exception: %w", err)
		}
		if err := bucket.Put(key, data); err != nil {
			return err
		}
		result = &exc
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

func (s *ModerationStore) HasBanException(ctx context.Context, banID int64, courseID string) (bool, error) {
	var has bool

	err := s.db.View(func(tx *bolt.Tx) error {
		has = tx.Bucket(BucketBanExceptions).Get(banExceptionKey(banID, courseID)) != nil
		return nil
	})
	return has, err
}

func (s *ModerationStore) ListBanExceptions(ctx context.Context, banID int64) ([]moderation.BanException, error) {
	var exceptions []moderation.BanException

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(BucketBanExceptions).Cursor()
		prefix := banExceptionPrefix(banID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var e moderation.BanException
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			exceptions = append(exceptions, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(exceptions, func(i, j int) bool {
		return exceptions[i].CreatedAt.After(exceptions[j].CreatedAt)
	})
	return exceptions, nil
}

func (s *ModerationStore) DeleteBanException(ctx context.Context, banID int64, courseID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketBanExceptions).Delete(banExceptionKey(banID, courseID))
	})
}

// ========== Mutes ==========

// muteKey is the natural key a mute is unique under while active. Personal
// mutes are keyed per muter; course-wide mutes per course.
func muteKey(m moderation.MuteRecord) []byte {
	if m.Scope == moderation.MuteScopePersonal {
		return []byte("personal|" + m.MutedUser + "|" + m.MutedBy + "|" + m.CourseID)
	}
	return []byte("course|" + m.MutedUser + "|" + m.CourseID)
}

func lookupMuteKey(mutedUser, mutedBy, courseID string, scope moderation.MuteScope) []byte {
	if scope == moderation.MuteScopePersonal {
		return []byte("personal|" + mutedUser + "|" + mutedBy + "|" + courseID)
	}
	return []byte("course|" + mutedUser + "|" + courseID)
}

func (s *ModerationStore) ApplyMute(ctx context.Context, m moderation.MuteRecord) (*moderation.MuteRecord, bool, bool, error) {
	var result *moderation.MuteRecord
	var created, reactivated bool

	err := s.db.Update(func(tx *bolt.Tx) error {
		mutes := tx.Bucket(BucketMutes)
		byKey := tx.Bucket(BucketMutesByKey)
		key := muteKey(m)

		if idBytes := byKey.Get(key); idBytes != nil {
			data := mutes.Get(idBytes)
			if data == nil {
				return fmt.Errorf("mute index points at missing record for key %s", key)
			}
			var existing moderation.MuteRecord
			if err := json.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("failed to unmarshal mute: %w", err)
			}

			if existing.IsActive {
				result = &existing
				return nil
			}

			existing.IsActive = true
			existing.Reason = m.Reason
			existing.MutedBy = m.MutedBy
			existing.CreatedAt = m.CreatedAt
			existing.UnmutedAt = nil
			existing.UnmutedBy = nil

			updated, err := json.Marshal(existing)
			if err != nil {
				return fmt.Errorf("failed to marshal mute: %w", err)
			}
			if err := mutes.Put(idBytes, updated); err != nil {
				return err
			}
			result = &existing
			reactivated = true
			return nil
		}

		id, err := mutes.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate mute id: %w", err)
		}
		m.ID = int64(id)
		m.IsActive = true

		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal mute: %w", err)
		}
		if err := mutes.Put(itob(id), data); err != nil {
			return err
		}
		if err := byKey.Put(key, itob(id)); err != nil {
			return err
		}
		result = &m
		created = true
		return nil
	})
	if err != nil {
		return nil, false, false, err
	}
	return result, created, reactivated, nil
}

func (s *ModerationStore) DeactivateMute(ctx context.Context, muteID int64, unmutedBy string, at time.Time) (*moderation.MuteRecord, error) {
	var result *moderation.MuteRecord

	err := s.db.Update(func(tx *bolt.Tx) error {
		mutes := tx.Bucket(BucketMutes)
		data := mutes.Get(itob(uint64(muteID)))
		if data == nil {
			return nil
		}

		var m moderation.MuteRecord
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("failed to unmarshal mute: %w", err)
		}
		if m.IsActive {
			m.IsActive = false
			m.UnmutedAt = &at
			m.UnmutedBy = &unmutedBy

			updated, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("failed to marshal mute: %w", err)
			}
			if err := mutes.Put(itob(uint64(muteID)), updated); err != nil {
				return err
			}
		}
		result = &m
		return nil
	})
	return result, err
}

func (s *ModerationStore) GetActiveMute(ctx context.Context, mutedUser, mutedBy, courseID string, scope moderation.MuteScope) (*moderation.MuteRecord, error) {
	var mute *moderation.MuteRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		idBytes := tx.Bucket(BucketMutesByKey).Get(lookupMuteKey(mutedUser, mutedBy, courseID, scope))
		if idBytes == nil {
			return nil
		}
		data := tx.Bucket(BucketMutes).Get(idBytes)
		if data == nil {
			return nil
		}
		var m moderation.MuteRecord
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		if m.IsActive {
			mute = &m
		}
		return nil
	})
	return mute, err
}

func (s *ModerationStore) ListMutes(ctx context.Context, f moderation.MuteFilter) ([]moderation.MuteRecord, error) {
	var mutes []moderation.MuteRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketMutes).ForEach(func(k, v []byte) error {
			var m moderation.MuteRecord
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if f.MutedUser != "" && m.MutedUser != f.MutedUser {
				return nil
			}
			if f.MutedBy != "" && m.MutedBy != f.MutedBy {
				return nil
			}
			if f.CourseID != "" && m.CourseID != f.CourseID {
				return nil
			}
			if f.Scope != "" && m.Scope != f.Scope {
				return nil
			}
			if f.ActiveOnly && !m.IsActive {
				return nil
			}
			mutes = append(mutes, m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(mutes, func(i, j int) bool {
		if !mutes[i].CreatedAt.Equal(mutes[j].CreatedAt) {
			return mutes[i].CreatedAt.After(mutes[j].CreatedAt)
		}
		return mutes[i].ID > mutes[j].ID
	})
	return mutes, nil
}

// ========== Mute exceptions ==========

func muteExceptionKey(mutedUser, exceptionUser, courseID string) []byte {
	return []byte(mutedUser + "|" + exceptionUser + "|" + courseID)
}

func (s *ModerationStore) CreateMuteException(ctx context.Context, exc moderation.MuteException) (*moderation.MuteException, bool, error) {
	var result *moderation.MuteException
	var created bool

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketMuteExceptions)
		key := muteExceptionKey(exc.MutedUser, exc.ExceptionUser, exc.CourseID)

		if data := bucket.Get(key); data != nil {
			existing := &moderation.MuteException{}
			if err := json.Unmarshal(data, existing); err != nil {
				return fmt.Errorf("failed to unmarshal mute exception: %w", err)
			}
			result = existing
			return nil
		}

		id, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate exception id: %w", err)
		}
		exc.ID = int64(id)

		data, err := json.Marshal(exc)
		if err != nil {
			return fmt.Errorf("failed to marshal mute exception: %w", err)
		}
		if err := bucket.Put(key, data); err != nil {
			return err
		}
		result = &exc
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

func (s *ModerationStore) HasMuteException(ctx context.Context, mutedUser, exceptionUser, courseID string) (bool, error) {
	var has bool

	err := s.db.View(func(tx *bolt.Tx) error {
		has = tx.Bucket(BucketMuteExceptions).Get(muteExceptionKey(mutedUser, exceptionUser, courseID)) != nil
		return nil
	})
	return has, err
}

// ========== Audit log ==========

// auditKey orders entries chronologically; the entry ID breaks ties between
// entries sharing a timestamp.
func auditKey(e moderation.AuditEntry) []byte {
	return []byte(e.Timestamp.UTC().Format(time.RFC3339Nano) + "|" + e.ID)
}

func (s *ModerationStore) AppendAudit(ctx context.Context, e moderation.AuditEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal audit entry: %w", err)
		}
		return tx.Bucket(BucketAuditLog).Put(auditKey(e), data)
	})
}

func (s *ModerationStore) ListAudit(ctx context.Context, f moderation.AuditFilter) ([]moderation.AuditEntry, error) {
	var entries []moderation.AuditEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(BucketAuditLog).Cursor()
		// Walk newest to oldest so Limit keeps the most recent entries.
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e moderation.AuditEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if f.TargetUser != "" && (e.TargetUser == nil || *e.TargetUser != f.TargetUser) {
				continue
			}
			if f.CourseID != "" && e.CourseID != f.CourseID {
				continue
			}
			if f.Action != "" && e.Action != f.Action {
				continue
			}
			if f.Source != "" && e.Source != f.Source {
				continue
			}
			entries = append(entries, e)
			if f.Limit > 0 && len(entries) >= f.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
