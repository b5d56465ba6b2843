package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forummod/internal/moderation"
)

func openTestStore(t *testing.T) *ModerationStore {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func strp(s string) *string { return &s }

func courseBan(user, courseID, orgKey string) moderation.Ban {
	return moderation.Ban{
		Username: user,
		CourseID: strp(courseID),
		OrgKey:   strp(orgKey),
		Scope:    moderation.ScopeCourse,
		Reason:   "spam",
		BannedBy: "moderator",
		BannedAt: time.Now().UTC(),
	}
}

func orgBan(user, orgKey string) moderation.Ban {
	return moderation.Ban{
		Username: user,
		OrgKey:   strp(orgKey),
		Scope:    moderation.ScopeOrganization,
		Reason:   "harassment",
		BannedBy: "admin",
		BannedAt: time.Now().UTC(),
	}
}

func TestApplyBanInsertsAndIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ban, created, reactivated, err := store.ApplyBan(ctx, courseBan("alice", "course-v1:edX+DemoX+2024", "edX"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, reactivated)
	assert.True(t, ban.IsActive)
	require.NotNil(t, ban.OrgKey)
	assert.Equal(t, "edX", *ban.OrgKey)

	// Same key again: no new row, the active row comes back untouched.
	again, created, reactivated, err := store.ApplyBan(ctx, courseBan("alice", "course-v1:edX+DemoX+2024", "edX"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.False(t, reactivated)
	assert.Equal(t, ban.ID, again.ID)

	bans, err := store.GetUserBans(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Len(t, bans, 1)
}

func TestApplyBanReactivatesInPlace(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ban, _, _, err := store.ApplyBan(ctx, courseBan("bob", "course-v1:edX+DemoX+2024", "edX"))
	require.NoError(t, err)

	deactivated, err := store.DeactivateBan(ctx, ban.ID, "admin", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)
	require.NotNil(t, deactivated.UnbannedBy)
	assert.Equal(t, "admin", *deactivated.UnbannedBy)
	assert.NotNil(t, deactivated.UnbannedAt)

	reban := courseBan("bob", "course-v1:edX+DemoX+2024", "edX")
	reban.Reason = "repeat offense"
	restored, created, reactivated, err := store.ApplyBan(ctx, reban)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, reactivated)
	assert.Equal(t, ban.ID, restored.ID)
	assert.True(t, restored.IsActive)
	assert.Equal(t, "repeat offense", restored.Reason)
	assert.Nil(t, restored.UnbannedAt)
	assert.Nil(t, restored.UnbannedBy)

	bans, err := store.GetUserBans(ctx, "bob", nil)
	require.NoError(t, err)
	assert.Len(t, bans, 1, "reactivation must not create a second row")
}

func TestCourseAndOrgBansAreIndependentRows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, _, _, err := store.ApplyBan(ctx, courseBan("carol", "course-v1:edX+DemoX+2024", "edX"))
	require.NoError(t, err)
	_, _, _, err = store.ApplyBan(ctx, orgBan("carol", "edX"))
	require.NoError(t, err)

	active := true
	bans, err := store.GetUserBans(ctx, "carol", &active)
	require.NoError(t, err)
	assert.Len(t, bans, 2)

	byCourse, err := store.GetActiveBan(ctx, "carol", moderation.ScopeCourse, "course-v1:edX+DemoX+2024")
	require.NoError(t, err)
	require.NotNil(t, byCourse)
	assert.Equal(t, moderation.ScopeCourse, byCourse.Scope)

	byOrg, err := store.GetActiveBan(ctx, "carol", moderation.ScopeOrganization, "edX")
	require.NoError(t, err)
	require.NotNil(t, byOrg)
	assert.Equal(t, moderation.ScopeOrganization, byOrg.Scope)
}

func TestGetActiveBanMissReturnsNil(t *testing.T) {
	store := openTestStore(t)

	ban, err := store.GetActiveBan(context.Background(), "ghost", moderation.ScopeCourse, "course-v1:edX+DemoX+2024")
	require.NoError(t, err)
	assert.Nil(t, ban)
}

func TestListBansUnionOfCourseAndOrg(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, _, _, err := store.ApplyBan(ctx, courseBan("dave", "course-v1:edX+DemoX+2024", "edX"))
	require.NoError(t, err)
	_, _, _, err = store.ApplyBan(ctx, orgBan("erin", "edX"))
	require.NoError(t, err)
	_, _, _, err = store.ApplyBan(ctx, courseBan("frank", "course-v1:MITx+6.00x+2024", "MITx"))
	require.NoError(t, err)

	bans, err := store.ListBans(ctx, moderation.BanFilter{
		CourseID:     "course-v1:edX+DemoX+2024",
		CourseOrgKey: "edX",
	})
	require.NoError(t, err)
	require.Len(t, bans, 2)
	users := []string{bans[0].Username, bans[1].Username}
	assert.ElementsMatch(t, []string{"dave", "erin"}, users)
}

func TestActiveBanUsernames(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, _, _, err := store.ApplyBan(ctx, courseBan("dave", "course-v1:edX+DemoX+2024", "edX"))
	require.NoError(t, err)
	_, _, _, err = store.ApplyBan(ctx, orgBan("erin", "edX"))
	require.NoError(t, err)
	inactive, _, _, err := store.ApplyBan(ctx, courseBan("gone", "course-v1:edX+DemoX+2024", "edX"))
	require.NoError(t, err)
	_, err = store.DeactivateBan(ctx, inactive.ID, "admin", time.Now().UTC())
	require.NoError(t, err)

	names, err := store.ActiveBanUsernames(ctx, "course-v1:edX+DemoX+2024", "edX", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"dave", "erin"}, names)
}

func TestDeleteBanCascadesExceptions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ban, _, _, err := store.ApplyBan(ctx, orgBan("grace", "edX"))
	require.NoError(t, err)

	_, created, err := store.CreateBanException(ctx, moderation.BanException{
		BanID:      ban.ID,
		CourseID:   "course-v1:edX+DemoX+2024",
		UnbannedBy: "admin",
		CreatedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.True(t, created)

	require.NoError(t, store.DeleteBan(ctx, ban.ID))

	got, err := store.GetBan(ctx, ban.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	has, err := store.HasBanException(ctx, ban.ID, "course-v1:edX+DemoX+2024")
	require.NoError(t, err)
	assert.False(t, has, "exceptions must be deleted with their ban")
}

func TestCreateBanExceptionGetOrCreate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ban, _, _, err := store.ApplyBan(ctx, orgBan("heidi", "edX"))
	require.NoError(t, err)

	exc := moderation.BanException{
		BanID:      ban.ID,
		CourseID:   "course-v1:edX+DemoX+2024",
		UnbannedBy: "admin",
		Reason:     "appeal granted",
		CreatedAt:  time.Now().UTC(),
	}
	first, created, err := store.CreateBanException(ctx, exc)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := store.CreateBanException(ctx, exc)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	list, err := store.ListBanExceptions(ctx, ban.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateBanExceptionRejectsCourseScopeParent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ban, _, _, err := store.ApplyBan(ctx, courseBan("ivan", "course-v1:edX+DemoX+2024", "edX"))
	require.NoError(t, err)

	_, _, err = store.CreateBanException(ctx, moderation.BanException{
		BanID:      ban.ID,
		CourseID:   "course-v1:edX+DemoX+2024",
		UnbannedBy: "admin",
		CreatedAt:  time.Now().UTC(),
	})
	var invalid *moderation.ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "scope", invalid.Field)

	has, err := store.HasBanException(ctx, ban.ID, "course-v1:edX+DemoX+2024")
	require.NoError(t, err)
	assert.False(t, has)

	var notFound *moderation.NotFoundError
	_, _, err = store.CreateBanException(ctx, moderation.BanException{
		BanID:    ban.ID + 100,
		CourseID: "course-v1:edX+DemoX+2024",
	})
	require.ErrorAs(t, err, &notFound)
}

func personalMute(mutedUser, mutedBy, courseID string) moderation.MuteRecord {
	return moderation.MuteRecord{
		MutedUser: mutedUser,
		MutedBy:   mutedBy,
		CourseID:  courseID,
		Scope:     moderation.MuteScopePersonal,
		Reason:    "noise",
		CreatedAt: time.Now().UTC(),
	}
}

func TestApplyMuteReactivatesInPlace(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	mute, created, _, err := store.ApplyMute(ctx, personalMute("ivan", "judy", "course-v1:edX+DemoX+2024"))
	require.NoError(t, err)
	assert.True(t, created)

	_, err = store.DeactivateMute(ctx, mute.ID, "judy", time.Now().UTC())
	require.NoError(t, err)

	restored, created, reactivated, err := store.ApplyMute(ctx, personalMute("ivan", "judy", "course-v1:edX+DemoX+2024"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, reactivated)
	assert.Equal(t, mute.ID, restored.ID)
	assert.True(t, restored.IsActive)
}

func TestPersonalMutesKeyedPerMuter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, created, _, err := store.ApplyMute(ctx, personalMute("ivan", "judy", "course-v1:edX+DemoX+2024"))
	require.NoError(t, err)
	assert.True(t, created)

	// A different muter gets their own row.
	_, created, _, err = store.ApplyMute(ctx, personalMute("ivan", "karl", "course-v1:edX+DemoX+2024"))
	require.NoError(t, err)
	assert.True(t, created)

	byJudy, err := store.GetActiveMute(ctx, "ivan", "judy", "course-v1:edX+DemoX+2024", moderation.MuteScopePersonal)
	require.NoError(t, err)
	require.NotNil(t, byJudy)
	assert.Equal(t, "judy", byJudy.MutedBy)

	mutes, err := store.ListMutes(ctx, moderation.MuteFilter{MutedUser: "ivan", ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, mutes, 2)
}

func TestCourseMuteIgnoresMutedByOnLookup(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m := personalMute("ivan", "moderator", "course-v1:edX+DemoX+2024")
	m.Scope = moderation.MuteScopeCourse
	_, _, _, err := store.ApplyMute(ctx, m)
	require.NoError(t, err)

	// Any viewer sees the course-wide mute regardless of who applied it.
	got, err := store.GetActiveMute(ctx, "ivan", "someone-else", "course-v1:edX+DemoX+2024", moderation.MuteScopeCourse)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "moderator", got.MutedBy)
}

func TestMuteExceptionGetOrCreate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m := personalMute("ivan", "moderator", "course-v1:edX+DemoX+2024")
	m.Scope = moderation.MuteScopeCourse
	mute, _, _, err := store.ApplyMute(ctx, m)
	require.NoError(t, err)

	exc := moderation.MuteException{
		MuteID:        mute.ID,
		MutedUser:     "ivan",
		ExceptionUser: "judy",
		CourseID:      "course-v1:edX+DemoX+2024",
		CreatedAt:     time.Now().UTC(),
	}
	first, created, err := store.CreateMuteException(ctx, exc)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := store.CreateMuteException(ctx, exc)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	has, err := store.HasMuteException(ctx, "ivan", "judy", "course-v1:edX+DemoX+2024")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.HasMuteException(ctx, "ivan", "karl", "course-v1:edX+DemoX+2024")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestAuditAppendAndFilter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	score := 0.93
	entries := []moderation.AuditEntry{
		{
			ID:         "a1",
			Action:     moderation.ActionBan,
			Source:     moderation.SourceHuman,
			Timestamp:  time.Now().UTC().Add(-2 * time.Minute),
			TargetUser: strp("alice"),
			Moderator:  strp("admin"),
			CourseID:   "course-v1:edX+DemoX+2024",
			Scope:      "course",
			Reason:     "spam",
			Metadata:   map[string]any{"ban_id": float64(1)},
		},
		{
			ID:              "a2",
			Action:          moderation.ActionContentFlagged,
			Source:          moderation.SourceAI,
			Timestamp:       time.Now().UTC(),
			CourseID:        "course-v1:edX+DemoX+2024",
			Body:            "offending text",
			OriginalAuthor:  "alice",
			Classification:  "harassment",
			ConfidenceScore: &score,
			Reasoning:       "matched policy",
		},
	}
	for _, e := range entries {
		require.NoError(t, store.AppendAudit(ctx, e))
	}

	all, err := store.ListAudit(ctx, moderation.AuditFilter{CourseID: "course-v1:edX+DemoX+2024"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a2", all[0].ID, "most recent first")

	ai, err := store.ListAudit(ctx, moderation.AuditFilter{Source: moderation.SourceAI})
	require.NoError(t, err)
	require.Len(t, ai, 1)
	require.NotNil(t, ai[0].ConfidenceScore)
	assert.InDelta(t, 0.93, *ai[0].ConfidenceScore, 1e-9)

	byUser, err := store.ListAudit(ctx, moderation.AuditFilter{TargetUser: "alice"})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, map[string]any{"ban_id": float64(1)}, byUser[0].Metadata)

	limited, err := store.ListAudit(ctx, moderation.AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
