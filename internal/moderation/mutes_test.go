package moderation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forummod/internal/moderation"
)

func TestMuteUserValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   moderation.MuteRequest
		field string
	}{
		{"self mute", moderation.MuteRequest{MutedUser: "a", MutedBy: "a", CourseID: demoCourse, Scope: "personal"}, "muted_user"},
		{"bad scope", moderation.MuteRequest{MutedUser: "a", MutedBy: "b", CourseID: demoCourse, Scope: "global"}, "scope"},
		{"missing course", moderation.MuteRequest{MutedUser: "a", MutedBy: "b", Scope: "personal"}, "course_id"},
		{"unprivileged course mute", moderation.MuteRequest{MutedUser: "a", MutedBy: "b", CourseID: demoCourse, Scope: "course"}, "scope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.MuteUser(ctx, tt.req)
			var validationErr *moderation.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.field, validationErr.Field)
		})
	}
}

func TestPersonalMuteVisibleOnlyToMuter(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.MuteUser(ctx, moderation.MuteRequest{
		MutedUser: "ivan", MutedBy: "judy", CourseID: demoCourse, Scope: "personal",
	})
	require.NoError(t, err)

	muted, err := svc.IsUserMuted(ctx, "ivan", "judy", demoCourse)
	require.NoError(t, err)
	assert.True(t, muted)

	muted, err = svc.IsUserMuted(ctx, "ivan", "karl", demoCourse)
	require.NoError(t, err)
	assert.False(t, muted, "personal mutes affect only the muter's view")
}

func TestCourseMuteWithViewerException(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.MuteUser(ctx, moderation.MuteRequest{
		MutedUser: "ivan", MutedBy: "moderator", CourseID: demoCourse, Scope: "course",
		RequesterIsPrivileged: true,
	})
	require.NoError(t, err)

	for _, viewer := range []string{"judy", "karl"} {
		muted, err := svc.IsUserMuted(ctx, "ivan", viewer, demoCourse)
		require.NoError(t, err)
		assert.True(t, muted)
	}

	result, err := svc.UnmuteUser(ctx, moderation.UnmuteRequest{
		MutedUser: "ivan", UnmutedBy: "moderator", CourseID: demoCourse, Scope: "course",
		ExceptionUser: "judy",
	})
	require.NoError(t, err)
	assert.True(t, result.ExceptionCreated)
	assert.True(t, result.Mute.IsActive, "exception leaves the mute active")

	muted, err := svc.IsUserMuted(ctx, "ivan", "judy", demoCourse)
	require.NoError(t, err)
	assert.False(t, muted)

	muted, err = svc.IsUserMuted(ctx, "ivan", "karl", demoCourse)
	require.NoError(t, err)
	assert.True(t, muted, "other viewers still see the mute")
}

func TestViewerExceptionDoesNotLiftPersonalMute(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.MuteUser(ctx, moderation.MuteRequest{
		MutedUser: "ivan", MutedBy: "moderator", CourseID: demoCourse, Scope: "course",
		RequesterIsPrivileged: true,
	})
	require.NoError(t, err)
	_, err = svc.MuteUser(ctx, moderation.MuteRequest{
		MutedUser: "ivan", MutedBy: "judy", CourseID: demoCourse, Scope: "personal",
	})
	require.NoError(t, err)

	_, err = svc.UnmuteUser(ctx, moderation.UnmuteRequest{
		MutedUser: "ivan", UnmutedBy: "moderator", CourseID: demoCourse, Scope: "course",
		ExceptionUser: "judy",
	})
	require.NoError(t, err)

	muted, err := svc.IsUserMuted(ctx, "ivan", "judy", demoCourse)
	require.NoError(t, err)
	assert.True(t, muted, "judy's own personal mute still applies")
}

func TestUnmutePersonalDefaultsToSelf(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.MuteUser(ctx, moderation.MuteRequest{
		MutedUser: "ivan", MutedBy: "judy", CourseID: demoCourse, Scope: "personal",
	})
	require.NoError(t, err)

	result, err := svc.UnmuteUser(ctx, moderation.UnmuteRequest{
		MutedUser: "ivan", UnmutedBy: "judy", CourseID: demoCourse, Scope: "personal",
	})
	require.NoError(t, err)
	assert.False(t, result.Mute.IsActive)

	muted, err := svc.IsUserMuted(ctx, "ivan", "judy", demoCourse)
	require.NoError(t, err)
	assert.False(t, muted)
}

func TestGetMuteStatus(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.MuteUser(ctx, moderation.MuteRequest{
		MutedUser: "ivan", MutedBy: "judy", CourseID: demoCourse, Scope: "personal",
	})
	require.NoError(t, err)

	status, err := svc.GetMuteStatus(ctx, "ivan", "judy", demoCourse)
	require.NoError(t, err)
	assert.True(t, status.Muted)
	assert.Equal(t, moderation.MuteScopePersonal, status.Scope)
	assert.NotNil(t, status.PersonalMute)
	assert.Nil(t, status.CourseMute)

	// A course-wide mute takes over as the governing scope.
	_, err = svc.MuteUser(ctx, moderation.MuteRequest{
		MutedUser: "ivan", MutedBy: "moderator", CourseID: demoCourse, Scope: "course",
		RequesterIsPrivileged: true,
	})
	require.NoError(t, err)

	status, err = svc.GetMuteStatus(ctx, "ivan", "judy", demoCourse)
	require.NoError(t, err)
	assert.True(t, status.Muted)
	assert.Equal(t, moderation.MuteScopeCourse, status.Scope)
	assert.NotNil(t, status.CourseMute)

	// After a viewer exception the personal mute governs again.
	_, err = svc.UnmuteUser(ctx, moderation.UnmuteRequest{
		MutedUser: "ivan", UnmutedBy: "moderator", CourseID: demoCourse,
		Scope: "course", ExceptionUser: "judy",
	})
	require.NoError(t, err)

	status, err = svc.GetMuteStatus(ctx, "ivan", "judy", demoCourse)
	require.NoError(t, err)
	assert.True(t, status.Muted)
	assert.Equal(t, moderation.MuteScopePersonal, status.Scope)

	status, err = svc.GetMuteStatus(ctx, "ivan", "karl", demoCourse)
	require.NoError(t, err)
	assert.True(t, status.Muted)
	assert.Equal(t, moderation.MuteScopeCourse, status.Scope)
	assert.Nil(t, status.PersonalMute)
}

// recordingFlagger captures flag calls and fails configured content IDs.
type recordingFlagger struct {
	calls  []string
	failIf map[string]bool
}

func (f *recordingFlagger) FlagAbuse(ctx context.Context, contentType, contentID, flaggedBy string) error {
	f.calls = append(f.calls, contentType+":"+contentID)
	if f.failIf[contentType+":"+contentID] {
		return errors.New("flag rejected")
	}
	return nil
}

func TestMuteAndReportFlagsContent(t *testing.T) {
	_, store := newService(t)
	flagger := &recordingFlagger{}
	svc := moderation.NewService(store, nil, flagger)

	result, err := svc.MuteAndReport(context.Background(), moderation.MuteAndReportRequest{
		MuteRequest: moderation.MuteRequest{
			MutedUser: "ivan", MutedBy: "judy", CourseID: demoCourse, Scope: "personal",
		},
		ThreadID:  "t1",
		CommentID: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	require.Len(t, result.Flagged, 2)
	assert.Equal(t, []string{"thread:t1", "comment:c1"}, flagger.calls)
}

func TestMuteAndReportThreadRetriedAsComment(t *testing.T) {
	_, store := newService(t)
	flagger := &recordingFlagger{failIf: map[string]bool{"thread:x9": true}}
	svc := moderation.NewService(store, nil, flagger)

	result, err := svc.MuteAndReport(context.Background(), moderation.MuteAndReportRequest{
		MuteRequest: moderation.MuteRequest{
			MutedUser: "ivan", MutedBy: "judy", CourseID: demoCourse, Scope: "personal",
		},
		ThreadID: "x9",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	require.Len(t, result.Flagged, 1)
	assert.Equal(t, "comment", result.Flagged[0].ContentType)
	assert.True(t, result.Flagged[0].Flagged)
	assert.Equal(t, []string{"thread:x9", "comment:x9"}, flagger.calls)
}

func TestMuteAndReportPartialFailureKeepsMute(t *testing.T) {
	_, store := newService(t)
	flagger := &recordingFlagger{failIf: map[string]bool{
		"thread:x9":  true,
		"comment:x9": true,
	}}
	svc := moderation.NewService(store, nil, flagger)
	ctx := context.Background()

	result, err := svc.MuteAndReport(ctx, moderation.MuteAndReportRequest{
		MuteRequest: moderation.MuteRequest{
			MutedUser: "ivan", MutedBy: "judy", CourseID: demoCourse, Scope: "personal",
		},
		ThreadID: "x9",
	})
	require.NoError(t, err, "flag failures never fail the operation")
	assert.Equal(t, "partial", result.Status)
	require.Len(t, result.Flagged, 1)
	assert.False(t, result.Flagged[0].Flagged)
	assert.NotEmpty(t, result.Flagged[0].Error)

	// The mute stands despite the flagging failure.
	muted, err := svc.IsUserMuted(ctx, "ivan", "judy", demoCourse)
	require.NoError(t, err)
	assert.True(t, muted)
}

func TestListCourseMutesVisibility(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.MuteUser(ctx, moderation.MuteRequest{
		MutedUser: "ivan", MutedBy: "moderator", CourseID: demoCourse, Scope: "course",
		RequesterIsPrivileged: true,
	})
	require.NoError(t, err)
	_, err = svc.MuteUser(ctx, moderation.MuteRequest{
		MutedUser: "leo", MutedBy: "judy", CourseID: demoCourse, Scope: "personal",
	})
	require.NoError(t, err)

	all, err := svc.ListCourseMutes(ctx, demoCourse, "moderator", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	own, err := svc.ListCourseMutes(ctx, demoCourse, "judy", false)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "leo", own[0].MutedUser)

	none, err := svc.ListCourseMutes(ctx, demoCourse, "karl", false)
	require.NoError(t, err)
	assert.Empty(t, none)
}
