package aimod

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forummod/internal/database/sqlitestore"
	"forummod/internal/moderation"
)

func newTestService(t *testing.T) *moderation.Service {
	t.Helper()
	store, err := sqlitestore.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return moderation.NewService(store, nil, nil)
}

func classifierStub(t *testing.T, body string) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return NewClient(ClientConfig{APIURL: server.URL})
}

func TestReviewFlagsHighConfidenceVerdict(t *testing.T) {
	svc := newTestService(t)
	client := classifierStub(t, `{"classification": "harassment", "confidence": 0.97, "reasoning": "targeted insults"}`)
	mod := NewModerator(client, svc, 0.8)

	decision, err := mod.Review(context.Background(), Content{
		ContentType: "comment",
		ContentID:   "c123",
		Body:        "offending text",
		Author:      "alice",
		CourseID:    "course-v1:edX+DemoX+2024",
	})
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, moderation.ActionContentFlagged, decision.Action)

	entries, err := svc.ListAudit(context.Background(), moderation.AuditFilter{Source: moderation.SourceAI})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, moderation.ActionContentFlagged, entries[0].Action)
	assert.Equal(t, "harassment", entries[0].Classification)
	assert.Equal(t, "alice", entries[0].OriginalAuthor)
	assert.Equal(t, "offending text", entries[0].Body)
	require.NotNil(t, entries[0].ConfidenceScore)
	assert.InDelta(t, 0.97, *entries[0].ConfidenceScore, 1e-9)
}

func TestReviewLowConfidenceRecordsNoAction(t *testing.T) {
	svc := newTestService(t)
	client := classifierStub(t, `{"classification": "harassment", "confidence": 0.4}`)
	mod := NewModerator(client, svc, 0.8)

	decision, err := mod.Review(context.Background(), Content{ContentID: "c1", Body: "borderline"})
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, moderation.ActionNoAction, decision.Action)

	entries, err := svc.ListAudit(context.Background(), moderation.AuditFilter{Source: moderation.SourceAI})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, moderation.ActionNoAction, entries[0].Action)
}

func TestReviewBenignLabelNotFlagged(t *testing.T) {
	svc := newTestService(t)
	client := classifierStub(t, `{"classification": "benign", "confidence": 0.99}`)
	mod := NewModerator(client, svc, 0.8)

	decision, err := mod.Review(context.Background(), Content{ContentID: "c1", Body: "hello"})
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, moderation.ActionNoAction, decision.Action)
}

func TestReviewClassifierFailureIsNonFatal(t *testing.T) {
	svc := newTestService(t)
	client := classifierStub(t, `upstream exploded`)
	mod := NewModerator(client, svc, 0.8)

	decision, err := mod.Review(context.Background(), Content{ContentID: "c1", Body: "text"})
	require.NoError(t, err)
	assert.Nil(t, decision)

	// No verdict, no audit entry.
	entries, err := svc.ListAudit(context.Background(), moderation.AuditFilter{Source: moderation.SourceAI})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReviewTruncatesLongBodies(t *testing.T) {
	svc := newTestService(t)
	client := classifierStub(t, `{"classification": "spam", "confidence": 0.9}`)
	mod := NewModerator(client, svc, 0.8)

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	_, err := mod.Review(context.Background(), Content{ContentID: "c1", Body: string(long)})
	require.NoError(t, err)

	entries, err := svc.ListAudit(context.Background(), moderation.AuditFilter{Source: moderation.SourceAI})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Body, auditBodyLimit+3)
}
