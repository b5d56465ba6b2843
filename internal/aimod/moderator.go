package aimod

import (
	"context"

	"github.com/rs/zerolog/log"

	"forummod/internal/metrics"
	"forummod/internal/moderation"
)

const (
	defaultFlagThreshold = 0.8

	// auditBodyLimit caps how much content text is copied into an audit
	// entry. The full text stays in the discussion service.
	auditBodyLimit = 500
)

// Moderator runs classifier verdicts against submitted content and records
// the outcome on the audit trail. Verdicts only flag content for human
// review; they never ban, mute, or delete anything.
type Moderator struct {
	client        *Client
	svc           *moderation.Service
	flagThreshold float64
}

// NewModerator creates a Moderator. flagThreshold below or equal to zero
// uses the default.
func NewModerator(client *Client, svc *moderation.Service, flagThreshold float64) *Moderator {
	if flagThreshold <= 0 {
		flagThreshold = defaultFlagThreshold
	}
	return &Moderator{client: client, svc: svc, flagThreshold: flagThreshold}
}

// Content is one piece of discussion content under review.
type Content struct {
	ContentType string
	ContentID   string
	Body        string
	Author      string
	CourseID    string
}

// Decision is the outcome of one review.
type Decision struct {
	Action         moderation.Action
	Classification string
	Confidence     *float64
	Reasoning      string
}

// labelsRequiringFlag are the classifier labels that warrant surfacing the
// content to a human moderator.
var labelsRequiringFlag = map[string]bool{
	"harassment":  true,
	"hate_speech": true,
	"spam":        true,
	"violence":    true,
	"self_harm":   true,
}

// Review classifies one piece of content and appends an audit entry with the
// verdict.
//
// A classifier failure (unreachable API, malformed response) is counted and
// logged but returns nil, nil: review is advisory and content flow must not
// depend on the classifier being up.
func (m *Moderator) Review(ctx context.Context, content Content) (*Decision, error) {
	verdict, err := m.client.Classify(ctx, ClassifyRequest{
		Body:     content.Body,
		Author:   content.Author,
		CourseID: content.CourseID,
	})
	if err != nil {
		metrics.AIClassifierErrorsTotal.Inc()
		log.Warn().Err(err).
			Str("content_type", content.ContentType).
			Str("content_id", content.ContentID).
			Msg("content classification failed")
		return nil, nil
	}

	metrics.AIClassificationsTotal.WithLabelValues(verdict.Label).Inc()

	decision := &Decision{
		Action:         moderation.ActionNoAction,
		Classification: verdict.Label,
		Confidence:     verdict.Confidence,
		Reasoning:      verdict.Reasoning,
	}
	if labelsRequiringFlag[verdict.Label] && verdict.Confidence != nil && *verdict.Confidence >= m.flagThreshold {
		decision.Action = moderation.ActionContentFlagged
	}

	entry := moderation.AuditEntry{
		Action:   decision.Action,
		Source:   moderation.SourceAI,
		CourseID: content.CourseID,
		Metadata: map[string]any{
			"content_type": content.ContentType,
			"content_id":   content.ContentID,
		},
		Body:             truncate(content.Body, auditBodyLimit),
		OriginalAuthor:   content.Author,
		Classification:   verdict.Label,
		ClassifierOutput: verdict.Raw,
		ConfidenceScore:  verdict.Confidence,
		Reasoning:        verdict.Reasoning,
	}
	if err := m.svc.RecordAudit(ctx, entry); err != nil {
		log.Error().Err(err).
			Str("content_id", content.ContentID).
			Msg("failed to record classification audit entry")
	}

	if decision.Action == moderation.ActionContentFlagged {
		log.Info().
			Str("content_type", content.ContentType).
			Str("content_id", content.ContentID).
			Str("classification", verdict.Label).
			Msg("content flagged for review")
	}
	return decision, nil
}
