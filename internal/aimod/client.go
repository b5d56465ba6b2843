// Package aimod integrates an external content-classification API into the
// moderation pipeline. Classifier verdicts are advisory: they produce flag
// decisions and audit entries, never bans.
package aimod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultReadTimeout    = 30 * time.Second

	// maxResponseBytes bounds how much of an upstream response we will read.
	maxResponseBytes = 1 << 20
)

// ClientConfig configures the classifier client.
type ClientConfig struct {
	// APIURL is the classification endpoint.
	APIURL string

	// ClientID is sent as an identification header to the upstream API.
	ClientID string

	// ConnectTimeout bounds dialing the upstream. Zero uses a default.
	ConnectTimeout time.Duration

	// ReadTimeout bounds the whole request. Zero uses a default.
	ReadTimeout time.Duration
}

// Client calls the external classification API.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

// NewClient creates a classifier client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.ReadTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			},
		},
	}
}

// ClassifyRequest is the content submitted for classification.
type ClassifyRequest struct {
	Body     string `json:"body"`
	Author   string `json:"author"`
	CourseID string `json:"course_id"`
}

// Classification is the parsed upstream verdict. Raw carries the full
// response document for the audit trail, including any fields this client
// does not model.
type Classification struct {
	Label      string
	Confidence *float64
	Reasoning  string
	Raw        map[string]any
}

// UpstreamError reports a non-success status or an unusable response body
// from the classification API. Callers treat it as "no verdict available".
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("classifier API returned status %d: %s", e.StatusCode, e.Message)
	}
	return "classifier API: " + e.Message
}

// Classify submits content and parses the verdict.
//
// Upstream responses are not trusted to be well formed: a non-JSON body, a
// JSON document that is not an object, or missing verdict fields all come
// back as an UpstreamError rather than a panic or a fabricated verdict.
func (c *Client) Classify(ctx context.Context, req ClassifyRequest) (*Classification, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal classify request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.ClientID != "" {
		httpReq.Header.Set("X-Client-ID", c.cfg.ClientID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling classifier API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading classifier response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: truncate(string(body), 200)}
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &UpstreamError{Message: "malformed response body: " + truncate(string(body), 200)}
	}

	result := &Classification{Raw: raw}
	label, ok := raw["classification"].(string)
	if !ok || label == "" {
		return nil, &UpstreamError{Message: "response missing classification field"}
	}
	result.Label = label

	if conf, ok := raw["confidence"].(float64); ok {
		result.Confidence = &conf
	}
	if reasoning, ok := raw["reasoning"].(string); ok {
		result.Reasoning = reasoning
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
