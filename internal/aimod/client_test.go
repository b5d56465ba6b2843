package aimod

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyParsesVerdict(t *testing.T) {
	var gotClientID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClientID = r.Header.Get("X-Client-ID")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"classification": "harassment", "confidence": 0.95, "reasoning": "targeted insults", "model": "v2"}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{APIURL: server.URL, ClientID: "forummod-test"})
	verdict, err := client.Classify(context.Background(), ClassifyRequest{Body: "some text", Author: "alice"})
	require.NoError(t, err)

	assert.Equal(t, "forummod-test", gotClientID)
	assert.Equal(t, "harassment", verdict.Label)
	require.NotNil(t, verdict.Confidence)
	assert.InDelta(t, 0.95, *verdict.Confidence, 1e-9)
	assert.Equal(t, "targeted insults", verdict.Reasoning)
	assert.Equal(t, "v2", verdict.Raw["model"])
}

func TestClassifyMalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>gateway error</html>`},
		{"json array", `[1, 2, 3]`},
		{"missing classification", `{"confidence": 0.5}`},
		{"empty classification", `{"classification": ""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(ClientConfig{APIURL: server.URL})
			verdict, err := client.Classify(context.Background(), ClassifyRequest{Body: "text"})
			assert.Nil(t, verdict)

			var upstreamErr *UpstreamError
			require.ErrorAs(t, err, &upstreamErr)
		})
	}
}

func TestClassifyUpstreamStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{APIURL: server.URL})
	_, err := client.Classify(context.Background(), ClassifyRequest{Body: "text"})

	var upstreamErr *UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusServiceUnavailable, upstreamErr.StatusCode)
}

func TestClassifyUnreachableUpstream(t *testing.T) {
	client := NewClient(ClientConfig{APIURL: "http://127.0.0.1:1"})
	_, err := client.Classify(context.Background(), ClassifyRequest{Body: "text"})
	require.Error(t, err)
}
