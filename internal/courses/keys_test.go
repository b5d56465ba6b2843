package courses

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrg(t *testing.T) {
	tests := []struct {
		name     string
		courseID string
		want     string
		wantErr  bool
	}{
		{"modern format", "course-v1:edX+DemoX+2024", "edX", false},
		{"modern format other org", "course-v1:HarvardX+CS50+2023_Fall", "HarvardX", false},
		{"legacy format", "edX/DemoX/2024", "edX", false},
		{"empty", "", "", true},
		{"missing separators", "just-a-string", "", true},
		{"modern format without org", "course-v1:+DemoX+2024", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOrg(tt.courseID)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("course-v1:edX+DemoX+2024"))
	assert.False(t, IsValid("nope"))
}

func TestStaticRegistry(t *testing.T) {
	reg := NewStaticRegistry(map[string]string{
		"course-v1:edX+DemoX+2024": "edX",
	})

	org, err := reg.OrgForCourse(context.Background(), "course-v1:edX+DemoX+2024")
	require.NoError(t, err)
	assert.Equal(t, "edX", org)

	_, err = reg.OrgForCourse(context.Background(), "course-v1:MITx+6001+2024")
	assert.Error(t, err)

	reg.Register("course-v1:MITx+6001+2024", "MITx")
	org, err = reg.OrgForCourse(context.Background(), "course-v1:MITx+6001+2024")
	require.NoError(t, err)
	assert.Equal(t, "MITx", org)
}

func TestResolver_FallsBackToParsing(t *testing.T) {
	// Registry authoritative when it knows the course; note the registry
	// answer can differ from what the course id string suggests.
	reg := NewStaticRegistry(map[string]string{
		"course-v1:edX+DemoX+2024": "edX-partners",
	})
	res := NewResolver(reg)

	org, err := res.OrgFor(context.Background(), "course-v1:edX+DemoX+2024")
	require.NoError(t, err)
	assert.Equal(t, "edX-partners", org)

	// Unknown course falls back to parsing the id
	org, err = res.OrgFor(context.Background(), "course-v1:MITx+6001+2024")
	require.NoError(t, err)
	assert.Equal(t, "MITx", org)

	// No registry at all
	res = NewResolver(nil)
	org, err = res.OrgFor(context.Background(), "course-v1:edX+Other+2024")
	require.NoError(t, err)
	assert.Equal(t, "edX", org)

	_, err = res.OrgFor(context.Background(), "garbage")
	assert.Error(t, err)
}
