// Package courses resolves course identifiers to their owning organization.
package courses

import (
	"fmt"
	"strings"
)

// ParseOrg extracts the organization segment from a course identifier.
// Two formats are understood:
//
//	course-v1:ORG+COURSE+RUN  (current)
//	ORG/COURSE/RUN            (legacy)
func ParseOrg(courseID string) (string, error) {
	if courseID == "" {
		return "", fmt.Errorf("empty course id")
	}

	if rest, ok := strings.CutPrefix(courseID, "course-v1:"); ok {
		org, _, found := strings.Cut(rest, "+")
		if !found || org == "" {
			return "", fmt.Errorf("malformed course id: %s", courseID)
		}
		return org, nil
	}

	// Legacy slash-separated format
	if org, _, found := strings.Cut(courseID, "/"); found && org != "" {
		return org, nil
	}

	return "", fmt.Errorf("unrecognized course id format: %s", courseID)
}

// IsValid reports whether the course identifier is in a recognized format.
func IsValid(courseID string) bool {
	_, err := ParseOrg(courseID)
	return err == nil
}
