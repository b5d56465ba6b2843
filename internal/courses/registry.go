package courses

import (
	"context"
	"fmt"
	"sync"
)

// Registry is an authoritative course-to-organization lookup.
// Implementations must be safe for concurrent use.
type Registry interface {
	OrgForCourse(ctx context.Context, courseID string) (string, error)
}

// StaticRegistry is a Registry backed by a fixed map, typically loaded
// from configuration.
type StaticRegistry struct {
	mu   sync.RWMutex
	orgs map[string]string // course id -> org key
}

// NewStaticRegistry creates a registry from a course-to-org map.
// The map may be nil; lookups then always miss.
func NewStaticRegistry(orgs map[string]string) *StaticRegistry {
	copied := make(map[string]string, len(orgs))
	for k, v := range orgs {
		copied[k] = v
	}
	return &StaticRegistry{orgs: copied}
}

// OrgForCourse returns the registered organization for a course.
func (r *StaticRegistry) OrgForCourse(_ context.Context, courseID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	org, ok := r.orgs[courseID]
	if !ok {
		return "", fmt.Errorf("course not registered: %s", courseID)
	}
	return org, nil
}

// Register adds or replaces a course-to-org mapping.
func (r *StaticRegistry) Register(courseID, orgKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orgs[courseID] = orgKey
}

// Resolver looks up an organization through a Registry and falls back to
// parsing the org segment out of the course identifier when the registry
// is unavailable or misses.
type Resolver struct {
	registry Registry
}

// NewResolver creates a Resolver. registry may be nil, in which case every
// lookup uses string parsing.
func NewResolver(registry Registry) *Resolver {
	return &Resolver{registry: registry}
}

// OrgFor resolves the organization key for a course.
func (r *Resolver) OrgFor(ctx context.Context, courseID string) (string, error) {
	if r.registry != nil {
		if org, err := r.registry.OrgForCourse(ctx, courseID); err == nil && org != "" {
			return org, nil
		}
	}
	return ParseOrg(courseID)
}
