package moderation

import "fmt"

// ValidationError reports a request rejected before any write, naming the
// offending field. Maps to a 400 at the HTTP boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NotFoundError reports a lookup that matched nothing. Maps to a 404 at the
// HTTP boundary, distinct from validation failures.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// ErrDuplicateKey is returned by store implementations when an insert loses
// the race on an active-ban or active-mute uniqueness constraint. Callers
// resolve it by retrying the reactivate-or-return-existing path; it never
// surfaces to API callers.
type ErrDuplicateKey struct {
	Constraint string
}

func (e *ErrDuplicateKey) Error() string {
	return fmt.Sprintf("duplicate key on %s", e.Constraint)
}
