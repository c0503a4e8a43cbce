package policy

import "errors"

// Violations raised while validating a lifecycle transition. They block the
// transition entirely and are never retried automatically.
var (
	// ErrOverlap indicates the user already holds an active assignment
	// under a non-overlappable policy.
	ErrOverlap = errors.New("policy: user cannot hold more than one active assignment")
	// ErrQuotaExceeded indicates the role's actor quota is exhausted for
	// the territory.
	ErrQuotaExceeded = errors.New("policy: role actor quota exceeded")
	// ErrScopeViolation indicates a scoped entity resolves outside the
	// policy's allowed values.
	ErrScopeViolation = errors.New("policy: entity outside allowed scope")
	// ErrDuplicateProfile indicates another profile for the role is
	// already active.
	ErrDuplicateProfile = errors.New("policy: role already has an active permission profile")
)

// IsViolation reports whether err is one of the policy violations.
func IsViolation(err error) bool {
	return errors.Is(err, ErrOverlap) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrScopeViolation) ||
		errors.Is(err, ErrDuplicateProfile)
}
