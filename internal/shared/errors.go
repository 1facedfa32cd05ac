package shared

import "errors"

// Error kinds returned by the core services. Handlers map these to stable
// machine-readable responses; storage detail never leaks into messages.
var (
	// ErrUnauthenticated indicates a missing or unresolvable credential.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidCredentials indicates a failed username/password login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden indicates a failed authorization gate, a protected
	// system entity, a self-assignment or a privilege-containment failure.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates the entity id does not resolve on the standard
	// surface. Super-admin accounts resolve to ErrNotFound there as well.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrStorage wraps transaction or commit failures. It is the only kind
	// a caller may treat as transient.
	ErrStorage = errors.New("storage failure")
)
