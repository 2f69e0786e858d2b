package domain

import "fmt"

// Error types for consistent error handling across the sync service.

// ErrNotFound indicates a resource was not found upstream.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an upstream service call.
// Transient by definition: the last-known-good snapshot stays published.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrMalformed indicates an upstream response that failed the parse/validate
// step at the fetcher boundary. Handled like a transient failure, never
// propagated into rendering.
type ErrMalformed struct {
	Service string
	Reason  string
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("malformed response from %s: %s", e.Service, e.Reason)
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrUnauthorized indicates invalid credentials or token. Any fetch that
// returns it forces sign-out and clears all snapshots.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrForbidden indicates the current permission set denies the operation.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrSessionClosed indicates a request arrived after the owning session
// was torn down (sign-out or view unmount).
type ErrSessionClosed struct{}

func (e *ErrSessionClosed) Error() string {
	return "session closed"
}

// ErrValidation indicates a bad request from the view layer.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}
