package remote

import "fmt"

// SessionError means the guest-session ensure call failed. The caller keeps
// whatever state already exists.
type SessionError struct {
	Err error
}

func (e *SessionError) Error() string { return fmt.Sprintf("guest session ensure failed: %v", e.Err) }
func (e *SessionError) Unwrap() error { return e.Err }

// LoadError means a remote quote load failed. Never fatal: hydration
// proceeds with cache-derived state.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("remote quote load failed: %v", e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// ConflictError means the backend's current collection token disagrees with
// the one presented on save.
type ConflictError struct {
	Presented string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("quote save conflicted, presented token %q is stale", e.Presented)
}

// CreationError means quote-type selection returned no reference. The quote
// type stays unset; the caller must retry activation.
type CreationError struct {
	QuoteType string
	Err       error
}

func (e *CreationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("quote creation for type %q failed: %v", e.QuoteType, e.Err)
	}
	return fmt.Sprintf("quote creation for type %q returned no reference", e.QuoteType)
}

func (e *CreationError) Unwrap() error { return e.Err }
