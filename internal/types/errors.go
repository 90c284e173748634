package types

import (
	"errors"
	"fmt"
)

// Error taxonomy shared across the pipeline. Adapters (mail transport, LLM
// client, state store) classify failures into these types at the boundary;
// everything upstream decides retry/skip/abort from the type alone.

// ValidationError reports bad input data, such as a lead row with a missing
// or malformed email. The affected record is skipped and processing
// continues.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransientServiceError wraps a failure expected to clear on retry: timeouts,
// rate limits, provider hiccups. Subject to bounded retry with backoff.
type TransientServiceError struct {
	Service string
	Err     error
}

func (e *TransientServiceError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Service, e.Err)
}

func (e *TransientServiceError) Unwrap() error { return e.Err }

// PermanentServiceError wraps a failure retrying cannot fix: invalid
// recipient, rejected payload, bad credentials. Never retried. Auth marks
// credential failures so operators see them distinctly.
type PermanentServiceError struct {
	Service string
	Auth    bool
	Err     error
}

func (e *PermanentServiceError) Error() string {
	if e.Auth {
		return fmt.Sprintf("%s: auth: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s: permanent: %v", e.Service, e.Err)
}

func (e *PermanentServiceError) Unwrap() error { return e.Err }

// PersistenceError reports a state store failure. A campaign run hit by one
// aborts without marking the campaign failed: the on-disk state is unknown,
// so the caller retries the whole run instead.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("persistence: %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// LoopBoundExceeded records that the feedback loop hit its configured bound
// and the campaign proceeded with the insights it had. Logged, never fatal.
type LoopBoundExceeded struct {
	Limit int
}

func (e *LoopBoundExceeded) Error() string {
	return fmt.Sprintf("feedback loop bound %d exceeded, proceeding with current insights", e.Limit)
}

// IsTransient reports whether err is (or wraps) a TransientServiceError.
func IsTransient(err error) bool {
	var t *TransientServiceError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is (or wraps) a PermanentServiceError.
func IsPermanent(err error) bool {
	var p *PermanentServiceError
	return errors.As(err, &p)
}

// IsAuth reports whether err is a permanent credential failure.
func IsAuth(err error) bool {
	var p *PermanentServiceError
	return errors.As(err, &p) && p.Auth
}

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var p *PersistenceError
	return errors.As(err, &p)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
