package codec

import "fmt"

// Decode failure reasons.
const (
	ReasonSyntax    = "syntax"
	ReasonVersion   = "version"
	ReasonMigration = "migration"
	ReasonShape     = "shape"
)

// DecodeError reports why a stored payload could not be decoded.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "decode: " + e.Reason
	}
	return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Result is the tagged outcome of Decode: either a snapshot or a DecodeError.
type Result[S any] struct {
	value S
	err   *DecodeError
	// Dropped counts records and fields discarded while decoding.
	Dropped int
	// FromVersion is the payload version found in storage.
	FromVersion int
}

// Ok wraps a decoded snapshot.
func Ok[S any](v S) Result[S] {
	return Result[S]{value: v}
}

// Fail wraps a decode failure.
func Fail[S any](reason string, err error) Result[S] {
	return Result[S]{err: &DecodeError{Reason: reason, Err: err}}
}

// IsOk reports whether decoding produced a snapshot.
func (r Result[S]) IsOk() bool { return r.err == nil }

// Get returns the snapshot, or the zero value and the DecodeError.
func (r Result[S]) Get() (S, error) {
	if r.err != nil {
		var zero S
		return zero, r.err
	}
	return r.value, nil
}

// Err returns the DecodeError, or nil.
func (r Result[S]) Err() *DecodeError { return r.err }
