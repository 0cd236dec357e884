// Package failure defines the structured error payload surfaced by the match,
// crypto and storage layers. Callers branch on Kind instead of error strings.
package failure

import (
	"errors"
	"fmt"
)

// Kind identifies a failure category independent of transport.
type Kind string

const (
	KindInsufficientStorage   Kind = "InsufficientStorage"
	KindAuthenticationFailure Kind = "AuthenticationFailure"
	KindDimensionMismatch     Kind = "DimensionMismatch"
	KindCorruptedTemplate     Kind = "CorruptedTemplate"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrInsufficientStorage   = &Error{Kind: KindInsufficientStorage}
	ErrAuthenticationFailure = &Error{Kind: KindAuthenticationFailure}
	ErrDimensionMismatch     = &Error{Kind: KindDimensionMismatch}
	ErrCorruptedTemplate     = &Error{Kind: KindCorruptedTemplate}
)

// Error carries a failure kind plus the contextual fields a caller needs to
// present an actionable message. Storage fields are only set for
// KindInsufficientStorage.
type Error struct {
	Kind                Kind
	Message             string
	AvailableInternalMB *int64
	ExternalAvailable   *bool
	ExternalAvailableMB *int64
	Err                 error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Payload is the boundary representation of an Error.
type Payload struct {
	Kind                Kind   `json:"kind"`
	AvailableInternalMB *int64 `json:"availableInternalMB,omitempty"`
	ExternalAvailable   *bool  `json:"externalAvailable,omitempty"`
	ExternalAvailableMB *int64 `json:"externalAvailableMB,omitempty"`
	Message             string `json:"message"`
}

// Payload converts the error into its boundary form.
func (e *Error) Payload() Payload {
	return Payload{
		Kind:                e.Kind,
		AvailableInternalMB: e.AvailableInternalMB,
		ExternalAvailable:   e.ExternalAvailable,
		ExternalAvailableMB: e.ExternalAvailableMB,
		Message:             e.Error(),
	}
}

// New creates an error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an error of the given kind wrapping err.
// If err already carries a kind, that kind is preserved.
func Wrap(err error, kind Kind, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Kind: existing.Kind, Message: msg, Err: err}
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// DimensionMismatch reports two vectors of different length being compared.
func DimensionMismatch(got, want int) error {
	return &Error{
		Kind:    KindDimensionMismatch,
		Message: fmt.Sprintf("embedding dimension mismatch: %d != %d", got, want),
	}
}

// CorruptedTemplate reports a stored template that cannot be used.
func CorruptedTemplate(ownerID string, err error) error {
	return &Error{
		Kind:    KindCorruptedTemplate,
		Message: fmt.Sprintf("corrupted template for owner %q", ownerID),
		Err:     err,
	}
}

// InsufficientStorage reports a write refused after remediation.
// externalMB is nil when no external medium is usable.
func InsufficientStorage(internalMB int64, externalAvailable bool, externalMB *int64, msg string) error {
	return &Error{
		Kind:                KindInsufficientStorage,
		Message:             msg,
		AvailableInternalMB: &internalMB,
		ExternalAvailable:   &externalAvailable,
		ExternalAvailableMB: externalMB,
	}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// HasKind checks whether err carries the given kind.
func HasKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
