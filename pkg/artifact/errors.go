package artifact

import (
	"errors"
	"fmt"
)

// Kind classifies coordinator errors so callers can branch on machine-
// readable categories while messages stay human-readable.
type Kind string

const (
	// KindNotFound means the artifact's metadata or object is missing.
	KindNotFound Kind = "ArtifactNotFound"

	// KindAccessDenied means a scope check failed, or a cross-session
	// copy/move/overwrite was attempted.
	KindAccessDenied Kind = "AccessDenied"

	// KindSessionError means the session is invalid or expired.
	KindSessionError Kind = "SessionError"

	// KindProviderError means a transient or 5xx failure from a storage or
	// session provider. Retried before being surfaced.
	KindProviderError Kind = "ProviderError"

	// KindConfigurationError means missing credentials, a bad bucket or an
	// unknown provider. Surfaced at construction, never retried.
	KindConfigurationError Kind = "ConfigurationError"

	// KindMalformedKey means the grid codec rejected an input.
	KindMalformedKey Kind = "MalformedKey"

	// KindInvalidPartSequence means multipart parts do not form a
	// contiguous 1..N sequence.
	KindInvalidPartSequence Kind = "InvalidPartSequence"

	// KindPartTooSmall means a non-final multipart part is below the 5 MiB
	// floor.
	KindPartTooSmall Kind = "PartTooSmall"

	// KindUploadNotOpen means the multipart upload is completed, aborted
	// or unknown.
	KindUploadNotOpen Kind = "UploadNotOpen"

	// KindFederationError means the federation index is unreachable. Never
	// fatal to the primary operation; logged and swallowed.
	KindFederationError Kind = "FederationError"

	// KindIntegrityError means a sha256 mismatch on read-back.
	KindIntegrityError Kind = "IntegrityError"
)

// Error is the coordinator error type. Every failure surfaced by the
// public API carries a Kind plus a message, and wraps the underlying cause
// when one exists.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is match on Kind, so sentinel-style comparisons against
// the Err* values below work through wrapping.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// newError builds an *Error with a formatted message.
func newError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Sentinels for errors.Is checks. Matching is by Kind only.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrAccessDenied        = &Error{Kind: KindAccessDenied}
	ErrSession             = &Error{Kind: KindSessionError}
	ErrProvider            = &Error{Kind: KindProviderError}
	ErrConfiguration       = &Error{Kind: KindConfigurationError}
	ErrMalformedKey        = &Error{Kind: KindMalformedKey}
	ErrInvalidPartSequence = &Error{Kind: KindInvalidPartSequence}
	ErrPartTooSmall        = &Error{Kind: KindPartTooSmall}
	ErrUploadNotOpen       = &Error{Kind: KindUploadNotOpen}
	ErrFederation          = &Error{Kind: KindFederationError}
	ErrIntegrity           = &Error{Kind: KindIntegrityError}
)

// KindOf extracts the Kind from err, or the empty string for foreign
// errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
