package grid

import (
	"fmt"
	"strings"
)

// Scope decides which segment of the grid key carries the isolation marker
// and who may read or write an artifact.
type Scope string

const (
	// ScopeSession is ephemeral storage whose key embeds the session id.
	ScopeSession Scope = "session"

	// ScopeUser is persistent per-user storage; the key embeds "user-{user_id}".
	ScopeUser Scope = "user"

	// ScopeSandbox is shared across all users and sessions of one sandbox;
	// the key uses the "shared" marker. Sandbox-scoped artifacts cannot be
	// deleted through the public delete path.
	ScopeSandbox Scope = "sandbox"
)

// Scope marker prefixes.
const (
	sessionMarkerPrefix = "sess-"
	userMarkerPrefix    = "user-"
	sharedMarker        = "shared"
)

// Valid reports whether s is one of the three defined scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeSession, ScopeUser, ScopeSandbox:
		return true
	}
	return false
}

// ParseScope converts a string into a Scope.
func ParseScope(s string) (Scope, error) {
	scope := Scope(s)
	if !scope.Valid() {
		return "", fmt.Errorf("%w: unknown scope %q", ErrMalformedKey, s)
	}
	return scope, nil
}

// SessionMarker returns the scope marker for a session id.
func SessionMarker(sessionID string) string {
	return sessionMarkerPrefix + sessionID
}

// UserMarker returns the scope marker for a user id.
func UserMarker(userID string) string {
	return userMarkerPrefix + userID
}

// SharedMarker returns the scope marker for sandbox-shared artifacts.
func SharedMarker() string {
	return sharedMarker
}

// Marker returns the scope marker for the given scope and owner.
// For ScopeSession the owner is the session id; for ScopeUser it is the
// user id; for ScopeSandbox the owner is ignored.
func (s Scope) Marker(owner string) (string, error) {
	switch s {
	case ScopeSession:
		if owner == "" {
			return "", fmt.Errorf("%w: session scope requires a session id", ErrMalformedKey)
		}
		return SessionMarker(owner), nil
	case ScopeUser:
		if owner == "" {
			return "", fmt.Errorf("%w: user scope requires a user id", ErrMalformedKey)
		}
		return UserMarker(owner), nil
	case ScopeSandbox:
		return sharedMarker, nil
	default:
		return "", fmt.Errorf("%w: unknown scope %q", ErrMalformedKey, string(s))
	}
}

// ScopeFromMarker recovers the scope and owner from a scope marker.
// The owner is the session id for "sess-", the user id for "user-",
// and empty for "shared".
func ScopeFromMarker(marker string) (Scope, string, error) {
	switch {
	case marker == sharedMarker:
		return ScopeSandbox, "", nil
	case strings.HasPrefix(marker, sessionMarkerPrefix):
		return ScopeSession, strings.TrimPrefix(marker, sessionMarkerPrefix), nil
	case strings.HasPrefix(marker, userMarkerPrefix):
		return ScopeUser, strings.TrimPrefix(marker, userMarkerPrefix), nil
	default:
		return "", "", fmt.Errorf("%w: unknown scope marker %q", ErrMalformedKey, marker)
	}
}
