// Package grid implements the canonical key layout for artifact storage.
//
// Every object written by an ArtifactStore lives under a grid key:
//
//	grid/{sandbox_id}/{scope_marker}/{artifact_or_namespace_id}[/{sub_path}]
//
// where the scope marker is one of "sess-{session_id}", "user-{user_id}" or
// "shared". The sandbox segment is the tenancy boundary: a store never writes
// or deletes under another sandbox's root.
package grid

import (
	"errors"
	"fmt"
	"strings"
)

// Root is the fixed first segment of every grid key.
const Root = "grid"

// ErrMalformedKey is returned when a key or key segment violates the grid
// layout rules.
var ErrMalformedKey = errors.New("malformed grid key")

// Key is a parsed grid key.
type Key struct {
	SandboxID   string
	ScopeMarker string
	Leaf        string // artifact id or namespace id
	SubPath     string // optional, workspace-relative ("a/b.txt", no leading slash)
}

// String renders the key in its canonical byte-exact form.
func (k Key) String() string {
	s := Root + "/" + k.SandboxID + "/" + k.ScopeMarker + "/" + k.Leaf
	if k.SubPath != "" {
		s += "/" + k.SubPath
	}
	return s
}

// validSegment rejects empty segments, segments containing "/", and segments
// starting with ".".
func validSegment(seg string) bool {
	if seg == "" {
		return false
	}
	if strings.Contains(seg, "/") {
		return false
	}
	if strings.HasPrefix(seg, ".") {
		return false
	}
	return true
}

// Build returns the canonical key "grid/{sandbox}/{marker}/{leaf}".
// Each segment must be non-empty, "/"-free and must not start with ".".
func Build(sandboxID, scopeMarker, leaf string) (string, error) {
	return BuildWithSubPath(sandboxID, scopeMarker, leaf, "")
}

// BuildWithSubPath builds a grid key with an optional sub path appended.
// The sub path may contain "/" but no segment of it may be empty or start
// with ".".
func BuildWithSubPath(sandboxID, scopeMarker, leaf, subPath string) (string, error) {
	for _, seg := range []string{sandboxID, scopeMarker, leaf} {
		if !validSegment(seg) {
			return "", fmt.Errorf("%w: invalid segment %q", ErrMalformedKey, seg)
		}
	}
	if subPath != "" {
		for _, seg := range strings.Split(subPath, "/") {
			if seg == "" || strings.HasPrefix(seg, ".") {
				// _checkpoints and friends use an underscore prefix, so a
				// leading dot is always a traversal attempt or a mistake.
				return "", fmt.Errorf("%w: invalid sub path %q", ErrMalformedKey, subPath)
			}
		}
	}
	return Key{SandboxID: sandboxID, ScopeMarker: scopeMarker, Leaf: leaf, SubPath: subPath}.String(), nil
}

// Parse splits a canonical grid key back into its components.
// parse(build(a, b, c)) == (a, b, c) for all valid inputs.
func Parse(key string) (Key, error) {
	parts := strings.Split(key, "/")
	if len(parts) < 4 {
		return Key{}, fmt.Errorf("%w: %q has %d segments, want at least 4", ErrMalformedKey, key, len(parts))
	}
	if parts[0] != Root {
		return Key{}, fmt.Errorf("%w: %q does not start with %q", ErrMalformedKey, key, Root)
	}
	k := Key{
		SandboxID:   parts[1],
		ScopeMarker: parts[2],
		Leaf:        parts[3],
	}
	for _, seg := range parts[1:4] {
		if !validSegment(seg) {
			return Key{}, fmt.Errorf("%w: invalid segment %q in %q", ErrMalformedKey, seg, key)
		}
	}
	if len(parts) > 4 {
		k.SubPath = strings.Join(parts[4:], "/")
	}
	return k, nil
}

// SandboxPrefix returns the prefix under which every key of a sandbox lives.
func SandboxPrefix(sandboxID string) string {
	return Root + "/" + sandboxID + "/"
}

// CanonicalSessionPrefix returns "grid/{sandbox}/sess-{session}/".
func CanonicalSessionPrefix(sandboxID, sessionID string) string {
	return Root + "/" + sandboxID + "/" + SessionMarker(sessionID) + "/"
}
