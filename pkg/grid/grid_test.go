package grid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildParseRoundTrip(t *testing.T) {
	cases := []struct {
		sandbox, marker, leaf string
	}{
		{"sandbox-1", "sess-abc", "artifact1"},
		{"A", "shared", "x"},
		{"prod-eu", "user-alice", "b7b2"},
		{"s", "sess-00000000", "leaf-with-dash"},
	}

	for _, tc := range cases {
		key, err := Build(tc.sandbox, tc.marker, tc.leaf)
		require.NoError(t, err)

		parsed, err := Parse(key)
		require.NoError(t, err)
		assert.Equal(t, tc.sandbox, parsed.SandboxID)
		assert.Equal(t, tc.marker, parsed.ScopeMarker)
		assert.Equal(t, tc.leaf, parsed.Leaf)
		assert.Empty(t, parsed.SubPath)
	}
}

func TestBuildWithSubPath(t *testing.T) {
	key, err := BuildWithSubPath("sb", "sess-s1", "ns1", "dir/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "grid/sb/sess-s1/ns1/dir/file.txt", key)

	parsed, err := Parse(key)
	require.NoError(t, err)
	assert.Equal(t, "dir/file.txt", parsed.SubPath)
}

func TestBuildRejectsBadSegments(t *testing.T) {
	cases := []struct {
		name                  string
		sandbox, marker, leaf string
	}{
		{"empty sandbox", "", "sess-a", "l"},
		{"empty marker", "sb", "", "l"},
		{"empty leaf", "sb", "sess-a", ""},
		{"slash in sandbox", "a/b", "sess-a", "l"},
		{"slash in leaf", "sb", "sess-a", "a/b"},
		{"dot prefix", "sb", "sess-a", ".hidden"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(tc.sandbox, tc.marker, tc.leaf)
			assert.ErrorIs(t, err, ErrMalformedKey)
		})
	}
}

func TestBuildRejectsBadSubPath(t *testing.T) {
	for _, sub := range []string{"/abs", "a//b", "a/.hidden", "../escape"} {
		_, err := BuildWithSubPath("sb", "shared", "l", sub)
		assert.ErrorIs(t, err, ErrMalformedKey, "sub path %q", sub)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, key := range []string{
		"",
		"grid",
		"grid/sb",
		"grid/sb/sess-a",
		"notgrid/sb/sess-a/leaf",
		"grid//sess-a/leaf",
		"grid/sb/sess-a/",
	} {
		_, err := Parse(key)
		assert.ErrorIs(t, err, ErrMalformedKey, "key %q", key)
	}
}

func TestParseIsCaseSensitive(t *testing.T) {
	_, err := Parse("Grid/sb/shared/leaf")
	assert.ErrorIs(t, err, ErrMalformedKey)
}

func TestScopeMarkers(t *testing.T) {
	m, err := ScopeSession.Marker("s1")
	require.NoError(t, err)
	assert.Equal(t, "sess-s1", m)

	m, err = ScopeUser.Marker("alice")
	require.NoError(t, err)
	assert.Equal(t, "user-alice", m)

	m, err = ScopeSandbox.Marker("")
	require.NoError(t, err)
	assert.Equal(t, "shared", m)

	_, err = ScopeSession.Marker("")
	assert.Error(t, err)
	_, err = ScopeUser.Marker("")
	assert.Error(t, err)
}

func TestScopeFromMarker(t *testing.T) {
	scope, owner, err := ScopeFromMarker("sess-s1")
	require.NoError(t, err)
	assert.Equal(t, ScopeSession, scope)
	assert.Equal(t, "s1", owner)

	scope, owner, err = ScopeFromMarker("user-bob")
	require.NoError(t, err)
	assert.Equal(t, ScopeUser, scope)
	assert.Equal(t, "bob", owner)

	scope, owner, err = ScopeFromMarker("shared")
	require.NoError(t, err)
	assert.Equal(t, ScopeSandbox, scope)
	assert.Empty(t, owner)

	_, _, err = ScopeFromMarker("bogus")
	assert.Error(t, err)
}

func TestCanonicalSessionPrefix(t *testing.T) {
	assert.Equal(t, "grid/sb/sess-s1/", CanonicalSessionPrefix("sb", "s1"))
}

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.Len(t, id, 26)
		assert.Equal(t, strings.ToLower(id), id)
		assert.NotContains(t, id, "/")
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
