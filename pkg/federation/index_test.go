package federation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sessmem "github.com/marmos91/artifactgrid/pkg/provider/session/memory"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	kp := sessmem.New()
	t.Cleanup(func() { kp.Close() })
	return New(kp, 0)
}

func testLocation(id, sandbox, session string) *Location {
	return &Location{
		ArtifactID: id,
		SandboxID:  sandbox,
		SessionID:  session,
		GridKey:    "grid/" + sandbox + "/sess-" + session + "/" + id,
		Size:       42,
		Mime:       "text/plain",
	}
}

func TestRegisterLocate(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Register(ctx, testLocation("a1", "sb-1", "s1")))

	loc, err := idx.Locate(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, "sb-1", loc.SandboxID)
	assert.Equal(t, int64(42), loc.Size)
	assert.False(t, loc.StoredAt.IsZero())

	loc, err = idx.Locate(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, loc)
}

func TestRegisterValidation(t *testing.T) {
	idx := newTestIndex(t)

	err := idx.Register(context.Background(), &Location{ArtifactID: "a1"})
	assert.Error(t, err)
}

func TestUnregister(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Register(ctx, testLocation("a1", "sb-1", "s1")))

	ok, err := idx.Unregister(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, ok)

	loc, err := idx.Locate(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, loc)

	// set memberships cleaned up
	locs, err := idx.ListSessionLocations(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, locs)

	ok, err = idx.Unregister(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListSessionLocations(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Register(ctx, testLocation("a1", "sb-1", "s1")))
	require.NoError(t, idx.Register(ctx, testLocation("a2", "sb-2", "s1")))
	require.NoError(t, idx.Register(ctx, testLocation("a3", "sb-1", "s2")))

	locs, err := idx.ListSessionLocations(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, locs, 2)

	locs, err = idx.ListSessionLocations(ctx, "none")
	require.NoError(t, err)
	assert.Empty(t, locs)
}

func TestSandboxArtifactsLimit(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	for _, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, idx.Register(ctx, testLocation(id, "sb-1", "s1")))
	}

	locs, err := idx.SandboxArtifacts(ctx, "sb-1", 0)
	require.NoError(t, err)
	assert.Len(t, locs, 3)

	locs, err = idx.SandboxArtifacts(ctx, "sb-1", 2)
	require.NoError(t, err)
	assert.Len(t, locs, 2)
}

func TestSessionDistributionAndHomeSandbox(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Register(ctx, testLocation("a1", "sb-1", "s1")))
	require.NoError(t, idx.Register(ctx, testLocation("a2", "sb-1", "s1")))
	require.NoError(t, idx.Register(ctx, testLocation("a3", "sb-2", "s1")))

	dist, err := idx.SessionDistribution(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"sb-1": 2, "sb-2": 1}, dist)

	home, err := idx.FindSessionHomeSandbox(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "sb-1", home)

	home, err = idx.FindSessionHomeSandbox(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, home)
}

func TestStats(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Register(ctx, testLocation("a1", "sb-1", "s1")))
	require.NoError(t, idx.Register(ctx, testLocation("a2", "sb-2", "s2")))
	ok, err := idx.Unregister(ctx, "a2")
	require.NoError(t, err)
	require.True(t, ok)

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalArtifacts)
	assert.Equal(t, int64(2), stats.ArtifactsRegistered)
	assert.Equal(t, int64(1), stats.ArtifactsUnregistered)
	assert.False(t, stats.Timestamp.IsZero())
	assert.False(t, stats.LastUpdated.IsZero())
}

func TestLocationRecordTTL(t *testing.T) {
	kp := sessmem.New()
	t.Cleanup(func() { kp.Close() })
	idx := New(kp, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, idx.Register(ctx, testLocation("a1", "sb-1", "s1")))
	time.Sleep(40 * time.Millisecond)

	loc, err := idx.Locate(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, loc)

	// the set still carries the id but dereferencing skips it
	locs, err := idx.ListSessionLocations(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, locs)
}
