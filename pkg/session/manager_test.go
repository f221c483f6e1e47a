package session

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sessmem "github.com/marmos91/artifactgrid/pkg/provider/session/memory"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	p := sessmem.New()
	t.Cleanup(func() { p.Close() })
	return NewManager("sandbox-test", p)
}

func TestAllocateAndValidate(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	id, err := m.Allocate(ctx, "alice", time.Minute, map[string]string{"purpose": "demo"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ok, err := m.Validate(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := m.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "alice", info.UserID)
	assert.Equal(t, "sandbox-test", info.SandboxID)
	assert.Equal(t, StatusActive, info.Status)
	assert.Equal(t, "demo", info.CustomMetadata["purpose"])
}

func TestValidateUnknownSession(t *testing.T) {
	m := newManager(t)

	ok, err := m.Validate(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	info, err := m.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestExtendPushesExpiry(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	id, err := m.Allocate(ctx, "", time.Minute, nil)
	require.NoError(t, err)

	before, err := m.Get(ctx, id)
	require.NoError(t, err)

	require.NoError(t, m.Extend(ctx, id, time.Hour))

	after, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, after.ExpiresAt.After(before.ExpiresAt))

	// extending an absent session is a no-op
	require.NoError(t, m.Extend(ctx, "missing", time.Hour))
}

func TestUpdateMetadataMerges(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	id, err := m.Allocate(ctx, "", time.Minute, map[string]string{"a": "1"})
	require.NoError(t, err)

	require.NoError(t, m.UpdateMetadata(ctx, id, map[string]string{"b": "2"}))
	require.NoError(t, m.UpdateMetadata(ctx, id, map[string]string{"a": "3"}))

	info, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "3", info.CustomMetadata["a"])
	assert.Equal(t, "2", info.CustomMetadata["b"])

	assert.Error(t, m.UpdateMetadata(ctx, "missing", map[string]string{"x": "y"}))
}

func TestCacheInvalidatedOnMutation(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	id, err := m.Allocate(ctx, "", time.Minute, nil)
	require.NoError(t, err)

	// prime the cache
	_, err = m.Get(ctx, id)
	require.NoError(t, err)

	require.NoError(t, m.UpdateMetadata(ctx, id, map[string]string{"k": "v"}))

	info, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "v", info.CustomMetadata["k"])
}

func TestGetReturnsIndependentCopies(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	id, err := m.Allocate(ctx, "alice", time.Minute, map[string]string{"k": "v"})
	require.NoError(t, err)

	a, err := m.Get(ctx, id)
	require.NoError(t, err)
	a.CustomMetadata["k"] = "mutated"
	a.ExpiresAt = time.Time{}

	// a second Get (served from cache) must not see the caller's edits
	b, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "v", b.CustomMetadata["k"])
	assert.False(t, b.ExpiresAt.IsZero())
}

func TestConcurrentGetAndUpdateMetadata(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	id, err := m.Allocate(ctx, "alice", time.Minute, map[string]string{"seed": "0"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := m.UpdateMetadata(ctx, id, map[string]string{"writer": strconv.Itoa(n)})
				assert.NoError(t, err)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				info, err := m.Get(ctx, id)
				assert.NoError(t, err)
				if info == nil {
					continue
				}
				for range info.CustomMetadata {
				}
			}
		}()
	}
	wg.Wait()

	info, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "0", info.CustomMetadata["seed"])
}

func TestCanonicalPrefix(t *testing.T) {
	m := newManager(t)

	prefix := m.CanonicalPrefix("s1")
	assert.Equal(t, "grid/sandbox-test/sess-s1/", prefix)
	assert.True(t, strings.HasSuffix(prefix, "/"))
}
