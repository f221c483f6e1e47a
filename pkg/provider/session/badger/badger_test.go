package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/artifactgrid/pkg/provider/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "session:abc", `{"id":"abc"}`, time.Minute))

	val, err := s.Get(ctx, "session:abc")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"abc"}`, val)

	require.NoError(t, s.Delete(ctx, "session:abc"))
	require.NoError(t, s.Delete(ctx, "session:abc"))

	_, err = s.Get(ctx, "session:abc")
	assert.ErrorIs(t, err, session.ErrKeyNotFound)
}

func TestNativeTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "short", "v", 50*time.Millisecond))
	time.Sleep(100 * time.Millisecond)

	_, err := s.Get(ctx, "short")
	assert.ErrorIs(t, err, session.ErrKeyNotFound)
}

func TestExpireRewritesTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "k", "v", 50*time.Millisecond))
	require.NoError(t, s.Expire(ctx, "k", time.Minute))
	time.Sleep(100 * time.Millisecond)

	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	err = s.Expire(ctx, "missing", time.Minute)
	assert.ErrorIs(t, err, session.ErrKeyNotFound)
}

func TestKeysByPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "session:a", "1", time.Minute))
	require.NoError(t, s.SetEx(ctx, "session:b", "2", time.Minute))
	require.NoError(t, s.SetEx(ctx, "federation:x", "3", time.Minute))

	keys, err := s.Keys(ctx, "session:")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestSetOpsFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sets := session.NewSetOps(s)

	require.NoError(t, sets.SAdd(ctx, "set", "a", "b"))
	require.NoError(t, sets.SRem(ctx, "set", "a"))

	members, err := sets.SMembers(ctx, "set")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)
}

func TestClosedStore(t *testing.T) {
	s, err := New(Config{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.SetEx(context.Background(), "k", "v", time.Minute)
	assert.ErrorIs(t, err, session.ErrProviderClosed)
}
