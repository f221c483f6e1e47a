package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/artifactgrid/pkg/provider/session"
)

func TestSetGetDelete(t *testing.T) {
	s := New()
	defer s.Close()
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

func TestTTLExpiry(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "short", "v", 10*time.Millisecond))
	time.Sleep(25 * time.Millisecond)

	_, err := s.Get(ctx, "short")
	assert.ErrorIs(t, err, session.ErrKeyNotFound)
}

func TestExpireExtends(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "k", "v", 20*time.Millisecond))
	require.NoError(t, s.Expire(ctx, "k", time.Minute))
	time.Sleep(30 * time.Millisecond)

	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	err = s.Expire(ctx, "missing", time.Minute)
	assert.ErrorIs(t, err, session.ErrKeyNotFound)
}

func TestKeysByPrefix(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "session:a", "1", time.Minute))
	require.NoError(t, s.SetEx(ctx, "session:b", "2", time.Minute))
	require.NoError(t, s.SetEx(ctx, "federation:x", "3", time.Minute))

	keys, err := s.Keys(ctx, "session:")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestSharedStores(t *testing.T) {
	defer ClearSharedStores()
	ctx := context.Background()

	a := NewShared("demo")
	b := NewShared("demo")

	require.NoError(t, a.SetEx(ctx, "k", "shared", time.Minute))
	val, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "shared", val)

	require.NoError(t, a.Close())
	c := NewShared("demo")
	val, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "shared", val)
}

func TestSetOpsFallback(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()
	sets := session.NewSetOps(s)

	require.NoError(t, sets.SAdd(ctx, "set", "a", "b"))
	require.NoError(t, sets.SAdd(ctx, "set", "b", "c")) // dedup

	members, err := sets.SMembers(ctx, "set")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, members)

	require.NoError(t, sets.SRem(ctx, "set", "b"))
	members, err = sets.SMembers(ctx, "set")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, members)

	members, err = sets.SMembers(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestClosedStore(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())

	err := s.SetEx(context.Background(), "k", "v", time.Minute)
	assert.ErrorIs(t, err, session.ErrProviderClosed)
}
