package authz

import (
	"context"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, store *fakeStore) (*PermissionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPermissionCache(NewRedisCache(client), store, 0, slog.Default(), nil), mr
}

func seedComputed(t *testing.T, cache *PermissionCache, userID int64, propertyID *int64) {
	t.Helper()
	err := cache.SetComputed(context.Background(), &ComputedPermissions{
		UserID:      userID,
		PropertyID:  propertyID,
		Permissions: []string{PermReportsView},
		ComputedAt:  testNow,
	})
	require.NoError(t, err)
}

func TestCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, newFakeStore())
	ctx := context.Background()

	_, err := cache.GetComputed(ctx, 1, nil)
	assert.ErrorIs(t, err, ErrCacheMiss)

	seedComputed(t, cache, 1, nil)
	got, err := cache.GetComputed(ctx, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{PermReportsView}, got.Permissions)
}

func TestCacheTTLExpiry(t *testing.T) {
	cache, mr := newTestCache(t, newFakeStore())
	ctx := context.Background()

	seedComputed(t, cache, 1, nil)
	mr.FastForward(DefaultCacheTTL + time.Second)

	_, err := cache.GetComputed(ctx, 1, nil)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestInvalidateUserIsSynchronous(t *testing.T) {
	cache, _ := newTestCache(t, newFakeStore())
	ctx := context.Background()

	seedComputed(t, cache, 1, nil)
	seedComputed(t, cache, 1, ptr(int64(10)))
	seedComputed(t, cache, 2, nil)

	require.NoError(t, cache.InvalidateUser(ctx, 1))

	// Once invalidation returns, gets for affected keys must miss.
	_, err := cache.GetComputed(ctx, 1, nil)
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = cache.GetComputed(ctx, 1, ptr(int64(10)))
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = cache.GetComputed(ctx, 2, nil)
	assert.NoError(t, err, "other users' entries survive")
}

func TestInvalidateProperty(t *testing.T) {
	cache, _ := newTestCache(t, newFakeStore())
	ctx := context.Background()

	seedComputed(t, cache, 1, ptr(int64(10)))
	seedComputed(t, cache, 2, ptr(int64(10)))
	seedComputed(t, cache, 1, ptr(int64(11)))
	seedComputed(t, cache, 1, nil)

	require.NoError(t, cache.InvalidateProperty(ctx, 10))

	_, err := cache.GetComputed(ctx, 1, ptr(int64(10)))
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = cache.GetComputed(ctx, 2, ptr(int64(10)))
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = cache.GetComputed(ctx, 1, ptr(int64(11)))
	assert.NoError(t, err)
	_, err = cache.GetComputed(ctx, 1, nil)
	assert.NoError(t, err)
}

func TestInvalidateRoleLooksUpUsers(t *testing.T) {
	store := newFakeStore()
	store.users[1] = &User{ID: 1, Role: RoleSupervisor, IsActive: true}
	store.users[2] = &User{ID: 2, Role: RoleSupervisor, IsActive: true}
	store.users[3] = &User{ID: 3, Role: RoleStaff, IsActive: true}
	cache, _ := newTestCache(t, store)
	ctx := context.Background()

	seedComputed(t, cache, 1, nil)
	seedComputed(t, cache, 2, nil)
	seedComputed(t, cache, 3, nil)

	require.NoError(t, cache.InvalidateRole(ctx, RoleSupervisor))

	_, err := cache.GetComputed(ctx, 1, nil)
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = cache.GetComputed(ctx, 2, nil)
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = cache.GetComputed(ctx, 3, nil)
	assert.NoError(t, err, "users holding other roles keep their entries")
}

func TestClearAll(t *testing.T) {
	cache, _ := newTestCache(t, newFakeStore())
	ctx := context.Background()

	seedComputed(t, cache, 1, nil)
	seedComputed(t, cache, 2, ptr(int64(10)))

	require.NoError(t, cache.ClearAll(ctx))

	_, err := cache.GetComputed(ctx, 1, nil)
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = cache.GetComputed(ctx, 2, ptr(int64(10)))
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCorruptEntryBehavesAsMiss(t *testing.T) {
	cache, mr := newTestCache(t, newFakeStore())
	require.NoError(t, mr.Set(computedKey(1, nil), "{not json"))

	_, err := cache.GetComputed(context.Background(), 1, nil)
	assert.ErrorIs(t, err, ErrCacheMiss)
}
