package authz

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func invalidationFixture(t *testing.T) (*InvalidationService, *PermissionCache, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	store.users[1] = &User{ID: 1, Role: RoleAdmin, IsActive: true}
	store.users[2] = &User{ID: 2, Role: RoleAdmin, IsActive: true}
	store.users[3] = &User{ID: 3, Role: RoleStaff, IsActive: true}
	cache, _ := newTestCache(t, store)
	return NewInvalidationService(cache, slog.Default()), cache, store
}

func missing(t *testing.T, cache *PermissionCache, userID int64, propertyID *int64) {
	t.Helper()
	_, err := cache.GetComputed(context.Background(), userID, propertyID)
	assert.ErrorIs(t, err, ErrCacheMiss, "expected user %d scope %v to be invalidated", userID, propertyID)
}

func present(t *testing.T, cache *PermissionCache, userID int64, propertyID *int64) {
	t.Helper()
	_, err := cache.GetComputed(context.Background(), userID, propertyID)
	assert.NoError(t, err, "expected user %d scope %v to survive", userID, propertyID)
}

func TestInvalidateUserRoleChanged(t *testing.T) {
	svc, cache, _ := invalidationFixture(t)
	ctx := context.Background()

	seedComputed(t, cache, 1, nil) // user whose role changed
	seedComputed(t, cache, 2, nil) // other admin, cleared via role scope
	seedComputed(t, cache, 3, nil) // staff, untouched

	svc.Invalidate(ctx, EventUserRoleChanged, EventContext{UserID: 1, Role: RoleAdmin})

	missing(t, cache, 1, nil)
	missing(t, cache, 2, nil)
	present(t, cache, 3, nil)
}

func TestInvalidateUserPermissionsChanged(t *testing.T) {
	svc, cache, _ := invalidationFixture(t)
	seedComputed(t, cache, 1, nil)
	seedComputed(t, cache, 2, nil)

	svc.Invalidate(context.Background(), EventUserPermissionsChanged, EventContext{UserID: 1})

	missing(t, cache, 1, nil)
	present(t, cache, 2, nil)
}

func TestInvalidatePropertyAccessGranted(t *testing.T) {
	svc, cache, _ := invalidationFixture(t)
	seedComputed(t, cache, 1, ptr(int64(10)))
	seedComputed(t, cache, 2, ptr(int64(10)))
	seedComputed(t, cache, 3, nil)

	svc.Invalidate(context.Background(), EventPropertyAccessGranted,
		EventContext{UserID: 1, PropertyID: 10, AffectedUsers: []int64{3}})

	missing(t, cache, 1, ptr(int64(10)))
	missing(t, cache, 2, ptr(int64(10))) // property scope clears every user on the property
	missing(t, cache, 3, nil)            // affected user cleared across scopes
}

func TestInvalidatePropertyCreated(t *testing.T) {
	svc, cache, _ := invalidationFixture(t)
	seedComputed(t, cache, 1, ptr(int64(10)))
	seedComputed(t, cache, 2, nil)

	svc.Invalidate(context.Background(), EventPropertyCreated,
		EventContext{PropertyID: 10, AffectedUsers: []int64{2}})

	missing(t, cache, 1, ptr(int64(10)))
	missing(t, cache, 2, nil)
}

func TestInvalidateUserLifecycleEvents(t *testing.T) {
	for _, event := range []Event{EventUserCreated, EventUserDeleted} {
		t.Run(string(event), func(t *testing.T) {
			svc, cache, _ := invalidationFixture(t)
			seedComputed(t, cache, 1, nil)
			seedComputed(t, cache, 2, nil)

			svc.Invalidate(context.Background(), event, EventContext{UserID: 1})

			missing(t, cache, 1, nil)
			present(t, cache, 2, nil)
		})
	}
}

func TestInvalidateRolePermissionsUpdated(t *testing.T) {
	svc, cache, _ := invalidationFixture(t)
	seedComputed(t, cache, 1, nil)
	seedComputed(t, cache, 2, ptr(int64(10)))
	seedComputed(t, cache, 3, nil)

	svc.Invalidate(context.Background(), EventRolePermissionsUpdated, EventContext{Role: RoleAdmin})

	missing(t, cache, 1, nil)
	missing(t, cache, 2, ptr(int64(10)))
	present(t, cache, 3, nil)
}

func TestInvalidateSystemPermissionsUpdated(t *testing.T) {
	svc, cache, _ := invalidationFixture(t)
	seedComputed(t, cache, 1, nil)
	seedComputed(t, cache, 3, ptr(int64(10)))

	svc.Invalidate(context.Background(), EventSystemPermissionsUpdated, EventContext{})

	missing(t, cache, 1, nil)
	missing(t, cache, 3, ptr(int64(10)))
}

func TestInvalidationFailuresAreSwallowed(t *testing.T) {
	store := newFakeStore()
	cache := NewPermissionCache(failingCacheClient{}, store, time.Minute, slog.Default(), nil)
	svc := NewInvalidationService(cache, slog.Default())

	// Must not panic or propagate the backend failure.
	svc.Invalidate(context.Background(), EventUserPermissionsChanged, EventContext{UserID: 1})
	svc.Invalidate(context.Background(), EventSystemPermissionsUpdated, EventContext{})
}

func TestSmartInvalidateRoleChange(t *testing.T) {
	svc, cache, _ := invalidationFixture(t)
	seedComputed(t, cache, 1, nil)
	seedComputed(t, cache, 2, nil)

	svc.SmartInvalidate(context.Background(), "user", 1, "updated", map[string]FieldChange{
		"role": {Old: "staff", New: "admin"},
	})

	// Role change invalidates the user and every holder of the new role.
	missing(t, cache, 1, nil)
	missing(t, cache, 2, nil)
}

func TestSmartInvalidatePermissionChange(t *testing.T) {
	svc, cache, _ := invalidationFixture(t)
	seedComputed(t, cache, 1, nil)
	seedComputed(t, cache, 2, nil)

	svc.SmartInvalidate(context.Background(), "user", 1, "updated", map[string]FieldChange{
		"permissions": {Old: nil, New: []string{PermFnbEdit}},
	})

	missing(t, cache, 1, nil)
	present(t, cache, 2, nil)
}

func TestSmartInvalidatePropertyLifecycle(t *testing.T) {
	svc, cache, _ := invalidationFixture(t)
	seedComputed(t, cache, 1, ptr(int64(10)))

	svc.SmartInvalidate(context.Background(), "property", 10, "created", nil)
	missing(t, cache, 1, ptr(int64(10)))

	seedComputed(t, cache, 1, ptr(int64(10)))
	svc.SmartInvalidate(context.Background(), "property", 10, "deleted", nil)
	missing(t, cache, 1, ptr(int64(10)))
}

func TestSmartInvalidateSystem(t *testing.T) {
	svc, cache, _ := invalidationFixture(t)
	seedComputed(t, cache, 1, nil)

	svc.SmartInvalidate(context.Background(), "system", 0, "updated", nil)
	missing(t, cache, 1, nil)
}

func TestSmartInvalidateRoleResource(t *testing.T) {
	svc, cache, _ := invalidationFixture(t)
	seedComputed(t, cache, 1, nil)
	seedComputed(t, cache, 3, nil)

	svc.SmartInvalidate(context.Background(), "role", 0, "updated", map[string]FieldChange{
		"name":        {New: "admin"},
		"permissions": {Old: []string{}, New: []string{PermUsersEdit}},
	})

	missing(t, cache, 1, nil)
	present(t, cache, 3, nil)
}

type failingCacheClient struct{}

var errCacheDown = errors.New("cache backend down")

func (failingCacheClient) Get(context.Context, string) (string, error) { return "", errCacheDown }
func (failingCacheClient) Set(context.Context, string, string, time.Duration) error {
	return errCacheDown
}
func (failingCacheClient) Del(context.Context, ...string) error { return errCacheDown }
func (failingCacheClient) Keys(context.Context, string) ([]string, error) {
	return nil, errCacheDown
}
