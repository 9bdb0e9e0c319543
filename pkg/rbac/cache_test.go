package rbac

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu        sync.Mutex
	principal *Principal
	loads     int
	onLoad    func()
}

func (f *fakeSource) GetPrincipal(ctx context.Context, principalID int64) (*Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.onLoad != nil {
		hook := f.onLoad
		f.onLoad = nil
		hook()
	}
	p := *f.principal
	p.Roles = append([]Role{}, f.principal.Roles...)
	return &p, nil
}

func (f *fakeSource) GetPrincipalRoleIDs(ctx context.Context, principalID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, len(f.principal.Roles))
	for i, r := range f.principal.Roles {
		ids[i] = r.ID
	}
	return ids, nil
}

func (f *fakeSource) setPrincipal(p *Principal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.principal = p
}

func principalWithRole(role Role) *Principal {
	return &Principal{ID: 1, Active: true, Roles: []Role{role}}
}

func viewerRole(id int64, perms ...PermissionName) Role {
	return Role{ID: id, Name: "viewer", Active: true, Scope: RoleScopeGlobal, Permissions: perms}
}

func TestCachedResolver_HitAndMiss(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{principal: principalWithRole(viewerRole(101, "users.view"))}
	resolver := NewCachedResolver(src, NewMemoryBackend(16, time.Minute), nil)

	set, err := resolver.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.True(t, set.Contains("users.view"))
	assert.Equal(t, 1, src.loads)

	// Second resolve is served from cache.
	set, err = resolver.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.True(t, set.Contains("users.view"))
	assert.Equal(t, 1, src.loads)
}

func TestCachedResolver_InvalidateRole(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{principal: principalWithRole(viewerRole(101, "users.view"))}
	resolver := NewCachedResolver(src, NewMemoryBackend(16, time.Minute), nil)

	_, err := resolver.Resolve(ctx, 1)
	require.NoError(t, err)

	src.setPrincipal(principalWithRole(viewerRole(101, "users.view", "users.edit")))
	require.NoError(t, resolver.InvalidateRole(ctx, 101))

	set, err := resolver.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.True(t, set.Contains("users.edit"))
	assert.Equal(t, 2, src.loads)
}

func TestCachedResolver_InvalidatePrincipal(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{principal: principalWithRole(viewerRole(101, "users.view"))}
	resolver := NewCachedResolver(src, NewMemoryBackend(16, time.Minute), nil)

	_, err := resolver.Resolve(ctx, 1)
	require.NoError(t, err)

	src.setPrincipal(&Principal{ID: 1, Active: false, Roles: []Role{viewerRole(101, "users.view")}})
	require.NoError(t, resolver.InvalidatePrincipal(ctx, 1))

	set, err := resolver.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.False(t, set.Active)
	assert.Equal(t, 2, src.loads)
}

func TestCachedResolver_InvalidateAll(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{principal: principalWithRole(viewerRole(101, "users.view"))}
	resolver := NewCachedResolver(src, NewMemoryBackend(16, time.Minute), nil)

	_, err := resolver.Resolve(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, resolver.InvalidateAll(ctx))

	_, err = resolver.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, src.loads)
}

func TestCachedResolver_MutationDuringFill(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend(16, time.Minute)
	src := &fakeSource{principal: principalWithRole(viewerRole(101, "users.view"))}
	resolver := NewCachedResolver(src, backend, nil)

	// The invalidation lands between the version capture and the store
	// load, while the load still observes pre-mutation data.
	src.onLoad = func() {
		backend.BumpRole(ctx, 101)
	}

	set, err := resolver.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.False(t, set.Contains("users.edit"))

	// The mutation's write is now visible. The cached entry carries the
	// pre-bump version, so the next resolve must miss and see new data.
	src.setPrincipal(principalWithRole(viewerRole(101, "users.view", "users.edit")))

	set, err = resolver.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.True(t, set.Contains("users.edit"))
}

func TestCachedResolver_AgreesWithStoreResolver(t *testing.T) {
	ctx := context.Background()
	principal := &Principal{
		ID:     1,
		Active: true,
		Roles: []Role{
			{ID: 1, Name: "admin", Active: true, IsAdmin: true, Scope: RoleScopeGlobal},
			{ID: 2, Name: "manager", Active: true, Scope: RoleScopeDepartment, Permissions: []PermissionName{"users.edit"}},
			{ID: 3, Name: "stale", Active: false, Permissions: []PermissionName{"settings.manage"}},
		},
	}
	src := &fakeSource{principal: principal}

	cached, err := NewCachedResolver(src, NewMemoryBackend(16, time.Minute), nil).Resolve(ctx, 1)
	require.NoError(t, err)
	direct, err := NewStoreResolver(src).Resolve(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, direct.Active, cached.Active)
	assert.Equal(t, direct.Admin, cached.Admin)
	assert.Equal(t, direct.Global, cached.Global)
	assert.Equal(t, direct.Scoped, cached.Scoped)

	// Inactive roles contribute nothing.
	assert.False(t, cached.Contains("settings.manage"))
}

func TestMemoryBackend_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend(16, 50*time.Millisecond)

	entry := &cacheEntry{Snapshot: snapshot{Active: true}}
	require.NoError(t, backend.PutEntry(ctx, 1, entry))

	_, ok, err := backend.GetEntry(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(80 * time.Millisecond)
	_, ok, err = backend.GetEntry(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func setupRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisBackend(client, time.Minute), mr
}

func TestRedisBackend_EntryRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend, _ := setupRedisBackend(t)

	_, ok, err := backend.GetEntry(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	entry := &cacheEntry{
		Snapshot: snapshot{
			Active:   true,
			HasRoles: true,
			Global:   []PermissionName{"users.view"},
		},
		RoleIDs:      []int64{101},
		RoleVersions: map[int64]int64{101: 0},
	}
	require.NoError(t, backend.PutEntry(ctx, 1, entry))

	got, ok, err := backend.GetEntry(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Snapshot.toSet().Contains("users.view"))
	assert.Equal(t, []int64{101}, got.RoleIDs)

	require.NoError(t, backend.DeleteEntry(ctx, 1))
	_, ok, err = backend.GetEntry(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBackend_Versions(t *testing.T) {
	ctx := context.Background()
	backend, _ := setupRedisBackend(t)

	versions, err := backend.RoleVersions(ctx, []int64{101, 102})
	require.NoError(t, err)
	assert.Equal(t, int64(0), versions[101])
	assert.Equal(t, int64(0), versions[102])

	require.NoError(t, backend.BumpRole(ctx, 101))
	require.NoError(t, backend.BumpRole(ctx, 101))

	versions, err = backend.RoleVersions(ctx, []int64{101, 102})
	require.NoError(t, err)
	assert.Equal(t, int64(2), versions[101])
	assert.Equal(t, int64(0), versions[102])

	gen, err := backend.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	require.NoError(t, backend.BumpGeneration(ctx))
	gen, err = backend.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
}

func TestRedisBackend_CorruptEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	backend, mr := setupRedisBackend(t)

	require.NoError(t, mr.Set("rbac:pset:1", "not json"))
	_, ok, err := backend.GetEntry(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachedResolver_WithRedisBackend(t *testing.T) {
	ctx := context.Background()
	backend, _ := setupRedisBackend(t)
	src := &fakeSource{principal: principalWithRole(viewerRole(101, "users.view"))}
	resolver := NewCachedResolver(src, backend, nil)

	set, err := resolver.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.True(t, set.Contains("users.view"))
	assert.Equal(t, 1, src.loads)

	_, err = resolver.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, src.loads)

	src.setPrincipal(principalWithRole(viewerRole(101, "users.view", "users.edit")))
	require.NoError(t, resolver.InvalidateRole(ctx, 101))

	set, err = resolver.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.True(t, set.Contains("users.edit"))
}
