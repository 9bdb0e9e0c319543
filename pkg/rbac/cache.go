package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/eradah-pmo/webvue-core-sub000/pkg/observability"
)

// Resolver computes a principal's effective permission set, optionally
// memoized. The engine must behave identically whichever implementation is
// injected; caching is an optimization only.
type Resolver interface {
	Resolve(ctx context.Context, principalID int64) (*PermissionSet, error)
	InvalidatePrincipal(ctx context.Context, principalID int64) error
	InvalidateRole(ctx context.Context, roleID int64) error
	InvalidateAll(ctx context.Context) error
}

// PrincipalSource is the slice of Store the resolvers need.
type PrincipalSource interface {
	GetPrincipal(ctx context.Context, principalID int64) (*Principal, error)
	GetPrincipalRoleIDs(ctx context.Context, principalID int64) ([]int64, error)
}

// buildPermissionSet unions the permissions of a principal's active roles,
// split by role scope class. Inactive roles contribute nothing.
func buildPermissionSet(p *Principal) *PermissionSet {
	set := &PermissionSet{
		Active: p.Active,
		Global: make(map[PermissionName]struct{}),
		Scoped: make(map[PermissionName]struct{}),
	}
	for _, role := range p.ActiveRoles() {
		set.HasRoles = true
		if role.IsAdmin {
			set.Admin = true
		}
		target := set.Global
		if role.Scope == RoleScopeDepartment {
			target = set.Scoped
		}
		for _, perm := range role.Permissions {
			target[perm] = struct{}{}
		}
	}
	return set
}

// StoreResolver resolves straight from the store on every call. It is the
// reference implementation the cached resolver must agree with.
type StoreResolver struct {
	source PrincipalSource
}

// NewStoreResolver creates an uncached resolver.
func NewStoreResolver(source PrincipalSource) *StoreResolver {
	return &StoreResolver{source: source}
}

func (r *StoreResolver) Resolve(ctx context.Context, principalID int64) (*PermissionSet, error) {
	p, err := r.source.GetPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return buildPermissionSet(p), nil
}

func (r *StoreResolver) InvalidatePrincipal(ctx context.Context, principalID int64) error { return nil }
func (r *StoreResolver) InvalidateRole(ctx context.Context, roleID int64) error           { return nil }
func (r *StoreResolver) InvalidateAll(ctx context.Context) error                          { return nil }

// snapshot is the serializable form of a PermissionSet.
type snapshot struct {
	Active   bool             `json:"active"`
	HasRoles bool             `json:"has_roles"`
	Admin    bool             `json:"admin"`
	Global   []PermissionName `json:"global"`
	Scoped   []PermissionName `json:"scoped"`
}

func snapshotFromSet(set *PermissionSet) snapshot {
	snap := snapshot{Active: set.Active, HasRoles: set.HasRoles, Admin: set.Admin}
	for n := range set.Global {
		snap.Global = append(snap.Global, n)
	}
	for n := range set.Scoped {
		snap.Scoped = append(snap.Scoped, n)
	}
	return snap
}

func (s snapshot) toSet() *PermissionSet {
	set := &PermissionSet{
		Active:   s.Active,
		HasRoles: s.HasRoles,
		Admin:    s.Admin,
		Global:   make(map[PermissionName]struct{}, len(s.Global)),
		Scoped:   make(map[PermissionName]struct{}, len(s.Scoped)),
	}
	for _, n := range s.Global {
		set.Global[n] = struct{}{}
	}
	for _, n := range s.Scoped {
		set.Scoped[n] = struct{}{}
	}
	return set
}

// cacheEntry is a memoized permission set tagged with the role versions and
// global generation observed when it was built. A mismatch on read marks the
// entry stale.
type cacheEntry struct {
	Snapshot     snapshot        `json:"snapshot"`
	RoleIDs      []int64         `json:"role_ids"`
	RoleVersions map[int64]int64 `json:"role_versions"`
	Generation   int64           `json:"generation"`
}

// Backend stores cache entries plus the role version counters used to detect
// staleness.
type Backend interface {
	GetEntry(ctx context.Context, principalID int64) (*cacheEntry, bool, error)
	PutEntry(ctx context.Context, principalID int64, entry *cacheEntry) error
	DeleteEntry(ctx context.Context, principalID int64) error
	RoleVersions(ctx context.Context, roleIDs []int64) (map[int64]int64, error)
	BumpRole(ctx context.Context, roleID int64) error
	Generation(ctx context.Context) (int64, error)
	BumpGeneration(ctx context.Context) error
}

// CachedResolver memoizes permission sets in a Backend. Role versions are
// captured before the store load, so a mutation committed during the fill
// bumps past the captured version and the entry misses on the next read.
type CachedResolver struct {
	source  PrincipalSource
	backend Backend
	metrics *observability.Metrics
}

// NewCachedResolver creates a resolver memoized in the given backend.
func NewCachedResolver(source PrincipalSource, backend Backend, metrics *observability.Metrics) *CachedResolver {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	return &CachedResolver{source: source, backend: backend, metrics: metrics}
}

func (r *CachedResolver) Resolve(ctx context.Context, principalID int64) (*PermissionSet, error) {
	if entry, ok, err := r.backend.GetEntry(ctx, principalID); err == nil && ok {
		fresh, err := r.entryFresh(ctx, entry)
		if err == nil && fresh {
			r.metrics.PermissionCacheHits.Inc()
			return entry.Snapshot.toSet(), nil
		}
		// Stale or unverifiable: prefer the source of truth and repair.
		_ = r.backend.DeleteEntry(ctx, principalID)
	}
	r.metrics.PermissionCacheMisses.Inc()
	return r.fill(ctx, principalID)
}

// entryFresh verifies the entry's generation and role versions against the
// backend's current counters.
func (r *CachedResolver) entryFresh(ctx context.Context, entry *cacheEntry) (bool, error) {
	gen, err := r.backend.Generation(ctx)
	if err != nil {
		return false, err
	}
	if gen != entry.Generation {
		return false, nil
	}
	current, err := r.backend.RoleVersions(ctx, entry.RoleIDs)
	if err != nil {
		return false, err
	}
	for id, v := range entry.RoleVersions {
		if current[id] != v {
			return false, nil
		}
	}
	return true, nil
}

func (r *CachedResolver) fill(ctx context.Context, principalID int64) (*PermissionSet, error) {
	const maxAttempts = 2

	var set *PermissionSet
	for attempt := 0; attempt < maxAttempts; attempt++ {
		gen, err := r.backend.Generation(ctx)
		if err != nil {
			// Backend unavailable: fall back to the source of truth.
			return r.uncached(ctx, principalID)
		}

		roleIDs, err := r.source.GetPrincipalRoleIDs(ctx, principalID)
		if err != nil {
			return nil, err
		}
		versions, err := r.backend.RoleVersions(ctx, roleIDs)
		if err != nil {
			return r.uncached(ctx, principalID)
		}

		p, err := r.source.GetPrincipal(ctx, principalID)
		if err != nil {
			return nil, err
		}
		set = buildPermissionSet(p)

		// The assignment set changed between the two loads; retry with
		// the new membership rather than caching a torn view.
		if !sameRoleIDs(roleIDs, principalRoleIDs(p)) {
			continue
		}

		entry := &cacheEntry{
			Snapshot:     snapshotFromSet(set),
			RoleIDs:      roleIDs,
			RoleVersions: versions,
			Generation:   gen,
		}
		if err := r.backend.PutEntry(ctx, principalID, entry); err != nil {
			return set, nil
		}
		return set, nil
	}
	// Give up on caching this round; the computed set is still correct.
	return set, nil
}

func (r *CachedResolver) uncached(ctx context.Context, principalID int64) (*PermissionSet, error) {
	p, err := r.source.GetPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return buildPermissionSet(p), nil
}

func (r *CachedResolver) InvalidatePrincipal(ctx context.Context, principalID int64) error {
	r.metrics.CacheInvalidations.WithLabelValues("principal").Inc()
	return r.backend.DeleteEntry(ctx, principalID)
}

func (r *CachedResolver) InvalidateRole(ctx context.Context, roleID int64) error {
	r.metrics.CacheInvalidations.WithLabelValues("role").Inc()
	return r.backend.BumpRole(ctx, roleID)
}

func (r *CachedResolver) InvalidateAll(ctx context.Context) error {
	r.metrics.CacheInvalidations.WithLabelValues("all").Inc()
	return r.backend.BumpGeneration(ctx)
}

func principalRoleIDs(p *Principal) []int64 {
	ids := make([]int64, len(p.Roles))
	for i, role := range p.Roles {
		ids[i] = role.ID
	}
	return ids
}

func sameRoleIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[int64]int, len(a))
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		seen[id]--
		if seen[id] < 0 {
			return false
		}
	}
	return true
}

// MemoryBackend is an in-process backend for single-instance deployments and
// tests, built on an expirable LRU so the TTL safety net still applies.
type MemoryBackend struct {
	entries *expirable.LRU[int64, *cacheEntry]

	mu         sync.Mutex
	roleVers   map[int64]int64
	generation int64
}

// DefaultCacheTTL bounds staleness if an explicit invalidation is missed.
const DefaultCacheTTL = 5 * time.Minute

// NewMemoryBackend creates an in-process cache backend.
func NewMemoryBackend(size int, ttl time.Duration) *MemoryBackend {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryBackend{
		entries:  expirable.NewLRU[int64, *cacheEntry](size, nil, ttl),
		roleVers: make(map[int64]int64),
	}
}

func (b *MemoryBackend) GetEntry(ctx context.Context, principalID int64) (*cacheEntry, bool, error) {
	entry, ok := b.entries.Get(principalID)
	return entry, ok, nil
}

func (b *MemoryBackend) PutEntry(ctx context.Context, principalID int64, entry *cacheEntry) error {
	b.entries.Add(principalID, entry)
	return nil
}

func (b *MemoryBackend) DeleteEntry(ctx context.Context, principalID int64) error {
	b.entries.Remove(principalID)
	return nil
}

func (b *MemoryBackend) RoleVersions(ctx context.Context, roleIDs []int64) (map[int64]int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	versions := make(map[int64]int64, len(roleIDs))
	for _, id := range roleIDs {
		versions[id] = b.roleVers[id]
	}
	return versions, nil
}

func (b *MemoryBackend) BumpRole(ctx context.Context, roleID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roleVers[roleID]++
	return nil
}

func (b *MemoryBackend) Generation(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation, nil
}

func (b *MemoryBackend) BumpGeneration(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generation++
	b.entries.Purge()
	return nil
}

// RedisBackend shares the permission cache between processes.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend creates a redis-backed cache backend.
func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisBackend{client: client, ttl: ttl}
}

func principalKey(principalID int64) string {
	return fmt.Sprintf("rbac:pset:%d", principalID)
}

func roleVersionKey(roleID int64) string {
	return fmt.Sprintf("rbac:rolev:%d", roleID)
}

const generationKey = "rbac:gen"

func (b *RedisBackend) GetEntry(ctx context.Context, principalID int64) (*cacheEntry, bool, error) {
	data, err := b.client.Get(ctx, principalKey(principalID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		// Corrupt entry: drop it and report a miss.
		b.client.Del(ctx, principalKey(principalID))
		return nil, false, nil
	}
	return &entry, true, nil
}

func (b *RedisBackend) PutEntry(ctx context.Context, principalID int64, entry *cacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return b.client.Set(ctx, principalKey(principalID), data, b.ttl).Err()
}

func (b *RedisBackend) DeleteEntry(ctx context.Context, principalID int64) error {
	return b.client.Del(ctx, principalKey(principalID)).Err()
}

func (b *RedisBackend) RoleVersions(ctx context.Context, roleIDs []int64) (map[int64]int64, error) {
	versions := make(map[int64]int64, len(roleIDs))
	if len(roleIDs) == 0 {
		return versions, nil
	}

	keys := make([]string, len(roleIDs))
	for i, id := range roleIDs {
		keys[i] = roleVersionKey(id)
	}
	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed: %w", err)
	}
	for i, v := range values {
		if v == nil {
			versions[roleIDs[i]] = 0
			continue
		}
		s, ok := v.(string)
		if !ok {
			versions[roleIDs[i]] = 0
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			versions[roleIDs[i]] = 0
			continue
		}
		versions[roleIDs[i]] = n
	}
	return versions, nil
}

func (b *RedisBackend) BumpRole(ctx context.Context, roleID int64) error {
	return b.client.Incr(ctx, roleVersionKey(roleID)).Err()
}

func (b *RedisBackend) Generation(ctx context.Context) (int64, error) {
	val, err := b.client.Get(ctx, generationKey).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get failed: %w", err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (b *RedisBackend) BumpGeneration(ctx context.Context) error {
	return b.client.Incr(ctx, generationKey).Err()
}
