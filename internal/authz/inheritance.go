package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// defaultMaxDepth bounds both the property-parent walk and the role
// hierarchy ascension. Large enough to cover the full role chain.
const defaultMaxDepth = 10

// Engine merges every inheritance source into a ComputedPermissions
// result. All methods are safe for concurrent use; the engine keeps no
// per-request state.
type Engine struct {
	store    Store
	cache    *PermissionCache
	sources  []Source
	logger   *slog.Logger
	metrics  *Metrics
	clock    func() time.Time
	maxDepth int
}

// EngineOption customises engine construction.
type EngineOption func(*Engine)

// WithSources installs optional plug-in inheritance sources. Sources
// degrade on error and can never fail a computation.
func WithSources(sources ...Source) EngineOption {
	return func(e *Engine) {
		e.sources = append(e.sources, sources...)
	}
}

// WithMetrics attaches engine counters.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithMaxDepth overrides the default traversal bound for computations
// that do not set one explicitly.
func WithMaxDepth(depth int) EngineOption {
	return func(e *Engine) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// NewEngine validates the role hierarchy and builds an engine. The
// cache is optional; a nil cache disables result caching entirely.
func NewEngine(store Store, cache *PermissionCache, logger *slog.Logger, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("authz: store required")
	}
	if err := ValidateHierarchy(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:    store,
		cache:    cache,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
		maxDepth: defaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Compute resolves the user's effective permission set for the given
// property scope (nil propertyID means global), with full provenance.
//
// Only a failure to resolve the user itself is fatal. Optional sources
// (property lookups, delegations, plug-ins) degrade: their errors are
// logged and the source is omitted from an otherwise valid result.
func (e *Engine) Compute(ctx context.Context, userID int64, propertyID *int64, opts ComputeOptions) (*ComputedPermissions, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = e.maxDepth
	}
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}

	if e.cache != nil && !opts.SkipCache {
		cached, err := e.cache.GetComputed(ctx, userID, propertyID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			// Cache trouble is a forced miss, never a failure.
			e.logger.Warn("permission cache read failed", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}

	start := time.Now()
	user, err := e.store.FindUserWithGrants(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("authz: load user %d: %w", userID, err)
	}
	if !user.IsActive && !opts.IncludeInactive {
		return nil, ErrUserInactive
	}

	now := e.clock()
	merged := newMergeState()

	// Step 1: the role's own base permissions.
	merged.add("role:"+string(user.Role), SourceRole, BasePermissions(user.Role))

	// Step 2: direct grants, skipping expired and denial rows. The
	// merge is additive-only; granted=false does not mask other sources.
	var grantPerms []string
	for _, g := range user.Grants {
		if g.Active(now) {
			grantPerms = append(grantPerms, g.Permission)
		}
	}
	merged.add("direct grants", SourceGrant, grantPerms)

	// Step 3: property-derived permissions.
	e.mergePropertySources(ctx, user, propertyID, maxDepth, now, merged)

	// Step 4: hierarchy ascension. The visited set makes the walk
	// terminate even if the hierarchy is generalised into a graph.
	visited := map[Role]struct{}{user.Role: {}}
	hops := 0
	for _, ancestor := range AncestorsOf(user.Role) {
		if hops >= maxDepth {
			break
		}
		if _, seen := visited[ancestor]; seen {
			continue
		}
		visited[ancestor] = struct{}{}
		merged.add("hierarchy:"+string(ancestor), SourceHierarchy, BasePermissions(ancestor))
		hops++
	}

	// Step 5: active delegations targeting the user.
	delegations, err := e.store.FindActiveDelegations(ctx, userID, propertyID)
	if err != nil {
		e.logger.Warn("delegations unavailable, source omitted", slog.Int64("user_id", userID), slog.Any("error", err))
	} else {
		for _, d := range delegations {
			if d.Active(now) {
				merged.add(fmt.Sprintf("delegated by user %d", d.FromUserID), SourceDelegation, d.Permissions)
			}
		}
	}

	// Step 6: plug-in sources.
	for _, src := range e.sources {
		perms, srcErr := src.Contribute(ctx, user, propertyID)
		if srcErr != nil {
			e.logger.Warn("plugin source failed, omitted", slog.String("source", src.Name()), slog.Any("error", srcErr))
			continue
		}
		merged.add(src.Name(), SourcePlugin, perms)
	}

	result := &ComputedPermissions{
		UserID:        userID,
		PropertyID:    propertyID,
		Permissions:   merged.sorted(),
		Provenance:    merged.trail,
		EffectiveRole: user.Role,
		ComputedAt:    now,
	}
	e.metrics.ObserveCompute(time.Since(start))

	if e.cache != nil && !opts.SkipCache {
		if err := e.cache.SetComputed(ctx, result); err != nil {
			e.logger.Warn("permission cache write failed", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	return result, nil
}

// mergePropertySources folds ownership, management, explicit access
// records and inherited parent-property access into the merge. Every
// failure here is an optional-source failure: logged and skipped.
func (e *Engine) mergePropertySources(ctx context.Context, user *User, propertyID *int64, maxDepth int, now time.Time, merged *mergeState) {
	if propertyID == nil {
		rows, err := e.store.FindPropertyAccess(ctx, user.ID, nil)
		if err != nil {
			e.logger.Warn("property access unavailable, source omitted", slog.Int64("user_id", user.ID), slog.Any("error", err))
			return
		}
		for _, row := range rows {
			if row.Active(now) {
				merged.add(fmt.Sprintf("property %d access %s", row.PropertyID, row.Level), SourceProperty, AccessLevelPermissions(row.Level))
			}
		}
		return
	}

	prop, err := e.store.FindProperty(ctx, *propertyID)
	if err != nil {
		e.logger.Warn("property lookup failed, ownership source omitted",
			slog.Int64("property_id", *propertyID), slog.Any("error", err))
	} else {
		if prop.OwnerID != nil && *prop.OwnerID == user.ID {
			merged.add(fmt.Sprintf("property %d owner", prop.ID), SourceProperty, AccessLevelPermissions(LevelOwner))
		} else if prop.ManagerID != nil && *prop.ManagerID == user.ID {
			merged.add(fmt.Sprintf("property %d manager", prop.ID), SourceProperty, AccessLevelPermissions(LevelFullControl))
		}
	}

	rows, err := e.store.FindPropertyAccess(ctx, user.ID, propertyID)
	if err != nil {
		e.logger.Warn("property access unavailable, source omitted", slog.Int64("user_id", user.ID), slog.Any("error", err))
	} else {
		for _, row := range rows {
			if row.Active(now) {
				merged.add(fmt.Sprintf("property %d access %s", row.PropertyID, row.Level), SourceProperty, AccessLevelPermissions(row.Level))
			}
		}
	}

	// Walk up the property hierarchy, folding in the caller's access on
	// each ancestor. One hop covers today's data; the walk is bounded by
	// maxDepth for deeper hierarchies.
	current := prop
	for depth := 1; current != nil && current.ParentID != nil && depth < maxDepth; depth++ {
		parentID := *current.ParentID
		parent, err := e.store.FindProperty(ctx, parentID)
		if err != nil {
			e.logger.Warn("parent property lookup failed, walk stopped",
				slog.Int64("property_id", parentID), slog.Any("error", err))
			break
		}
		parentRows, err := e.store.FindPropertyAccess(ctx, user.ID, &parentID)
		if err != nil {
			e.logger.Warn("parent property access unavailable, walk stopped",
				slog.Int64("property_id", parentID), slog.Any("error", err))
			break
		}
		for _, row := range parentRows {
			if row.Active(now) {
				merged.add(fmt.Sprintf("parent property %d access %s", row.PropertyID, row.Level), SourceProperty, AccessLevelPermissions(row.Level))
			}
		}
		current = parent
	}
}

// mergeState accumulates the permission union and the ordered
// provenance trail. The trail keeps every contributing source; only the
// final set is deduplicated.
type mergeState struct {
	set   map[string]struct{}
	trail []ProvenanceEntry
}

func newMergeState() *mergeState {
	return &mergeState{set: make(map[string]struct{})}
}

func (m *mergeState) add(source string, typ SourceType, perms []string) {
	if len(perms) == 0 {
		return
	}
	entry := ProvenanceEntry{Source: source, Type: typ, Permissions: make([]string, len(perms))}
	copy(entry.Permissions, perms)
	sort.Strings(entry.Permissions)
	m.trail = append(m.trail, entry)
	for _, p := range perms {
		m.set[p] = struct{}{}
	}
}

func (m *mergeState) sorted() []string {
	out := make([]string, 0, len(m.set))
	for p := range m.set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
