package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eradah-pmo/webvue-core-sub000/pkg/observability"
)

// ScopeChecker reports whether a permission may be exercised within a
// department scope. Catalog satisfies it.
type ScopeChecker interface {
	Scopeable(ctx context.Context, name PermissionName) (bool, error)
}

// DepartmentResolver resolves the set of department IDs a principal manages,
// including descendants of managed departments.
type DepartmentResolver interface {
	ManagedClosure(ctx context.Context, principalID int64) (map[int64]struct{}, error)
}

// Engine answers authorization questions. It never mutates state; a denial is
// a normal Decision, and an error means the question could not be answered.
type Engine struct {
	resolver    Resolver
	catalog     ScopeChecker
	departments DepartmentResolver
	metrics     *observability.Metrics
	log         *logrus.Logger
}

// NewEngine creates an authorization engine.
func NewEngine(resolver Resolver, catalog ScopeChecker, departments DepartmentResolver, metrics *observability.Metrics, log *logrus.Logger) *Engine {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		resolver:    resolver,
		catalog:     catalog,
		departments: departments,
		metrics:     metrics,
		log:         log,
	}
}

// Authorize decides whether the principal may perform the named permission.
// A nil scope asks about global authority; a non-nil scope asks about a
// specific department.
func (e *Engine) Authorize(ctx context.Context, principalID int64, perm PermissionName, scope *int64) (Decision, error) {
	start := time.Now()

	decision, err := e.decide(ctx, principalID, perm, scope)
	if err != nil {
		return Decision{}, err
	}
	decision.CheckedAt = time.Now().UTC()

	result := "deny"
	if decision.Allowed {
		result = "allow"
	}
	e.metrics.AuthzDecisionsTotal.WithLabelValues(result, decision.Reason).Inc()
	e.metrics.AuthzDuration.Observe(time.Since(start).Seconds())

	if !decision.Allowed {
		e.log.WithFields(logrus.Fields{
			"principal_id": principalID,
			"permission":   perm,
			"reason":       decision.Reason,
		}).Debug("authorization denied")
	}
	return decision, nil
}

func (e *Engine) decide(ctx context.Context, principalID int64, perm PermissionName, scope *int64) (Decision, error) {
	set, err := e.resolver.Resolve(ctx, principalID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to resolve permissions for principal %d: %w", principalID, err)
	}

	if !set.Active || !set.HasRoles {
		return Decision{Reason: ReasonNoActiveRole}, nil
	}
	if set.Admin {
		return Decision{Allowed: true, Reason: ReasonAdminOverride}, nil
	}
	if !set.Contains(perm) {
		return Decision{Reason: ReasonNotGranted}, nil
	}

	// Global roles grant their permissions everywhere, scoped or not.
	if set.GlobalOnly(perm) {
		return Decision{Allowed: true, Reason: ReasonGranted}, nil
	}

	// The permission is held only through department-scoped roles.
	scopeable, err := e.catalog.Scopeable(ctx, perm)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check scope of %s: %w", perm, err)
	}
	if !scopeable {
		return Decision{Allowed: true, Reason: ReasonGranted}, nil
	}
	if scope == nil {
		// Scoped grants confer no global authority.
		return Decision{Reason: ReasonOutOfScope}, nil
	}

	closure, err := e.departments.ManagedClosure(ctx, principalID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to resolve managed departments for principal %d: %w", principalID, err)
	}
	if _, ok := closure[*scope]; ok {
		return Decision{Allowed: true, Reason: ReasonGranted}, nil
	}
	return Decision{Reason: ReasonOutOfScope}, nil
}

// Can is a convenience wrapper that collapses the decision to a boolean.
func (e *Engine) Can(ctx context.Context, principalID int64, perm PermissionName, scope *int64) (bool, error) {
	decision, err := e.Authorize(ctx, principalID, perm, scope)
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}
