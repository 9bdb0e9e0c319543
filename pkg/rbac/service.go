package rbac

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/eradah-pmo/webvue-core-sub000/pkg/audit"
)

const auditModule = "roles"

// Service orchestrates role mutations: store write, cache invalidation,
// audit emission, in that order. Reads bypass it.
type Service struct {
	store    *Store
	catalog  *Catalog
	resolver Resolver
	sink     audit.Sink
	log      *logrus.Logger
}

// NewService creates the role service.
func NewService(store *Store, catalog *Catalog, resolver Resolver, sink audit.Sink, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.New()
	}
	return &Service{
		store:    store,
		catalog:  catalog,
		resolver: resolver,
		sink:     sink,
		log:      log,
	}
}

// CreateRole validates the permission list against the catalog, creates the
// role and records it.
func (s *Service) CreateRole(ctx context.Context, role *Role) error {
	if err := s.validatePermissions(ctx, role.Permissions); err != nil {
		return err
	}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return err
	}
	s.sink.Record(ctx, &audit.Entry{
		Event:         "role_created",
		Module:        auditModule,
		Action:        "create",
		AuditableType: "role",
		AuditableID:   &role.ID,
		NewValues: map[string]interface{}{
			"name":        role.Name,
			"scope":       role.Scope,
			"is_admin":    role.IsAdmin,
			"permissions": permissionStrings(role.Permissions),
		},
	})
	return nil
}

// UpdateRole persists metadata changes (name, level, color, active, admin
// flag, scope class) and invalidates the role since any of them can change
// resolved permission sets.
func (s *Service) UpdateRole(ctx context.Context, role *Role) error {
	before, err := s.store.GetRole(ctx, role.ID)
	if err != nil {
		return err
	}
	if err := s.store.UpdateRole(ctx, role); err != nil {
		return err
	}
	if err := s.resolver.InvalidateRole(ctx, role.ID); err != nil {
		s.log.WithError(err).WithField("role_id", role.ID).Error("failed to invalidate role cache")
	}

	severity := audit.SeverityInfo
	if before.IsAdmin != role.IsAdmin {
		severity = audit.SeverityCritical
	}
	s.sink.Record(ctx, &audit.Entry{
		Event:         "role_updated",
		Module:        auditModule,
		Action:        "update",
		Severity:      severity,
		AuditableType: "role",
		AuditableID:   &role.ID,
		OldValues: map[string]interface{}{
			"name":     before.Name,
			"active":   before.Active,
			"is_admin": before.IsAdmin,
			"scope":    before.Scope,
		},
		NewValues: map[string]interface{}{
			"name":     role.Name,
			"active":   role.Active,
			"is_admin": role.IsAdmin,
			"scope":    role.Scope,
		},
	})
	return nil
}

// SyncPermissions replaces a role's permission set wholesale. The swap is
// atomic; the audit entry carries the full before/after lists.
func (s *Service) SyncPermissions(ctx context.Context, roleID int64, names []PermissionName) error {
	if err := s.validatePermissions(ctx, names); err != nil {
		return err
	}

	old, err := s.store.ReplacePermissions(ctx, roleID, names)
	if err != nil {
		return err
	}
	if err := s.resolver.InvalidateRole(ctx, roleID); err != nil {
		s.log.WithError(err).WithField("role_id", roleID).Error("failed to invalidate role cache")
	}

	s.sink.Record(ctx, &audit.Entry{
		Event:         "role_permissions_changed",
		Module:        auditModule,
		Action:        "sync_permissions",
		Severity:      audit.SeverityWarning,
		AuditableType: "role",
		AuditableID:   &roleID,
		OldValues:     map[string]interface{}{"permissions": permissionStrings(old)},
		NewValues:     map[string]interface{}{"permissions": permissionStrings(names)},
	})
	return nil
}

// AddPermissions grants additional permissions to a role. Already-granted
// names are ignored.
func (s *Service) AddPermissions(ctx context.Context, roleID int64, names []PermissionName) error {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}

	merged := append([]PermissionName{}, role.Permissions...)
	for _, n := range names {
		if !role.HasPermission(n) {
			merged = append(merged, n)
		}
	}
	if len(merged) == len(role.Permissions) {
		return nil
	}
	return s.SyncPermissions(ctx, roleID, merged)
}

// RemovePermissions revokes permissions from a role. Names the role does not
// hold are ignored.
func (s *Service) RemovePermissions(ctx context.Context, roleID int64, names []PermissionName) error {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}

	drop := make(map[PermissionName]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	kept := make([]PermissionName, 0, len(role.Permissions))
	for _, n := range role.Permissions {
		if _, ok := drop[n]; !ok {
			kept = append(kept, n)
		}
	}
	if len(kept) == len(role.Permissions) {
		return nil
	}
	return s.SyncPermissions(ctx, roleID, kept)
}

// DeleteRole removes a role. While principals still hold the role it fails
// with RoleInUseError unless force is set, in which case every assignment is
// detached first and each detachment is audited.
func (s *Service) DeleteRole(ctx context.Context, roleID int64, force bool) error {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}

	assigned, err := s.store.CountAssignments(ctx, roleID)
	if err != nil {
		return err
	}
	if assigned > 0 && !force {
		return &RoleInUseError{RoleID: roleID, Principals: assigned}
	}

	detached, err := s.store.DeleteRole(ctx, roleID, force)
	if err != nil {
		return err
	}

	if err := s.resolver.InvalidateRole(ctx, roleID); err != nil {
		s.log.WithError(err).WithField("role_id", roleID).Error("failed to invalidate role cache")
	}
	for _, principalID := range detached {
		if err := s.resolver.InvalidatePrincipal(ctx, principalID); err != nil {
			s.log.WithError(err).WithField("principal_id", principalID).Error("failed to invalidate principal cache")
		}
		s.sink.Record(ctx, &audit.Entry{
			Event:         "role_detached",
			Module:        auditModule,
			Action:        "detach",
			Severity:      audit.SeverityWarning,
			AuditableType: "principal",
			AuditableID:   int64Ptr(principalID),
			OldValues:     map[string]interface{}{"role": role.Name},
		})
	}

	s.sink.Record(ctx, &audit.Entry{
		Event:         "role_deleted",
		Module:        auditModule,
		Action:        "delete",
		Severity:      audit.SeverityWarning,
		AuditableType: "role",
		AuditableID:   &roleID,
		OldValues: map[string]interface{}{
			"name":        role.Name,
			"permissions": permissionStrings(role.Permissions),
			"detached":    len(detached),
		},
	})
	return nil
}

// AssignRole grants a role to a principal and refreshes their cached set.
func (s *Service) AssignRole(ctx context.Context, assignment *RoleAssignment) error {
	role, err := s.store.GetRole(ctx, assignment.RoleID)
	if err != nil {
		return err
	}
	if err := s.store.AssignRole(ctx, assignment); err != nil {
		return err
	}
	if err := s.resolver.InvalidatePrincipal(ctx, assignment.PrincipalID); err != nil {
		s.log.WithError(err).WithField("principal_id", assignment.PrincipalID).Error("failed to invalidate principal cache")
	}

	severity := audit.SeverityInfo
	if role.IsAdmin {
		severity = audit.SeverityCritical
	}
	s.sink.Record(ctx, &audit.Entry{
		Event:         "role_assigned",
		Module:        auditModule,
		Action:        "assign",
		Severity:      severity,
		AuditableType: "principal",
		AuditableID:   &assignment.PrincipalID,
		UserID:        assignment.GrantedBy,
		NewValues:     map[string]interface{}{"role": role.Name},
	})
	return nil
}

// RevokeRole removes a role from a principal and refreshes their cached set.
func (s *Service) RevokeRole(ctx context.Context, principalID, roleID int64) error {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.store.RevokeRole(ctx, principalID, roleID); err != nil {
		return err
	}
	if err := s.resolver.InvalidatePrincipal(ctx, principalID); err != nil {
		s.log.WithError(err).WithField("principal_id", principalID).Error("failed to invalidate principal cache")
	}
	s.sink.Record(ctx, &audit.Entry{
		Event:         "role_revoked",
		Module:        auditModule,
		Action:        "revoke",
		AuditableType: "principal",
		AuditableID:   &principalID,
		OldValues:     map[string]interface{}{"role": role.Name},
	})
	return nil
}

// SetPrincipalActive toggles a principal and refreshes their cached set.
// Deactivation takes effect on the next authorization check.
func (s *Service) SetPrincipalActive(ctx context.Context, principalID int64, active bool) error {
	if err := s.store.SetPrincipalActive(ctx, principalID, active); err != nil {
		return err
	}
	if err := s.resolver.InvalidatePrincipal(ctx, principalID); err != nil {
		s.log.WithError(err).WithField("principal_id", principalID).Error("failed to invalidate principal cache")
	}

	severity := audit.SeverityInfo
	event := "principal_activated"
	if !active {
		severity = audit.SeverityWarning
		event = "principal_deactivated"
	}
	s.sink.Record(ctx, &audit.Entry{
		Event:         event,
		Module:        auditModule,
		Action:        "set_active",
		Severity:      severity,
		AuditableType: "principal",
		AuditableID:   &principalID,
		NewValues:     map[string]interface{}{"active": active},
	})
	return nil
}

// PurgeDirectGrants deletes every row of the legacy principal_permissions
// table. The engine never reads direct grants; lingering rows are integrity
// violations and each affected principal gets a warning entry.
func (s *Service) PurgeDirectGrants(ctx context.Context) (int, error) {
	grants, err := s.store.ListDirectGrants(ctx)
	if err != nil {
		return 0, err
	}
	if len(grants) == 0 {
		return 0, nil
	}

	byPrincipal := make(map[int64][]string)
	for _, g := range grants {
		byPrincipal[g.PrincipalID] = append(byPrincipal[g.PrincipalID], string(g.Permission))
	}

	purged := 0
	for principalID, perms := range byPrincipal {
		deleted, err := s.store.DeleteDirectGrants(ctx, principalID)
		if err != nil {
			return purged, err
		}
		purged += int(deleted)

		if err := s.resolver.InvalidatePrincipal(ctx, principalID); err != nil {
			s.log.WithError(err).WithField("principal_id", principalID).Error("failed to invalidate principal cache")
		}
		s.sink.Record(ctx, &audit.Entry{
			Event:         "direct_grants_purged",
			Module:        auditModule,
			Action:        "purge",
			Severity:      audit.SeverityWarning,
			AuditableType: "principal",
			AuditableID:   int64Ptr(principalID),
			Description:   "removed permissions attached directly to principal",
			OldValues:     map[string]interface{}{"permissions": perms},
		})
	}

	s.log.WithField("purged", purged).Warn("purged direct permission grants")
	return purged, nil
}

// Seed registers the default catalog and built-in roles idempotently.
// Existing roles keep their current permission sets.
func (s *Service) Seed(ctx context.Context) error {
	if err := s.catalog.EnsureAll(ctx, DefaultCatalog()); err != nil {
		return err
	}
	for _, role := range DefaultRoles() {
		if _, err := s.store.GetRoleByName(ctx, role.Name); err == nil {
			continue
		}
		r := role
		if err := s.store.CreateRole(ctx, &r); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", role.Name, err)
		}
	}
	return nil
}

func (s *Service) validatePermissions(ctx context.Context, names []PermissionName) error {
	missing, err := s.catalog.Validate(ctx, names)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("unknown permissions: %v", missing)
	}
	return nil
}

func permissionStrings(names []PermissionName) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}

func int64Ptr(v int64) *int64 { return &v }
