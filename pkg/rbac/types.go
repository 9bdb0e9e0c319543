package rbac

import (
	"fmt"
	"regexp"
	"time"
)

// PermissionName identifies an atomic capability, namespaced as
// "resource.action" (e.g. "users.view", "departments.manage"). New names may
// be registered at runtime; the format is the only closed part.
type PermissionName string

var permissionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*\.[a-z][a-z0-9_-]*$`)

// ParsePermissionName validates raw input into a PermissionName.
func ParsePermissionName(raw string) (PermissionName, error) {
	if !permissionNamePattern.MatchString(raw) {
		return "", fmt.Errorf("invalid permission name %q: want resource.action", raw)
	}
	return PermissionName(raw), nil
}

// MustPermissionName is ParsePermissionName for static, known-good names.
func MustPermissionName(raw string) PermissionName {
	name, err := ParsePermissionName(raw)
	if err != nil {
		panic(err)
	}
	return name
}

// Resource returns the namespace portion of the name.
func (p PermissionName) Resource() string {
	for i := 0; i < len(p); i++ {
		if p[i] == '.' {
			return string(p[:i])
		}
	}
	return string(p)
}

// Action returns the action portion of the name.
func (p PermissionName) Action() string {
	for i := 0; i < len(p); i++ {
		if p[i] == '.' {
			return string(p[i+1:])
		}
	}
	return ""
}

func (p PermissionName) String() string { return string(p) }

// Permission is a catalog row: a named capability plus whether it may be
// exercised within a department scope. Scopeability is declared here, never
// inferred from the name.
type Permission struct {
	Name      PermissionName `json:"name"`
	Scopeable bool           `json:"scopeable"`
	CreatedAt time.Time      `json:"created_at"`
}

// RoleScope classifies where a role's authority applies.
type RoleScope string

const (
	// RoleScopeGlobal roles grant their permissions everywhere.
	RoleScopeGlobal RoleScope = "global"
	// RoleScopeDepartment roles grant their permissions only inside the
	// departments the principal manages (and their descendants).
	RoleScopeDepartment RoleScope = "department"
)

// Role is the only permission attachment point. Level is a display/ordering
// hint (1=basic .. 4=admin) and is not consulted by the engine.
type Role struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Level       int              `json:"level"`
	Color       string           `json:"color"`
	Active      bool             `json:"active"`
	IsAdmin     bool             `json:"is_admin"`
	Scope       RoleScope        `json:"scope"`
	Permissions []PermissionName `json:"permissions"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// HasPermission reports whether the role carries the named permission.
func (r *Role) HasPermission(name PermissionName) bool {
	for _, p := range r.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// Principal is an authenticated actor whose access is being checked.
// Principals never hold permissions directly; effective permissions are the
// union of their roles' permissions.
type Principal struct {
	ID           int64  `json:"id"`
	Active       bool   `json:"active"`
	DepartmentID *int64 `json:"department_id,omitempty"`
	Roles        []Role `json:"roles"`
}

// ActiveRoles returns the principal's roles that are currently active.
func (p *Principal) ActiveRoles() []Role {
	roles := make([]Role, 0, len(p.Roles))
	for _, r := range p.Roles {
		if r.Active {
			roles = append(roles, r)
		}
	}
	return roles
}

// RoleAssignment links a principal to a role.
type RoleAssignment struct {
	ID          int64     `json:"id"`
	PrincipalID int64     `json:"principal_id"`
	RoleID      int64     `json:"role_id"`
	GrantedBy   *int64    `json:"granted_by,omitempty"`
	GrantedAt   time.Time `json:"granted_at"`
}

// Decision is the outcome of an authorization check. Denials are normal
// results, not errors; Reason is for operators, not end users.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason"`
	CheckedAt time.Time `json:"checked_at"`
}

// Deny and allow reasons surfaced in Decision.Reason.
const (
	ReasonNoActiveRole  = "no active role"
	ReasonNotGranted    = "permission not granted"
	ReasonOutOfScope    = "out of scope"
	ReasonAdminOverride = "administrative override"
	ReasonGranted       = "granted"
)

// RoleInUseError rejects role deletion while principals still reference it.
type RoleInUseError struct {
	RoleID     int64
	Principals int
}

func (e *RoleInUseError) Error() string {
	return fmt.Sprintf("role %d is assigned to %d principal(s)", e.RoleID, e.Principals)
}

// PermissionSet is a principal's resolved effective permissions, split by the
// scope class of the granting roles. A permission may appear in both sets.
type PermissionSet struct {
	Active   bool
	HasRoles bool
	Admin    bool
	Global   map[PermissionName]struct{}
	Scoped   map[PermissionName]struct{}
}

// Contains reports whether the permission is granted by any role.
func (s *PermissionSet) Contains(name PermissionName) bool {
	if _, ok := s.Global[name]; ok {
		return true
	}
	_, ok := s.Scoped[name]
	return ok
}

// GlobalOnly reports whether the permission is granted by a global role.
func (s *PermissionSet) GlobalOnly(name PermissionName) bool {
	_, ok := s.Global[name]
	return ok
}

// Names returns the union of both sets, for diagnostics and audit diffs.
func (s *PermissionSet) Names() []PermissionName {
	seen := make(map[PermissionName]struct{}, len(s.Global)+len(s.Scoped))
	names := make([]PermissionName, 0, len(s.Global)+len(s.Scoped))
	for n := range s.Global {
		if _, dup := seen[n]; !dup {
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}
	for n := range s.Scoped {
		if _, dup := seen[n]; !dup {
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}
	return names
}
