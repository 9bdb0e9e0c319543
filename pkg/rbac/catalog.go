package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Catalog is the registry of known permissions. Creation is idempotent;
// deletion is administrative and rare.
type Catalog struct {
	db *sql.DB
}

// NewCatalog creates a catalog backed by the given database.
func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// Ensure registers a permission if absent. Re-registering an existing name is
// a no-op and never changes its scopeable flag.
func (c *Catalog) Ensure(ctx context.Context, name PermissionName, scopeable bool) error {
	query := `
		INSERT INTO permissions (name, scopeable)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`
	if _, err := c.db.ExecContext(ctx, query, string(name), scopeable); err != nil {
		return fmt.Errorf("failed to ensure permission %s: %w", name, err)
	}
	return nil
}

// EnsureAll registers every permission in the list idempotently.
func (c *Catalog) EnsureAll(ctx context.Context, perms []Permission) error {
	for _, p := range perms {
		if err := c.Ensure(ctx, p.Name, p.Scopeable); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a single catalog entry.
func (c *Catalog) Get(ctx context.Context, name PermissionName) (*Permission, error) {
	query := `SELECT name, scopeable, created_at FROM permissions WHERE name = $1`

	var p Permission
	var raw string
	err := c.db.QueryRowContext(ctx, query, string(name)).Scan(&raw, &p.Scopeable, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("permission not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	p.Name = PermissionName(raw)
	return &p, nil
}

// List returns the full catalog ordered by name.
func (c *Catalog) List(ctx context.Context) ([]Permission, error) {
	query := `SELECT name, scopeable, created_at FROM permissions ORDER BY name ASC`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		var raw string
		if err := rows.Scan(&raw, &p.Scopeable, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		p.Name = PermissionName(raw)
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Scopeable reports whether the named permission is declared scopeable.
// Unknown permissions are treated as global-only.
func (c *Catalog) Scopeable(ctx context.Context, name PermissionName) (bool, error) {
	query := `SELECT scopeable FROM permissions WHERE name = $1`

	var scopeable bool
	err := c.db.QueryRowContext(ctx, query, string(name)).Scan(&scopeable)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check permission scope: %w", err)
	}
	return scopeable, nil
}

// Validate checks that every name exists in the catalog, returning the
// missing names.
func (c *Catalog) Validate(ctx context.Context, names []PermissionName) ([]PermissionName, error) {
	if len(names) == 0 {
		return nil, nil
	}

	raw := make([]string, len(names))
	for i, n := range names {
		raw[i] = string(n)
	}

	query := `SELECT name FROM permissions WHERE name = ANY($1)`
	rows, err := c.db.QueryContext(ctx, query, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to validate permissions: %w", err)
	}
	defer rows.Close()

	known := make(map[PermissionName]struct{}, len(names))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission name: %w", err)
		}
		known[PermissionName(name)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []PermissionName
	for _, n := range names {
		if _, ok := known[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing, nil
}

// DefaultCatalog returns the permission universe of the admin backend.
// Scopeable permissions may be exercised by department-scoped roles inside
// their managed closure.
func DefaultCatalog() []Permission {
	return []Permission{
		{Name: "users.view", Scopeable: true},
		{Name: "users.create", Scopeable: true},
		{Name: "users.edit", Scopeable: true},
		{Name: "users.delete", Scopeable: false},
		{Name: "roles.view", Scopeable: false},
		{Name: "roles.manage", Scopeable: false},
		{Name: "departments.view", Scopeable: true},
		{Name: "departments.manage", Scopeable: false},
		{Name: "settings.view", Scopeable: false},
		{Name: "settings.manage", Scopeable: false},
		{Name: "audit.view", Scopeable: false},
		{Name: "audit.export", Scopeable: false},
	}
}

// Built-in role names.
const (
	RoleSuperAdmin        = "super-admin"
	RoleAdmin             = "admin"
	RoleDepartmentManager = "department-manager"
	RoleViewer            = "viewer"
)

// DefaultRoles returns the built-in role set. super-admin carries the admin
// flag and bypasses permission lookup entirely; its permission list is kept
// populated only for display.
func DefaultRoles() []Role {
	catalog := DefaultCatalog()
	all := make([]PermissionName, len(catalog))
	for i, p := range catalog {
		all[i] = p.Name
	}

	return []Role{
		{
			Name:        RoleSuperAdmin,
			Level:       4,
			Color:       "#dc2626",
			Active:      true,
			IsAdmin:     true,
			Scope:       RoleScopeGlobal,
			Permissions: all,
		},
		{
			Name:   RoleAdmin,
			Level:  3,
			Color:  "#ea580c",
			Active: true,
			Scope:  RoleScopeGlobal,
			Permissions: []PermissionName{
				"users.view", "users.create", "users.edit", "users.delete",
				"roles.view", "departments.view", "departments.manage",
				"settings.view", "audit.view",
			},
		},
		{
			Name:   RoleDepartmentManager,
			Level:  2,
			Color:  "#2563eb",
			Active: true,
			Scope:  RoleScopeDepartment,
			Permissions: []PermissionName{
				"users.view", "users.create", "users.edit", "departments.view",
			},
		},
		{
			Name:   RoleViewer,
			Level:  1,
			Color:  "#16a34a",
			Active: true,
			Scope:  RoleScopeGlobal,
			Permissions: []PermissionName{
				"users.view", "departments.view",
			},
		},
	}
}
