package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store handles role and assignment persistence. It is a plain data layer;
// cache invalidation and audit emission happen in Service.
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const roleColumns = `id, name, level, color, active, is_admin, scope, permissions, created_at, updated_at`

// CreateRole creates a new role.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	if role.Scope == "" {
		role.Scope = RoleScopeGlobal
	}

	query := `
		INSERT INTO roles (name, level, color, active, is_admin, scope, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	now := time.Now()
	err = s.db.QueryRowContext(ctx, query,
		role.Name,
		role.Level,
		role.Color,
		role.Active,
		role.IsAdmin,
		string(role.Scope),
		string(permissionsJSON),
		now,
		now,
	).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by ID.
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`
	role, err := scanRole(s.db.QueryRowContext(ctx, query, roleID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role not found: %d", roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleByName retrieves a role by its unique name.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE name = $1`
	role, err := scanRole(s.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles lists all roles ordered by level then name.
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ORDER BY level DESC, name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// UpdateRole updates role metadata. Permission changes go through
// ReplacePermissions so readers never observe a partial set.
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	query := `
		UPDATE roles
		SET name = $1, level = $2, color = $3, active = $4, is_admin = $5, scope = $6, updated_at = $7
		WHERE id = $8
	`

	role.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, query,
		role.Name,
		role.Level,
		role.Color,
		role.Active,
		role.IsAdmin,
		string(role.Scope),
		role.UpdatedAt,
		role.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("role not found: %d", role.ID)
	}
	return nil
}

// ReplacePermissions swaps the role's permission set atomically and returns
// the previous set. The single-row update inside a transaction guarantees
// concurrent readers see the fully-old or fully-new set.
func (s *Store) ReplacePermissions(ctx context.Context, roleID int64, names []PermissionName) ([]PermissionName, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var oldJSON string
	err = tx.QueryRowContext(ctx, `SELECT permissions FROM roles WHERE id = $1 FOR UPDATE`, roleID).Scan(&oldJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role not found: %d", roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock role: %w", err)
	}

	var old []PermissionName
	if err := json.Unmarshal([]byte(oldJSON), &old); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}

	if names == nil {
		names = []PermissionName{}
	}
	newJSON, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal permissions: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE roles SET permissions = $1, updated_at = $2 WHERE id = $3`,
		string(newJSON), time.Now(), roleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to replace permissions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit permission replace: %w", err)
	}
	return old, nil
}

// CountAssignments returns how many principals currently reference the role.
func (s *Store) CountAssignments(ctx context.Context, roleID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM principal_roles WHERE role_id = $1`, roleID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count role assignments: %w", err)
	}
	return count, nil
}

// DeleteRole removes the role row and, when detach is set, its assignments.
// It returns the principal IDs that were detached. The referential guard
// (RoleInUseError) lives in Service.DeleteRole.
func (s *Store) DeleteRole(ctx context.Context, roleID int64, detach bool) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var detached []int64
	if detach {
		rows, err := tx.QueryContext(ctx,
			`DELETE FROM principal_roles WHERE role_id = $1 RETURNING principal_id`, roleID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to detach principals: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan detached principal: %w", err)
			}
			detached = append(detached, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("role not found: %d", roleID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit role delete: %w", err)
	}
	return detached, nil
}

// GetPrincipal loads a principal together with its assigned roles.
func (s *Store) GetPrincipal(ctx context.Context, principalID int64) (*Principal, error) {
	p := &Principal{ID: principalID}

	var departmentID sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT active, department_id FROM principals WHERE id = $1`, principalID,
	).Scan(&p.Active, &departmentID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("principal not found: %d", principalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	if departmentID.Valid {
		id := departmentID.Int64
		p.DepartmentID = &id
	}

	query := `
		SELECT r.id, r.name, r.level, r.color, r.active, r.is_admin, r.scope, r.permissions, r.created_at, r.updated_at
		FROM roles r
		JOIN principal_roles pr ON r.id = pr.role_id
		WHERE pr.principal_id = $1
		ORDER BY r.level DESC, r.name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get principal roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		p.Roles = append(p.Roles, *role)
	}
	return p, rows.Err()
}

// GetPrincipalRoleIDs returns just the role IDs assigned to a principal.
// The cache fill uses this cheap read to capture role versions before the
// full principal load.
func (s *Store) GetPrincipalRoleIDs(ctx context.Context, principalID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role_id FROM principal_roles WHERE principal_id = $1 ORDER BY role_id`, principalID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get principal role ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AssignRole assigns a role to a principal. Re-assigning is a no-op.
func (s *Store) AssignRole(ctx context.Context, assignment *RoleAssignment) error {
	query := `
		INSERT INTO principal_roles (principal_id, role_id, granted_by, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (principal_id, role_id) DO NOTHING
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		assignment.PrincipalID,
		assignment.RoleID,
		assignment.GrantedBy,
		now,
	).Scan(&assignment.ID)
	if err == sql.ErrNoRows {
		// Conflict: assignment already exists.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	assignment.GrantedAt = now
	return nil
}

// RevokeRole removes a role assignment from a principal.
func (s *Store) RevokeRole(ctx context.Context, principalID, roleID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM principal_roles WHERE principal_id = $1 AND role_id = $2`,
		principalID, roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	return nil
}

// SetPrincipalActive toggles a principal's active flag.
func (s *Store) SetPrincipalActive(ctx context.Context, principalID int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE principals SET active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now(), principalID,
	)
	if err != nil {
		return fmt.Errorf("failed to update principal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("principal not found: %d", principalID)
	}
	return nil
}

// DirectGrant is a forbidden principal-level permission attachment found in
// the legacy principal_permissions table.
type DirectGrant struct {
	PrincipalID int64
	Permission  PermissionName
}

// ListDirectGrants returns all direct principal-permission rows. The engine
// never reads these; they only exist to be purged.
func (s *Store) ListDirectGrants(ctx context.Context) ([]DirectGrant, error) {
	query := `SELECT principal_id, permission FROM principal_permissions ORDER BY principal_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list direct grants: %w", err)
	}
	defer rows.Close()

	var grants []DirectGrant
	for rows.Next() {
		var g DirectGrant
		var raw string
		if err := rows.Scan(&g.PrincipalID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan direct grant: %w", err)
		}
		g.Permission = PermissionName(raw)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// DeleteDirectGrants removes every direct grant for a principal.
func (s *Store) DeleteDirectGrants(ctx context.Context, principalID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM principal_permissions WHERE principal_id = $1`, principalID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete direct grants: %w", err)
	}
	return result.RowsAffected()
}

// scanRole scans a role from a row or rows cursor.
func scanRole(scanner interface {
	Scan(dest ...interface{}) error
}) (*Role, error) {
	var role Role
	var scope string
	var permissionsJSON string

	err := scanner.Scan(
		&role.ID,
		&role.Name,
		&role.Level,
		&role.Color,
		&role.Active,
		&role.IsAdmin,
		&scope,
		&permissionsJSON,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	role.Scope = RoleScope(scope)
	if permissionsJSON != "" {
		if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}
	if role.Permissions == nil {
		role.Permissions = []PermissionName{}
	}
	return &role, nil
}
