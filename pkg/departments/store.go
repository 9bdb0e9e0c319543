package departments

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eradah-pmo/webvue-core-sub000/pkg/storage"
)

// Store persists the department tree in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a department store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const departmentColumns = `id, name, code, parent_id, manager_id, active, created_at, updated_at`

// Create inserts a department. Code must be unique across the tree.
func (s *Store) Create(ctx context.Context, dept *Department) error {
	if dept.Name == "" || dept.Code == "" {
		return fmt.Errorf("department requires a name and code")
	}
	if dept.ParentID != nil {
		if _, err := s.Get(ctx, *dept.ParentID); err != nil {
			return fmt.Errorf("parent department not found: %w", err)
		}
	}

	query := `
		INSERT INTO departments (name, code, parent_id, manager_id, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		dept.Name, dept.Code, dept.ParentID, dept.ManagerID, dept.Active,
	).Scan(&dept.ID, &dept.CreatedAt, &dept.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create department: %w", err)
	}
	return nil
}

// Get retrieves one department by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Department, error) {
	query := fmt.Sprintf("SELECT %s FROM departments WHERE id = $1", departmentColumns)
	dept, err := scanDepartment(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("department %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get department: %w", err)
	}
	return dept, nil
}

// List returns all departments ordered by code.
func (s *Store) List(ctx context.Context) ([]*Department, error) {
	query := fmt.Sprintf("SELECT %s FROM departments ORDER BY code ASC", departmentColumns)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	defer rows.Close()

	depts := make([]*Department, 0)
	for rows.Next() {
		dept, err := scanDepartment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		depts = append(depts, dept)
	}
	return depts, rows.Err()
}

// Update changes a department's name, code, manager and active flag. Parent
// changes go through Move so cycle checks cannot be skipped.
func (s *Store) Update(ctx context.Context, dept *Department) error {
	query := `
		UPDATE departments
		SET name = $2, code = $3, manager_id = $4, active = $5, updated_at = NOW()
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		dept.ID, dept.Name, dept.Code, dept.ManagerID, dept.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to update department: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check department update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("department %d not found", dept.ID)
	}
	return nil
}

// Move reparents a department. A nil newParentID moves it to the root. Moves
// that would place a department under its own subtree are rejected.
func (s *Store) Move(ctx context.Context, id int64, newParentID *int64) error {
	if newParentID != nil {
		if *newParentID == id {
			return &CycleError{DepartmentID: id, NewParentID: *newParentID}
		}
		descendants, err := s.Descendants(ctx, id)
		if err != nil {
			return err
		}
		for _, d := range descendants {
			if d == *newParentID {
				return &CycleError{DepartmentID: id, NewParentID: *newParentID}
			}
		}
		if _, err := s.Get(ctx, *newParentID); err != nil {
			return fmt.Errorf("new parent not found: %w", err)
		}
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE departments SET parent_id = $2, updated_at = NOW() WHERE id = $1",
		id, newParentID,
	)
	if err != nil {
		return fmt.Errorf("failed to move department: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check department move: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("department %d not found", id)
	}
	return nil
}

// SetManager assigns or clears the managing principal.
func (s *Store) SetManager(ctx context.Context, id int64, managerID *int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE departments SET manager_id = $2, updated_at = NOW() WHERE id = $1",
		id, managerID,
	)
	if err != nil {
		return fmt.Errorf("failed to set department manager: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check manager update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("department %d not found", id)
	}
	return nil
}

// Delete removes a department. It fails with InUseError while children or
// assigned principals remain.
func (s *Store) Delete(ctx context.Context, id int64) error {
	var children, principals int
	query := `
		SELECT
			(SELECT COUNT(*) FROM departments WHERE parent_id = $1),
			(SELECT COUNT(*) FROM principals WHERE department_id = $1)
	`
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&children, &principals); err != nil {
		return fmt.Errorf("failed to check department usage: %w", err)
	}
	if children > 0 || principals > 0 {
		return &InUseError{DepartmentID: id, Children: children, Principals: principals}
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM departments WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete department: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check department delete: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("department %d not found", id)
	}
	return nil
}

// Descendants returns the IDs of every department below the given one,
// excluding the department itself.
func (s *Store) Descendants(ctx context.Context, id int64) ([]int64, error) {
	query := `
		WITH RECURSIVE subtree AS (
			SELECT id FROM departments WHERE parent_id = $1
			UNION ALL
			SELECT d.id FROM departments d
			JOIN subtree s ON d.parent_id = s.id
		)
		SELECT id FROM subtree
	`
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query descendants: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var descendantID int64
		if err := rows.Scan(&descendantID); err != nil {
			return nil, fmt.Errorf("failed to scan descendant: %w", err)
		}
		ids = append(ids, descendantID)
	}
	return ids, rows.Err()
}

// ManagedClosure returns every department ID the principal manages: the
// departments where they are the manager plus all descendants of those.
func (s *Store) ManagedClosure(ctx context.Context, principalID int64) (map[int64]struct{}, error) {
	query := `
		WITH RECURSIVE managed AS (
			SELECT id FROM departments WHERE manager_id = $1
			UNION
			SELECT d.id FROM departments d
			JOIN managed m ON d.parent_id = m.id
		)
		SELECT id FROM managed
	`
	rows, err := s.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query managed closure: %w", err)
	}
	defer rows.Close()

	closure := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan managed department: %w", err)
		}
		closure[id] = struct{}{}
	}
	return closure, rows.Err()
}

func scanDepartment(scanner interface{ Scan(...interface{}) error }) (*Department, error) {
	dept := &Department{}
	err := scanner.Scan(
		&dept.ID, &dept.Name, &dept.Code, &dept.ParentID, &dept.ManagerID,
		&dept.Active, &dept.CreatedAt, &dept.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return dept, nil
}

// Migrations returns the department schema migrations.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create departments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS departments (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					code VARCHAR(100) NOT NULL UNIQUE,
					parent_id BIGINT REFERENCES departments(id) ON DELETE RESTRICT,
					manager_id BIGINT,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_departments_parent_id ON departments(parent_id);
				CREATE INDEX IF NOT EXISTS idx_departments_manager_id ON departments(manager_id);
			`,
		},
	}
}
