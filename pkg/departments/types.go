package departments

import (
	"fmt"
	"time"
)

// Department is one node of the organizational tree. ParentID is nil at the
// roots; ManagerID names the principal whose department-scoped roles apply
// to this department and its descendants.
type Department struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	ManagerID *int64    `json:"manager_id,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditableType implements audit.Auditable.
func (d *Department) AuditableType() string { return "department" }

// AuditableID implements audit.Auditable.
func (d *Department) AuditableID() int64 { return d.ID }

// CycleError rejects a move that would make a department its own ancestor.
type CycleError struct {
	DepartmentID int64
	NewParentID  int64
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("moving department %d under %d would create a cycle", e.DepartmentID, e.NewParentID)
}

// InUseError rejects deleting a department that still has children or
// assigned principals.
type InUseError struct {
	DepartmentID int64
	Children     int
	Principals   int
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("department %d has %d child department(s) and %d principal(s)", e.DepartmentID, e.Children, e.Principals)
}
