package departments

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/eradah-pmo/webvue-core-sub000/pkg/audit"
)

const auditModule = "departments"

// Service wraps the store with audit emission. Reads pass through; every
// mutation that commits is followed by an audit entry.
type Service struct {
	store *Store
	sink  audit.Sink
	log   *logrus.Logger
}

// NewService creates a department service.
func NewService(store *Store, sink audit.Sink, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.New()
	}
	return &Service{store: store, sink: sink, log: log}
}

// Get retrieves one department.
func (s *Service) Get(ctx context.Context, id int64) (*Department, error) {
	return s.store.Get(ctx, id)
}

// List returns all departments.
func (s *Service) List(ctx context.Context) ([]*Department, error) {
	return s.store.List(ctx)
}

// ManagedClosure resolves the departments a principal manages.
func (s *Service) ManagedClosure(ctx context.Context, principalID int64) (map[int64]struct{}, error) {
	return s.store.ManagedClosure(ctx, principalID)
}

// Create inserts a department and records the creation.
func (s *Service) Create(ctx context.Context, dept *Department) error {
	if err := s.store.Create(ctx, dept); err != nil {
		return err
	}
	s.sink.Record(ctx, &audit.Entry{
		Event:         "department_created",
		Module:        auditModule,
		Action:        "create",
		AuditableType: dept.AuditableType(),
		AuditableID:   int64Ptr(dept.ID),
		NewValues: map[string]interface{}{
			"name":      dept.Name,
			"code":      dept.Code,
			"parent_id": dept.ParentID,
		},
	})
	return nil
}

// Update persists metadata changes and records the before/after snapshot.
func (s *Service) Update(ctx context.Context, dept *Department) error {
	before, err := s.store.Get(ctx, dept.ID)
	if err != nil {
		return err
	}
	if err := s.store.Update(ctx, dept); err != nil {
		return err
	}
	s.sink.Record(ctx, &audit.Entry{
		Event:         "department_updated",
		Module:        auditModule,
		Action:        "update",
		AuditableType: dept.AuditableType(),
		AuditableID:   int64Ptr(dept.ID),
		OldValues: map[string]interface{}{
			"name":       before.Name,
			"code":       before.Code,
			"manager_id": before.ManagerID,
			"active":     before.Active,
		},
		NewValues: map[string]interface{}{
			"name":       dept.Name,
			"code":       dept.Code,
			"manager_id": dept.ManagerID,
			"active":     dept.Active,
		},
	})
	return nil
}

// Move reparents a department and records the old and new parent.
func (s *Service) Move(ctx context.Context, id int64, newParentID *int64) error {
	before, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Move(ctx, id, newParentID); err != nil {
		return err
	}
	s.sink.Record(ctx, &audit.Entry{
		Event:         "department_moved",
		Module:        auditModule,
		Action:        "move",
		AuditableType: before.AuditableType(),
		AuditableID:   int64Ptr(id),
		OldValues:     map[string]interface{}{"parent_id": before.ParentID},
		NewValues:     map[string]interface{}{"parent_id": newParentID},
	})
	return nil
}

// SetManager changes the managing principal and records it. Manager changes
// alter who passes scoped authorization checks, so they get warning severity.
func (s *Service) SetManager(ctx context.Context, id int64, managerID *int64) error {
	before, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.SetManager(ctx, id, managerID); err != nil {
		return err
	}
	s.sink.Record(ctx, &audit.Entry{
		Event:         "department_manager_changed",
		Module:        auditModule,
		Action:        "set_manager",
		Severity:      audit.SeverityWarning,
		AuditableType: before.AuditableType(),
		AuditableID:   int64Ptr(id),
		OldValues:     map[string]interface{}{"manager_id": before.ManagerID},
		NewValues:     map[string]interface{}{"manager_id": managerID},
	})
	return nil
}

// Delete removes an empty department and records the removal.
func (s *Service) Delete(ctx context.Context, id int64) error {
	before, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.sink.Record(ctx, &audit.Entry{
		Event:         "department_deleted",
		Module:        auditModule,
		Action:        "delete",
		Severity:      audit.SeverityWarning,
		AuditableType: before.AuditableType(),
		AuditableID:   int64Ptr(id),
		OldValues: map[string]interface{}{
			"name": before.Name,
			"code": before.Code,
		},
	})
	return nil
}

func int64Ptr(v int64) *int64 { return &v }
