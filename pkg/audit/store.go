package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/eradah-pmo/webvue-core-sub000/pkg/storage"
)

// Store persists audit entries in PostgreSQL. Entries are append-only:
// the only mutation ever applied is a metadata merge.
type Store struct {
	db *sql.DB
}

// NewStore creates an audit store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const entryColumns = `
	id, uid, event, auditable_type, auditable_id, module, action,
	description, severity, user_id, ip_address, user_agent,
	old_values, new_values, metadata, tags, occurred_at, created_at
`

// CreateEntry inserts one entry. It assigns a UID, defaults OccurredAt to
// now, and normalizes the severity before writing.
func (s *Store) CreateEntry(ctx context.Context, entry *Entry) error {
	if entry.Event == "" {
		return fmt.Errorf("audit entry requires an event")
	}
	if entry.UID == "" {
		entry.UID = uuid.New().String()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	entry.Severity = NormalizeSeverity(entry.Severity)
	if entry.Tags == nil {
		entry.Tags = []string{}
	}

	oldJSON, err := marshalValues(entry.OldValues)
	if err != nil {
		return fmt.Errorf("failed to marshal old values: %w", err)
	}
	newJSON, err := marshalValues(entry.NewValues)
	if err != nil {
		return fmt.Errorf("failed to marshal new values: %w", err)
	}
	metaJSON, err := marshalValues(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO audit_logs (
			uid, event, auditable_type, auditable_id, module, action,
			description, severity, user_id, ip_address, user_agent,
			old_values, new_values, metadata, tags, occurred_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16
		) RETURNING id, created_at
	`

	err = s.db.QueryRowContext(ctx, query,
		entry.UID, entry.Event, entry.AuditableType, entry.AuditableID, entry.Module, entry.Action,
		entry.Description, string(entry.Severity), entry.UserID, entry.IPAddress, entry.UserAgent,
		oldJSON, newJSON, metaJSON, pq.Array(entry.Tags), entry.OccurredAt,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Get retrieves one entry by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	query := fmt.Sprintf("SELECT %s FROM audit_logs WHERE id = $1", entryColumns)
	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("audit entry %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	return entry, nil
}

// GetByUID retrieves one entry by its external UID.
func (s *Store) GetByUID(ctx context.Context, uid string) (*Entry, error) {
	query := fmt.Sprintf("SELECT %s FROM audit_logs WHERE uid = $1", entryColumns)
	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, uid))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("audit entry %s not found", uid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	return entry, nil
}

// AppendMetadata merges a patch into an entry's metadata. No other column
// is ever updated after insert.
func (s *Store) AppendMetadata(ctx context.Context, id int64, patch map[string]interface{}) error {
	if len(patch) == 0 {
		return nil
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata patch: %w", err)
	}

	query := `UPDATE audit_logs SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb WHERE id = $1`
	result, err := s.db.ExecContext(ctx, query, id, patchJSON)
	if err != nil {
		return fmt.Errorf("failed to append metadata: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check metadata update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("audit entry %d not found", id)
	}
	return nil
}

// Search returns entries matching the filter, newest first. All named query
// helpers delegate here so there is a single query path.
func (s *Store) Search(ctx context.Context, filter Filter) ([]*Entry, error) {
	query := fmt.Sprintf("SELECT %s FROM audit_logs WHERE 1=1", entryColumns)

	args := []interface{}{}
	argCount := 1

	if filter.Event != "" {
		query += fmt.Sprintf(" AND event = $%d", argCount)
		args = append(args, filter.Event)
		argCount++
	}
	if filter.Module != "" {
		query += fmt.Sprintf(" AND module = $%d", argCount)
		args = append(args, filter.Module)
		argCount++
	}
	if filter.Severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", argCount)
		args = append(args, string(filter.Severity))
		argCount++
	}
	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filter.UserID)
		argCount++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND occurred_at >= $%d", argCount)
		args = append(args, filter.Since)
		argCount++
	}
	if !filter.Until.IsZero() {
		query += fmt.Sprintf(" AND occurred_at <= $%d", argCount)
		args = append(args, filter.Until)
		argCount++
	}
	if len(filter.Tags) > 0 {
		query += fmt.Sprintf(" AND tags && $%d", argCount)
		args = append(args, pq.Array(filter.Tags))
		argCount++
	}
	if filter.SearchText != "" {
		query += fmt.Sprintf(" AND (description ILIKE $%d OR event ILIKE $%d)", argCount, argCount)
		args = append(args, "%"+filter.SearchText+"%")
		argCount++
	}

	query += " ORDER BY occurred_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return entries, nil
}

// ByEvent returns the most recent entries for one event name.
func (s *Store) ByEvent(ctx context.Context, event string, limit int) ([]*Entry, error) {
	return s.Search(ctx, Filter{Event: event, Limit: limit})
}

// ByModule returns the most recent entries for one module.
func (s *Store) ByModule(ctx context.Context, module string, limit int) ([]*Entry, error) {
	return s.Search(ctx, Filter{Module: module, Limit: limit})
}

// BySeverity returns the most recent entries at one severity.
func (s *Store) BySeverity(ctx context.Context, severity Severity, limit int) ([]*Entry, error) {
	return s.Search(ctx, Filter{Severity: NormalizeSeverity(severity), Limit: limit})
}

// ByActor returns the most recent entries recorded for one user.
func (s *Store) ByActor(ctx context.Context, userID int64, limit int) ([]*Entry, error) {
	return s.Search(ctx, Filter{UserID: &userID, Limit: limit})
}

// Recent returns entries from the trailing window.
func (s *Store) Recent(ctx context.Context, window time.Duration, limit int) ([]*Entry, error) {
	return s.Search(ctx, Filter{Since: time.Now().UTC().Add(-window), Limit: limit})
}

// Critical returns the most recent critical entries.
func (s *Store) Critical(ctx context.Context, limit int) ([]*Entry, error) {
	return s.Search(ctx, Filter{Severity: SeverityCritical, Limit: limit})
}

func marshalValues(values map[string]interface{}) ([]byte, error) {
	if values == nil {
		return nil, nil
	}
	return json.Marshal(values)
}

func scanEntry(scanner interface{ Scan(...interface{}) error }) (*Entry, error) {
	entry := &Entry{}
	var (
		severity                   string
		oldJSON, newJSON, metaJSON []byte
		tags                       pq.StringArray
	)

	err := scanner.Scan(
		&entry.ID, &entry.UID, &entry.Event, &entry.AuditableType, &entry.AuditableID,
		&entry.Module, &entry.Action, &entry.Description, &severity,
		&entry.UserID, &entry.IPAddress, &entry.UserAgent,
		&oldJSON, &newJSON, &metaJSON, &tags, &entry.OccurredAt, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Severity = Severity(severity)
	entry.Tags = tags
	if len(oldJSON) > 0 {
		if err := json.Unmarshal(oldJSON, &entry.OldValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal old values: %w", err)
		}
	}
	if len(newJSON) > 0 {
		if err := json.Unmarshal(newJSON, &entry.NewValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal new values: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return entry, nil
}

// Migrations returns the audit schema migrations.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create audit_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id BIGSERIAL PRIMARY KEY,
					uid UUID NOT NULL UNIQUE,
					event VARCHAR(100) NOT NULL,
					auditable_type VARCHAR(100) NOT NULL DEFAULT '',
					auditable_id BIGINT,
					module VARCHAR(100) NOT NULL DEFAULT '',
					action VARCHAR(100) NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					severity VARCHAR(20) NOT NULL DEFAULT 'info',
					user_id BIGINT,
					ip_address VARCHAR(45) NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					old_values JSONB,
					new_values JSONB,
					metadata JSONB,
					tags TEXT[] NOT NULL DEFAULT '{}',
					occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_occurred_at ON audit_logs(occurred_at DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_event ON audit_logs(event);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_module ON audit_logs(module);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_severity ON audit_logs(severity);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_tags ON audit_logs USING GIN(tags);
			`,
		},
	}
}
