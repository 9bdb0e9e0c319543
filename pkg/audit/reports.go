package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Reports aggregates audit data for security dashboards. Empty windows
// produce zeroed results, never errors.
type Reports struct {
	db    *sql.DB
	store *Store
}

// NewReports creates an aggregator sharing the store's database.
func NewReports(db *sql.DB, store *Store) *Reports {
	return &Reports{db: db, store: store}
}

// Overview summarizes activity over a trailing window.
type Overview struct {
	WindowHours      int   `json:"window_hours"`
	TotalEvents      int64 `json:"total_events"`
	CriticalEvents   int64 `json:"critical_events"`
	SuccessfulLogins int64 `json:"successful_logins"`
	FailedLogins     int64 `json:"failed_logins"`
}

// SecurityOverview counts events in the trailing windowHours hours.
func (r *Reports) SecurityOverview(ctx context.Context, windowHours int) (*Overview, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	since := time.Now().UTC().Add(-time.Duration(windowHours) * time.Hour)

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE severity = 'critical'),
			COUNT(*) FILTER (WHERE event = $2),
			COUNT(*) FILTER (WHERE event = $3)
		FROM audit_logs
		WHERE occurred_at >= $1
	`

	overview := &Overview{WindowHours: windowHours}
	err := r.db.QueryRowContext(ctx, query, since, EventLoginSuccess, EventLoginFailed).Scan(
		&overview.TotalEvents,
		&overview.CriticalEvents,
		&overview.SuccessfulLogins,
		&overview.FailedLogins,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build security overview: %w", err)
	}
	return overview, nil
}

// RecentCriticalEvents returns the latest critical entries.
func (r *Reports) RecentCriticalEvents(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.store.Critical(ctx, limit)
}

// SecurityAlerts returns entries needing attention: critical severity or
// tagged suspicious, newest first.
func (r *Reports) SecurityAlerts(ctx context.Context, since time.Time, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s FROM audit_logs
		WHERE occurred_at >= $1
		  AND (severity = 'critical' OR 'suspicious' = ANY(tags))
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2
	`, entryColumns)

	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query security alerts: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security alert: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ActorActivity is one row of the TopActors report.
type ActorActivity struct {
	UserID     int64     `json:"user_id"`
	EventCount int64     `json:"event_count"`
	LastSeen   time.Time `json:"last_seen"`
}

// TopActors ranks users by event count over a trailing window, most recent
// activity breaking ties.
func (r *Reports) TopActors(ctx context.Context, since time.Time, limit int) ([]ActorActivity, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT user_id, COUNT(*) AS event_count, MAX(occurred_at) AS last_seen
		FROM audit_logs
		WHERE occurred_at >= $1 AND user_id IS NOT NULL
		GROUP BY user_id
		ORDER BY event_count DESC, last_seen DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top actors: %w", err)
	}
	defer rows.Close()

	actors := make([]ActorActivity, 0)
	for rows.Next() {
		var a ActorActivity
		if err := rows.Scan(&a.UserID, &a.EventCount, &a.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan actor activity: %w", err)
		}
		actors = append(actors, a)
	}
	return actors, rows.Err()
}
