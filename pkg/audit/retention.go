package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/eradah-pmo/webvue-core-sub000/pkg/observability"
)

// RetentionPolicy bounds how long audit entries are kept.
type RetentionPolicy struct {
	RetentionDays int
}

// DefaultRetentionDays keeps roughly one year of history.
const DefaultRetentionDays = 365

// Retention deletes entries past the policy cutoff on a schedule.
type Retention struct {
	db      *sql.DB
	policy  RetentionPolicy
	log     *logrus.Logger
	metrics *observability.Metrics
	cron    *cron.Cron
}

// NewRetention creates a retention worker. The cron is not started until
// Start is called.
func NewRetention(db *sql.DB, policy RetentionPolicy, log *logrus.Logger, metrics *observability.Metrics) *Retention {
	if policy.RetentionDays <= 0 {
		policy.RetentionDays = DefaultRetentionDays
	}
	if log == nil {
		log = logrus.New()
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	return &Retention{
		db:      db,
		policy:  policy,
		log:     log,
		metrics: metrics,
		cron:    cron.New(),
	}
}

// Cleanup deletes entries older than the retention cutoff and returns the
// number removed.
func (r *Retention) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -r.policy.RetentionDays)

	result, err := r.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE occurred_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired audit logs: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted audit logs: %w", err)
	}

	r.metrics.RetentionDeletedTotal.Add(float64(deleted))
	if deleted > 0 {
		r.log.WithFields(logrus.Fields{
			"deleted": deleted,
			"cutoff":  cutoff,
		}).Info("audit retention cleanup completed")
	}
	return deleted, nil
}

// Start schedules Cleanup on the given cron spec (e.g. "0 3 * * *").
func (r *Retention) Start(spec string) error {
	if spec == "" {
		spec = "0 3 * * *"
	}
	_, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := r.Cleanup(ctx); err != nil {
			r.log.WithError(err).Error("scheduled audit cleanup failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retention cleanup: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running cleanup to finish.
func (r *Retention) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
