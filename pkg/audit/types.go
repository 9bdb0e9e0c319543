package audit

import (
	"context"
	"time"
)

// Severity classifies how much attention an audit entry deserves.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// NormalizeSeverity maps unknown or empty values to info so a bad producer
// can never make an entry unqueryable.
func NormalizeSeverity(s Severity) Severity {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return s
	default:
		return SeverityInfo
	}
}

// Well-known event names. Producers may use arbitrary event strings; these
// are the ones the reports aggregator keys on.
const (
	EventLoginSuccess = "login_success"
	EventLoginFailed  = "login_failed"
)

// Entry is one append-only audit record. OldValues/NewValues hold
// before/after snapshots for mutations; Metadata is free-form and
// structure-preserving.
type Entry struct {
	ID            int64                  `json:"id"`
	UID           string                 `json:"uid"`
	Event         string                 `json:"event"`
	AuditableType string                 `json:"auditable_type,omitempty"`
	AuditableID   *int64                 `json:"auditable_id,omitempty"`
	Module        string                 `json:"module"`
	Action        string                 `json:"action"`
	Description   string                 `json:"description,omitempty"`
	Severity      Severity               `json:"severity"`
	UserID        *int64                 `json:"user_id,omitempty"`
	IPAddress     string                 `json:"ip_address,omitempty"`
	UserAgent     string                 `json:"user_agent,omitempty"`
	OldValues     map[string]interface{} `json:"old_values,omitempty"`
	NewValues     map[string]interface{} `json:"new_values,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Tags          []string               `json:"tags,omitempty"`
	OccurredAt    time.Time              `json:"occurred_at"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Auditable lets domain objects describe themselves for the auditable_type
// and auditable_id columns.
type Auditable interface {
	AuditableType() string
	AuditableID() int64
}

// Filter composes search conditions; zero values mean "any". All conditions
// are ANDed into a single query.
type Filter struct {
	Event      string
	Module     string
	Severity   Severity
	UserID     *int64
	Since      time.Time
	Until      time.Time
	Tags       []string
	SearchText string
	Limit      int
	Offset     int
}

// Sink accepts entries for recording. Implementations must never fail the
// caller: audit emission sits on mutation paths that have already committed.
type Sink interface {
	Record(ctx context.Context, entry *Entry)
}

// Actor identifies who performed an action, carried from the request layer.
type Actor struct {
	UserID    *int64
	IPAddress string
	UserAgent string
}

type contextKey struct{}

// WithActor attaches the acting user to the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// ActorFromContext retrieves the acting user, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(contextKey{}).(Actor)
	return actor, ok
}

// Stamp fills the entry's actor fields from the context when they are unset.
func Stamp(ctx context.Context, entry *Entry) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return
	}
	if entry.UserID == nil {
		entry.UserID = actor.UserID
	}
	if entry.IPAddress == "" {
		entry.IPAddress = actor.IPAddress
	}
	if entry.UserAgent == "" {
		entry.UserAgent = actor.UserAgent
	}
}
