package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSeverity(t *testing.T) {
	assert.Equal(t, SeverityInfo, NormalizeSeverity(SeverityInfo))
	assert.Equal(t, SeverityWarning, NormalizeSeverity(SeverityWarning))
	assert.Equal(t, SeverityCritical, NormalizeSeverity(SeverityCritical))

	// Unknown and empty values degrade to info, never an error.
	assert.Equal(t, SeverityInfo, NormalizeSeverity(""))
	assert.Equal(t, SeverityInfo, NormalizeSeverity("fatal"))
	assert.Equal(t, SeverityInfo, NormalizeSeverity("WARNING"))
}

func TestActorContext(t *testing.T) {
	ctx := context.Background()

	_, ok := ActorFromContext(ctx)
	assert.False(t, ok)

	userID := int64(42)
	ctx = WithActor(ctx, Actor{UserID: &userID, IPAddress: "10.0.0.1", UserAgent: "cli"})

	actor, ok := ActorFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(42), *actor.UserID)
	assert.Equal(t, "10.0.0.1", actor.IPAddress)
}

func TestStamp(t *testing.T) {
	userID := int64(42)
	ctx := WithActor(context.Background(), Actor{UserID: &userID, IPAddress: "10.0.0.1", UserAgent: "cli"})

	entry := &Entry{Event: "role_created"}
	Stamp(ctx, entry)
	assert.Equal(t, int64(42), *entry.UserID)
	assert.Equal(t, "10.0.0.1", entry.IPAddress)
	assert.Equal(t, "cli", entry.UserAgent)

	// Explicit values are never overwritten by the context.
	otherID := int64(7)
	entry = &Entry{Event: "role_created", UserID: &otherID, IPAddress: "192.168.1.1"}
	Stamp(ctx, entry)
	assert.Equal(t, int64(7), *entry.UserID)
	assert.Equal(t, "192.168.1.1", entry.IPAddress)
	assert.Equal(t, "cli", entry.UserAgent)
}
