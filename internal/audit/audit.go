package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event represents a single auditable action taken through the console.
type Event struct {
	ID        uuid.UUID // assigned on insert when zero
	ContextID string    // browser context that performed the action
	UserID    string    // empty for anonymous events such as a failed login
	Email     string
	Action    string // e.g. "session.login", "access.denied", "report.generated"
	Metadata  map[string]any
	Source    string // "console" unless set
	CreatedAt time.Time
}

const SourceConsole = "console"

// MetadataRequestID links an event to the HTTP request that caused it.
const MetadataRequestID = "request_id"

// Logger is the audit logging interface. Log is fire-and-forget.
type Logger interface {
	Log(ctx context.Context, event Event)
	Close() error
}

// NopLogger is a no-op audit logger for testing and when audit is disabled.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Event) {}
func (NopLogger) Close() error               { return nil }
