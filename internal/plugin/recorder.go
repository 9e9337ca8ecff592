package plugin

import (
	"context"
	"time"
)

// AuditEventKind classifies recorded dispatch events.
type AuditEventKind string

const (
	// AuditViolation records a plugin violation (blocked or permissive).
	AuditViolation AuditEventKind = "violation"
	// AuditError records a plugin invocation error, including timeouts.
	AuditError AuditEventKind = "error"
)

// AuditEvent is one recorded dispatch event. The payload itself is never
// recorded; PayloadHash is an xxhash digest of its serialized form, enough
// to correlate events without persisting request content.
type AuditEvent struct {
	Time        time.Time
	RequestID   string
	Plugin      string
	Hook        HookType
	Kind        AuditEventKind
	Mode        Mode
	Code        string
	Detail      string
	PayloadHash uint64
}

// Recorder persists audit events for blocked requests and plugin failures.
// Implementations must not block dispatch for long; recording failures are
// logged by the manager and never fail the request.
type Recorder interface {
	Record(ctx context.Context, ev AuditEvent) error
}
