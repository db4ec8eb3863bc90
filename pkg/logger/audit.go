package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security audit event. Source and account fields
// must already be hashed via HashKey by the caller.
type AuditEvent struct {
	Kind        string
	SourceHash  string
	AccountHash string
	Count       int
	Duration    time.Duration
	Escalated   bool
	Metadata    map[string]string
}

// AuditLogger writes structured security audit events to the log sink.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// Log emits one audit event. Bans, locks, escalations, and abuse detections
// all go through here so the audit trail has a single shape.
func (al *AuditLogger) Log(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "guard"),
		slog.String("kind", event.Kind),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.SourceHash != "" {
		attrs = append(attrs, slog.String("source_hash", event.SourceHash))
	}
	if event.AccountHash != "" {
		attrs = append(attrs, slog.String("account_hash", event.AccountHash))
	}
	if event.Count > 0 {
		attrs = append(attrs, slog.Int("count", event.Count))
	}
	if event.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", event.Duration))
	}
	if event.Escalated {
		attrs = append(attrs, slog.Bool("escalated", true))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
}
