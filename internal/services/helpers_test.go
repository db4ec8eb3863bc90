package services

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/bastionsec/bastion/internal/models"
	pkglogger "github.com/bastionsec/bastion/pkg/logger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAudit() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(testLogger())
}

// recorderSink captures dispatched events for assertions.
type recorderSink struct {
	mu     sync.Mutex
	events []models.AlertEvent
}

func (r *recorderSink) Dispatch(event models.AlertEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorderSink) byKind(kind string) []models.AlertEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.AlertEvent
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorderSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// recorderNotifier captures delivered notifications.
type recorderNotifier struct {
	mu            sync.Mutex
	notifications []models.Notification
	err           error
}

func (n *recorderNotifier) Notify(_ context.Context, msg models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.notifications = append(n.notifications, msg)
	return nil
}

func (n *recorderNotifier) delivered() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Notification(nil), n.notifications...)
}
