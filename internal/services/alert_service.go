package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bastionsec/bastion/internal/metrics"
	"github.com/bastionsec/bastion/internal/models"
)

// Notifier delivers a rendered notification to the downstream channel.
// SESNotifier is the production implementation; LogNotifier is the default.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// LogNotifier writes notifications to the structured log. Used when no
// outbound channel is configured, and as the delivery sink in tests.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, msg models.Notification) error {
	n.Logger.Info("alert",
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Body))
	return nil
}

// AlertServiceConfig holds the dispatch caps and summary cadence.
type AlertServiceConfig struct {
	HighPerMinute   int
	MediumPerHour   int
	SummaryInterval time.Duration
}

// alertGroup aggregates queued events of one kind for the summary flush.
type alertGroup struct {
	count   int
	firstAt time.Time
	lastAt  time.Time
	sources map[string]struct{}
	sample  string
}

// AlertService routes guard events into severity-tiered, rate-capped
// notifications. HIGH goes out immediately under a per-minute cap, MEDIUM
// under a per-hour cap; everything over cap, plus all LOW events, is
// aggregated into one periodic summary. Per-event delivery at attack volume
// would itself be a denial of service against the downstream channel.
type AlertService struct {
	mu    sync.Mutex
	queue map[string]*alertGroup

	minuteStart time.Time
	minuteSent  int
	hourStart   time.Time
	hourSent    int

	config   AlertServiceConfig
	notifier Notifier
	logger   *slog.Logger

	sendCh chan models.Notification
	stopCh chan struct{}

	now func() time.Time
}

// NewAlertService creates a dispatcher. Call Start to begin delivery and
// periodic summary flushes.
func NewAlertService(config AlertServiceConfig, notifier Notifier, logger *slog.Logger) *AlertService {
	return &AlertService{
		queue:    make(map[string]*alertGroup),
		config:   config,
		notifier: notifier,
		logger:   logger,
		sendCh:   make(chan models.Notification, 64),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Dispatch routes one event. It never blocks and never fails the caller:
// delivery happens on the dispatcher's own goroutine.
func (s *AlertService) Dispatch(event models.AlertEvent) {
	s.mu.Lock()
	now := s.now()

	sendNow := false
	switch event.Severity {
	case models.SeverityHigh:
		if now.Sub(s.minuteStart) >= time.Minute {
			s.minuteStart = now
			s.minuteSent = 0
		}
		if s.minuteSent < s.config.HighPerMinute {
			s.minuteSent++
			sendNow = true
		}
	case models.SeverityMedium:
		if now.Sub(s.hourStart) >= time.Hour {
			s.hourStart = now
			s.hourSent = 0
		}
		if s.hourSent < s.config.MediumPerHour {
			s.hourSent++
			sendNow = true
		}
	}

	if !sendNow {
		s.enqueueLocked(event)
		s.mu.Unlock()
		metrics.AlertsQueued.Inc()
		return
	}
	s.mu.Unlock()

	metrics.AlertsSent.WithLabelValues(string(event.Severity)).Inc()
	s.send(renderEvent(event))
}

func (s *AlertService) enqueueLocked(event models.AlertEvent) {
	group, ok := s.queue[event.Kind]
	if !ok {
		group = &alertGroup{
			firstAt: event.OccurredAt,
			sources: make(map[string]struct{}),
			sample:  event.Message,
		}
		s.queue[event.Kind] = group
	}
	group.count++
	group.lastAt = event.OccurredAt
	if event.SourceHash != "" {
		group.sources[event.SourceHash] = struct{}{}
	}
}

// send hands the notification to the delivery goroutine without blocking.
// A full channel drops the notification; the queue-based summary still
// carries the aggregate signal.
func (s *AlertService) send(n models.Notification) {
	select {
	case s.sendCh <- n:
	default:
		s.logger.Warn("alert channel full, dropping notification",
			slog.String("subject", n.Subject))
	}
}

// Start runs delivery and the periodic summary flush until the context is
// cancelled or Stop is called. Intended to run on its own goroutine.
func (s *AlertService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.SummaryInterval)
	defer ticker.Stop()

	for {
		select {
		case n := <-s.sendCh:
			s.deliver(ctx, n)
		case <-ticker.C:
			s.Flush()
		case <-s.stopCh:
			s.logger.Info("alert dispatcher stopped")
			return
		case <-ctx.Done():
			s.logger.Info("alert dispatcher context cancelled")
			return
		}
	}
}

// Stop signals the dispatcher to stop.
func (s *AlertService) Stop() {
	close(s.stopCh)
}

// deliver pushes one notification downstream. A failed delivery is logged
// and swallowed; it must never surface on the authentication path.
func (s *AlertService) deliver(ctx context.Context, n models.Notification) {
	deliverCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.notifier.Notify(deliverCtx, n); err != nil {
		s.logger.Error("alert delivery failed",
			slog.String("subject", n.Subject),
			slog.Any("error", err))
	}
}

// Flush drains the aggregation queue into one summary notification, grouped
// by kind with counts and unique source counts. No-op when empty.
func (s *AlertService) Flush() {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	queue := s.queue
	s.queue = make(map[string]*alertGroup)
	s.mu.Unlock()

	kinds := make([]string, 0, len(queue))
	total := 0
	for kind, group := range queue {
		kinds = append(kinds, kind)
		total += group.count
	}
	sort.Strings(kinds)

	var b strings.Builder
	for _, kind := range kinds {
		group := queue[kind]
		fmt.Fprintf(&b, "%s: %d events, %d unique sources, %s .. %s\n  e.g. %s\n",
			kind, group.count, len(group.sources),
			group.firstAt.UTC().Format(time.RFC3339),
			group.lastAt.UTC().Format(time.RFC3339),
			group.sample)
	}

	metrics.AlertsSent.WithLabelValues(string(models.SeverityLow)).Inc()
	s.send(models.Notification{
		Subject: fmt.Sprintf("[bastion] summary: %d events across %d kinds", total, len(kinds)),
		Body:    b.String(),
	})
}

// PendingCount reports queued events awaiting the next summary flush.
func (s *AlertService) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, group := range s.queue {
		total += group.count
	}
	return total
}

func renderEvent(event models.AlertEvent) models.Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nkind: %s\nseverity: %s\noccurred: %s\n",
		event.Message, event.Kind, event.Severity, event.OccurredAt.UTC().Format(time.RFC3339))
	if event.SourceHash != "" {
		fmt.Fprintf(&b, "source: %s\n", event.SourceHash)
	}

	keys := make([]string, 0, len(event.Fields))
	for k := range event.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, event.Fields[k])
	}

	return models.Notification{
		Subject: fmt.Sprintf("[bastion] %s: %s", strings.ToUpper(string(event.Severity)), event.Kind),
		Body:    b.String(),
	}
}
