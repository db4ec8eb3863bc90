package background

import (
	"context"
	"log/slog"
	"time"
)

// Sweepable is a registry that can expire stale state and bound its key
// count. Each registry sweeps under its own lock; cleaning one never blocks
// another.
type Sweepable interface {
	Sweep(now time.Time, maxKeys int) int
}

type target struct {
	name string
	reg  Sweepable
}

// CleanupManager periodically sweeps every registry, bounding total memory to
// O(maxTrackedKeys) per map regardless of how many unique keys were ever
// seen. Window-based expiry handles the common case; the sweep is the hard
// backstop.
type CleanupManager struct {
	targets  []target
	maxKeys  int
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
}

// NewCleanupManager creates a cleanup manager.
func NewCleanupManager(maxKeys int, interval time.Duration, logger *slog.Logger) *CleanupManager {
	return &CleanupManager{
		maxKeys:  maxKeys,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Register adds a registry to the sweep rotation. Call before Start.
func (cm *CleanupManager) Register(name string, reg Sweepable) {
	cm.targets = append(cm.targets, target{name: name, reg: reg})
}

// Start begins the periodic sweep. Intended to run on its own goroutine;
// returns when the context is cancelled or Stop is called.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runSweep()

	for {
		select {
		case <-ticker.C:
			cm.runSweep()
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runSweep() {
	now := time.Now()
	for _, t := range cm.targets {
		removed := t.reg.Sweep(now, cm.maxKeys)
		if removed > 0 {
			cm.logger.Info("registry sweep completed",
				slog.String("registry", t.name),
				slog.Int("entries_removed", removed))
		}
	}
}

// Stop signals the cleanup manager to stop.
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
