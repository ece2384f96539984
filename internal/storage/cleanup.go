package storage

import (
	"context"
	"time"

	"github.com/aptospilot/aptospilot/internal/log"
)

// SweepFunc removes stale entries and reports how many it removed.
type SweepFunc func(ctx context.Context) (int, error)

// CleanupManager runs a SweepFunc on a fixed interval until stopped.
type CleanupManager struct {
	name     string
	sweep    SweepFunc
	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(name string, interval time.Duration, sweep SweepFunc) *CleanupManager {
	return &CleanupManager{
		name:     name,
		sweep:    sweep,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the cleanup loop in a goroutine
func (cm *CleanupManager) Start(ctx context.Context) {
	log.LogInfoWithFields("cleanup", "Starting cleanup manager", map[string]any{
		"name":     cm.name,
		"interval": cm.interval.String(),
	})
	go cm.run(ctx)
}

// Stop ends the loop after a final sweep and waits for it to exit.
func (cm *CleanupManager) Stop() {
	close(cm.stopChan)
	<-cm.doneChan
	log.LogInfoWithFields("cleanup", "Cleanup manager stopped", map[string]any{"name": cm.name})
}

func (cm *CleanupManager) run(ctx context.Context) {
	defer close(cm.doneChan)

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.cleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.cleanup(ctx)
		case <-cm.stopChan:
			cm.cleanup(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (cm *CleanupManager) cleanup(ctx context.Context) {
	count, err := cm.sweep(ctx)
	if err != nil {
		log.LogErrorWithFields("cleanup", "Sweep failed", map[string]any{
			"name":  cm.name,
			"error": err.Error(),
		})
		return
	}
	if count > 0 {
		log.LogInfoWithFields("cleanup", "Sweep removed entries", map[string]any{
			"name":  cm.name,
			"count": count,
		})
	}
}
