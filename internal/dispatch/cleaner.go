package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/shineum/smtp-queue-lite/internal/logging"
	"github.com/shineum/smtp-queue-lite/internal/queue"
)

// CleanerConfig controls retention of finished queue items.
type CleanerConfig struct {
	Enabled func() bool
	// SentAfterDays and ErrorAfterDays of 0 or less disable the cleanup.
	SentAfterDays  int
	ErrorAfterDays int
}

// Cleaner deletes Sent and Error items older than the configured age.
type Cleaner struct {
	store  queue.Store
	cfg    CleanerConfig
	logger *slog.Logger
}

// NewCleaner creates a Cleaner for store.
func NewCleaner(store queue.Store, cfg CleanerConfig, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Enabled == nil {
		cfg.Enabled = func() bool { return true }
	}
	return &Cleaner{store: store, cfg: cfg, logger: logger}
}

// ClearSent removes expired Sent items.
func (c *Cleaner) ClearSent(ctx context.Context) (int64, error) {
	return c.clear(ctx, c.cfg.SentAfterDays, queue.StatusSent)
}

// ClearErrors removes expired Error items.
func (c *Cleaner) ClearErrors(ctx context.Context) (int64, error) {
	return c.clear(ctx, c.cfg.ErrorAfterDays, queue.StatusError)
}

// Clear removes expired items in status. Only Sent and Error are accepted.
func (c *Cleaner) Clear(ctx context.Context, days int, status queue.Status) (int64, error) {
	return c.clear(ctx, days, status)
}

func (c *Cleaner) clear(ctx context.Context, days int, status queue.Status) (int64, error) {
	if err := queue.CheckRetentionStatus(status); err != nil {
		c.logger.Log(ctx, logging.LevelCritical, "queue cleanup rejected",
			"status", status.String(),
			"error", err,
		)
		return 0, err
	}
	if !c.cfg.Enabled() || days <= 0 {
		return 0, nil
	}

	n, err := c.store.DeleteOlderThan(ctx, days, status)
	if err != nil {
		c.logger.Log(ctx, logging.LevelCritical, "queue cleanup failed",
			"status", status.String(),
			"days", days,
			"error", err,
		)
		return 0, err
	}
	if n > 0 {
		c.logger.Info("queue cleanup removed items", "status", status.String(), "days", days, "removed", n)
	}
	return n, nil
}

// Run clears Sent and Error items every interval until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ClearSent(ctx)
			c.ClearErrors(ctx)
		}
	}
}
