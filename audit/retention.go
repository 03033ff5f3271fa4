package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/evolutive/statusflow/internal/config"
	"github.com/evolutive/statusflow/internal/logger"
)

// Cleaner purges audit events past the retention window
type Cleaner struct {
	store         Store
	retentionDays int
	now           func() time.Time
}

// NewCleaner creates a Cleaner with the configured default retention
// window in days
func NewCleaner(store Store, retentionDays int) *Cleaner {
	return &Cleaner{
		store:         store,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// SetClock overrides the time source; used by tests
func (c *Cleaner) SetClock(now func() time.Time) {
	c.now = now
}

// EffectiveRetention resolves the retention window in days. A positive
// override wins; otherwise the configured value applies, and anything
// non-positive falls back to the 30-day default. The result is never
// below one day.
func (c *Cleaner) EffectiveRetention(override *int) int {
	days := c.retentionDays
	if override != nil && *override > 0 {
		days = *override
	}
	if days <= 0 {
		days = config.DefaultRetentionDays
	}
	if days < 1 {
		days = 1
	}
	return days
}

// CleanOldLogs deletes events older than the retention window and
// returns the number deleted. override, when positive, replaces the
// configured window for this invocation.
func (c *Cleaner) CleanOldLogs(ctx context.Context, override *int) (int64, error) {
	days := c.EffectiveRetention(override)
	cutoff := c.now().AddDate(0, 0, -days)

	logger.Info("cleaning old audit events",
		"retention_days", days,
		"cutoff", cutoff,
	)

	deleted, err := c.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean old audit events: %w", err)
	}

	logger.Info("audit log cleanup completed",
		"deleted_count", deleted,
	)

	return deleted, nil
}
