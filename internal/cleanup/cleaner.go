package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/archeval/arbiter/internal/session"
)

// Cleaner handles periodic expiry of evaluation sessions
type Cleaner struct {
	manager  *session.Manager
	interval time.Duration
}

// NewCleaner creates a new cleanup worker
func NewCleaner(manager *session.Manager, interval time.Duration) *Cleaner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &Cleaner{
		manager:  manager,
		interval: interval,
	}
}

// Start begins the cleanup worker in a goroutine
func (c *Cleaner) Start(ctx context.Context) {
	go c.run(ctx)
}

// run is the main loop for the cleanup worker
func (c *Cleaner) run(ctx context.Context) {
	slog.Info("cleanup worker started", "interval", c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Run immediately on start
	c.cleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

// cleanup finds sessions past their TTL and marks them expired. Expired
// sessions stay readable so clients can still fetch the final selection.
func (c *Cleaner) cleanup(ctx context.Context) {
	slog.Debug("running cleanup cycle")

	expired, err := c.manager.GetExpired(ctx)
	if err != nil {
		slog.Error("failed to get expired sessions", "error", err)
		return
	}

	if len(expired) == 0 {
		slog.Debug("no expired sessions found")
		return
	}

	slog.Info("found expired sessions", "count", len(expired))

	for _, sess := range expired {
		slog.Info("marking session expired",
			"id", sess.ID,
			"problem", sess.Problem,
			"expired_at", sess.ExpiresAt,
		)

		if err := c.manager.MarkExpired(ctx, sess.ID); err != nil {
			slog.Error("failed to mark session expired",
				"error", err,
				"id", sess.ID,
			)
			continue
		}
	}
}
