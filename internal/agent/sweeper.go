package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// RunSweeper calls Sweep on every tick of the cron schedule until ctx is
// cancelled. It returns an error only for an invalid schedule.
func (o *Orchestrator) RunSweeper(ctx context.Context, schedule string) error {
	if !gronx.New().IsValid(schedule) {
		return fmt.Errorf("invalid sweep schedule %q", schedule)
	}

	slog.Info("retention sweeper started", "schedule", schedule, "pending_ttl", o.opts.PendingTTL)
	for {
		next, err := gronx.NextTickAfter(schedule, time.Now(), false)
		if err != nil {
			return fmt.Errorf("next sweep tick: %w", err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case now := <-timer.C:
			o.Sweep(now)
		}
	}
}
