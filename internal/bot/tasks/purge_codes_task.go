package tasks

import (
	"context"
	"fmt"
	"time"
)

// newPurgeCodesTask creates the scheduled task that deletes used and
// long-expired verification codes.
func newPurgeCodesTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "purge_codes")
	retention := deps.Config.Verification.PurgeRetention

	return func(ctx context.Context) error {
		startTime := time.Now()

		count, err := deps.Store.PurgeStaleCodes(ctx, retention)
		if err != nil {
			log.ErrorContext(ctx, "Verification code purge failed", "error", err)
			return fmt.Errorf("verification code purge failed: %w", err)
		}

		log.InfoContext(ctx, "Verification code purge completed",
			"deleted", count, "duration", time.Since(startTime))
		return nil
	}
}
