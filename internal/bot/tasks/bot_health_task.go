package tasks

import (
	"context"
)

// newBotHealthTask creates the watchdog that surfaces a persistent conflict
// loop to external monitoring. The manager keeps retrying forever; this task
// makes sure the degraded state is visible in the logs rather than silent.
func newBotHealthTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "bot_health")

	return func(ctx context.Context) error {
		if deps.Bot.Healthy() {
			log.DebugContext(ctx, "Bot connection healthy",
				"ready", deps.Bot.Ready())
			return nil
		}

		log.ErrorContext(ctx, "Bot connection degraded",
			"ready", deps.Bot.Ready(),
			"consecutive_failures", deps.Bot.ConsecutiveFailures(),
			"threshold", deps.Config.Bot.UnhealthyAfter)
		return nil
	}
}
