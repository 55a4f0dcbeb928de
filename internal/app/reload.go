package app

import (
	"context"

	"quizbot/internal/config"
	"quizbot/pkg/logx"
)

// applyConfig pushes the live sections of newCfg into the running
// components. Sections that need a restart are only reported.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	ch := config.Diff(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", ch.Fields()...)
	for _, s := range ch.RestartRequired {
		a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
	}

	a.logs.SetTelegramTarget(logChat(newCfg), newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLoggingConfig(newCfg))

	a.resolver.SetAdmins(newCfg.Telegram.AdminUserIDs)
	if a.engine != nil {
		a.engine.Apply(mapBroadcastConfig(newCfg))
	}
	if a.bot != nil {
		a.bot.SetQuestionsChat(newCfg.Telegram.QuestionsChatID)
	}

	a.sched.Apply(mapSchedulerConfig(newCfg))
	if err := a.registerJobs(newCfg); err != nil {
		a.log.Warn("schedule update failed; keeping previous", logx.Err(err))
	}

	a.metrics.Reconfigure(ctx, mapMetricsConfig(newCfg))

	a.log.Info("config reloaded", ch.Fields()...)
}
