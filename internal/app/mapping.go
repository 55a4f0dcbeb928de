package app

import (
	"strconv"
	"strings"

	"quizbot/internal/broadcast"
	"quizbot/internal/config"
	"quizbot/internal/observability/metrics"
	"quizbot/internal/storage"
	"quizbot/internal/task/scheduler"
	telegram "quizbot/internal/transport/telegram/adapter"
	"quizbot/internal/transport/telegram/router"
	"quizbot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	out := storage.Config{
		Driver:       config.NormalizeDriver(sc.Driver),
		Path:         strings.TrimSpace(sc.Path),
		DSN:          strings.TrimSpace(sc.DSN),
		Host:         strings.TrimSpace(sc.Host),
		Port:         sc.Port,
		User:         sc.User,
		Password:     sc.Password,
		Name:         sc.Name,
		BusyTimeout:  busy,
		MaxOpenConns: sc.MaxOpenConns,
	}
	if out.Driver == "sqlite" && out.Path == "" && out.DSN == "" {
		out.Path = config.DefaultSQLitePath
	}
	return out, nil
}

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	send, err := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, config.DefaultSendTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), PollTimeout: poll, SendTimeout: send}, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

// logChat parses telegram.group_log; an empty or malformed value disables
// the chat sink.
func logChat(cfg *config.Config) int64 {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapBroadcastConfig(cfg *config.Config) broadcast.Config {
	return broadcast.Config{
		Workers:       cfg.Broadcast.Workers,
		RatePerSec:    cfg.Broadcast.RatePerSec,
		FailureSample: cfg.Broadcast.FailureSample,
	}
}

func mapRouterConfig(cfg *config.Config) router.Config {
	return router.Config{
		Workers:        cfg.Router.Workers,
		QueueSize:      cfg.Router.QueueSize,
		HandlerTimeout: cfg.HandlerTimeout(),
	}
}

func mapMetricsConfig(cfg *config.Config) metrics.Config {
	addr := strings.TrimSpace(cfg.Metrics.Addr)
	if addr == "" {
		addr = config.DefaultMetricsAddr
	}
	return metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    addr,
		Token:   strings.TrimSpace(cfg.Metrics.Token),
		Pprof:   cfg.Metrics.Pprof,
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: cfg.Conversation.Timezone}
}
