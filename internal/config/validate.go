package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultPollTimeout    = 10 * time.Second
	DefaultSendTimeout    = 10 * time.Second
	DefaultHandlerTimeout = 30 * time.Second
	DefaultIdleTTL        = 30 * time.Minute
	DefaultSweepSchedule  = "@every 5m"
	DefaultMaintenance    = "@daily"
	DefaultMetricsAddr    = "127.0.0.1:9464"
	DefaultSQLitePath     = "./data/quizbot.db"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks cfg for values the app cannot start with. It does not
// mutate cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	for _, id := range cfg.Telegram.AdminUserIDs {
		if id <= 0 {
			errs = append(errs, fmt.Errorf("telegram.admin_user_ids: invalid id %d", id))
		}
	}
	durs := map[string]string{
		"telegram.poll_timeout":  cfg.Telegram.PollTimeout,
		"telegram.send_timeout":  cfg.Telegram.SendTimeout,
		"storage.busy_timeout":   cfg.Storage.BusyTimeout,
		"router.handler_timeout": cfg.Router.HandlerTimeout,
		"conversation.idle_ttl":  cfg.Conversation.IdleTTL,
	}
	for path, raw := range durs {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	switch NormalizeDriver(cfg.Storage.Driver) {
	case "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	for path, spec := range map[string]string{
		"conversation.sweep_schedule":  cfg.Conversation.SweepSchedule,
		"storage.maintenance_schedule": cfg.Storage.MaintenanceSchedule,
	} {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		if _, err := cronParser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}
	if tz := strings.TrimSpace(cfg.Conversation.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("conversation.timezone: %w", err))
		}
	}
	if cfg.Broadcast.Workers < 0 || cfg.Broadcast.RatePerSec < 0 || cfg.Router.Workers < 0 {
		errs = append(errs, errors.New("worker counts and rates must be >= 0"))
	}
	return errors.Join(errs...)
}

// NormalizeDriver maps driver aliases onto sqlite, postgres or mysql.
func NormalizeDriver(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "", "sqlite", "sqlite3":
		return "sqlite"
	case "postgres", "postgresql", "pq":
		return "postgres"
	case "mysql", "mariadb":
		return "mysql"
	default:
		return strings.ToLower(strings.TrimSpace(d))
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

// SweepSchedule returns the conversation expiry schedule.
func (c *Config) SweepSchedule() string {
	return orDefault(c.Conversation.SweepSchedule, DefaultSweepSchedule)
}

func (c *Config) MaintenanceSchedule() string {
	return orDefault(c.Storage.MaintenanceSchedule, DefaultMaintenance)
}

// IdleTTL never fails on a validated config.
func (c *Config) IdleTTL() time.Duration {
	d, _ := ParseDurationOrDefault("conversation.idle_ttl", c.Conversation.IdleTTL, DefaultIdleTTL)
	return d
}

func (c *Config) HandlerTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("router.handler_timeout", c.Router.HandlerTimeout, DefaultHandlerTimeout)
	return d
}

func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ParseDurationField parses raw as a non-negative Go duration; a bare
// integer is taken as seconds. Empty is zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var (
		d   time.Duration
		err error
	)
	if n, aerr := strconv.Atoi(s); aerr == nil {
		d = time.Duration(n) * time.Second
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault returns def for an empty or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
