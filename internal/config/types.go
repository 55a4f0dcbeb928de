package config

// Config is the on-disk configuration. Durations are Go duration strings.
type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Storage      StorageConfig      `json:"storage"`
	Router       RouterConfig       `json:"router,omitempty"`
	Broadcast    BroadcastConfig    `json:"broadcast,omitempty"`
	Conversation ConversationConfig `json:"conversation,omitempty"`
	Metrics      MetricsConfig      `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// QuestionsChatID receives user questions and is the chat whose invite
	// link moderators hand out.
	QuestionsChatID int64  `json:"questions_chat_id,omitempty"`
	GroupLog        string `json:"group_log,omitempty"`
	PollTimeout     string `json:"poll_timeout,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the database.
//
// Driver values: "sqlite" (default, uses Path), "postgres" and "mysql"
// (use Host, Port, User, Password, Name or a full DSN).
type StorageConfig struct {
	Driver              string `json:"driver"`
	Path                string `json:"path,omitempty"`
	DSN                 string `json:"dsn,omitempty"`
	Host                string `json:"host,omitempty"`
	Port                int    `json:"port,omitempty"`
	User                string `json:"user,omitempty"`
	Password            string `json:"password,omitempty"`
	Name                string `json:"name,omitempty"`
	BusyTimeout         string `json:"busy_timeout,omitempty"`
	MaxOpenConns        int    `json:"max_open_conns,omitempty"`
	MaintenanceSchedule string `json:"maintenance_schedule,omitempty"`
}

type RouterConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

type BroadcastConfig struct {
	Workers    int `json:"workers,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// FailureSample caps how many failed recipient ids a report keeps.
	FailureSample int `json:"failure_sample,omitempty"`
}

type ConversationConfig struct {
	IdleTTL       string `json:"idle_ttl,omitempty"`
	SweepSchedule string `json:"sweep_schedule,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

// MetricsConfig controls the Prometheus and pprof HTTP listener.
// A non-loopback Addr requires Token.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}
