package config

import (
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the optional prefix for environment overrides
// (QUIZBOT_DB_HOST wins over DB_HOST).
const EnvPrefix = "QUIZBOT"

type envOverrides struct {
	Token      string `envconfig:"BOT_TOKEN"`
	DBDriver   string `envconfig:"DB_DRIVER"`
	DBDSN      string `envconfig:"DB_DSN"`
	DBHost     string `envconfig:"DB_HOST"`
	DBPort     int    `envconfig:"DB_PORT"`
	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME"`
	DBPath     string `envconfig:"DB_PATH"`
	LogLevel   string `envconfig:"LOG_LEVEL"`
}

// ApplyEnv overlays non-empty environment values onto cfg.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Telegram.Token, env.Token)
	set(&cfg.Storage.Driver, env.DBDriver)
	set(&cfg.Storage.DSN, env.DBDSN)
	set(&cfg.Storage.Host, env.DBHost)
	set(&cfg.Storage.User, env.DBUser)
	set(&cfg.Storage.Name, env.DBName)
	set(&cfg.Storage.Path, env.DBPath)
	set(&cfg.Logging.Level, env.LogLevel)
	if env.DBPassword != "" {
		cfg.Storage.Password = env.DBPassword
	}
	if env.DBPort > 0 {
		cfg.Storage.Port = env.DBPort
	}
	return nil
}
