package config

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

type Config struct {
	AppEnv   string `env:"APP_ENV,default=dev"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	Host string `env:"RELAY_HOST"`
	Port int    `env:"RELAY_PORT,default=1234"`

	// Empty disables the room journal and retention.
	DBPath string `env:"RELAY_DB_PATH"`

	SendBuffer        int     `env:"RELAY_SEND_BUFFER,default=256"`
	MaxMessageBytes   int64   `env:"RELAY_MAX_MESSAGE_BYTES,default=1048576"`
	MessagesPerSecond float64 `env:"RELAY_MESSAGES_PER_SECOND,default=100"`
	MessageBurst      int     `env:"RELAY_MESSAGE_BURST,default=200"`
	CORSOrigins       string  `env:"RELAY_CORS_ORIGINS,default=*"`

	RetentionSchedule string        `env:"RELAY_RETENTION_SCHEDULE,default=@every 1h"`
	RetentionMaxAge   time.Duration `env:"RELAY_RETENTION_MAX_AGE,default=168h"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	if _, err := env.UnmarshalFromEnviron(&c); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("RELAY_PORT must be in 1..65535, got %d", c.Port)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("RELAY_SEND_BUFFER must be positive, got %d", c.SendBuffer)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("RELAY_MAX_MESSAGE_BYTES must be positive, got %d", c.MaxMessageBytes)
	}
	if c.MessagesPerSecond <= 0 || c.MessageBurst <= 0 {
		return fmt.Errorf("RELAY_MESSAGES_PER_SECOND and RELAY_MESSAGE_BURST must be positive")
	}
	if c.DBPath != "" {
		if _, err := cron.ParseStandard(c.RetentionSchedule); err != nil {
			return fmt.Errorf("RELAY_RETENTION_SCHEDULE %q: %w", c.RetentionSchedule, err)
		}
		if c.RetentionMaxAge <= 0 {
			return fmt.Errorf("RELAY_RETENTION_MAX_AGE must be positive, got %s", c.RetentionMaxAge)
		}
	}
	return nil
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func (c Config) IsDev() bool {
	return c.AppEnv != "prod" && c.AppEnv != "production"
}
