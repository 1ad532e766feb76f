package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1234, c.Port)
	assert.Equal(t, ":1234", c.Addr())
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, 256, c.SendBuffer)
	assert.EqualValues(t, 1<<20, c.MaxMessageBytes)
	assert.Equal(t, float64(100), c.MessagesPerSecond)
	assert.Equal(t, "@every 1h", c.RetentionSchedule)
	assert.Equal(t, 168*time.Hour, c.RetentionMaxAge)
	assert.Empty(t, c.DBPath)
	assert.Equal(t, []string{"*"}, c.AllowedOrigins())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("RELAY_HOST", "127.0.0.1")
	t.Setenv("RELAY_PORT", "9000")
	t.Setenv("RELAY_DB_PATH", "/tmp/relay.db")
	t.Setenv("RELAY_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("RELAY_RETENTION_MAX_AGE", "24h")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", c.Addr())
	assert.Equal(t, "/tmp/relay.db", c.DBPath)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.AllowedOrigins())
	assert.Equal(t, 24*time.Hour, c.RetentionMaxAge)
}

func TestValidate(t *testing.T) {
	valid := Config{
		Port:              1234,
		SendBuffer:        1,
		MaxMessageBytes:   1,
		MessagesPerSecond: 1,
		MessageBurst:      1,
		RetentionSchedule: "@every 1h",
		RetentionMaxAge:   time.Hour,
	}
	require.NoError(t, valid.Validate())

	tests := map[string]func(c *Config){
		"port zero":       func(c *Config) { c.Port = 0 },
		"port too large":  func(c *Config) { c.Port = 70000 },
		"no send buffer":  func(c *Config) { c.SendBuffer = 0 },
		"no message size": func(c *Config) { c.MaxMessageBytes = 0 },
		"no rate":         func(c *Config) { c.MessagesPerSecond = 0 },
		"no burst":        func(c *Config) { c.MessageBurst = 0 },
		"bad schedule":    func(c *Config) { c.DBPath = "x.db"; c.RetentionSchedule = "whenever" },
		"no max age":      func(c *Config) { c.DBPath = "x.db"; c.RetentionMaxAge = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestScheduleIgnoredWithoutJournal(t *testing.T) {
	c := Config{Port: 1, SendBuffer: 1, MaxMessageBytes: 1, MessagesPerSecond: 1, MessageBurst: 1, RetentionSchedule: "whenever"}
	assert.NoError(t, c.Validate())
}
