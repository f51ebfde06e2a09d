package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Backend  BackendConfig  `koanf:"backend"`
	Session  SessionConfig  `koanf:"session"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Log      LogConfig      `koanf:"log"`
	CORS     CORSConfig     `koanf:"cors"`
	Live     LiveConfig     `koanf:"live"`
	Audit    AuditConfig    `koanf:"audit"`
	Display  DisplayConfig  `koanf:"display"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// BackendConfig points at the RiskWise REST API.
type BackendConfig struct {
	BaseURL     string `koanf:"base_url"`
	TimeoutSecs int    `koanf:"timeout_secs"`
}

func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSecs) * time.Second
}

type SessionConfig struct {
	Driver       string `koanf:"driver"` // memory, postgres or redis
	TTLHours     int    `koanf:"ttl_hours"`
	CookieName   string `koanf:"cookie_name"`
	CookieSecure bool   `koanf:"cookie_secure"`
	SigningKey   string `koanf:"signing_key"`
}

func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLHours) * time.Hour
}

type DatabaseConfig struct {
	URL            string `koanf:"url"`
	MigrationsPath string `koanf:"migrations_path"`
	MaxConns       int    `koanf:"max_conns"`
}

type RedisConfig struct {
	URL string `koanf:"url"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type LiveConfig struct {
	MetricsPollSecs int `koanf:"metrics_poll_secs"`
	HealthPollSecs  int `koanf:"health_poll_secs"`
}

type AuditConfig struct {
	BufferSize    int `koanf:"buffer_size"`
	BatchSize     int `koanf:"batch_size"`
	FlushInterval int `koanf:"flush_interval"` // milliseconds
}

// DisplayConfig carries display-only overrides for fallback figures shown on
// the dashboard. Values never influence behavior.
type DisplayConfig struct {
	Fallbacks map[string]string `koanf:"fallbacks"`
}

func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	_ = k.Load(confmap.Provider(map[string]any{
		"server.port":              8080,
		"server.host":              "0.0.0.0",
		"backend.base_url":         "http://localhost:3001/api",
		"backend.timeout_secs":     10,
		"session.driver":           "memory",
		"session.ttl_hours":        12,
		"session.cookie_name":      "rw_ctx",
		"session.cookie_secure":    false,
		"database.max_conns":       10,
		"database.migrations_path": "migrations",
		"log.level":                "info",
		"log.format":               "json",
		"live.metrics_poll_secs":   30,
		"live.health_poll_secs":    60,
		"audit.buffer_size":        1024,
		"audit.batch_size":         50,
		"audit.flush_interval":     500,
	}, "."), nil)

	// YAML file (optional)
	for _, path := range configPaths {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			continue
		}
	}

	// RISKWISE_BACKEND_BASE__URL -> backend.base_url
	_ = k.Load(env.Provider("RISKWISE_", ".", envKey), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envKey maps RISKWISE_SECTION_KEY to section.key. A double underscore
// stands for a literal underscore inside a key name.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "RISKWISE_"))
	s = strings.ReplaceAll(s, "__", "\x00")
	s = strings.ReplaceAll(s, "_", ".")
	return strings.ReplaceAll(s, "\x00", "_")
}
