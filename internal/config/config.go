// Package config loads relay configuration from an optional YAML file and
// RELAY_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/shawn/chat-relay/internal/humanize"
)

// EnvPrefix is stripped from environment variables; a double underscore
// separates levels, so RELAY_AUTH__JWT_SECRET sets auth.jwt_secret.
const EnvPrefix = "RELAY_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Store     StoreConfig     `koanf:"store"`
	Redis     RedisConfig     `koanf:"redis"`
	Bridge    BridgeConfig    `koanf:"bridge"`
	Auth      AuthConfig      `koanf:"auth"`
	Webhook   WebhookConfig   `koanf:"webhook"`
	Restore   RestoreConfig   `koanf:"restore"`
	Registry  RegistryConfig  `koanf:"registry"`
	Reconcile ReconcileConfig `koanf:"reconcile"`
	Leader    LeaderConfig    `koanf:"leader"`
	Humanize  HumanizeConfig  `koanf:"humanize"`
	Seed      SeedConfig      `koanf:"seed"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text, json
}

type StoreConfig struct {
	Driver           string `koanf:"driver"` // sqlite, dynamodb
	SQLitePath       string `koanf:"sqlite_path"`
	DynamoDBEndpoint string `koanf:"dynamodb_endpoint"`
	TenantsTable     string `koanf:"tenants_table"`
	SessionsTable    string `koanf:"sessions_table"`
}

type RedisConfig struct {
	// Addr enables the shared Redis lock when set.
	Addr string `koanf:"addr"`
}

type BridgeConfig struct {
	URL     string `koanf:"url"`
	DataDir string `koanf:"data_dir"`
}

type AuthConfig struct {
	JWTSecret  string `koanf:"jwt_secret"`
	AdminToken string `koanf:"admin_token"`
}

type WebhookConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

type RestoreConfig struct {
	Delay time.Duration `koanf:"delay"`
	Wait  time.Duration `koanf:"wait"`
}

type RegistryConfig struct {
	// InitTTL is how long a tenant stays flagged initializing. It also caps
	// the duration of a single session start.
	InitTTL time.Duration `koanf:"init_ttl"`
}

type ReconcileConfig struct {
	Interval time.Duration `koanf:"interval"`
}

type LeaderConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
	ID        string `koanf:"id"`
}

// HumanizeConfig is the system default humanization policy.
type HumanizeConfig struct {
	Enabled             bool    `koanf:"enabled"`
	MinReadDelay        int     `koanf:"min_read_delay"`
	MaxReadDelay        int     `koanf:"max_read_delay"`
	MinThinkDelay       int     `koanf:"min_think_delay"`
	MaxThinkDelay       int     `koanf:"max_think_delay"`
	MinCharDelay        int     `koanf:"min_char_delay"`
	MaxCharDelay        int     `koanf:"max_char_delay"`
	ErrorProbability    float64 `koanf:"error_probability"`
	MaxBackspaceChars   int     `koanf:"max_backspace_chars"`
	MinPauseAfterTyping int     `koanf:"min_pause_after_typing"`
	MaxPauseAfterTyping int     `koanf:"max_pause_after_typing"`
}

// SeedConfig describes a tenant created at boot when User is set.
type SeedConfig struct {
	User       string `koanf:"user"`
	Password   string `koanf:"password"`
	TenantID   string `koanf:"tenant_id"`
	Name       string `koanf:"name"`
	WebhookURL string `koanf:"webhook_url"`
}

// TelemetryConfig turns on span export for the HTTP server and webhook
// client.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// Policy converts the configured defaults to a humanize.Policy.
func (h HumanizeConfig) Policy() humanize.Policy {
	return humanize.Policy{
		Enabled:             h.Enabled,
		MinReadDelay:        h.MinReadDelay,
		MaxReadDelay:        h.MaxReadDelay,
		MinThinkDelay:       h.MinThinkDelay,
		MaxThinkDelay:       h.MaxThinkDelay,
		MinCharDelay:        h.MinCharDelay,
		MaxCharDelay:        h.MaxCharDelay,
		ErrorProbability:    h.ErrorProbability,
		MaxBackspaceChars:   h.MaxBackspaceChars,
		MinPauseAfterTyping: h.MinPauseAfterTyping,
		MaxPauseAfterTyping: h.MaxPauseAfterTyping,
	}
}

func defaults() map[string]any {
	d := humanize.Defaults()
	return map[string]any{
		"server.port":                     5001,
		"log.level":                       "info",
		"log.format":                      "text",
		"store.driver":                    "sqlite",
		"store.sqlite_path":               "relay.db",
		"store.tenants_table":             "relay-tenants",
		"store.sessions_table":            "relay-sessions",
		"bridge.url":                      "http://localhost:3000",
		"bridge.data_dir":                 "./sessions",
		"webhook.timeout":                 "20s",
		"restore.delay":                   "2s",
		"restore.wait":                    "60s",
		"registry.init_ttl":               "10m",
		"reconcile.interval":              "60s",
		"leader.namespace":                "default",
		"seed.tenant_id":                  "test-tenant",
		"seed.name":                       "Test Tenant",
		"telemetry.service_name":          "chat-relay",
		"humanize.enabled":                d.Enabled,
		"humanize.min_read_delay":         d.MinReadDelay,
		"humanize.max_read_delay":         d.MaxReadDelay,
		"humanize.min_think_delay":        d.MinThinkDelay,
		"humanize.max_think_delay":        d.MaxThinkDelay,
		"humanize.min_char_delay":         d.MinCharDelay,
		"humanize.max_char_delay":         d.MaxCharDelay,
		"humanize.error_probability":      d.ErrorProbability,
		"humanize.max_backspace_chars":    d.MaxBackspaceChars,
		"humanize.min_pause_after_typing": d.MinPauseAfterTyping,
		"humanize.max_pause_after_typing": d.MaxPauseAfterTyping,
	}
}

// Load reads path (a missing file is fine) and then the environment, which
// overrides the file. Unset keys take their defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	for key, v := range defaults() {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the relay cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.AdminToken == "" {
		errs = append(errs, errors.New("auth.admin_token is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	switch c.Store.Driver {
	case "sqlite", "dynamodb":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of sqlite, dynamodb", c.Store.Driver))
	}
	if c.Registry.InitTTL <= c.Restore.Wait {
		errs = append(errs, fmt.Errorf("registry.init_ttl %s must exceed restore.wait %s", c.Registry.InitTTL, c.Restore.Wait))
	}
	if err := c.Humanize.Policy().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
