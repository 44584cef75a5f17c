package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/tablebot/api"
	"github.com/kilianp07/tablebot/core/dispatch"
	"github.com/kilianp07/tablebot/core/factory"
	"github.com/kilianp07/tablebot/core/metrics"
	"github.com/kilianp07/tablebot/infra/amqp"
	"github.com/kilianp07/tablebot/infra/monitoring"
	"github.com/kilianp07/tablebot/infra/mqtt"
)

const envPrefix = "K_"

type Config struct {
	HTTP      api.Config           `json:"http"`
	Store     factory.ModuleConfig `json:"store"`
	Lock      factory.ModuleConfig `json:"lock"`
	Dispatch  dispatch.Config      `json:"dispatch"`
	MQTT      mqtt.Config          `json:"mqtt"`
	Telemetry TelemetryConfig      `json:"telemetry"`
	AMQP      amqp.Config          `json:"amqp"`
	Metrics   metrics.Config       `json:"metrics"`
	Logging   LoggingConfig        `json:"logging"`
	Sentry    monitoring.Config    `json:"sentry"`
	Seed      SeedConfig           `json:"seed"`
}

// Load reads the YAML or JSON file at path, applies K_ prefixed environment
// overrides (K_HTTP__ADDR sets http.addr) and validates the result. An
// empty path loads the environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every unset section.
func (c *Config) SetDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	if c.Lock.Type == "" {
		c.Lock.Type = "memory"
	}
	c.Dispatch.SetDefaults()
	if c.Lock.Type == "redis" {
		if c.Lock.Conf == nil {
			c.Lock.Conf = map[string]any{}
		}
		if _, ok := c.Lock.Conf["ttl_ms"]; !ok && c.Dispatch.LockTTLMS > 0 {
			c.Lock.Conf["ttl_ms"] = c.Dispatch.LockTTLMS
		}
	}
	c.Telemetry.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks cross-section requirements once defaults are applied.
func (c Config) Validate() error {
	var errs []error
	if err := c.Dispatch.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("dispatch: %w", err))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt: broker is required when enabled"))
	}
	if c.Telemetry.Enabled && !c.MQTT.Enabled {
		errs = append(errs, errors.New("telemetry: requires mqtt.enabled"))
	}
	if c.AMQP.Enabled && c.AMQP.URL == "" {
		errs = append(errs, errors.New("amqp: url is required when enabled"))
	}
	if err := c.Seed.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("seed: %w", err))
	}
	return errors.Join(errs...)
}
