package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"lbring/internal/ledger"
)

// Config holds the load balancer configuration.
type Config struct {
	HTTP    HTTPConfig   `yaml:"http"`
	GRPC    GRPCConfig   `yaml:"grpc"`
	Ring    RingConfig   `yaml:"ring"`
	Servers []string     `yaml:"servers"`
	Health  HealthConfig `yaml:"health"`
	IDs     IDConfig     `yaml:"ids"`
	Log     LogConfig    `yaml:"log"`
}

// HTTPConfig configures the HTTP front end.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// GRPCConfig configures the gRPC health endpoint of the balancer itself.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// RingConfig configures the hash ring.
type RingConfig struct {
	Slots       int    `yaml:"slots"`
	VNodes      int    `yaml:"vnodes"`
	Replication int    `yaml:"replication"`
	Policy      string `yaml:"policy"`
}

// HealthConfig configures backend health polling.
type HealthConfig struct {
	Mode     string        `yaml:"mode"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Failures int           `yaml:"failures"`
	Port     int           `yaml:"port"`
	Path     string        `yaml:"path"`
}

// IDConfig configures request id generation.
type IDConfig struct {
	// Node is the snowflake worker id, 0..1023.
	Node int64 `yaml:"node"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// MaxSlots bounds ring.slots so slot arithmetic stays within int64.
const MaxSlots = 1 << 20

// Health check modes.
const (
	HealthHTTP = "http"
	HealthGRPC = "grpc"
	HealthOff  = "off"
)

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{Addr: ":5000"},
		GRPC: GRPCConfig{Addr: ":5001"},
		Ring: RingConfig{
			Slots:       512,
			VNodes:      20,
			Replication: 3,
			Policy:      ledger.Replication.String(),
		},
		Servers: []string{"Server-1", "Server-2", "Server-3", "Server-4"},
		Health: HealthConfig{
			Mode:     HealthHTTP,
			Interval: 30 * time.Second,
			Timeout:  2 * time.Second,
			Failures: 1,
			Port:     5000,
			Path:     "/heartbeat",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs error
	if c.HTTP.Addr == "" {
		errs = multierr.Append(errs, fmt.Errorf("http.addr cannot be empty"))
	}
	if c.Ring.Slots <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("ring.slots must be positive, got %d", c.Ring.Slots))
	}
	if c.Ring.Slots > MaxSlots {
		errs = multierr.Append(errs, fmt.Errorf("ring.slots must be at most %d, got %d", MaxSlots, c.Ring.Slots))
	}
	if c.Ring.VNodes <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("ring.vnodes must be positive, got %d", c.Ring.VNodes))
	}
	if c.Ring.VNodes > c.Ring.Slots {
		errs = multierr.Append(errs, fmt.Errorf("ring.vnodes (%d) cannot exceed ring.slots (%d)", c.Ring.VNodes, c.Ring.Slots))
	}
	if c.Ring.Replication < 2 {
		errs = multierr.Append(errs, fmt.Errorf("ring.replication must be at least 2, got %d", c.Ring.Replication))
	}
	if _, err := ledger.ParsePolicy(c.Ring.Policy); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("ring.policy: %w", err))
	}
	for _, s := range c.Servers {
		if strings.TrimSpace(s) == "" {
			errs = multierr.Append(errs, fmt.Errorf("servers cannot contain empty names"))
			break
		}
	}
	switch c.Health.Mode {
	case HealthOff:
	case HealthHTTP, HealthGRPC:
		if c.Health.Interval <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("health.interval must be positive, got %s", c.Health.Interval))
		}
		if c.Health.Timeout <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("health.timeout must be positive, got %s", c.Health.Timeout))
		}
		if c.Health.Failures <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("health.failures must be positive, got %d", c.Health.Failures))
		}
		if c.Health.Port <= 0 || c.Health.Port > 65535 {
			errs = multierr.Append(errs, fmt.Errorf("health.port out of range: %d", c.Health.Port))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("health.mode must be http, grpc or off, got %q", c.Health.Mode))
	}
	if c.IDs.Node < 0 || c.IDs.Node > 1023 {
		errs = multierr.Append(errs, fmt.Errorf("ids.node must be in [0, 1023], got %d", c.IDs.Node))
	}
	return errs
}

// ParseServers parses a comma-separated list of server names:
// "Server-1,Server-2,Server-3"
func ParseServers(s string) ([]string, error) {
	if s == "" {
		return []string{}, nil
	}

	parts := strings.Split(s, ",")
	names := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))

	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if strings.ContainsAny(name, " \t=") {
			return nil, fmt.Errorf("invalid server name: %q", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate server name: %s", name)
		}
		seen[name] = true
		names = append(names, name)
	}

	return names, nil
}
