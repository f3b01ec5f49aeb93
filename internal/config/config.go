package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"

	"github.com/restartfu/minerfleet/internal/domain"
	"github.com/restartfu/minerfleet/internal/logging"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "MINERFLEET_CONFIG"

const envPrefix = "minerfleet_"

var DefaultPaths = []string{
	"minerfleet.yaml",
	"minerfleet.yml",
	"/etc/minerfleet/config.yaml",
}

type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      logging.Config     `koanf:"logging"`
	Sentry       SentryConfig       `koanf:"sentry"`
	Fleet        FleetConfig        `koanf:"fleet"`
	Management   ManagementConfig   `koanf:"management"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Logs         LogsConfig         `koanf:"logs"`
	Presentation PresentationConfig `koanf:"presentation"`
}

type ServerConfig struct {
	Addr string `koanf:"addr" validate:"required"`
	// Port overrides the port part of Addr when set (legacy PORT variable).
	Port int `koanf:"port" validate:"min=0,max=65535"`
}

type SentryConfig struct {
	DSN         string `koanf:"dsn"`
	Environment string `koanf:"environment"`
	Release     string `koanf:"release"`
}

// FleetConfig lists the miners in dashboard order. Host is the default address
// for devices that do not set their own.
type FleetConfig struct {
	Host    string         `koanf:"host"`
	Devices []DeviceConfig `koanf:"devices" validate:"dive"`
}

type DeviceConfig struct {
	Name          string `koanf:"name" validate:"required"`
	Host          string `koanf:"host"`
	TelemetryPort int    `koanf:"telemetry_port" validate:"required,min=1,max=65535"`
}

// ManagementConfig describes the shared web console access. Ports maps a
// device name to its management (luci) port.
type ManagementConfig struct {
	Host     string         `koanf:"host"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	Ports    map[string]int `koanf:"ports" validate:"dive,min=1,max=65535"`
}

type TelemetryConfig struct {
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	Workers         int           `koanf:"workers" validate:"min=1,max=256"`
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"min=0"`
}

type LogsConfig struct {
	LoginTimeout time.Duration `koanf:"login_timeout" validate:"gt=0"`
	LogTimeout   time.Duration `koanf:"log_timeout" validate:"gt=0"`
	// DeviceLogTimeouts overrides LogTimeout for slow consoles, keyed by name.
	DeviceLogTimeouts map[string]time.Duration `koanf:"device_log_timeouts" validate:"dive,gt=0"`
	DefaultHours      float64                  `koanf:"default_hours" validate:"gt=0"`
	RatePerSecond     float64                  `koanf:"rate_per_second" validate:"gt=0"`
	RateBurst         int                      `koanf:"rate_burst" validate:"min=1"`
}

// PresentationConfig is consumed only by the HTTP adapter.
type PresentationConfig struct {
	Palette map[string]string `koanf:"palette"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8000",
		},
		Logging: logging.DefaultConfig(),
		Management: ManagementConfig{
			Username: "admin",
		},
		Telemetry: TelemetryConfig{
			Timeout: 3 * time.Second,
			Workers: 6,
		},
		Logs: LogsConfig{
			LoginTimeout:  10 * time.Second,
			LogTimeout:    30 * time.Second,
			DefaultHours:  2,
			RatePerSecond: 1,
			RateBurst:     3,
		},
		Presentation: PresentationConfig{
			Palette: map[string]string{
				"timestamp": "#6B7280",
				"numbers":   "#EF4444",
				"keywords":  "#3B82F6",
				"ct_cv":     "#10B981",
				"text":      "#10B981",
				"brackets":  "#F59E0B",
				"error":     "#DC2626",
				"warning":   "#F59E0B",
				"success":   "#10B981",
			},
		},
	}
}

// Load layers struct defaults, an optional YAML file and environment
// variables, in that order of precedence (env wins). An empty path searches
// PathEnvVar and DefaultPaths.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Server.Port > 0 {
		cfg.Server.Addr = fmt.Sprintf(":%d", cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	names := lo.Map(c.Fleet.Devices, func(d DeviceConfig, _ int) string { return d.Name })
	if dups := lo.FindDuplicates(names); len(dups) > 0 {
		return fmt.Errorf("duplicate device names: %s", strings.Join(dups, ", "))
	}
	for name := range c.Management.Ports {
		if !lo.Contains(names, name) {
			return fmt.Errorf("management port configured for unknown device %q", name)
		}
	}
	for name := range c.Logs.DeviceLogTimeouts {
		if !lo.Contains(names, name) {
			return fmt.Errorf("log timeout configured for unknown device %q", name)
		}
	}
	if c.Logs.LogTimeout < c.Logs.LoginTimeout {
		return errors.New("logs.log_timeout must not be shorter than logs.login_timeout")
	}
	return nil
}

// Devices resolves the configured fleet into endpoints, filling in the shared
// hosts and credentials.
func (c *Config) Devices() []domain.DeviceEndpoint {
	managementHost := c.Management.Host
	if managementHost == "" {
		managementHost = c.Fleet.Host
	}
	creds := domain.Credentials{
		Username: c.Management.Username,
		Password: c.Management.Password,
	}

	devices := make([]domain.DeviceEndpoint, 0, len(c.Fleet.Devices))
	for _, d := range c.Fleet.Devices {
		host := d.Host
		if host == "" {
			host = c.Fleet.Host
		}
		devices = append(devices, domain.DeviceEndpoint{
			Name:           d.Name,
			Host:           host,
			TelemetryPort:  d.TelemetryPort,
			ManagementHost: managementHost,
			ManagementPort: c.Management.Ports[d.Name],
			Credentials:    creds,
		})
	}
	return devices
}

func findConfigFile() string {
	if p := strings.TrimSpace(os.Getenv(PathEnvVar)); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// legacyEnv maps the variable names used by existing deployments.
var legacyEnv = map[string]string{
	"miner_ip":            "fleet.host",
	"miner_management_ip": "management.host",
	"miner_username":      "management.username",
	"miner_password":      "management.password",
	"port":                "server.port",
	"log_level":           "logging.level",
	"log_format":          "logging.format",
	"sentry_dsn":          "sentry.dsn",
	"sentry_environment":  "sentry.environment",
	"sentry_release":      "sentry.release",
}

// envTransformFunc maps environment names to koanf paths. Legacy names are
// translated through legacyEnv; MINERFLEET_<SECTION>_<KEY> becomes
// section.key. Anything else is ignored.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if path, ok := legacyEnv[key]; ok {
		return path
	}
	if !strings.HasPrefix(key, envPrefix) {
		return ""
	}
	rest := strings.TrimPrefix(key, envPrefix)
	section, field, found := strings.Cut(rest, "_")
	if !found || section == "" || field == "" {
		return ""
	}
	return section + "." + field
}
