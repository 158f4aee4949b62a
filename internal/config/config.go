package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. SHIELDSERVE_PORT.
const EnvPrefix = "SHIELDSERVE"

// Defaults
const (
	DefaultPort        = 8443
	DefaultServicePort = 8080
	DefaultInterval    = 5 * time.Second
	DefaultSettleDelay = 2 * time.Second
	DefaultStopTimeout = 5 * time.Second
)

// BinaryConfig names an external executable and, optionally, a shell
// command that installs it when it cannot be found.
type BinaryConfig struct {
	Bin     string   `toml:"bin" mapstructure:"bin"`
	Args    []string `toml:"args" mapstructure:"args"`
	Install string   `toml:"install" mapstructure:"install"`
}

type AuthConfig struct {
	Command string `toml:"command" mapstructure:"command"`
}

type LogConfig struct {
	MaxSizeMB  int  `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int  `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

type HistoryConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

// Config is the fully resolved configuration of one invocation.
type Config struct {
	// DataDir overrides data directory discovery when set.
	DataDir     string `toml:"data_dir" mapstructure:"data_dir"`
	Port        int    `toml:"port" mapstructure:"port"`
	ServicePort int    `toml:"service_port" mapstructure:"service_port"`

	// Durations accept Go duration strings or bare seconds; they are
	// decoded separately from the struct.
	Interval    time.Duration `mapstructure:"-"`
	SettleDelay time.Duration `mapstructure:"-"`
	StopTimeout time.Duration `mapstructure:"-"`

	SkipAuth bool `mapstructure:"-"`

	Service BinaryConfig  `toml:"service" mapstructure:"service"`
	Proxy   BinaryConfig  `toml:"proxy" mapstructure:"proxy"`
	Auth    AuthConfig    `toml:"auth" mapstructure:"auth"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	History HistoryConfig `toml:"history" mapstructure:"history"`

	// ConfigFile is the file the values were read from, if any.
	ConfigFile string `mapstructure:"-"`
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("data_dir", "")
	v.SetDefault("port", DefaultPort)
	v.SetDefault("service_port", DefaultServicePort)
	v.SetDefault("interval", DefaultInterval.String())
	v.SetDefault("settle_delay", DefaultSettleDelay.String())
	v.SetDefault("stop_timeout", DefaultStopTimeout.String())
	v.SetDefault("service.bin", "code-server")
	v.SetDefault("service.args", []string{"--bind-addr", "${SERVICE_HOST}:${SERVICE_PORT}", "--auth", "password", "--disable-telemetry"})
	v.SetDefault("service.install", "")
	v.SetDefault("proxy.bin", "caddy")
	v.SetDefault("proxy.args", []string{"run", "--config", "${PROXY_CONFIG}", "--adapter", "caddyfile"})
	v.SetDefault("proxy.install", "")
	v.SetDefault("auth.command", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("history.enabled", true)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads defaults, the optional TOML file at path and environment
// overrides, in increasing precedence. Flag overrides are applied by the
// caller through the returned viper instance before calling Decode.
func Load(path string) (*viper.Viper, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Decode builds and validates a Config from v.
func Decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	var err error
	if c.Interval, err = durationValue(v, "interval"); err != nil {
		return nil, err
	}
	if c.SettleDelay, err = durationValue(v, "settle_delay"); err != nil {
		return nil, err
	}
	if c.StopTimeout, err = durationValue(v, "stop_timeout"); err != nil {
		return nil, err
	}
	c.SkipAuth = v.GetBool("skip_auth")
	c.ConfigFile = v.ConfigFileUsed()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadConfig is Load followed by Decode.
func LoadConfig(path string) (*Config, error) {
	v, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", c.Port)
	}
	if c.ServicePort <= 0 || c.ServicePort > 65535 {
		return fmt.Errorf("service_port must be in 1..65535, got %d", c.ServicePort)
	}
	if c.Port == c.ServicePort {
		return fmt.Errorf("port and service_port must differ (both %d)", c.Port)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.SettleDelay < 0 || c.StopTimeout < 0 {
		return fmt.Errorf("settle_delay and stop_timeout must not be negative")
	}
	if strings.TrimSpace(c.Service.Bin) == "" || strings.TrimSpace(c.Proxy.Bin) == "" {
		return fmt.Errorf("service.bin and proxy.bin are required")
	}
	return nil
}

// durationValue reads key as a duration. Bare numbers are seconds, so
// SHIELDSERVE_INTERVAL=5 and interval = "5s" mean the same.
func durationValue(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
