package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Device    DeviceConfig    `mapstructure:"device"`
	Wiring    WiringConfig    `mapstructure:"wiring"`
	Sequence  SequenceConfig  `mapstructure:"sequence"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DeviceConfig selects the driver and the controller to open.
type DeviceConfig struct {
	Driver         string        `mapstructure:"driver"` // modbus | sim
	DeviceType     string        `mapstructure:"device_type"`
	ConnectionType string        `mapstructure:"connection_type"`
	Identifier     string        `mapstructure:"identifier"`
	Port           int           `mapstructure:"port"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Profile        string        `mapstructure:"profile"`
	SearchPaths    []string      `mapstructure:"search_paths"`
}

type WiringConfig struct {
	Path string `mapstructure:"path"`
}

type SequenceConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxReadRetries int           `mapstructure:"max_read_retries"`
	FillTargetKg   float64       `mapstructure:"fill_target_kg"`
	FillLoadCell   string        `mapstructure:"fill_load_cell"`
	FillTimeout    time.Duration `mapstructure:"fill_timeout"`
}

type TelemetryConfig struct {
	SampleInterval time.Duration       `mapstructure:"sample_interval"`
	HTTP           TelemetryHTTPConfig `mapstructure:"http"`
}

type TelemetryHTTPConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BaseURL       string        `mapstructure:"base_url"`
	Collection    string        `mapstructure:"collection"`
	TokenEnv      string        `mapstructure:"token_env"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    uint64        `mapstructure:"max_retries"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Load reads the YAML file at path, if any, on top of the defaults. Every key
// can be overridden by an environment variable such as RIG_DEVICE_DRIVER.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RIG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("device.driver", "modbus")
	v.SetDefault("device.device_type", "T7")
	v.SetDefault("device.connection_type", "ANY")
	v.SetDefault("device.identifier", "ANY")
	v.SetDefault("device.port", 502)
	v.SetDefault("device.timeout", "2s")
	v.SetDefault("device.profile", "labjack-t7")
	v.SetDefault("device.search_paths", []string{})

	v.SetDefault("wiring.path", "")

	v.SetDefault("sequence.poll_interval", "100ms")
	v.SetDefault("sequence.max_read_retries", 3)
	v.SetDefault("sequence.fill_target_kg", 0)
	v.SetDefault("sequence.fill_load_cell", "")
	v.SetDefault("sequence.fill_timeout", "0s")

	v.SetDefault("telemetry.sample_interval", "1s")
	v.SetDefault("telemetry.http.enabled", false)
	v.SetDefault("telemetry.http.base_url", "")
	v.SetDefault("telemetry.http.collection", "rig_readings")
	v.SetDefault("telemetry.http.token_env", "RIG_TELEMETRY_TOKEN")
	v.SetDefault("telemetry.http.timeout", "5s")
	v.SetDefault("telemetry.http.max_retries", 3)
	v.SetDefault("telemetry.http.rate_per_second", 20)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "openrigcore")
	v.SetDefault("database.user", "rig")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 5)
}

func (c *Config) Validate() error {
	switch c.Device.Driver {
	case "modbus", "sim":
	default:
		return fmt.Errorf("config: unknown device driver %q", c.Device.Driver)
	}
	if c.Sequence.PollInterval <= 0 {
		return fmt.Errorf("config: sequence.poll_interval must be positive")
	}
	if c.Sequence.MaxReadRetries < 0 {
		return fmt.Errorf("config: sequence.max_read_retries must not be negative")
	}
	if c.Telemetry.SampleInterval <= 0 {
		return fmt.Errorf("config: telemetry.sample_interval must be positive")
	}
	if c.Telemetry.HTTP.Enabled && c.Telemetry.HTTP.BaseURL == "" {
		return fmt.Errorf("config: telemetry.http.base_url is required when enabled")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}
