// Package config loads and validates the engine's runtime configuration:
// per-port sizing, timeouts, transport selection, and the ambient logging,
// metrics, and diagnostics settings layered on top of the engine.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// PortSpec configures one engine port and the transport backing it.
type PortSpec struct {
	Name             string `mapstructure:"name" validate:"required"`
	Transport        string `mapstructure:"transport" validate:"required,oneof=serial netbridge sshbridge loopback"`
	Target           string `mapstructure:"target" validate:"required_unless=Transport loopback"`
	MaxQueue         int    `mapstructure:"max_queue" validate:"required,gt=0,lte=64"`
	MaxCmdLen        int    `mapstructure:"max_cmd_len" validate:"required,gt=0,lte=4096"`
	MaxRespLen       int    `mapstructure:"max_resp_len" validate:"required,gt=0,lte=65536"`
	MaxLineLen       int    `mapstructure:"max_line_len" validate:"required,gt=0,lte=4096"`
	MaxURCHandlers   int    `mapstructure:"max_urc_handlers" validate:"required,gt=0,lte=64"`
	DefaultTimeoutMS uint32 `mapstructure:"default_timeout_ms" validate:"required,gt=0"`
	EchoIgnore       bool   `mapstructure:"echo_ignore"`
	BaudRate         int    `mapstructure:"baud_rate" validate:"required_if=Transport serial"`

	// SSH fields, only consulted when Transport is "sshbridge".
	SSHUser          string `mapstructure:"ssh_user" validate:"required_if=Transport sshbridge"`
	SSHPassword      string `mapstructure:"ssh_password"`
	SSHKeyPath       string `mapstructure:"ssh_key_path"`
	SSHRemoteCommand string `mapstructure:"ssh_remote_command" validate:"required_if=Transport sshbridge"`
}

// Config is the top-level configuration for the atengine process.
type Config struct {
	LogLevel  string     `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat string     `mapstructure:"log_format" validate:"required,oneof=text json"`
	PollHz    int        `mapstructure:"poll_hz" validate:"required,gt=0,lte=10000"`
	Metrics   Metrics    `mapstructure:"metrics"`
	Diag      Diag       `mapstructure:"diagnostics"`
	Discovery Discovery  `mapstructure:"discovery"`
	Ports     []PortSpec `mapstructure:"ports" validate:"required,min=1,dive"`
}

// Metrics holds Prometheus exporter settings. atctl does not read them:
// metrics are served on the diagnostics server's /metrics endpoint.
type Metrics struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

// Diag configures the chi-based diagnostics HTTP server.
type Diag struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

// Discovery configures mDNS advertisement of network bridge ports.
type Discovery struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name" validate:"required_if=Enabled true"`
	Domain      string `mapstructure:"domain"`
}

var validate = validator.New()

// Default returns the built-in configuration used when no file or
// environment overrides are present: a single loopback port with
// conservative sizing.
func Default() Config {
	return Config{
		LogLevel:  "warn",
		LogFormat: "text",
		PollHz:    1000,
		Ports: []PortSpec{
			{
				Name:             "port0",
				Transport:        "loopback",
				MaxQueue:         8,
				MaxCmdLen:        128,
				MaxRespLen:       2048,
				MaxLineLen:       256,
				MaxURCHandlers:   8,
				DefaultTimeoutMS: 5000,
			},
		},
	}
}

// Load reads configuration from environment variables prefixed ATENGINE_,
// the file at path (if non-empty), and finally the built-in defaults, in
// that order of precedence, then validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("atengine")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)
	v.SetDefault("poll_hz", def.PollHz)
	v.SetDefault("ports", def.Ports)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: validation: %w", err)
	}
	return cfg, nil
}
