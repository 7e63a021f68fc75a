// Package config loads the tunables that govern the dealer transport,
// command handler, and device descriptor seed values.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultConfigPath is the default location for the client configuration file.
const DefaultConfigPath = "/etc/spotconnect/client.yaml"

// Options holds every tunable named in the Connect client's configuration
// table, plus the device descriptor seed values needed to bring a device up.
type Options struct {
	// PingInterval is the heartbeat scheduler's PING cadence (C1).
	PingInterval time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`

	// PongTimeout is how long the heartbeat scheduler waits for a PONG before
	// raising HeartbeatTimeout (C1).
	PongTimeout time.Duration `mapstructure:"pong_timeout" yaml:"pong_timeout"`

	// EnableAutoReconnect arms the reconnect scheduler on dealer disconnect (C2).
	EnableAutoReconnect bool `mapstructure:"enable_auto_reconnect" yaml:"enable_auto_reconnect"`

	// InitialReconnectDelay is the reconnect scheduler's base backoff (C2).
	InitialReconnectDelay time.Duration `mapstructure:"initial_reconnect_delay" yaml:"initial_reconnect_delay"`

	// MaxReconnectDelay caps the reconnect scheduler's exponential backoff (C2).
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay" yaml:"max_reconnect_delay"`

	// MaxReconnectAttempts bounds the reconnect scheduler's attempt ceiling.
	// Zero means unlimited.
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`

	// CommandQueueCapacity bounds the command handler's single-consumer queue (C6).
	CommandQueueCapacity int `mapstructure:"command_queue_capacity" yaml:"command_queue_capacity"`

	// ReplyTimeout is the default WaitForReply deadline (C12).
	ReplyTimeout time.Duration `mapstructure:"reply_timeout" yaml:"reply_timeout"`

	// InitialVolume is the raw [0, 65535] volume applied at bring-up.
	InitialVolume int `mapstructure:"initial_volume" yaml:"initial_volume"`

	// VolumeSteps is the advertised volume step capability.
	VolumeSteps int `mapstructure:"volume_steps" yaml:"volume_steps"`

	// PositionChangeThreshold is the nominal-start-time delta above which C8
	// marks Position as changed. See spec open question on 100ms vs 1000ms.
	PositionChangeThreshold time.Duration `mapstructure:"position_change_threshold" yaml:"position_change_threshold"`

	// DeviceName is the human-readable name advertised in the device descriptor.
	DeviceName string `mapstructure:"device_name" yaml:"device_name"`

	// DeviceType is the Connect device type, e.g. "Speaker", "Computer".
	DeviceType string `mapstructure:"device_type" yaml:"device_type"`

	// SoftwareVersion is reported in the device descriptor and PUT-state payload.
	SoftwareVersion string `mapstructure:"software_version" yaml:"software_version"`

	// ClientID is the Spotify client id reported in the device descriptor and PUT-state payload.
	ClientID string `mapstructure:"client_id" yaml:"client_id"`

	// LogLevel controls slog verbosity (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// Load reads configuration from the given file path, falling back to
// DefaultConfigPath when empty, and layers environment variable overrides
// on top of file values, the same precedence order the rest of the corpus
// uses for viper-backed config.
func Load(configPath string) (*Options, error) {
	v := viper.New()

	v.SetDefault("ping_interval", 30*time.Second)
	v.SetDefault("pong_timeout", 3*time.Second)
	v.SetDefault("enable_auto_reconnect", true)
	v.SetDefault("initial_reconnect_delay", 1*time.Second)
	v.SetDefault("max_reconnect_delay", 300*time.Second)
	v.SetDefault("max_reconnect_attempts", 0)
	v.SetDefault("command_queue_capacity", 100)
	v.SetDefault("reply_timeout", 5*time.Second)
	v.SetDefault("initial_volume", 32767)
	v.SetDefault("volume_steps", 64)
	v.SetDefault("position_change_threshold", 100*time.Millisecond)
	v.SetDefault("device_type", "Speaker")
	v.SetDefault("software_version", "spotconnect-1.0.0")
	v.SetDefault("log_level", "info")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(DefaultConfigPath)
	}

	v.SetEnvPrefix("SPOTCONNECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	envBindings := map[string]string{
		"client_id":   "SPOTCONNECT_CLIENT_ID",
		"device_name": "SPOTCONNECT_DEVICE_NAME",
		"device_type": "SPOTCONNECT_DEVICE_TYPE",
		"log_level":   "SPOTCONNECT_LOG_LEVEL",
	}
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			// Config file not found; rely on env vars and defaults.
		} else {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if opts.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("getting hostname: %w", err)
		}
		opts.DeviceName = hostname
	}

	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &opts, nil
}

// Validate checks invariants that defaults alone cannot guarantee.
func (o *Options) Validate() error {
	if o.CommandQueueCapacity <= 0 {
		return fmt.Errorf("command_queue_capacity must be positive")
	}
	if o.InitialVolume < 0 || o.InitialVolume > 65535 {
		return fmt.Errorf("initial_volume must be within [0, 65535]")
	}
	if o.VolumeSteps <= 0 {
		return fmt.Errorf("volume_steps must be positive")
	}
	return nil
}
