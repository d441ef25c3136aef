package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration. It is loaded once at startup and
// read-only afterwards.
type Config struct {
	OBS     OBSConfig     `mapstructure:"obs" yaml:"obs"`
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
}

// OBSConfig describes the obs-websocket endpoint and the recorder-side
// objects the controller manages.
type OBSConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Password string `mapstructure:"password" yaml:"password"`

	Scene     string `mapstructure:"scene" yaml:"scene"`
	InputName string `mapstructure:"input_name" yaml:"input_name"`
	InputKind string `mapstructure:"input_kind" yaml:"input_kind"`
	DeviceID  string `mapstructure:"device_id" yaml:"device_id"`

	// RemoveInput removes the mic input on call end instead of disabling it.
	RemoveInput bool `mapstructure:"remove_input" yaml:"remove_input"`

	// CallTimeout bounds every protocol request, including the handshake.
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// MonitorConfig drives the session observer and the controller's timing.
type MonitorConfig struct {
	// ProcessNames are matched case-insensitively against the owning process
	// of each capture session.
	ProcessNames []string `mapstructure:"process_names" yaml:"process_names"`

	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// DebounceWindow is how long a capture session must stay active before a
	// call counts as answered.
	DebounceWindow time.Duration `mapstructure:"debounce_window" yaml:"debounce_window"`

	// GraceWindow is how long the session must stay inactive before the call
	// counts as ended, so hold/mute gaps do not split a recording.
	GraceWindow time.Duration `mapstructure:"grace_window" yaml:"grace_window"`
}

// ServerConfig configures the local status endpoint.
type ServerConfig struct {
	// StatusAddr is the listen address for the status endpoint, e.g.
	// "127.0.0.1:8989". Empty disables the endpoint.
	StatusAddr string `mapstructure:"status_addr" yaml:"status_addr"`
}

// Default returns the built-in configuration, matching OBS's stock websocket
// port and a sipgate softphone target.
func Default() *Config {
	return &Config{
		OBS: OBSConfig{
			Host:        "localhost",
			Port:        4455,
			Scene:       "sipgate_scene",
			InputName:   "Dynamic Mic",
			InputKind:   "wasapi_input_capture",
			DeviceID:    "default",
			CallTimeout: 5 * time.Second,
		},
		Monitor: MonitorConfig{
			ProcessNames:   []string{"sipgate.exe"},
			PollInterval:   1 * time.Second,
			DebounceWindow: 3 * time.Second,
			GraceWindow:    2 * time.Second,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return os.ExpandEnv(filepath.Join("$HOME", ".config", "callcapture.yaml"))
}

// Load reads and validates the configuration file. Any validation failure is
// fatal for the caller: the monitor must not start with undefined endpoints.
func Load(configFile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix("CALLCAPTURE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks every field the monitor loop depends on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OBS.Host) == "" {
		return fmt.Errorf("obs.host is required")
	}
	if c.OBS.Port < 1 || c.OBS.Port > 65535 {
		return fmt.Errorf("obs.port must be in 1..65535, got: %d", c.OBS.Port)
	}
	if strings.TrimSpace(c.OBS.Scene) == "" {
		return fmt.Errorf("obs.scene is required")
	}
	if strings.TrimSpace(c.OBS.InputName) == "" {
		return fmt.Errorf("obs.input_name is required")
	}
	if strings.TrimSpace(c.OBS.InputKind) == "" {
		return fmt.Errorf("obs.input_kind is required")
	}
	if strings.TrimSpace(c.OBS.DeviceID) == "" {
		return fmt.Errorf("obs.device_id is required")
	}
	if c.OBS.CallTimeout <= 0 {
		return fmt.Errorf("obs.call_timeout must be > 0, got: %s", c.OBS.CallTimeout)
	}

	if len(c.Monitor.ProcessNames) == 0 {
		return fmt.Errorf("monitor.process_names must list at least one process")
	}
	for i, name := range c.Monitor.ProcessNames {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("monitor.process_names[%d] must not be empty", i)
		}
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be > 0, got: %s", c.Monitor.PollInterval)
	}
	if c.Monitor.DebounceWindow < 0 {
		return fmt.Errorf("monitor.debounce_window must be >= 0, got: %s", c.Monitor.DebounceWindow)
	}
	if c.Monitor.GraceWindow < 0 {
		return fmt.Errorf("monitor.grace_window must be >= 0, got: %s", c.Monitor.GraceWindow)
	}

	return nil
}

// Endpoint returns the obs-websocket URL for this configuration.
func (c *OBSConfig) Endpoint() string {
	return fmt.Sprintf("ws://%s:%d", c.Host, c.Port)
}
