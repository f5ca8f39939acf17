// Package config loads the mediator configuration through viper: built-in
// defaults, an optional YAML file and DEBUG_MEDIATOR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fansqz/go-debug-mediator/constants"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// DEBUG_MEDIATOR_SERVER_ADDR=:9000.
const EnvPrefix = "DEBUG_MEDIATOR"

// Config is the root configuration.
type Config struct {
	Server      ServerConfig             `mapstructure:"server"`
	Log         LogConfig                `mapstructure:"log"`
	Timing      TimingConfig             `mapstructure:"timing"`
	Session     SessionConfig            `mapstructure:"session"`
	Classifier  ClassifierConfig         `mapstructure:"classifier"`
	Adapters    map[string]AdapterConfig `mapstructure:"adapters"`
	Breakpoints BreakpointsConfig        `mapstructure:"breakpoints"`
}

// ServerConfig configures the MCP endpoint.
type ServerConfig struct {
	// Transport is "http" (streamable HTTP) or "stdio".
	Transport string `mapstructure:"transport"`
	Addr      string `mapstructure:"addr"`
}

// LogConfig configures logrus.
type LogConfig struct {
	// Path is the log file; empty logs to stderr.
	Path   string `mapstructure:"path"`
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TimingConfig holds the settle intervals. They only absorb typical adapter
// latency before the first refresh; correctness never depends on them.
type TimingConfig struct {
	StartSettle       time.Duration `mapstructure:"start_settle"`
	StepSettle        time.Duration `mapstructure:"step_settle"`
	BreakpointSettle  time.Duration `mapstructure:"breakpoint_settle"`
	StopWait          time.Duration `mapstructure:"stop_wait"`
	InitializeTimeout time.Duration `mapstructure:"initialize_timeout"`
}

// SessionConfig configures stack fetching.
type SessionConfig struct {
	StackDepth int `mapstructure:"stack_depth"`
}

// ClassifierConfig configures the event-loop classifier.
type ClassifierConfig struct {
	ProximityWindow int `mapstructure:"proximity_window"`
	// FallbackWithoutProbe lets path/name heuristics alone classify a false
	// pause when the runtime has no task-count probe.
	FallbackWithoutProbe bool                    `mapstructure:"fallback_without_probe"`
	Policies             map[string]PolicyConfig `mapstructure:"policies"`
}

// PolicyConfig extends the built-in heuristics of one adapter type.
type PolicyConfig struct {
	Paths     []string `mapstructure:"paths"`
	Functions []string `mapstructure:"functions"`
	Probe     string   `mapstructure:"probe"`
}

// AdapterConfig describes how to spawn a debug adapter. The placeholder
// {port} in Args is replaced with a free local port for tcp adapters.
type AdapterConfig struct {
	Command     string   `mapstructure:"command"`
	Args        []string `mapstructure:"args"`
	Transport   string   `mapstructure:"transport"`
	AttachStyle string   `mapstructure:"attach_style"`
}

// BreakpointsConfig configures breakpoint persistence.
type BreakpointsConfig struct {
	// StorePath is a YAML file; empty disables persistence.
	StorePath string `mapstructure:"store_path"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "http")
	v.SetDefault("server.addr", "127.0.0.1:8889")
	v.SetDefault("log.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("timing.start_settle", "1s")
	v.SetDefault("timing.step_settle", "1500ms")
	v.SetDefault("timing.breakpoint_settle", "200ms")
	v.SetDefault("timing.stop_wait", "2s")
	v.SetDefault("timing.initialize_timeout", "10s")
	v.SetDefault("session.stack_depth", 20)
	v.SetDefault("classifier.proximity_window", 5)
	v.SetDefault("classifier.fallback_without_probe", false)
	v.SetDefault("breakpoints.store_path", "")

	v.SetDefault("adapters.python", map[string]interface{}{
		"command":      "python3",
		"args":         []string{"-m", "debugpy.adapter"},
		"transport":    string(constants.TransportStdio),
		"attach_style": string(constants.AttachConnect),
	})
	v.SetDefault("adapters.node", map[string]interface{}{
		"command":      "js-debug-adapter",
		"args":         []string{"{port}", "127.0.0.1"},
		"transport":    string(constants.TransportTCP),
		"attach_style": string(constants.AttachAddress),
	})
	v.SetDefault("adapters.go", map[string]interface{}{
		"command":      "dlv",
		"args":         []string{"dap", "--listen", "127.0.0.1:{port}"},
		"transport":    string(constants.TransportTCP),
		"attach_style": string(constants.AttachTopLevel),
	})
	v.SetDefault("adapters.lldb", map[string]interface{}{
		"command":      "lldb-dap",
		"args":         []string{},
		"transport":    string(constants.TransportStdio),
		"attach_style": string(constants.AttachTopLevel),
	})
}

// Load reads configuration into a Config. cfgFile may be empty, in which case
// debug-mediator.yaml is looked up in the working directory and in
// $HOME/.config/debug-mediator; a missing file is not an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("debug-mediator")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/debug-mediator")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfgFile != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case "http", "stdio":
	default:
		return fmt.Errorf("server.transport must be http or stdio, got %q", c.Server.Transport)
	}
	if c.Session.StackDepth <= 0 {
		return fmt.Errorf("session.stack_depth must be positive, got %d", c.Session.StackDepth)
	}
	if c.Classifier.ProximityWindow < 0 {
		return fmt.Errorf("classifier.proximity_window must not be negative, got %d", c.Classifier.ProximityWindow)
	}
	for name, a := range c.Adapters {
		if a.Command == "" {
			return fmt.Errorf("adapters.%s.command is empty", name)
		}
		switch constants.TransportType(a.Transport) {
		case constants.TransportStdio, constants.TransportTCP:
		default:
			return fmt.Errorf("adapters.%s.transport must be stdio or tcp, got %q", name, a.Transport)
		}
	}
	return nil
}

// Adapter returns the adapter configuration for t.
func (c *Config) Adapter(t constants.AdapterType) (AdapterConfig, bool) {
	a, ok := c.Adapters[string(t)]
	return a, ok
}
