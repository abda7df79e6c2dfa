package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/frpmon/internal/history"
	"github.com/loykin/frpmon/internal/logger"
	"github.com/loykin/frpmon/internal/metrics"
	"github.com/loykin/frpmon/internal/relay"
	"github.com/loykin/frpmon/internal/runner"
	"github.com/loykin/frpmon/internal/supervisor"
	apitls "github.com/loykin/frpmon/internal/tls"
	"github.com/loykin/frpmon/internal/watchdog"
)

// EnvPrefix prefixes environment overrides, e.g. FRPMON_SERVER_LISTEN.
const EnvPrefix = "FRPMON"

// Config is the daemon configuration file.
type Config struct {
	Runner   RunnerConfig   `mapstructure:"runner"`
	Watchdog WatchdogConfig `mapstructure:"watchdog"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Server   ServerConfig   `mapstructure:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	History  HistoryConfig  `mapstructure:"history"`
	Log      logger.Config  `mapstructure:"log"`
	LockFile string         `mapstructure:"lock_file"`
}

type RunnerConfig struct {
	Exe     string   `mapstructure:"exe"`
	Args    []string `mapstructure:"args"`
	WorkDir string   `mapstructure:"work_dir"`
	Env     []string `mapstructure:"env"`
	// EnvFiles are .env files layered under Env, in order.
	EnvFiles     []string          `mapstructure:"env_files"`
	PollInterval time.Duration     `mapstructure:"poll_interval"`
	Autostart    bool              `mapstructure:"autostart"`
	GroupKill    bool              `mapstructure:"group_kill"`
	Log          logger.FileConfig `mapstructure:"log"`
}

type WatchdogConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Path       string        `mapstructure:"path"`
	GroupGrace time.Duration `mapstructure:"group_grace"`
	PIDGrace   time.Duration `mapstructure:"pid_grace"`
	LogFile    string        `mapstructure:"log_file"`
}

type RelayConfig struct {
	SampleInterval time.Duration    `mapstructure:"sample_interval"`
	Proxies        []relay.Endpoint `mapstructure:"proxies"`
}

type ServerConfig struct {
	Listen   string         `mapstructure:"listen"`
	BasePath string         `mapstructure:"base_path"`
	TLS      apitls.Options `mapstructure:"tls"`
}

type MetricsConfig struct {
	Listen    string                       `mapstructure:"listen"`
	Resources metrics.ProcessMetricsConfig `mapstructure:"resources"`
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("runner.exe", "")
	v.SetDefault("runner.args", []string{})
	v.SetDefault("runner.work_dir", "")
	v.SetDefault("runner.poll_interval", runner.DefaultPollInterval)
	v.SetDefault("runner.autostart", false)
	v.SetDefault("runner.group_kill", false)
	v.SetDefault("runner.log.dir", "")
	v.SetDefault("watchdog.enabled", true)
	v.SetDefault("watchdog.path", "")
	v.SetDefault("watchdog.group_grace", watchdog.DefaultGroupGrace)
	v.SetDefault("watchdog.pid_grace", watchdog.DefaultPIDGrace)
	v.SetDefault("watchdog.log_file", "")
	v.SetDefault("relay.sample_interval", relay.DefaultSampleInterval)
	v.SetDefault("server.listen", "127.0.0.1:7400")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.self_signed", false)
	v.SetDefault("server.tls.min_version", "")
	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.resources.enabled", false)
	v.SetDefault("metrics.resources.interval", 5*time.Second)
	v.SetDefault("metrics.resources.max_history", 100)
	v.SetDefault("history.dsn", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.path", "")
	v.SetDefault("lock_file", filepath.Join(os.TempDir(), "frpmon.lock"))
}

// Load reads path (any viper format, TOML when the extension says nothing),
// applies FRPMON_* environment overrides and validates the result. An empty
// path yields the defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == "" {
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the constraints Load enforces.
func (c *Config) Validate() error {
	var errs []error
	if c.Runner.Autostart && strings.TrimSpace(c.Runner.Exe) == "" {
		errs = append(errs, errors.New("runner.exe is required when runner.autostart is set"))
	}
	if c.Runner.PollInterval <= 0 {
		errs = append(errs, errors.New("runner.poll_interval must be positive"))
	}
	if c.Relay.SampleInterval <= 0 {
		errs = append(errs, errors.New("relay.sample_interval must be positive"))
	}
	if c.Watchdog.GroupGrace < 0 || c.Watchdog.PIDGrace < 0 {
		errs = append(errs, errors.New("watchdog grace intervals must not be negative"))
	}
	if err := relay.ValidateEndpoints(c.Relay.Proxies); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path %q must start with /", c.Server.BasePath))
	}
	if err := c.Server.TLS.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RunnerSpec builds the launch spec of the managed executable. Variables from
// env files come first so the inline env list wins.
func (c *Config) RunnerSpec() (runner.Spec, error) {
	var env []string
	for _, p := range c.Runner.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return runner.Spec{}, fmt.Errorf("config: env file %s: %w", p, err)
		}
		env = append(env, pairs...)
	}
	env = append(env, c.Runner.Env...)
	return runner.Spec{
		Exe:       c.Runner.Exe,
		Args:      append([]string(nil), c.Runner.Args...),
		WorkDir:   c.Runner.WorkDir,
		Env:       env,
		GroupKill: c.Runner.GroupKill,
		Log:       c.Runner.Log,
	}, nil
}

// SupervisorOptions maps the file onto supervisor options.
func (c *Config) SupervisorOptions(log *slog.Logger, sinks []history.Sink) supervisor.Options {
	return supervisor.Options{
		Watchdog: supervisor.WatchdogOptions{
			Enabled: c.Watchdog.Enabled,
			Link: watchdog.LinkOptions{
				Path:       c.Watchdog.Path,
				GroupGrace: c.Watchdog.GroupGrace,
				PIDGrace:   c.Watchdog.PIDGrace,
				LogFile:    c.Watchdog.LogFile,
			},
		},
		PollInterval:   c.Runner.PollInterval,
		SampleInterval: c.Relay.SampleInterval,
		History:        sinks,
		Resources:      c.Metrics.Resources,
		Logger:         log,
	}
}

// LoadEnvFile parses a .env file into "KEY=VALUE" entries in file order.
// Blank lines and lines starting with # are skipped; an "export " prefix and
// surrounding quotes are dropped.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
			v = v[1 : len(v)-1]
		}
		if k != "" {
			out = append(out, k+"="+v)
		}
	}
	return out, nil
}
