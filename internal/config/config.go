package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/stackctl/internal/endpoint"
	"github.com/loykin/stackctl/internal/env"
	"github.com/loykin/stackctl/internal/image"
	"github.com/loykin/stackctl/internal/infra"
	"github.com/loykin/stackctl/internal/logger"
	"github.com/loykin/stackctl/internal/process"
	"github.com/loykin/stackctl/internal/readiness"
)

// EnvPrefix is the prefix of environment variables that override config keys,
// e.g. STACKCTL_BACKEND_BASE_URL for backend.base_url.
const EnvPrefix = "STACKCTL"

// Config is the whole stackctl configuration.
type Config struct {
	PIDDir    string          `mapstructure:"pid_dir"`
	LogDir    string          `mapstructure:"log_dir"`
	Env       []string        `mapstructure:"env"`
	EnvFiles  []string        `mapstructure:"env_files"`
	Log       logger.Config   `mapstructure:"log"`
	Images    ImagesConfig    `mapstructure:"images"`
	Infra     InfraConfig     `mapstructure:"infra"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Verify    VerifyConfig    `mapstructure:"verify"`
	History   HistoryConfig   `mapstructure:"history"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`

	// File is the config file that was read, empty when running on defaults.
	File string `mapstructure:"-"`
}

type ImagesConfig struct {
	image.RetryPolicy `mapstructure:",squash"`

	Refs []string `mapstructure:"refs"`
}

type InfraConfig struct {
	infra.Config `mapstructure:",squash"`

	Poll   readiness.PollPolicy `mapstructure:"poll"`
	Probes []ProbeConfig        `mapstructure:"probes"`
}

// ProbeConfig declares one infra readiness check.
//
//	exec:     Service + Command, run inside the container
//	command:  Command, run on the host
//	postgres: DSN
//	redis:    Addr (+ Password, DB)
//	http:     URL
type ProbeConfig struct {
	Type     string        `mapstructure:"type"`
	Service  string        `mapstructure:"service"`
	Command  string        `mapstructure:"command"`
	DSN      string        `mapstructure:"dsn"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	URL      string        `mapstructure:"url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type BackendConfig struct {
	Name        string               `mapstructure:"name"`
	Command     string               `mapstructure:"command"`
	WorkDir     string               `mapstructure:"work_dir"`
	Env         []string             `mapstructure:"env"`
	Signature   string               `mapstructure:"signature"`
	BaseURL     string               `mapstructure:"base_url"`
	HealthPath  string               `mapstructure:"health_path"`
	StopPath    string               `mapstructure:"stop_path"`
	StopTimeout time.Duration        `mapstructure:"stop_timeout"`
	GracePeriod time.Duration        `mapstructure:"grace_period"`
	Poll        readiness.PollPolicy `mapstructure:"poll"`
}

type DashboardConfig struct {
	Enabled     bool                 `mapstructure:"enabled"`
	Name        string               `mapstructure:"name"`
	Command     string               `mapstructure:"command"`
	WorkDir     string               `mapstructure:"work_dir"`
	Env         []string             `mapstructure:"env"`
	Signature   string               `mapstructure:"signature"`
	HealthURL   string               `mapstructure:"health_url"`
	GracePeriod time.Duration        `mapstructure:"grace_period"`
	Poll        readiness.PollPolicy `mapstructure:"poll"`
}

type VerifyConfig struct {
	Command string        `mapstructure:"command"`
	WorkDir string        `mapstructure:"work_dir"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pid_dir", ".stackctl/run")
	v.SetDefault("log_dir", ".stackctl/logs")
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.no_color", false)

	v.SetDefault("images.refs", []string{"postgres:15-alpine", "redis:7-alpine"})
	v.SetDefault("images.max_attempts", image.DefaultMaxAttempts)
	v.SetDefault("images.delay", image.DefaultRetryDelay)
	v.SetDefault("images.attempt_timeout", image.DefaultAttemptTimeout)

	v.SetDefault("infra.compose_command", infra.DefaultComposeCommand)
	v.SetDefault("infra.compose_file", infra.DefaultComposeFile)
	v.SetDefault("infra.project", "")
	v.SetDefault("infra.services", []string{"postgres", "redis"})
	v.SetDefault("infra.settle_delay", infra.DefaultSettleDelay)
	v.SetDefault("infra.poll.max_iterations", 30)
	v.SetDefault("infra.poll.interval", 2*time.Second)
	v.SetDefault("infra.probes", []map[string]any{
		{"type": "exec", "service": "postgres", "command": "pg_isready -U postgres"},
		{"type": "exec", "service": "redis", "command": "redis-cli ping"},
	})

	v.SetDefault("backend.name", "backend")
	v.SetDefault("backend.command", "uvicorn app.main:app --host 0.0.0.0 --port 8000")
	v.SetDefault("backend.work_dir", "")
	v.SetDefault("backend.env", []string{})
	v.SetDefault("backend.signature", "uvicorn app.main:app")
	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.health_path", endpoint.DefaultHealthPath)
	v.SetDefault("backend.stop_path", endpoint.DefaultStopPath)
	v.SetDefault("backend.stop_timeout", endpoint.DefaultTimeout)
	v.SetDefault("backend.grace_period", 10*time.Second)
	v.SetDefault("backend.poll.max_iterations", 15)
	v.SetDefault("backend.poll.interval", 2*time.Second)

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.name", "dashboard")
	v.SetDefault("dashboard.command", "streamlit run ui/dashboard.py --server.port 8501 --server.headless true")
	v.SetDefault("dashboard.work_dir", "")
	v.SetDefault("dashboard.env", []string{"API_URL=http://localhost:8000"})
	v.SetDefault("dashboard.signature", "streamlit run ui/dashboard.py")
	v.SetDefault("dashboard.health_url", "http://localhost:8501/_stcore/health")
	v.SetDefault("dashboard.grace_period", 5*time.Second)
	v.SetDefault("dashboard.poll.max_iterations", 15)
	v.SetDefault("dashboard.poll.interval", 2*time.Second)

	v.SetDefault("verify.command", "python verify_algo.py")
	v.SetDefault("verify.work_dir", "")
	v.SetDefault("verify.timeout", 2*time.Minute)

	v.SetDefault("history.dsn", "")
	v.SetDefault("metrics.textfile", "")
}

// Load reads path (TOML) over the built-in defaults and STACKCTL_* overrides.
// A missing file is an error only when required is set.
func Load(path string, required bool) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file := ""
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) || required {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else {
			file = path
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = file
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolvePaths anchors relative paths at the config file's directory.
func (c *Config) resolvePaths() {
	if c.File == "" {
		return
	}
	base := filepath.Dir(c.File)
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.PIDDir = abs(c.PIDDir)
	c.LogDir = abs(c.LogDir)
	c.Log.File = abs(c.Log.File)
	c.Infra.ComposeFile = abs(c.Infra.ComposeFile)
	c.Backend.WorkDir = abs(c.Backend.WorkDir)
	c.Dashboard.WorkDir = abs(c.Dashboard.WorkDir)
	c.Verify.WorkDir = abs(c.Verify.WorkDir)
	c.Metrics.Textfile = abs(c.Metrics.Textfile)
	for i, f := range c.EnvFiles {
		c.EnvFiles[i] = abs(f)
	}
}

// Validate rejects settings the launch and shutdown paths cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Images.MaxAttempts < 1 {
		errs = append(errs, errors.New("images.max_attempts must be at least 1"))
	}
	for _, r := range c.Images.Refs {
		if _, err := image.ParseRef(r); err != nil {
			errs = append(errs, fmt.Errorf("images.refs: %w", err))
		}
	}
	if strings.TrimSpace(c.Infra.ComposeCommand) == "" {
		errs = append(errs, errors.New("infra.compose_command is required"))
	}
	if c.Infra.Poll.MaxIterations < 1 {
		errs = append(errs, errors.New("infra.poll.max_iterations must be at least 1"))
	}
	for i, p := range c.Infra.Probes {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("infra.probes[%d]: %w", i, err))
		}
	}
	if strings.TrimSpace(c.Backend.Command) == "" {
		errs = append(errs, errors.New("backend.command is required"))
	}
	if strings.TrimSpace(c.Backend.Name) == "" {
		errs = append(errs, errors.New("backend.name is required"))
	}
	if c.Backend.Poll.MaxIterations < 1 {
		errs = append(errs, errors.New("backend.poll.max_iterations must be at least 1"))
	}
	if c.Dashboard.Enabled && strings.TrimSpace(c.Dashboard.Command) == "" {
		errs = append(errs, errors.New("dashboard.command is required when the dashboard is enabled"))
	}
	if strings.TrimSpace(c.Dashboard.Name) == "" {
		errs = append(errs, errors.New("dashboard.name is required"))
	}
	if c.PIDDir == "" {
		errs = append(errs, errors.New("pid_dir is required"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

func (p ProbeConfig) Validate() error {
	switch p.Type {
	case "exec":
		if p.Service == "" || strings.TrimSpace(p.Command) == "" {
			return errors.New("exec probe needs service and command")
		}
	case "command":
		if strings.TrimSpace(p.Command) == "" {
			return errors.New("command probe needs command")
		}
	case "postgres":
		if p.DSN == "" {
			return errors.New("postgres probe needs dsn")
		}
	case "redis":
		if p.Addr == "" {
			return errors.New("redis probe needs addr")
		}
	case "http":
		if p.URL == "" {
			return errors.New("http probe needs url")
		}
	default:
		return fmt.Errorf("unknown probe type %q", p.Type)
	}
	return nil
}

// Environment builds the shared environment for owned processes: the OS
// environment, then env_files in order, then the top-level env list.
func (c *Config) Environment() (*env.Env, error) {
	e := env.New()
	for _, f := range c.EnvFiles {
		if err := e.LoadFile(f); err != nil {
			return nil, fmt.Errorf("env file %s: %w", f, err)
		}
	}
	e.SetPairs(c.Env)
	return e, nil
}

// BackendSpec is the process description of the backend service.
func (c *Config) BackendSpec() process.Spec {
	return c.processSpec(c.Backend.Name, c.Backend.Command, c.Backend.WorkDir, c.Backend.Env)
}

// DashboardSpec is the process description of the dashboard.
func (c *Config) DashboardSpec() process.Spec {
	return c.processSpec(c.Dashboard.Name, c.Dashboard.Command, c.Dashboard.WorkDir, c.Dashboard.Env)
}

func (c *Config) processSpec(name, command, workDir string, extra []string) process.Spec {
	s := process.Spec{
		Name:    name,
		Command: command,
		WorkDir: workDir,
		Env:     extra,
		PIDFile: filepath.Join(c.PIDDir, name+".pid"),
	}
	if c.LogDir != "" {
		s.LogFile = filepath.Join(c.LogDir, name+".log")
	}
	return s
}

// Endpoint is the client for the backend's control routes.
func (c *Config) Endpoint() endpoint.Client {
	return endpoint.Client{
		BaseURL:    c.Backend.BaseURL,
		HealthPath: c.Backend.HealthPath,
		StopPath:   c.Backend.StopPath,
		Timeout:    c.Backend.StopTimeout,
	}
}

// EnsureDirs creates the pid and log directories.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.PIDDir, c.LogDir} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}
