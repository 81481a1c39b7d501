package core

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/3cpo-dev/fusebench/internal/mount"
	"github.com/3cpo-dev/fusebench/internal/platform"
)

type Config struct {
	Platform struct {
		APIServer         string  `yaml:"api_server"`
		Token             string  `yaml:"token"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Retries           int     `yaml:"retries"`
		TimeoutSeconds    int     `yaml:"timeout_seconds"`
		PollSeconds       int     `yaml:"poll_seconds"`
	} `yaml:"platform"`
	Mount struct {
		Binary              string   `yaml:"binary"`
		Sudo                bool     `yaml:"sudo"`
		UnmountCommand      []string `yaml:"unmount_command"`
		ReadyTimeoutSeconds int      `yaml:"ready_timeout_seconds"`
	} `yaml:"mount"`
	Download struct {
		Binary string `yaml:"binary"`
	} `yaml:"download"`
	Workdir struct {
		Base        string `yaml:"base"`
		Home        string `yaml:"home"`
		BenchFolder string `yaml:"bench_folder"`
	} `yaml:"workdir"`
	Runner struct {
		AppletFolder      string `yaml:"applet_folder"`
		BenchmarkApplet   string `yaml:"benchmark_applet"`
		CorrectnessApplet string `yaml:"correctness_applet"`
		KeepaliveSeconds  int    `yaml:"keepalive_seconds"`
		ConcurrentWait    bool   `yaml:"concurrent_wait"`
	} `yaml:"runner"`
	History struct {
		Path string `yaml:"path"`
	} `yaml:"history"`
}

// DefaultConfig returns the settings used when no config file exists.
func DefaultConfig() Config {
	var cfg Config
	cfg.Platform.APIServer = platform.DefaultAPIServer
	cfg.Platform.RequestsPerSecond = 10
	cfg.Platform.Retries = 3
	cfg.Platform.TimeoutSeconds = 30
	cfg.Platform.PollSeconds = 15
	cfg.Mount.Binary = "/go/bin/dxfuse"
	cfg.Mount.Sudo = true
	cfg.Mount.ReadyTimeoutSeconds = 30
	cfg.Download.Binary = "dx"
	cfg.Workdir.BenchFolder = "benchmarks"
	cfg.Runner.AppletFolder = "/applets"
	cfg.Runner.BenchmarkApplet = "dxfuse_benchmark"
	cfg.Runner.CorrectnessApplet = "dxfuse_correctness"
	cfg.Runner.KeepaliveSeconds = 60
	return cfg
}

// DefaultConfigDir resolves $XDG_CONFIG_HOME/fusebench or ~/.config/fusebench.
func DefaultConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "fusebench")
}

// LoadConfig reads YAML configuration from a path over DefaultConfig. If path
// is empty the default location is used and a missing file is not an error.
// Secrets from secrets.env and the environment are merged last.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = filepath.Join(DefaultConfigDir(), "config.yaml")
	}

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return cfg, fmt.Errorf("open config: %w", err)
	}

	secrets, err := LoadSecretsEnv(filepath.Join(filepath.Dir(path), "secrets.env"))
	if err != nil {
		return cfg, err
	}
	if err := applyPlatformEnv(&cfg, secrets); err != nil {
		return cfg, err
	}

	if cfg.Workdir.Home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, fmt.Errorf("resolve home: %w", err)
		}
		cfg.Workdir.Home = home
	}
	if cfg.Workdir.Base == "" {
		cfg.Workdir.Base = filepath.Join(cfg.Workdir.Home, "dxfs2_test")
	}
	return cfg, nil
}

func (c Config) PlatformConfig() platform.Config {
	return platform.Config{
		APIServer:         c.Platform.APIServer,
		Token:             c.Platform.Token,
		RequestsPerSecond: c.Platform.RequestsPerSecond,
		Retries:           c.Platform.Retries,
		Timeout:           time.Duration(c.Platform.TimeoutSeconds) * time.Second,
		PollInterval:      time.Duration(c.Platform.PollSeconds) * time.Second,
	}
}

func (c Config) MountConfig() mount.Config {
	return mount.Config{
		Binary:         c.Mount.Binary,
		Sudo:           c.Mount.Sudo,
		UnmountCommand: c.Mount.UnmountCommand,
		ReadyTimeout:   time.Duration(c.Mount.ReadyTimeoutSeconds) * time.Second,
	}
}

func (c Config) WorkDirs() WorkDirs { return NewWorkDirs(c.Workdir.Base) }

func (c Config) KeepAliveInterval() time.Duration {
	return time.Duration(c.Runner.KeepaliveSeconds) * time.Second
}
