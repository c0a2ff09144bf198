// Package config loads the server configuration from defaults, an optional
// YAML file and PLAYGROUND_* environment variables, in increasing precedence.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"

	"github.com/sakif/live-playground/internal/runtime"
	"github.com/sakif/live-playground/internal/runtime/docker"
)

// EnvPrefix namespaces environment overrides: runtime.ready_timeout is read
// from PLAYGROUND_RUNTIME_READY_TIMEOUT.
const EnvPrefix = "PLAYGROUND"

type Config struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	DBPath   string `mapstructure:"db_path"`
	// JWTSecret signs run tokens. When empty a random secret is generated,
	// so tokens do not survive a restart.
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`

	Runtime RuntimeConfig `mapstructure:"runtime"`
}

type RuntimeConfig struct {
	Image   string `mapstructure:"image"`
	WorkDir string `mapstructure:"workdir"`
	Ports   []int  `mapstructure:"ports"`
	// MemoryLimit is a size such as "512m" or "1g".
	MemoryLimit  string        `mapstructure:"memory_limit"`
	CPULimit     float64       `mapstructure:"cpu_limit"`
	Network      string        `mapstructure:"network"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	KillTimeout  time.Duration `mapstructure:"kill_timeout"`
}

func setDefaults(v *viper.Viper) {
	dc := docker.DefaultConfig()
	rc := runtime.DefaultConfig()

	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("db_path", "data/playground.db")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("token_ttl", time.Hour)

	v.SetDefault("runtime.image", dc.Image)
	v.SetDefault("runtime.workdir", dc.WorkDir)
	v.SetDefault("runtime.ports", dc.Ports)
	v.SetDefault("runtime.memory_limit", units.BytesSize(float64(dc.MemoryLimit)))
	v.SetDefault("runtime.cpu_limit", dc.CPULimit)
	v.SetDefault("runtime.network", dc.NetworkMode)
	v.SetDefault("runtime.ready_timeout", rc.ReadyTimeout)
	v.SetDefault("runtime.grace_period", rc.GracePeriod)
	v.SetDefault("runtime.kill_timeout", dc.KillTimeout)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the server could not start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", c.Port))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path must be set"))
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("jwt_secret must be at least 16 characters"))
	}

	r := c.Runtime
	if r.Image == "" {
		errs = append(errs, errors.New("runtime.image must be set"))
	}
	if !strings.HasPrefix(r.WorkDir, "/") {
		errs = append(errs, fmt.Errorf("runtime.workdir %q must be absolute", r.WorkDir))
	}
	if len(r.Ports) == 0 {
		errs = append(errs, errors.New("runtime.ports must list at least one port"))
	}
	for _, p := range r.Ports {
		if p < 1 || p > 65535 {
			errs = append(errs, fmt.Errorf("runtime port %d is out of range", p))
		}
	}
	if _, err := units.RAMInBytes(r.MemoryLimit); err != nil {
		errs = append(errs, fmt.Errorf("runtime.memory_limit: %w", err))
	}
	if r.CPULimit <= 0 {
		errs = append(errs, errors.New("runtime.cpu_limit must be positive"))
	}
	if r.ReadyTimeout <= 0 {
		errs = append(errs, errors.New("runtime.ready_timeout must be positive"))
	}
	if r.GracePeriod < 0 || r.KillTimeout < 0 {
		errs = append(errs, errors.New("runtime durations must not be negative"))
	}
	return errors.Join(errs...)
}

// Level is the slog level named by log_level.
func (c *Config) Level() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", s, err)
	}
	return l, nil
}

// Secret returns JWTSecret, or a fresh random secret when none is configured.
func (c *Config) Secret() (secret string, generated bool, err error) {
	if c.JWTSecret != "" {
		return c.JWTSecret, false, nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", false, fmt.Errorf("generating jwt secret: %w", err)
	}
	return hex.EncodeToString(b), true, nil
}

// Docker is the container runtime configuration.
func (r RuntimeConfig) Docker() docker.Config {
	cfg := docker.DefaultConfig()
	cfg.Image = r.Image
	cfg.WorkDir = r.WorkDir
	cfg.Ports = append([]int(nil), r.Ports...)
	if mem, err := units.RAMInBytes(r.MemoryLimit); err == nil {
		cfg.MemoryLimit = mem
	}
	cfg.CPULimit = r.CPULimit
	cfg.NetworkMode = r.Network
	cfg.KillTimeout = r.KillTimeout
	return cfg
}

// Orchestrator is the process orchestrator configuration.
func (r RuntimeConfig) Orchestrator() runtime.Config {
	cfg := runtime.DefaultConfig()
	cfg.ReadyTimeout = r.ReadyTimeout
	cfg.GracePeriod = r.GracePeriod
	return cfg
}
