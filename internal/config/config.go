// Package config loads the Orchestrator's configuration from
// configuration.yml (spec section 6) layered under environment variable
// overrides, following the same env-default pattern as the teacher's
// internal/config/config.go (apps/ReleaseParty/backend).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Application struct {
	Port      int    `yaml:"port"`
	Domain    string `yaml:"domain"`
	BodyLimit int64  `yaml:"bodylimit"`
}

type Database struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
}

type Grafana struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type Config struct {
	Application Application `yaml:"application"`
	Database    Database    `yaml:"database"`
	Grafana     Grafana     `yaml:"grafana"`

	// GitBase overrides the bare-repo root; GIT_BASE env var per spec section 6.
	GitBase string `yaml:"-"`
	// LogFilter holds the RUST_LOG-style filter (RUST_LOG, then LOG_FILTER,
	// default "info"); nothing reads it after Load.
	LogFilter string `yaml:"-"`
}

const defaultBodyLimit = 500 << 20 // 500 MiB, spec section 4.1 minimum.

func defaults() Config {
	return Config{
		Application: Application{
			Port:      8080,
			Domain:    "localhost",
			BodyLimit: defaultBodyLimit,
		},
		Database: Database{
			Port: 5432,
			Name: "pemasak",
		},
		GitBase: "git-repo",
	}
}

// Load reads configuration.yml from path (if present) and applies
// environment variable overrides on top. A missing file is not an error —
// defaults plus environment variables are enough to boot.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if v := env("APPLICATION_PORT", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("APPLICATION_PORT: %w", err)
		}
		cfg.Application.Port = n
	}
	cfg.Application.Domain = env("APPLICATION_DOMAIN", cfg.Application.Domain)
	if v := env("APPLICATION_BODYLIMIT", ""); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("APPLICATION_BODYLIMIT: %w", err)
		}
		cfg.Application.BodyLimit = n
	}
	if cfg.Application.BodyLimit < defaultBodyLimit {
		cfg.Application.BodyLimit = defaultBodyLimit
	}

	cfg.Database.User = env("DATABASE_USER", cfg.Database.User)
	cfg.Database.Password = env("DATABASE_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = env("DATABASE_NAME", cfg.Database.Name)
	if v := env("DATABASE_PORT", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("DATABASE_PORT: %w", err)
		}
		cfg.Database.Port = n
	}

	cfg.Grafana.User = env("GRAFANA_USER", cfg.Grafana.User)
	cfg.Grafana.Password = env("GRAFANA_PASSWORD", cfg.Grafana.Password)

	cfg.GitBase = env("GIT_BASE", cfg.GitBase)
	cfg.LogFilter = env("RUST_LOG", env("LOG_FILTER", "info"))

	return cfg, nil
}

// Addr is the listen address for the unified HTTP server.
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Application.Port) }

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
