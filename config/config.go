// Package config loads authflow settings from a .env file, an optional YAML
// file and AUTHFLOW_* environment variables, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/gelozr/authflow/devserver"
	"github.com/gelozr/authflow/log"
	"github.com/gelozr/authflow/storage"
)

const EnvPrefix = "AUTHFLOW_"

// Provider kinds.
const (
	KindOAuth    = "oauth"
	KindGoogle   = "google"
	KindGuest    = "guest"
	KindPassword = "password"
)

type API struct {
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type Provider struct {
	ID       string `yaml:"id"`
	Kind     string `yaml:"kind"`
	Endpoint string `yaml:"endpoint"`
	ClientID string `yaml:"client_id"`
	Scope    string `yaml:"scope"`
	Prompt   string `yaml:"prompt"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

type Config struct {
	// Origin is the page the CLI pretends to be loaded from.
	Origin string `yaml:"origin" env:"ORIGIN"`

	API       API                `yaml:"api" envPrefix:"API_"`
	Storage   storage.Config     `yaml:"storage" envPrefix:"STORAGE_"`
	Providers []Provider         `yaml:"providers"`
	Log       log.Config         `yaml:"log" envPrefix:"LOG_"`
	Metrics   Metrics            `yaml:"metrics" envPrefix:"METRICS_"`
	Server    devserver.Config   `yaml:"server" envPrefix:"SERVER_"`
}

// Load reads .env (if present), then the YAML file at path (if path is not
// empty), then environment overrides. Defaults are applied last and the
// result is validated.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&c, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Origin == "" {
		c.Origin = "http://localhost:4200"
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:8080"
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 10 * time.Second
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Prefix == "" {
		c.Storage.Prefix = storage.DefaultPrefix
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/authflow.db"
	}
	if len(c.Providers) == 0 {
		c.Providers = []Provider{{ID: "GUEST", Kind: KindGuest}}
	}
	for i := range c.Providers {
		if c.Providers[i].Kind == "" {
			c.Providers[i].Kind = KindOAuth
		}
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.TokenTTL == 0 {
		c.Server.TokenTTL = time.Hour
	}
	if c.Server.HashMethod == "" {
		c.Server.HashMethod = "argon2id"
	}
}

func (c *Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.Origin); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("origin %q must be an absolute url", c.Origin))
	}
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q must be an absolute url", c.API.BaseURL))
	}

	seen := make(map[string]bool)
	for i, p := range c.Providers {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: id is required", i))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate id %s", i, p.ID))
		}
		seen[p.ID] = true

		switch strings.ToLower(p.Kind) {
		case KindGuest, KindPassword:
		case KindGoogle:
			if p.ClientID == "" {
				errs = append(errs, fmt.Errorf("provider %s: client_id is required", p.ID))
			}
		case KindOAuth:
			if p.Endpoint == "" || p.ClientID == "" {
				errs = append(errs, fmt.Errorf("provider %s: endpoint and client_id are required", p.ID))
			}
		default:
			errs = append(errs, fmt.Errorf("provider %s: unknown kind %q", p.ID, p.Kind))
		}
	}

	return errors.Join(errs...)
}
