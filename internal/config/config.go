// Package config loads the crawl pipeline configuration from YAML.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/go-scripts/travelcrawl/internal/capture"
	"github.com/go-scripts/travelcrawl/internal/extract"
)

//go:embed default.yaml
var defaultYAML []byte

// ErrConfigNotFound is returned when an explicitly requested file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// Config is the top-level configuration.
type Config struct {
	Origin            string             `yaml:"origin"`
	Seeds             []string           `yaml:"seeds"`
	Workers           int                `yaml:"workers"`
	NavigationTimeout time.Duration      `yaml:"navigation_timeout"`
	Browser           BrowserConfig      `yaml:"browser"`
	Settle            SettleConfig       `yaml:"settle"`
	Assets            AssetsConfig       `yaml:"assets"`
	Checkpoints       CheckpointConfig   `yaml:"checkpoints"`
	Stages            StagesConfig       `yaml:"stages"`
	Profiles          map[string]Profile `yaml:"profiles"`
}

// BrowserConfig controls the Chrome instance.
type BrowserConfig struct {
	Headless  bool   `yaml:"headless"`
	PoolSize  int    `yaml:"pool_size"`
	UserAgent string `yaml:"user_agent"`
}

// SettleConfig defines when a page is ready: no new captured asset for
// Quiet, or Ceiling after the load event, whichever comes first.
type SettleConfig struct {
	Quiet   time.Duration `yaml:"quiet"`
	Ceiling time.Duration `yaml:"ceiling"`
}

// AssetsConfig controls asset downloads.
type AssetsConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// CheckpointConfig names the checkpoint files. SeedResults holds the records
// of the seed pages, Results those of the discovered pages.
type CheckpointConfig struct {
	Links       string `yaml:"links"`
	SeedResults string `yaml:"seed_results"`
	Results     string `yaml:"results"`
}

// StagesConfig configures the two pipeline stages.
type StagesConfig struct {
	// InlineDiscover runs the discovery pass right after the seed stage
	// instead of leaving it to a separate discover run.
	InlineDiscover bool  `yaml:"inline_discover"`
	Seed           Stage `yaml:"seed"`
	Discover       Stage `yaml:"discover"`
}

// Stage selects the profile and output layout of one stage.
type Stage struct {
	Profile       string `yaml:"profile"`
	AssetsDir     string `yaml:"assets_dir"`
	PerPageAssets bool   `yaml:"per_page_assets"`
	WritePageData bool   `yaml:"write_page_data"`
}

// Profile is the per-site template: which responses are assets and which
// selectors produce which fields.
type Profile struct {
	Capture []capture.Pattern `yaml:"capture"`
	Schema  extract.Schema    `yaml:"schema"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultYAML, &cfg); err != nil {
		panic(fmt.Sprintf("config: embedded default is invalid: %v", err))
	}
	return &cfg
}

// LoadFile overlays the YAML file at path on the defaults and validates the
// result. Keys absent from the file keep their default values; profiles are
// merged by name.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path) //nolint:gosec // user-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Profile returns the named profile.
func (c *Config) Profile(name string) (Profile, error) {
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q", name)
	}
	return p, nil
}

// Validate checks the configuration for values the crawler cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("origin %q: absolute URL required", c.Origin)
	}
	for _, s := range c.Seeds {
		if su, err := url.Parse(s); err != nil || !su.IsAbs() {
			return fmt.Errorf("seed %q: absolute URL required", s)
		}
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout must be positive, got %s", c.NavigationTimeout)
	}
	if c.Settle.Quiet < 0 || c.Settle.Ceiling < 0 {
		return errors.New("settle durations must not be negative")
	}
	if c.Settle.Ceiling > 0 && c.Settle.Ceiling < c.Settle.Quiet {
		return fmt.Errorf("settle ceiling %s is shorter than quiet period %s", c.Settle.Ceiling, c.Settle.Quiet)
	}
	if c.Checkpoints.Links == "" || c.Checkpoints.SeedResults == "" || c.Checkpoints.Results == "" {
		return errors.New("checkpoint paths must not be empty")
	}
	for name, p := range c.Profiles {
		for _, pat := range p.Capture {
			if err := pat.Validate(); err != nil {
				return fmt.Errorf("profile %q: %w", name, err)
			}
		}
		if err := p.Schema.Validate(); err != nil {
			return fmt.Errorf("profile %q: %w", name, err)
		}
	}
	for stage, s := range map[string]Stage{"seed": c.Stages.Seed, "discover": c.Stages.Discover} {
		if _, err := c.Profile(s.Profile); err != nil {
			return fmt.Errorf("stage %s: %w", stage, err)
		}
	}
	return nil
}
