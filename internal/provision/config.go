package provision

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	homedir "github.com/mitchellh/go-homedir"
)

// Common configuration errors.
var (
	ErrMissingChannel = errors.New("toolchain channel must not be empty")
	ErrMissingCache   = errors.New("cache directory must not be empty")
)

// validProfiles are the install profiles rustup accepts.
var validProfiles = map[string]bool{
	"minimal":  true,
	"default":  true,
	"complete": true,
}

// Mirrors holds the endpoint overrides used in proxy mode. Values come from
// the environment so a site can repoint its mirrors without code changes.
type Mirrors struct {
	DistServer     string `env:"RUSTCACHE_DIST_SERVER" envDefault:"https://rsproxy.cn"`
	UpdateRoot     string `env:"RUSTCACHE_UPDATE_ROOT" envDefault:"https://rsproxy.cn/rustup"`
	RustupInit     string `env:"RUSTCACHE_RUSTUP_INIT" envDefault:"https://rsproxy.cn/rustup-init.sh"`
	RegistryIndex  string `env:"RUSTCACHE_REGISTRY_INDEX" envDefault:"sparse+https://rsproxy.cn/index/"`
	DownloadPrefix string `env:"RUSTCACHE_DOWNLOAD_PREFIX" envDefault:"https://mirror.ghproxy.com/"`

	// MdbookURL overrides the mdBook release location. {version} and
	// {target} are substituted at download time.
	MdbookURL string `env:"RUSTCACHE_MDBOOK_URL"`
}

// Config carries everything one provisioning run needs. It is built once at
// the CLI boundary and passed down; nothing below mutates process-global
// state.
type Config struct {
	// Channel is the toolchain build to install (stable, beta, nightly,
	// or a pinned version).
	Channel string

	// Profile selects install completeness.
	Profile string

	// Proxy routes bootstrap and release downloads through the mirror
	// endpoints and enables the registry mirror config.
	Proxy bool

	// MdbookVersion is the requested mdBook release; empty disables the
	// installer.
	MdbookVersion string

	// CacheDir is the cache root.
	CacheDir string

	// ClearCache deletes the cache root before the run.
	ClearCache bool

	// Command is the optional caller-supplied command to run after
	// provisioning.
	Command []string

	// RustupHome and CargoHome are the runtime directories the toolchain
	// manager expects.
	RustupHome string
	CargoHome  string

	// InstallerURL overrides the rustup bootstrap location when proxy
	// mode is off. Used by tests.
	InstallerURL string

	Mirrors Mirrors
}

// NewConfig resolves the runtime homes and mirror endpoints for a run.
// RUSTUP_HOME and CARGO_HOME are honored when set, matching rustup's own
// resolution.
func NewConfig() (*Config, error) {
	var m Mirrors
	if err := env.Parse(&m); err != nil {
		return nil, fmt.Errorf("unable to parse mirror environment: %w", err)
	}

	home, err := homedir.Dir()
	if err != nil {
		return nil, fmt.Errorf("unable to resolve home directory: %w", err)
	}

	cfg := &Config{
		RustupHome: filepath.Join(home, ".rustup"),
		CargoHome:  filepath.Join(home, ".cargo"),
		Mirrors:    m,
	}
	if v := os.Getenv("RUSTUP_HOME"); v != "" {
		cfg.RustupHome = v
	}
	if v := os.Getenv("CARGO_HOME"); v != "" {
		cfg.CargoHome = v
	}
	return cfg, nil
}

// Validate checks the parts of the configuration a typo is most likely to
// break.
func (c *Config) Validate() error {
	if c.Channel == "" {
		return ErrMissingChannel
	}
	if c.CacheDir == "" {
		return ErrMissingCache
	}
	if !validProfiles[c.Profile] {
		return fmt.Errorf("invalid profile %q: must be minimal, default, or complete", c.Profile)
	}
	return nil
}
