// Package provision orchestrates one run: cache restore or toolchain
// bootstrap, mdBook installation, the optional caller-supplied command, and
// the cache write-back afterwards.
//
// Execution is strictly sequential and fail-fast; there is no retry policy.
// The calling CI system owns retries. The cache directory is assumed to be
// exclusively owned by one invocation at a time; concurrent runs against the
// same cache produce undefined results.
package provision

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/rustcache/rustcache/internal/mdbook"
	"github.com/rustcache/rustcache/internal/runner"
	"github.com/rustcache/rustcache/internal/snapshot"
	"github.com/rustcache/rustcache/internal/toolchain"
)

// Run provisions the toolchain per cfg, then runs the configured command (if
// any) and writes mutated state back into the cache.
func Run(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	store := snapshot.New(cfg.CacheDir, cfg.RustupHome, cfg.CargoHome)

	if cfg.ClearCache {
		log.Info("clearing cache", "dir", cfg.CacheDir)
		if err := store.Clear(); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
	}
	if err := store.Ensure(); err != nil {
		return fmt.Errorf("ensure cache: %w", err)
	}

	tc := toolchain.New(toolchain.Options{
		Channel:       cfg.Channel,
		Profile:       cfg.Profile,
		RustupHome:    cfg.RustupHome,
		CargoHome:     cfg.CargoHome,
		Proxy:         cfg.Proxy,
		InstallerURL:  cfg.installerURL(),
		DistServer:    cfg.Mirrors.DistServer,
		UpdateRoot:    cfg.Mirrors.UpdateRoot,
		RegistryIndex: cfg.Mirrors.RegistryIndex,
	})

	warmth := store.Warmth()
	if warmth == snapshot.Partial {
		// One snapshot without the other cannot be restored safely;
		// drop the remnant and reinstall.
		log.Warn("cache is partially populated, treating as cold", "dir", cfg.CacheDir)
		if err := store.Reset(); err != nil {
			return fmt.Errorf("reset partial cache: %w", err)
		}
		warmth = snapshot.Cold
	}

	switch warmth {
	case snapshot.Cold:
		log.Info("cache is cold, bootstrapping toolchain",
			"channel", cfg.Channel, "profile", cfg.Profile)
		if err := tc.Bootstrap(ctx); err != nil {
			return fmt.Errorf("bootstrap toolchain: %w", err)
		}
		if err := tc.WriteCargoConfig(); err != nil {
			return fmt.Errorf("write cargo config: %w", err)
		}
		if err := store.Seed(); err != nil {
			return fmt.Errorf("seed cache: %w", err)
		}
	case snapshot.Warm:
		log.Info("cache is warm, restoring toolchain", "dir", cfg.CacheDir)
		if err := store.Restore(); err != nil {
			return fmt.Errorf("restore cache: %w", err)
		}
	}

	if err := tc.SetDefault(ctx); err != nil {
		return fmt.Errorf("set default toolchain: %w", err)
	}

	mdb := mdbook.New(mdbook.Options{
		Version:     cfg.MdbookVersion,
		BinDir:      store.BinDir(),
		URLTemplate: cfg.Mirrors.MdbookURL,
		ProxyPrefix: cfg.mdbookProxyPrefix(),
	})
	if err := mdb.Ensure(ctx); err != nil {
		return fmt.Errorf("install mdbook: %w", err)
	}

	if len(cfg.Command) == 0 {
		return nil
	}

	if err := runner.Run(ctx, cfg.Command, tc.Env(store.BinDir())); err != nil {
		return err
	}

	log.Info("writing mutated toolchain state back to cache", "dir", cfg.CacheDir)
	if err := store.WriteBack(); err != nil {
		return fmt.Errorf("write back cache: %w", err)
	}
	return nil
}

// installerURL picks the rustup bootstrap location: an explicit override
// wins, then the mirror in proxy mode, then upstream.
func (c *Config) installerURL() string {
	if c.InstallerURL != "" {
		return c.InstallerURL
	}
	if c.Proxy {
		return c.Mirrors.RustupInit
	}
	return ""
}

// mdbookProxyPrefix returns the release download prefix, active only in
// proxy mode and only for absolute upstream URLs.
func (c *Config) mdbookProxyPrefix() string {
	if !c.Proxy || c.Mirrors.MdbookURL != "" {
		return ""
	}
	return c.Mirrors.DownloadPrefix
}
