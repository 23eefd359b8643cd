// Package toolchain installs and configures the Rust toolchain through
// rustup. All environment handling is done as a subprocess overlay; the
// surrounding process environment is never mutated.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/rustcache/rustcache/internal/fetch"
)

// Common errors for toolchain operations.
var (
	// ErrHomeMissing is returned when a runtime home does not exist after
	// a bootstrap that reported success.
	ErrHomeMissing = errors.New("toolchain home missing after install")
)

// defaultInstallerURL is the upstream rustup bootstrap script.
const defaultInstallerURL = "https://sh.rustup.rs"

// Options configures an Installer.
type Options struct {
	// Channel selects the toolchain build (stable, beta, nightly, or a
	// pinned version).
	Channel string

	// Profile selects install completeness (minimal, default, complete).
	Profile string

	// RustupHome and CargoHome are the runtime directories rustup
	// expects.
	RustupHome string
	CargoHome  string

	// Proxy switches bootstrap and toolchain downloads to the mirror
	// endpoints below and enables the registry mirror in the cargo
	// config.
	Proxy bool

	// InstallerURL overrides the rustup bootstrap script location.
	InstallerURL string

	// DistServer and UpdateRoot are the mirror endpoints exported to
	// rustup when Proxy is set.
	DistServer string
	UpdateRoot string

	// RegistryIndex is the mirror registry written into the cargo config
	// when Proxy is set.
	RegistryIndex string
}

// Installer bootstraps and configures a rustup-managed toolchain.
type Installer struct {
	opts Options
}

// New creates an installer for the given options.
func New(opts Options) *Installer {
	if opts.InstallerURL == "" {
		opts.InstallerURL = defaultInstallerURL
	}
	return &Installer{opts: opts}
}

// Bootstrap downloads the rustup installer and runs it non-interactively
// with the requested channel and profile, then verifies that both runtime
// homes exist.
func (i *Installer) Bootstrap(ctx context.Context) error {
	tmp, err := os.MkdirTemp("", "rustup-init-*")
	if err != nil {
		return fmt.Errorf("unable to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmp) //nolint:errcheck

	script := filepath.Join(tmp, "rustup-init.sh")
	if err := fetch.Download(ctx, i.opts.InstallerURL, script, 0o755); err != nil {
		return fmt.Errorf("unable to fetch rustup installer: %w", err)
	}

	args := []string{
		script,
		"-y",
		"--no-modify-path",
		"--default-toolchain", i.opts.Channel,
		"--profile", i.opts.Profile,
	}

	log.Info("running rustup installer", "channel", i.opts.Channel, "profile", i.opts.Profile)
	cmd := exec.CommandContext(ctx, "sh", args...)
	cmd.Env = i.Env()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("rustup installer failed: %w", err)
	}

	return i.verifyHomes()
}

// SetDefault makes the requested channel the active default toolchain.
func (i *Installer) SetDefault(ctx context.Context) error {
	rustup := filepath.Join(i.opts.CargoHome, "bin", "rustup")
	cmd := exec.CommandContext(ctx, rustup, "default", i.opts.Channel)
	cmd.Env = i.Env()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("unable to set default toolchain %q: %w: %s",
			i.opts.Channel, err, strings.TrimSpace(string(out)))
	}
	log.Debug("default toolchain set", "channel", i.opts.Channel)
	return nil
}

// Env returns the process environment extended with the toolchain overlay:
// the runtime homes, a PATH with the cargo bin directory (plus any extra
// directories) prepended, and the mirror endpoints when proxy mode is on.
func (i *Installer) Env(extraPaths ...string) []string {
	paths := append([]string{filepath.Join(i.opts.CargoHome, "bin")}, extraPaths...)
	paths = append(paths, os.Getenv("PATH"))

	env := append(os.Environ(),
		"RUSTUP_HOME="+i.opts.RustupHome,
		"CARGO_HOME="+i.opts.CargoHome,
		"PATH="+strings.Join(paths, string(os.PathListSeparator)),
	)
	if i.opts.Proxy {
		env = append(env,
			"RUSTUP_DIST_SERVER="+i.opts.DistServer,
			"RUSTUP_UPDATE_ROOT="+i.opts.UpdateRoot,
		)
	}
	return env
}

func (i *Installer) verifyHomes() error {
	for _, dir := range []string{i.opts.RustupHome, i.opts.CargoHome} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("%w: %s", ErrHomeMissing, dir)
		}
	}
	return nil
}
