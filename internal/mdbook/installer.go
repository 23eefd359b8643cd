// Package mdbook installs pinned mdBook releases into the cache bin
// directory, skipping the download when the requested version is already
// present.
package mdbook

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzip"

	"github.com/rustcache/rustcache/internal/fetch"
)

// Common errors for mdBook installation.
var (
	// ErrBinaryNotInArchive is returned when the release archive does not
	// contain an mdbook binary.
	ErrBinaryNotInArchive = errors.New("mdbook binary not found in release archive")

	// ErrUnsafeArchivePath is returned when an archive entry would escape
	// the extraction directory.
	ErrUnsafeArchivePath = errors.New("archive entry escapes extraction directory")
)

const (
	binaryName = "mdbook"
	markerName = "mdbook.version"

	// DefaultURLTemplate is the upstream release location. {version} and
	// {target} are substituted at download time.
	DefaultURLTemplate = "https://github.com/rust-lang/mdBook/releases/download/v{version}/mdbook-v{version}-{target}.tar.gz"
)

// Options configures an Installer.
type Options struct {
	// Version is the requested release. Empty disables the installer.
	Version string

	// BinDir is where the binary and its version marker live.
	BinDir string

	// URLTemplate overrides DefaultURLTemplate.
	URLTemplate string

	// ProxyPrefix, when set, is prepended to the release URL so the
	// download goes through a mirror.
	ProxyPrefix string
}

// Installer ensures a specific mdBook release is present in a bin directory.
type Installer struct {
	opts Options
}

// New creates an installer for the given options.
func New(opts Options) *Installer {
	if opts.URLTemplate == "" {
		opts.URLTemplate = DefaultURLTemplate
	}
	return &Installer{opts: opts}
}

// Ensure makes the requested mdBook version available in the bin directory.
// The download/extract/install sequence runs only when the binary is absent,
// the version marker is absent, or the marker differs from the requested
// version. An empty requested version is a no-op.
func (in *Installer) Ensure(ctx context.Context) error {
	if in.opts.Version == "" {
		log.Debug("mdbook install disabled")
		return nil
	}

	if err := os.MkdirAll(in.opts.BinDir, 0o755); err != nil {
		return fmt.Errorf("unable to create bin directory: %w", err)
	}

	if in.installed() {
		log.Info("mdbook up to date", "version", in.opts.Version)
		return nil
	}

	log.Info("installing mdbook", "version", in.opts.Version)
	return in.install(ctx)
}

// BinaryPath returns where the installed binary lives.
func (in *Installer) BinaryPath() string {
	return filepath.Join(in.opts.BinDir, binaryName)
}

func (in *Installer) markerPath() string {
	return filepath.Join(in.opts.BinDir, markerName)
}

// installed reports whether the requested version is already present. A
// binary without a matching marker counts as not installed; staleness is
// never assumed safe.
func (in *Installer) installed() bool {
	if _, err := os.Stat(in.BinaryPath()); err != nil {
		return false
	}
	marker, err := os.ReadFile(in.markerPath())
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(marker)) == in.opts.Version
}

func (in *Installer) install(ctx context.Context) error {
	tmp, err := os.MkdirTemp("", "mdbook-install-*")
	if err != nil {
		return fmt.Errorf("unable to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmp) //nolint:errcheck

	archive := filepath.Join(tmp, "mdbook.tar.gz")
	if err := fetch.Download(ctx, in.url(), archive, 0o644); err != nil {
		return err
	}

	if err := extractTarGz(archive, tmp); err != nil {
		return fmt.Errorf("unable to extract release archive: %w", err)
	}

	extracted := filepath.Join(tmp, binaryName)
	if _, err := os.Stat(extracted); err != nil {
		return ErrBinaryNotInArchive
	}

	if err := moveFile(extracted, in.BinaryPath()); err != nil {
		return fmt.Errorf("unable to install binary: %w", err)
	}
	if err := os.Chmod(in.BinaryPath(), 0o755); err != nil {
		return fmt.Errorf("unable to mark binary executable: %w", err)
	}

	// Marker is written last: a crashed install is retried on the next
	// run instead of being treated as a cache hit.
	if err := os.WriteFile(in.markerPath(), []byte(in.opts.Version+"\n"), 0o644); err != nil {
		return fmt.Errorf("unable to write version marker: %w", err)
	}

	return nil
}

func (in *Installer) url() string {
	u := strings.ReplaceAll(in.opts.URLTemplate, "{version}", in.opts.Version)
	u = strings.ReplaceAll(u, "{target}", targetTriple())
	if in.opts.ProxyPrefix != "" {
		u = in.opts.ProxyPrefix + u
	}
	return u
}

// targetTriple maps the running platform to the release artifact naming used
// upstream.
func targetTriple() string {
	arch := "x86_64"
	if runtime.GOARCH == "arm64" {
		arch = "aarch64"
	}
	switch runtime.GOOS {
	case "darwin":
		return arch + "-apple-darwin"
	default:
		return arch + "-unknown-linux-gnu"
	}
}

// extractTarGz unpacks a gzipped tarball into dest, flattening any leading
// directories so the binary lands directly in dest.
func extractTarGz(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	zr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close() //nolint:errcheck

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.Base(filepath.Clean(hdr.Name))
		if name == "." || name == ".." || name == string(filepath.Separator) {
			return fmt.Errorf("%w: %s", ErrUnsafeArchivePath, hdr.Name)
		}

		target := filepath.Join(dest, name)
		mode := fs.FileMode(hdr.Mode).Perm() //nolint:gosec
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
		if err != nil {
			return err
		}
		_, err = io.Copy(out, tr) //nolint:gosec
		closeErr := out.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
	}
}

// moveFile renames src to dst, falling back to copy-and-remove when the two
// live on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}

	_, err = io.Copy(out, in)
	closeErr := out.Close()
	if err != nil {
		os.Remove(dst)
		return err
	}
	if closeErr != nil {
		os.Remove(dst)
		return closeErr
	}

	return os.Remove(src)
}
