// Package snapshot persists Rust toolchain state between one-shot CI runs.
//
// A snapshot store mirrors the two runtime homes the toolchain manager
// expects (RUSTUP_HOME and CARGO_HOME) as full directory copies under a
// cache root. Either both copies exist (warm) or neither does (cold);
// anything else is reported as partial and left for the caller to resolve.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// Common errors for snapshot operations.
var (
	// ErrNotDirectory is returned when the cache root exists but is not a
	// directory.
	ErrNotDirectory = errors.New("cache path is not a directory")
)

// Subdirectory names under the cache root.
const (
	rustupSnapshot = "rustup"
	cargoSnapshot  = "cargo"
	binSubdir      = "bin"
)

// Warmth describes how much of a snapshot is present.
type Warmth int

const (
	// Cold means neither runtime home has a cached copy.
	Cold Warmth = iota

	// Warm means both runtime homes have cached copies.
	Warm

	// Partial means exactly one cached copy exists. This violates the
	// both-or-neither invariant and must not be restored as-is.
	Partial
)

// String returns the string representation of the warmth state.
func (w Warmth) String() string {
	switch w {
	case Cold:
		return "cold"
	case Warm:
		return "warm"
	case Partial:
		return "partial"
	default:
		return "unknown"
	}
}

// Store manages the snapshot copies for a pair of runtime homes.
type Store struct {
	root       string
	rustupHome string
	cargoHome  string
}

// New creates a store rooted at root, mirroring the given runtime homes.
func New(root, rustupHome, cargoHome string) *Store {
	return &Store{
		root:       root,
		rustupHome: rustupHome,
		cargoHome:  cargoHome,
	}
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// BinDir returns the directory for cached standalone binaries.
func (s *Store) BinDir() string {
	return filepath.Join(s.root, binSubdir)
}

// Ensure creates the cache root if it does not exist.
func (s *Store) Ensure() error {
	info, err := os.Stat(s.root)
	if err == nil && !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, s.root)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("unable to create cache directory: %w", err)
	}
	return nil
}

// Clear deletes the cache root and everything under it.
func (s *Store) Clear() error {
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("unable to remove cache directory: %w", err)
	}
	return nil
}

// Warmth reports whether the store holds a full snapshot, no snapshot, or a
// partial one.
func (s *Store) Warmth() Warmth {
	rustup := dirExists(filepath.Join(s.root, rustupSnapshot))
	cargo := dirExists(filepath.Join(s.root, cargoSnapshot))

	switch {
	case rustup && cargo:
		return Warm
	case !rustup && !cargo:
		return Cold
	default:
		return Partial
	}
}

// Reset removes any snapshot remnants, returning the store to cold. Cached
// standalone binaries are kept; they carry their own version markers.
func (s *Store) Reset() error {
	for _, name := range []string{rustupSnapshot, cargoSnapshot} {
		if err := os.RemoveAll(filepath.Join(s.root, name)); err != nil {
			return fmt.Errorf("unable to remove snapshot %s: %w", name, err)
		}
	}
	return nil
}

// Seed copies the runtime homes into the cache, populating a cold store.
func (s *Store) Seed() error {
	return s.snapshot()
}

// WriteBack re-copies the runtime homes into the cache after a command may
// have mutated them. A full-tree copy each run keeps the cache eventually
// consistent with whatever the command changed.
func (s *Store) WriteBack() error {
	return s.snapshot()
}

// Restore copies the cached snapshot into the runtime homes and fixes their
// ownership to the current user. The cache may have been populated by a
// different uid in a previous container layer.
func (s *Store) Restore() error {
	pairs := []struct {
		src, dst string
	}{
		{filepath.Join(s.root, rustupSnapshot), s.rustupHome},
		{filepath.Join(s.root, cargoSnapshot), s.cargoHome},
	}

	for _, p := range pairs {
		if err := os.MkdirAll(p.dst, 0o755); err != nil {
			return fmt.Errorf("unable to create runtime directory %s: %w", p.dst, err)
		}
		n, err := copyTree(p.src, p.dst)
		if err != nil {
			return fmt.Errorf("unable to restore %s: %w", p.dst, err)
		}
		log.Debug("restored snapshot", "dst", p.dst, "size", humanize.Bytes(uint64(n)))
	}

	return s.fixOwnership()
}

func (s *Store) snapshot() error {
	pairs := []struct {
		src, dst string
	}{
		{s.rustupHome, filepath.Join(s.root, rustupSnapshot)},
		{s.cargoHome, filepath.Join(s.root, cargoSnapshot)},
	}

	for _, p := range pairs {
		n, err := replaceTree(p.src, p.dst)
		if err != nil {
			return fmt.Errorf("unable to snapshot %s: %w", p.src, err)
		}
		log.Debug("snapshotted", "src", p.src, "size", humanize.Bytes(uint64(n)))
	}
	return nil
}

func (s *Store) fixOwnership() error {
	if runtime.GOOS == "windows" {
		return nil
	}
	uid, gid := os.Getuid(), os.Getgid()
	for _, dir := range []string{s.rustupHome, s.cargoHome} {
		if err := chownTree(dir, uid, gid); err != nil {
			return fmt.Errorf("unable to fix ownership of %s: %w", dir, err)
		}
	}
	return nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
