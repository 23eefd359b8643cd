package mdbook

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// buildArchive produces a gzipped tarball holding the given files.
func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)

	for name, content := range files {
		hdr := &tar.Header{
			Name: name,
			Mode: 0o755,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header failed: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("tar write failed: %v", err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// releaseServer serves the given archive bytes and counts downloads.
func releaseServer(t *testing.T, archive []byte, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write(archive)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestInstaller(t *testing.T, srv *httptest.Server, version string) *Installer {
	t.Helper()
	return New(Options{
		Version:     version,
		BinDir:      filepath.Join(t.TempDir(), "bin"),
		URLTemplate: srv.URL + "/mdbook-v{version}-{target}.tar.gz",
	})
}

func TestEnsureInstallsFromScratch(t *testing.T) {
	var hits atomic.Int64
	archive := buildArchive(t, map[string]string{"mdbook": "#!/bin/sh\necho mdbook\n"})
	srv := releaseServer(t, archive, &hits)

	in := newTestInstaller(t, srv, "0.4.40")
	if err := in.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	if hits.Load() != 1 {
		t.Errorf("downloads = %d, want 1", hits.Load())
	}

	info, err := os.Stat(in.BinaryPath())
	if err != nil {
		t.Fatalf("binary missing: %v", err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		t.Errorf("binary not executable: %v", info.Mode())
	}

	marker, err := os.ReadFile(in.markerPath())
	if err != nil {
		t.Fatalf("marker missing: %v", err)
	}
	if got := strings.TrimSpace(string(marker)); got != "0.4.40" {
		t.Errorf("marker = %q, want %q", got, "0.4.40")
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	var hits atomic.Int64
	archive := buildArchive(t, map[string]string{"mdbook": "bin"})
	srv := releaseServer(t, archive, &hits)

	in := newTestInstaller(t, srv, "0.4.40")
	for i := 0; i < 2; i++ {
		if err := in.Ensure(context.Background()); err != nil {
			t.Fatalf("Ensure run %d failed: %v", i+1, err)
		}
	}

	if hits.Load() != 1 {
		t.Errorf("downloads = %d, want 1 (second run must be a cache hit)", hits.Load())
	}
}

func TestEnsureReinstallsOnVersionChange(t *testing.T) {
	var hits atomic.Int64
	archive := buildArchive(t, map[string]string{"mdbook": "bin"})
	srv := releaseServer(t, archive, &hits)

	in := newTestInstaller(t, srv, "0.4.40")
	if err := in.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	// Same bin dir, different requested version: the existing binary must
	// not be trusted.
	upgraded := New(Options{
		Version:     "0.4.44",
		BinDir:      in.opts.BinDir,
		URLTemplate: in.opts.URLTemplate,
	})
	if err := upgraded.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure after version change failed: %v", err)
	}

	if hits.Load() != 2 {
		t.Errorf("downloads = %d, want 2", hits.Load())
	}
	marker, err := os.ReadFile(upgraded.markerPath())
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(marker)); got != "0.4.44" {
		t.Errorf("marker = %q, want %q", got, "0.4.44")
	}
}

func TestEnsureReinstallsWhenMarkerMissing(t *testing.T) {
	var hits atomic.Int64
	archive := buildArchive(t, map[string]string{"mdbook": "bin"})
	srv := releaseServer(t, archive, &hits)

	in := newTestInstaller(t, srv, "0.4.40")
	if err := in.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	// A binary without its marker is treated as not installed.
	if err := os.Remove(in.markerPath()); err != nil {
		t.Fatal(err)
	}
	if err := in.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure after marker removal failed: %v", err)
	}

	if hits.Load() != 2 {
		t.Errorf("downloads = %d, want 2", hits.Load())
	}
}

func TestEnsureEmptyVersionIsNoop(t *testing.T) {
	var hits atomic.Int64
	srv := releaseServer(t, nil, &hits)

	in := newTestInstaller(t, srv, "")
	if err := in.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("downloads = %d, want 0", hits.Load())
	}
}

func TestEnsureFailsWhenBinaryMissingFromArchive(t *testing.T) {
	var hits atomic.Int64
	archive := buildArchive(t, map[string]string{"README.md": "docs only"})
	srv := releaseServer(t, archive, &hits)

	in := newTestInstaller(t, srv, "0.4.40")
	err := in.Ensure(context.Background())
	if !errors.Is(err, ErrBinaryNotInArchive) {
		t.Fatalf("Ensure error = %v, want ErrBinaryNotInArchive", err)
	}

	// No marker may exist after a failed install.
	if _, statErr := os.Stat(in.markerPath()); !os.IsNotExist(statErr) {
		t.Error("marker written despite failed install")
	}
}

func TestEnsureFailsOnDownloadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	in := newTestInstaller(t, srv, "0.4.40")
	if err := in.Ensure(context.Background()); err == nil {
		t.Fatal("Ensure should fail when the download 404s")
	}
	if _, err := os.Stat(in.markerPath()); !os.IsNotExist(err) {
		t.Error("marker written despite failed download")
	}
}

func TestArchiveEntriesAreFlattened(t *testing.T) {
	var hits atomic.Int64
	archive := buildArchive(t, map[string]string{
		"mdbook-v0.4.40/mdbook": "nested bin",
	})
	srv := releaseServer(t, archive, &hits)

	in := newTestInstaller(t, srv, "0.4.40")
	if err := in.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	b, err := os.ReadFile(in.BinaryPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "nested bin" {
		t.Errorf("binary content = %q, want %q", b, "nested bin")
	}
}

func TestURLComposition(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{
			name: "default template",
			opts: Options{Version: "0.4.40"},
			want: "https://github.com/rust-lang/mdBook/releases/download/v0.4.40/mdbook-v0.4.40-" + targetTriple() + ".tar.gz",
		},
		{
			name: "proxy prefix",
			opts: Options{Version: "0.4.40", ProxyPrefix: "https://mirror.example.com/"},
			want: "https://mirror.example.com/https://github.com/rust-lang/mdBook/releases/download/v0.4.40/mdbook-v0.4.40-" + targetTriple() + ".tar.gz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(tt.opts).url(); got != tt.want {
				t.Errorf("url() = %q, want %q", got, tt.want)
			}
		})
	}
}
