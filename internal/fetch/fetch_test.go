package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("artifact-bytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "artifact")
	if err := Download(context.Background(), srv.URL, dest, 0o755); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	b, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "artifact-bytes" {
		t.Errorf("downloaded content = %q, want %q", b, "artifact-bytes")
	}

	info, err := os.Stat(dest)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("mode = %v, want 0755", info.Mode().Perm())
	}
}

func TestDownloadBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "artifact")
	err := Download(context.Background(), srv.URL, dest, 0o644)
	if !errors.Is(err, ErrBadStatus) {
		t.Fatalf("Download error = %v, want ErrBadStatus", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("failed download left a file behind")
	}
}

func TestDownloadCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := filepath.Join(t.TempDir(), "artifact")
	if err := Download(ctx, srv.URL, dest, 0o644); err == nil {
		t.Fatal("Download should fail with a canceled context")
	}
}
