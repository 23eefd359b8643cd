// Package fetch downloads release artifacts over HTTP.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// ErrBadStatus is returned when a download endpoint answers with anything
// other than 200 OK.
var ErrBadStatus = errors.New("unexpected HTTP status")

// Download retrieves url into dest, creating the file with the given mode.
// The body is written to a temporary file first and renamed into place, so a
// failed download never leaves a truncated dest behind.
func Download(ctx context.Context, url, dest string, mode fs.FileMode) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("unable to build request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("unable to get url: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d for %s", ErrBadStatus, resp.StatusCode, url)
	}

	tempPath := dest + ".tmp"
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("unable to create download file: %w", err)
	}

	n, err := io.Copy(f, resp.Body)
	closeErr := f.Close()

	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("download of %s interrupted: %w", url, err)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return fmt.Errorf("unable to finish download: %w", closeErr)
	}

	if err := os.Rename(tempPath, dest); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("unable to move download into place: %w", err)
	}

	log.Debug("downloaded", "url", url, "size", humanize.Bytes(uint64(n)))
	return nil
}
