package offsets

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
)

// DefaultURL is where the community-maintained offsets file is published
const DefaultURL = "https://raw.githubusercontent.com/fjel/rkbx_os2l/master/offsets"

// Download fetches the offsets file from url and atomically replaces path.
// The body is parsed before the rename so a broken download never clobbers a
// working file.
func Download(ctx context.Context, url, path string) error {
	slog.Info("downloading offsets", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch offsets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch offsets: HTTP %d", resp.StatusCode)
	}

	tempPath := path + ".tmp"
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	_, err = io.Copy(tempFile, resp.Body)
	tempFile.Close()
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	tables, err := LoadFile(tempPath)
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("downloaded offsets are invalid: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to finalize offsets file: %w", err)
	}

	slog.Info("offsets updated", "path", path, "versions", len(tables))
	return nil
}
