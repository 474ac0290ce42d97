// Package artifact writes a finished job's result to disk.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/psantana5/subgen/pkg/api"
)

var ErrInsufficientSpace = errors.New("not enough free disk space")

// Save streams art into dir and returns the final path. The body is written to a
// temporary file first and renamed once complete, so an interrupted download never
// leaves a truncated artifact behind. art.Body is always closed.
func Save(ctx context.Context, art *api.Artifact, dir string) (string, error) {
	defer art.Body.Close()

	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	if err := checkFreeSpace(ctx, dir, art.Size); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, ".subgen-*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	n, err := io.Copy(tmp, art.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if art.Size >= 0 && n != art.Size {
		return "", fmt.Errorf("failed to write artifact: got %d of %d bytes", n, art.Size)
	}

	dest := availablePath(filepath.Join(dir, sanitize(art.Filename)))
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return dest, nil
}

func checkFreeSpace(ctx context.Context, dir string, size int64) error {
	if size <= 0 {
		return nil
	}
	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		// Some filesystems do not report usage; the write itself will fail if full
		return nil
	}
	if usage.Free < uint64(size) {
		return fmt.Errorf("%w: need %d bytes, %d available in %s", ErrInsufficientSpace, size, usage.Free, dir)
	}
	return nil
}

func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || !filepath.IsLocal(name) {
		return "subtitles.zip"
	}
	return name
}

// availablePath returns path, or path with a numeric suffix if it already exists
func availablePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
