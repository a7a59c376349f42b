package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filesystem mirrors the object-store contract on local disk for tests and
// development runs. Metadata beyond the payload is not persisted.
type Filesystem struct {
	baseDir string
}

func NewFilesystem(baseDir string) *Filesystem {
	return &Filesystem{baseDir: baseDir}
}

func (f *Filesystem) Put(_ context.Context, bucket, path string, data []byte, _ ObjectMeta) (string, error) {
	full := filepath.Join(f.baseDir, bucket, sanitize(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	return full, nil
}

func sanitize(path string) string {
	path = filepath.Clean(path)
	path = strings.TrimPrefix(path, string(filepath.Separator))
	path = strings.TrimPrefix(path, "./")
	return path
}
