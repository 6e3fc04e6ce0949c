package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalProvider stores snapshots on the local filesystem, typically a
// mounted backup volume.
type LocalProvider struct {
	baseDir string
	prefix  string
}

// NewLocalProvider creates a filesystem-backed snapshot store rooted
// at baseDir, creating the directory when necessary.
func NewLocalProvider(baseDir, prefix string) (*LocalProvider, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(baseDir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("base directory path is not a directory")
		}
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	default:
		return nil, fmt.Errorf("stat base directory: %w", err)
	}

	return &LocalProvider{baseDir: baseDir, prefix: prefix}, nil
}

// Save writes the snapshot under baseDir and returns a file:// URI.
func (l *LocalProvider) Save(_ context.Context, objectName string, data []byte) (string, error) {
	if strings.TrimSpace(objectName) == "" {
		return "", fmt.Errorf("object name is required")
	}

	fullPath := filepath.Join(l.baseDir, l.prefix, objectName)

	// Reject names that escape the base directory.
	cleanBase := filepath.Clean(l.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("object name %q escapes base directory", objectName)
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", fullPath, err)
	}

	return "file://" + fullPath, nil
}

// Close is a no-op for the filesystem provider.
func (l *LocalProvider) Close() error { return nil }
