package envfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoBackups is returned by LatestBackup when the backup directory
// holds no backups for the given env file.
var ErrNoBackups = errors.New("no backups found")

// Nanosecond precision with fixed-width digits: names stay lexically
// sortable and two backups in the same second cannot collide.
const backupTimeLayout = "20060102T150405.000000000Z"

// Backup copies the env file into dir under a UTC-timestamped name and
// returns the backup path. The directory is created on first use.
func Backup(path, dir string, now time.Time) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read env file %s: %w", path, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create backup dir %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s.%s.bak", filepath.Base(path), now.UTC().Format(backupTimeLayout))
	backupPath := filepath.Join(dir, name)
	if err := os.WriteFile(backupPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write backup %s: %w", backupPath, err)
	}
	return backupPath, nil
}

// LatestBackup returns the newest backup of the named env file.
// Backup names embed a sortable UTC timestamp, so lexical order is
// chronological order.
func LatestBackup(dir, base string) (string, error) {
	backups, err := listBackups(dir, base)
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", fmt.Errorf("%w for %s in %s", ErrNoBackups, base, dir)
	}
	return filepath.Join(dir, backups[len(backups)-1]), nil
}

// Restore copies a backup file back over the live env file.
func Restore(backupPath, path string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read backup %s: %w", backupPath, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("restore env file %s: %w", path, err)
	}
	return nil
}

// Prune deletes all but the newest keep backups of the named env file.
// It returns the number of backups removed.
func Prune(dir, base string, keep int) (int, error) {
	if keep <= 0 {
		return 0, fmt.Errorf("keep must be > 0")
	}
	backups, err := listBackups(dir, base)
	if err != nil {
		return 0, err
	}
	if len(backups) <= keep {
		return 0, nil
	}

	stale := backups[:len(backups)-keep]
	removed := 0
	for _, name := range stale {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, fmt.Errorf("remove stale backup %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

func listBackups(dir, base string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup dir %s: %w", dir, err)
	}

	var names []string
	prefix := base + "."
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".bak") {
			continue
		}
		// The middle segment must be a bare timestamp, otherwise a backup
		// of ".env.staging" would match base ".env".
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".bak")
		if _, err := time.Parse(backupTimeLayout, stamp); err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
