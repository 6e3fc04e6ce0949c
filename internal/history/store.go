// Package history records deployment outcomes so `status` can show
// what shipped when, and post-mortems have a trail to read.
package history

import (
	"context"
	"time"
)

// Record is one deployment attempt.
type Record struct {
	ID          string
	Environment string
	Version     string
	Commit      string
	Status      string
	Error       string
	StartedAt   time.Time
	Duration    time.Duration
}

// Deployment outcome values stored in the status column.
const (
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusRolledBack = "rolled_back"
)

// Store persists deployment records.
type Store interface {
	// RecordDeploy saves the outcome of one deployment attempt.
	RecordDeploy(ctx context.Context, rec Record) error

	// ListRecent returns up to limit records, newest first.
	ListRecent(ctx context.Context, environment string, limit int) ([]Record, error)

	// Close releases any underlying resources.
	Close()
}

// NoOpStore discards deployment records. It is the default when no
// history database is configured.
type NoOpStore struct{}

// RecordDeploy for NoOpStore does nothing and returns nil.
func (NoOpStore) RecordDeploy(_ context.Context, _ Record) error { return nil }

// ListRecent for NoOpStore returns an empty history.
func (NoOpStore) ListRecent(_ context.Context, _ string, _ int) ([]Record, error) {
	return nil, nil
}

// Close for NoOpStore does nothing.
func (NoOpStore) Close() {}
