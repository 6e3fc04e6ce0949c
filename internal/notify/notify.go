// Package notify publishes deployment lifecycle events so downstream
// consumers (chat bots, audit pipelines) can react to deploys.
// The abstraction keeps the engine independent of a specific broker.
package notify

import (
	"context"
	"time"
)

// Event describes one deployment lifecycle transition.
type Event struct {
	DeployID    string    `json:"deploy_id"`
	Environment string    `json:"environment"`
	Version     string    `json:"version"`
	Commit      string    `json:"commit"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Event status values.
const (
	StatusStarted    = "started"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusRolledBack = "rolled_back"
)

// Publisher defines the common interface for deploy event publishing.
type Publisher interface {
	// Publish sends one deployment event to the configured topic.
	Publish(ctx context.Context, event Event) error

	// Close cleans up any client connections and resources.
	Close() error
}

// NoOpPublisher is a publisher that performs no operations. It is the
// default when no broker is configured.
type NoOpPublisher struct{}

// Publish for NoOpPublisher does nothing and returns nil.
func (NoOpPublisher) Publish(_ context.Context, _ Event) error { return nil }

// Close for NoOpPublisher does nothing and returns nil.
func (NoOpPublisher) Close() error { return nil }
