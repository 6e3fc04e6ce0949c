// Package storage defines the interface for archiving env-file
// snapshots off the deploy host. By using an interface, we decouple
// the engine from a specific backend and keep it testable.
package storage

import "context"

// Provider stores env-file snapshots taken before a deployment.
type Provider interface {
	// Save uploads data under the given object name and returns a URI
	// for the stored snapshot.
	Save(ctx context.Context, objectName string, data []byte) (string, error)

	// Close releases any client resources.
	Close() error
}

// NoOpProvider discards snapshots. It is the default when no snapshot
// backend is configured.
type NoOpProvider struct{}

// Save for NoOpProvider does nothing and returns an empty URI.
func (NoOpProvider) Save(_ context.Context, _ string, _ []byte) (string, error) {
	return "", nil
}

// Close for NoOpProvider does nothing and returns nil.
func (NoOpProvider) Close() error { return nil }
