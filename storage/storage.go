// Package storage provides durable object storage for run transcript
// archives.
package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned when the requested object doesn't exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore persists opaque blobs by key. The simulator archives the
// rendered transcript of every terminal run here.
type ObjectStore interface {
	// Put stores an object, overwriting any previous value for the key.
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves an object by key. Returns ErrObjectNotFound if the
	// key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)
}

// TranscriptKey builds the archive key for a run's transcript.
func TranscriptKey(runID string) string {
	return "transcripts/" + runID + ".txt"
}
