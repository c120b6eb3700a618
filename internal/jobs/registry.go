package jobs

import (
	"context"
	"fmt"
)

// Registry is the durable map from content identifier to pending job id. An
// entry is written when a job is submitted and removed only once the job is
// seen in a terminal state, so jobs survive a restart and can be resumed.
type Registry interface {
	Put(ctx context.Context, contentID, jobID string) error
	// Get returns the pending job id for contentID, or "" when none.
	Get(ctx context.Context, contentID string) (string, error)
	Delete(ctx context.Context, contentID string) error
	All(ctx context.Context) (map[string]string, error)
	Close() error
}

// Registry backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// OpenRegistry opens the registry backend at path.
func OpenRegistry(ctx context.Context, backend, path string) (Registry, error) {
	switch backend {
	case BackendFile, "":
		return OpenFileRegistry(path)
	case BackendSQLite:
		return OpenSQLiteRegistry(ctx, path)
	default:
		return nil, fmt.Errorf("unknown registry backend %q", backend)
	}
}
