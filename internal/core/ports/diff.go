package ports

import "context"

// DiffProvider returns the paths changed relative to a base reference.
// The git invocation itself lives behind this interface.
type DiffProvider interface {
	ChangedFiles(ctx context.Context, base string) ([]string, error)
}
