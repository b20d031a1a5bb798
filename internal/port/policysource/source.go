// Package policysource defines the port for fetching raw policy documents.
package policysource

import "context"

// Source provides versioned policy documents per repository. Content for a
// given (repo, version) pair never changes.
type Source interface {
	// CurrentVersion returns the policy version in effect for repo.
	CurrentVersion(ctx context.Context, repo string) (string, error)
	// Load returns the raw document for repo at version.
	Load(ctx context.Context, repo, version string) ([]byte, error)
}
