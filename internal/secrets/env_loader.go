package secrets

import (
	"fmt"
	"maps"
	"os"
	"strings"
)

// EnvLoader returns a Loader that reads the specified environment variables.
// Missing variables are silently omitted from the result map.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// FileLoader returns a Loader that reads each key from the file named by
// the <KEY>_FILE environment variable, as mounted by Docker and Kubernetes
// secrets. Trailing newlines are trimmed. An unset variable is skipped; an
// unreadable file is an error.
func FileLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			path := os.Getenv(k + "_FILE")
			if path == "" {
				continue
			}
			data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", k+"_FILE", err)
			}
			if v := strings.TrimRight(string(data), "\r\n"); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// Chain merges loaders in order. Later loaders override earlier ones.
func Chain(loaders ...Loader) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string)
		for _, l := range loaders {
			m, err := l()
			if err != nil {
				return nil, err
			}
			maps.Copy(vals, m)
		}
		return vals, nil
	}
}
