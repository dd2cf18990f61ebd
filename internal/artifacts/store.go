// Package artifacts reads scenario inputs and ground truth from a local
// directory or an S3-compatible bucket.
package artifacts

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrNotFound is returned when reading a key that does not exist.
var ErrNotFound = errors.New("artifact not found")

// Store is a read-only key/value view of scenario artifacts. Keys are
// slash-separated and relative to the store root.
type Store interface {
	// List returns every key under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Read(ctx context.Context, key string) ([]byte, error)
	// URI returns a location the extraction services can resolve.
	URI(key string) string
}

// Join builds a key from parts.
func Join(parts ...string) string {
	return strings.TrimPrefix(path.Join(parts...), "/")
}

// TopLevel returns the distinct first path segments of keys, in order of
// first appearance. Keys without a directory part are skipped.
func TopLevel(keys []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, key := range keys {
		first, _, ok := strings.Cut(key, "/")
		if !ok || first == "" || seen[first] {
			continue
		}
		seen[first] = true
		out = append(out, first)
	}
	return out
}
