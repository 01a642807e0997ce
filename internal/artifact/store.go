// Package artifact stores write-once per-item artifacts. An artifact that exists is complete.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("artifact not found")

// Store is a write-once key/value store.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes data under key unless key already exists. created is false when it did.
	Put(ctx context.Context, key string, data []byte) (created bool, err error)
}

// cleanKey validates a slash-separated key.
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty artifact key")
	}
	k := path.Clean(strings.TrimPrefix(key, "/"))
	if k == "." || k == ".." || strings.HasPrefix(k, "../") {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return k, nil
}
