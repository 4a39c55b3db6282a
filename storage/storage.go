// Package storage provides durable key/value blob storage for run state.
//
// Keys are slash-separated relative paths such as "state/react__latest.json".
// The backend is chosen from a location string: a local directory (default),
// gs://bucket/prefix, redis://host:port/db or sqlite:path/to/file.db.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
)

// ErrNotExist is returned by Read when the key has never been written.
var ErrNotExist = errors.New("storage: object doesn't exist")

// ErrInvalidLocation is returned by Open when the location string itself is
// malformed. Other Open errors mean the backend could not be reached.
var ErrInvalidLocation = errors.New("storage: invalid location")

// Backend stores opaque blobs by key.
type Backend interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	// List returns all keys starting with prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Options carries backend-specific settings that do not fit in the location string.
type Options struct {
	// GoogleCredentialsJSON, when set, is used instead of Application Default Credentials.
	GoogleCredentialsJSON string
}

// Open returns the backend described by location.
func Open(ctx context.Context, location string, opts Options, logger *slog.Logger) (Backend, error) {
	location = strings.TrimSpace(location)
	switch {
	case location == "":
		return nil, fmt.Errorf("%w: empty", ErrInvalidLocation)
	case strings.HasPrefix(location, "gs://"):
		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(location, "gs://"), "/")
		if bucket == "" {
			return nil, fmt.Errorf("%w: no bucket in %q", ErrInvalidLocation, location)
		}
		return openGCS(ctx, bucket, prefix, opts, logger)
	case strings.HasPrefix(location, "redis://"), strings.HasPrefix(location, "rediss://"):
		return openRedis(ctx, location, logger)
	case strings.HasPrefix(location, "sqlite:"):
		path := strings.TrimPrefix(strings.TrimPrefix(location, "sqlite:"), "//")
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("%w: empty sqlite path", ErrInvalidLocation)
		}
		return openSQLite(ctx, path, logger)
	default:
		return openLocal(location, logger)
	}
}

// IsInvalidLocation reports whether err came from a malformed location string.
func IsInvalidLocation(err error) bool {
	return errors.Is(err, ErrInvalidLocation)
}

// IsNotFound checks if an error indicates a key was never written.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// cleanKey validates a key and returns its canonical form.
// Rejects absolute paths and anything that would escape the storage root.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return cleaned, nil
}
