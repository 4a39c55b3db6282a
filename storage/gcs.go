package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS stores objects in a Cloud Storage bucket under an optional prefix.
type GCS struct {
	client *storage.Client
	logger *slog.Logger
	bucket string
	prefix string
}

func openGCS(ctx context.Context, bucket, prefix string, opts Options, logger *slog.Logger) (*GCS, error) {
	var clientOpts []option.ClientOption
	if opts.GoogleCredentialsJSON != "" {
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(opts.GoogleCredentialsJSON)))
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialize storage client: %w", err)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	logger.Info("Using Cloud Storage", "bucket", bucket, "prefix", prefix)
	return &GCS{client: client, logger: logger, bucket: bucket, prefix: prefix}, nil
}

func (g *GCS) object(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return g.prefix + cleaned, nil
}

// Read loads an object, retrying transient failures.
func (g *GCS) Read(ctx context.Context, key string) ([]byte, error) {
	name, err := g.object(key)
	if err != nil {
		return nil, err
	}

	var data []byte
	var missing bool
	err = retry.Do(
		func() error {
			r, openErr := g.client.Bucket(g.bucket).Object(name).NewReader(ctx)
			if openErr != nil {
				// Don't retry on "not found" errors
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					missing = true
					return retry.Unrecoverable(ErrNotExist)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					g.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			g.logger.Info("Retrying load operation after error", "attempt", n, "key", name, "error", retryErr)
		}),
	)
	if missing {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

// Write uploads an object, retrying transient failures.
func (g *GCS) Write(ctx context.Context, key string, data []byte) error {
	name, err := g.object(key)
	if err != nil {
		return err
	}

	err = retry.Do(
		func() error {
			w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					g.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			g.logger.Info("Retrying save operation after error", "attempt", n, "key", name, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	g.logger.Debug("Object saved", "bucket", g.bucket, "key", name, "bytes", len(data))
	return nil
}

// List iterates objects below prefix. Keys are returned relative to the backend prefix.
func (g *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{
		Prefix: g.prefix + prefix,
	})

	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		keys = append(keys, strings.TrimPrefix(attrs.Name, g.prefix))
	}
	return keys, nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}
