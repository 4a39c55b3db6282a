// Package registry fetches package documents and user profiles from npm.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"npm-release-notifier/pkg/release"
)

// DefaultURL is the public npm registry.
const DefaultURL = "https://registry.npmjs.org"

const userAgent = "npm-release-notifier (+https://github.com/npm-release-notifier)"

// NotFoundError indicates the registry has no such package.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("HTTP 404 Not Found: %s", e.URL)
}

// IsNotFound checks if an error is a registry 404.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Client fetches package documents from an npm-compatible registry.
type Client struct {
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// New creates a registry client. client should carry the per-request timeout.
func New(client *http.Client, baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		client:  client,
		logger:  logger,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// PackageURL returns the document URL for pkg. Scoped names keep their "@"
// but the "/" is escaped, as the registry expects.
func (c *Client) PackageURL(pkg string) string {
	return c.baseURL + "/" + url.PathEscape(pkg)
}

// Fetch downloads and decodes the document for pkg.
func (c *Client) Fetch(ctx context.Context, pkg string) (*release.Document, error) {
	docURL := c.PackageURL(pkg)
	var doc *release.Document
	var notFound *NotFoundError

	err := retry.Do(
		func() error {
			c.logger.Debug("HTTP request starting",
				"method", "GET",
				"url", docURL,
				"purpose", "fetch_package_document")

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Accept", "application/json")
			req.Header.Set("User-Agent", userAgent)

			startTime := time.Now()
			resp, err := c.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				c.logger.Warn("HTTP request failed, will retry",
					"url", docURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			c.logger.Info("HTTP request completed",
				"url", docURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds(),
				"content_length", resp.ContentLength)

			if resp.StatusCode == http.StatusNotFound {
				notFound = &NotFoundError{URL: docURL}
				return retry.Unrecoverable(notFound)
			}

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				c.logger.Warn("HTTP request returned non-2xx status, will retry", "status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			var d release.Document
			if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
				c.logger.Error("Failed to decode package document", "url", docURL, "error", err)
				return retry.Unrecoverable(fmt.Errorf("decode document: %w", err))
			}
			doc = &d
			return nil
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.MaxJitter(500*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying fetch after error", "attempt", n, "url", docURL, "error", err)
		}),
	)

	if notFound != nil {
		return nil, fmt.Errorf("fetch %s: %w", pkg, notFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pkg, err)
	}

	return doc, nil
}

// Resolve returns the version tag currently points to in doc.
//
// tag is looked up as a dist-tag first ("latest", "beta"); failing that it
// is treated as a literal version key, so pinned versions resolve too.
func Resolve(doc *release.Document, tag string) (string, bool) {
	if doc == nil {
		return "", false
	}
	if v := doc.DistTags[tag]; v != "" {
		return v, true
	}
	if meta := doc.Versions[tag]; meta != nil && meta.Version != "" {
		return meta.Version, true
	}
	return "", false
}
