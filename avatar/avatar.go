// Package avatar caches npm user avatar URLs across runs.
//
// Entries expire after TTL. An expired entry is refreshed on next use; if the
// refresh fails the old URL keeps being served and its expiry is pushed out
// by another TTL. Users with no known avatar get a negative entry that lives
// for TTL/5, which bounds how often a failing or rate-limited profile
// service is asked again.
package avatar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"npm-release-notifier/pkg/release"
	"npm-release-notifier/storage"
)

const (
	// TTL is how long a resolved avatar is trusted.
	TTL = 5 * 24 * time.Hour
	// NegativeTTL is how long "no avatar" is remembered.
	NegativeTTL = TTL / 5

	cacheKey = "avatar-cache.json"
)

// ProfileFetcher looks up an npm user's public profile.
// A nil profile with a nil error means the user has none.
type ProfileFetcher interface {
	Profile(ctx context.Context, user string) (*release.Profile, error)
}

// Entry is one cached lookup. An empty Avatar is a negative entry.
type Entry struct {
	ExpiresAt time.Time `json:"expires_at"`
	Avatar    string    `json:"avatar,omitempty"`
}

// Cache maps npm user names to avatar URLs. It is not safe for concurrent use.
type Cache struct {
	backend storage.Backend
	fetcher ProfileFetcher
	logger  *slog.Logger
	now     func() time.Time
	entries map[string]Entry
	dirty   bool
}

// New creates an empty cache. Call Load to read the persisted document.
func New(backend storage.Backend, fetcher ProfileFetcher, logger *slog.Logger) *Cache {
	return &Cache{
		backend: backend,
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]Entry),
	}
}

// Load reads the persisted cache. A missing or corrupt document leaves the cache empty.
func (c *Cache) Load(ctx context.Context) {
	c.entries = make(map[string]Entry)
	c.dirty = false

	data, err := c.backend.Read(ctx, cacheKey)
	if err != nil {
		if !storage.IsNotFound(err) {
			c.logger.Warn("Failed to read avatar cache", "error", err)
		}
		return
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		c.logger.Warn("Failed to parse avatar cache, starting fresh", "error", err)
		return
	}
	for user, e := range entries {
		c.entries[user] = e
	}
	c.logger.Debug("Avatar cache loaded", "entries", len(c.entries))
}

// Lookup returns the cached entry for user and whether it is still fresh.
func (c *Cache) Lookup(user string) (e Entry, fresh bool, ok bool) {
	e, ok = c.entries[user]
	if !ok {
		return Entry{}, false, false
	}
	return e, c.now().Before(e.ExpiresAt), true
}

// Resolve returns an avatar URL for user, refreshing it when no fresh entry
// exists. ok is false when no avatar is known; callers fall back to a default.
func (c *Cache) Resolve(ctx context.Context, user string) (url string, ok bool) {
	cached, fresh, found := c.Lookup(user)
	if found && fresh {
		return cached.Avatar, cached.Avatar != ""
	}

	now := c.now()
	fetched := c.fetch(ctx, user)

	switch {
	case fetched != "":
		if fetched != cached.Avatar {
			c.logger.Info("Avatar updated", "user", user, "avatar", fetched)
		}
		c.put(user, Entry{Avatar: fetched, ExpiresAt: now.Add(TTL)})
		return fetched, true
	case ctx.Err() != nil:
		// A cancelled run says nothing about the user; leave the entry as it was.
		return cached.Avatar, cached.Avatar != ""
	case cached.Avatar != "":
		c.logger.Info("Serving stale avatar", "user", user, "expired_at", cached.ExpiresAt.Format(time.RFC3339))
		c.put(user, Entry{Avatar: cached.Avatar, ExpiresAt: now.Add(TTL)})
		return cached.Avatar, true
	default:
		c.put(user, Entry{ExpiresAt: now.Add(NegativeTTL)})
		return "", false
	}
}

// fetch asks the profile service once. It returns "" on failure or when the
// profile has neither an avatar nor a linked GitHub account.
func (c *Cache) fetch(ctx context.Context, user string) string {
	profile, err := c.fetcher.Profile(ctx, user)
	if err != nil {
		c.logger.Warn("Failed to fetch npm profile, using cached or default avatar", "user", user, "error", err)
		return ""
	}
	if profile == nil {
		return ""
	}
	if profile.Avatar != "" {
		return profile.Avatar
	}
	if profile.GitHub != "" {
		return "https://github.com/" + profile.GitHub + ".png"
	}
	return ""
}

func (c *Cache) put(user string, e Entry) {
	c.entries[user] = e
	c.dirty = true
}

// Flush writes the cache if it changed since Load.
func (c *Cache) Flush(ctx context.Context) error {
	if !c.dirty {
		return nil
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal avatar cache: %w", err)
	}
	if err := c.backend.Write(ctx, cacheKey, data); err != nil {
		return fmt.Errorf("write avatar cache: %w", err)
	}
	c.dirty = false
	c.logger.Debug("Avatar cache saved", "entries", len(c.entries))
	return nil
}
