// Package state tracks the last notified version of every monitored target.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"npm-release-notifier/pkg/release"
	"npm-release-notifier/storage"
)

const keyPrefix = "state/"

// Entry is the persisted record for one target.
type Entry struct {
	UpdatedAt time.Time `json:"updated_at"`
	Package   string    `json:"package"`
	Tag       string    `json:"tag"`
	Version   string    `json:"version"`
}

// Store maps targets to their last notified version.
// It is not safe for concurrent use.
type Store struct {
	backend storage.Backend
	logger  *slog.Logger
	now     func() time.Time
	entries map[string]Entry // Keyed by Key(package, tag)
}

// New creates an empty store. Call Load to read persisted state.
func New(backend storage.Backend, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]Entry),
	}
}

// Key encodes (package, tag) as a filesystem-safe token.
//
// Bytes outside [a-z0-9.-] are written as "_xx" (lowercase hex), so "_" is
// always followed by two hex digits and "__" never occurs inside an encoded
// component. Joining with "__" therefore keeps the mapping injective.
func Key(pkg, tag string) string {
	return escape(pkg) + "__" + escape(tag)
}

func escape(s string) string {
	const hex = "0123456789abcdef"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '.' || c == '-' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('_')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func objectKey(t release.Target) string {
	return keyPrefix + Key(t.Package, t.Tag) + ".json"
}

// Load reads every persisted entry. Unreadable storage is logged and treated
// as empty; a corrupt entry is logged and skipped, so its target counts as
// never observed.
func (s *Store) Load(ctx context.Context) {
	s.entries = make(map[string]Entry)

	keys, err := s.backend.List(ctx, keyPrefix)
	if err != nil {
		s.logger.Warn("Failed to list state, starting fresh", "error", err)
		return
	}

	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		entry, err := s.read(ctx, key)
		if err != nil {
			s.logger.Warn("Failed to read state entry, treating as unseen", "key", key, "error", err)
			continue
		}
		s.entries[Key(entry.Package, entry.Tag)] = entry
	}

	s.logger.Info("State loaded", "entries", len(s.entries))
}

func (s *Store) read(ctx context.Context, key string) (Entry, error) {
	data, err := s.backend.Read(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("unmarshal state entry: %w", err)
	}
	if e.Package == "" || e.Tag == "" || e.Version == "" {
		return Entry{}, errors.New("incomplete state entry")
	}
	if keyPrefix+Key(e.Package, e.Tag)+".json" != key {
		return Entry{}, fmt.Errorf("entry for %s@%s stored under wrong key", e.Package, e.Tag)
	}
	return e, nil
}

// Get returns the last notified version for t. ok is false when the target
// has never been observed.
func (s *Store) Get(t release.Target) (version string, ok bool) {
	e, ok := s.entries[Key(t.Package, t.Tag)]
	if !ok {
		return "", false
	}
	return e.Version, true
}

// Set records version for t and flushes that entry immediately.
// The in-memory state advances even when the write fails.
func (s *Store) Set(ctx context.Context, t release.Target, version string) error {
	e := Entry{
		UpdatedAt: s.now().UTC(),
		Package:   t.Package,
		Tag:       t.Tag,
		Version:   version,
	}
	s.entries[Key(t.Package, t.Tag)] = e

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state entry: %w", err)
	}
	key := objectKey(t)
	if err := s.backend.Write(ctx, key, data); err != nil {
		return fmt.Errorf("write state entry: %w", err)
	}

	s.logger.Debug("State saved", "key", key, "target", t.String(), "version", version)
	return nil
}

// Snapshot returns "package@tag" -> version for every known target.
func (s *Store) Snapshot() map[string]string {
	out := make(map[string]string, len(s.entries))
	for _, e := range s.entries {
		out[e.Package+"@"+e.Tag] = e.Version
	}
	return out
}
