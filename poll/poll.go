// Package poll reconciles monitored targets against the registry.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"npm-release-notifier/compose"
	"npm-release-notifier/pkg/release"
	"npm-release-notifier/registry"
)

// Registry interface for fetching package documents.
type Registry interface {
	Fetch(ctx context.Context, pkg string) (*release.Document, error)
}

// Store interface for last-notified versions.
type Store interface {
	Get(t release.Target) (version string, ok bool)
	Set(ctx context.Context, t release.Target, version string) error
}

// Composer interface for building notifications.
type Composer interface {
	Compose(ctx context.Context, u compose.Update) release.Message
}

// Sender interface for delivering notifications.
type Sender interface {
	Send(ctx context.Context, msg release.Message) error
}

// Flusher persists a cache at the end of a run.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Outcome is the final state of one target in a run.
type Outcome int

// Target outcomes.
const (
	Unchanged Outcome = iota
	Changed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ErrUnresolvableTag is reported when neither dist-tags nor versions know the tag.
var ErrUnresolvableTag = errors.New("unresolvable tag")

// Result describes what happened to one target.
type Result struct {
	Err      error // Set when Outcome is Failed, or when a Changed target could not be delivered
	Target   release.Target
	Previous string // Empty when the target was never observed
	Version  string
	Outcome  Outcome
	Notified bool // Webhook accepted the message
}

// Summary is the aggregate result of a run, in target order.
type Summary struct {
	Results []Result
}

// Changed reports whether any target changed version.
func (s *Summary) Changed() bool {
	for _, r := range s.Results {
		if r.Outcome == Changed {
			return true
		}
	}
	return false
}

// Count returns the number of targets with outcome o.
func (s *Summary) Count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// Monitor handles the reconciliation pass.
type Monitor struct {
	registry Registry
	store    Store
	composer Composer
	sender   Sender
	avatars  Flusher
	logger   *slog.Logger
}

// New creates a new poll monitor. avatars may be nil.
func New(reg Registry, store Store, composer Composer, sender Sender, avatars Flusher, logger *slog.Logger) *Monitor {
	return &Monitor{
		registry: reg,
		store:    store,
		composer: composer,
		sender:   sender,
		avatars:  avatars,
		logger:   logger,
	}
}

// CheckAll processes targets sequentially in order. Per-target errors are
// recorded in the summary and never abort the run; only context
// cancellation does.
func (m *Monitor) CheckAll(ctx context.Context, targets []release.Target) (*Summary, error) {
	start := time.Now()
	m.logger.Info("Checking targets", "count", len(targets))

	summary := &Summary{Results: make([]Result, 0, len(targets))}
	for _, t := range targets {
		select {
		case <-ctx.Done():
			m.logger.Info("Context cancelled, stopping poll check", "error", ctx.Err())
			m.flush(ctx)
			return summary, ctx.Err()
		default:
		}

		r := m.checkTarget(ctx, t)
		if r.Outcome == Failed {
			m.logger.Warn("Target check failed", "target", t.String(), "error", r.Err)
		}
		summary.Results = append(summary.Results, r)
	}

	m.flush(ctx)

	m.logger.Info("Target check completed",
		"total", len(targets),
		"changed", summary.Count(Changed),
		"unchanged", summary.Count(Unchanged),
		"failed", summary.Count(Failed),
		"duration_ms", time.Since(start).Milliseconds())

	return summary, nil
}

func (m *Monitor) flush(ctx context.Context) {
	if m.avatars == nil {
		return
	}
	// Flush even after cancellation.
	if err := m.avatars.Flush(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("Failed to save avatar cache", "error", err)
	}
}

func (m *Monitor) checkTarget(ctx context.Context, t release.Target) Result {
	r := Result{Target: t}

	doc, err := m.registry.Fetch(ctx, t.Package)
	if err != nil {
		r.Outcome = Failed
		if registry.IsNotFound(err) {
			r.Err = fmt.Errorf("package not found: %w", err)
		} else {
			r.Err = fmt.Errorf("fetch registry document: %w", err)
		}
		return r
	}

	version, ok := registry.Resolve(doc, t.Tag)
	if !ok {
		r.Outcome = Failed
		r.Err = fmt.Errorf("%w %q", ErrUnresolvableTag, t.Tag)
		return r
	}
	r.Version = version

	previous, seen := m.store.Get(t)
	if seen {
		r.Previous = previous
	}
	if seen && previous == version {
		m.logger.Debug("Target unchanged", "target", t.String(), "version", version)
		r.Outcome = Unchanged
		return r
	}

	r.Outcome = Changed
	m.logger.Info("New version detected",
		"target", t.String(),
		"version", version,
		"previous", previous,
		"first_seen", !seen)

	update := compose.Update{
		Target:  t,
		Version: version,
		Meta:    doc.Versions[version],
	}
	if at, ok := doc.PublishedAt(version); ok {
		update.PublishedAt = at
	}

	msg := m.composer.Compose(ctx, update)
	if err := m.sender.Send(ctx, msg); err != nil {
		// State advances even when delivery fails.
		r.Err = fmt.Errorf("send notification: %w", err)
		m.logger.Error("Failed to send notification",
			"target", t.String(),
			"version", version,
			"error", err)
	} else {
		r.Notified = true
	}

	if err := m.store.Set(ctx, t, version); err != nil {
		m.logger.Error("Failed to save state, next run may notify again",
			"target", t.String(),
			"version", version,
			"error", err)
	}

	return r
}
