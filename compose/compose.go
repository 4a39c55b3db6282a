// Package compose builds release notifications from resolved versions.
package compose

import (
	"context"
	"log/slog"
	"time"

	"npm-release-notifier/config"
	"npm-release-notifier/pkg/release"
)

// Branding shared by every message.
const (
	Username      = "Npm"
	BrandIconURL  = "https://raw.githubusercontent.com/smell-of-curry/npm-discord-alerter/main/images/npm-logo.png"
	Color         = 0xED1C24 // npm red
	UnknownAuthor = "Unknown"
)

// AvatarResolver maps an npm user name to an avatar URL.
type AvatarResolver interface {
	Resolve(ctx context.Context, user string) (url string, ok bool)
}

// Update is a detected version change for one target.
type Update struct {
	Target      release.Target
	Version     string
	Meta        *release.Version // May be nil when the document lacks the version entry
	PublishedAt time.Time        // Zero when unknown
}

// Composer turns updates into messages.
type Composer struct {
	avatars   AvatarResolver
	logger    *slog.Logger
	now       func() time.Time
	templates config.Templates
}

// New creates a composer. Empty templates fall back to the defaults.
func New(templates config.Templates, avatars AvatarResolver, logger *slog.Logger) *Composer {
	if templates.Title == "" {
		templates.Title = config.DefaultTitleTemplate
	}
	if templates.Description == "" {
		templates.Description = config.DefaultDescriptionTemplate
	}
	if templates.URL == "" {
		templates.URL = config.DefaultURLTemplate
	}
	return &Composer{
		avatars:   avatars,
		logger:    logger,
		now:       time.Now,
		templates: templates,
	}
}

// Compose renders the message for u.
func (c *Composer) Compose(ctx context.Context, u Update) release.Message {
	data := map[string]string{
		"package": u.Target.Package,
		"tag":     u.Target.Tag,
		"version": u.Version,
	}

	author := release.Author{Name: UnknownAuthor, IconURL: BrandIconURL}
	if user := u.Meta.PublisherName(); user != "" {
		author.Name = user
		if icon, ok := c.avatars.Resolve(ctx, user); ok {
			author.IconURL = icon
		}
	}

	ts := u.PublishedAt
	if ts.IsZero() {
		ts = c.now()
	}

	msg := release.Message{
		Title:        Render(c.templates.Title, data),
		Description:  Render(c.templates.Description, data),
		URL:          Render(c.templates.URL, data),
		Author:       author,
		Color:        Color,
		Username:     Username,
		BrandIconURL: BrandIconURL,
		Timestamp:    ts.UTC(),
	}

	c.logger.Debug("Notification composed",
		"target", u.Target.String(),
		"version", u.Version,
		"title", msg.Title,
		"author", author.Name)

	return msg
}
