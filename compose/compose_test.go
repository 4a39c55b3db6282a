package compose

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"npm-release-notifier/config"
	"npm-release-notifier/pkg/release"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     map[string]string
		want     string
	}{
		{
			name:     "unmatched placeholder passes through",
			template: "[{a}] {b}",
			data:     map[string]string{"a": "x"},
			want:     "[x] {b}",
		},
		{
			name:     "repeated placeholder",
			template: "{v}-{v}",
			data:     map[string]string{"v": "1"},
			want:     "1-1",
		},
		{
			name:     "no recursive expansion",
			template: "{a}",
			data:     map[string]string{"a": "{b}", "b": "nope"},
			want:     "{b}",
		},
		{
			name:     "empty value substitutes",
			template: "<{a}>",
			data:     map[string]string{"a": ""},
			want:     "<>",
		},
		{
			name:     "non-word braces untouched",
			template: "{ a } {} {a-b}",
			data:     map[string]string{"a": "x"},
			want:     "{ a } {} {a-b}",
		},
		{
			name:     "nil data",
			template: "{package}",
			want:     "{package}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.template, tt.data); got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

type fakeAvatars struct {
	urls  map[string]string
	calls []string
}

func (f *fakeAvatars) Resolve(_ context.Context, user string) (string, bool) {
	f.calls = append(f.calls, user)
	u, ok := f.urls[user]
	return u, ok
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestComposeDefaults(t *testing.T) {
	avatars := &fakeAvatars{urls: map[string]string{"mojang": "https://img/mojang.png"}}
	c := New(config.Templates{}, avatars, discardLogger())
	published := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	msg := c.Compose(context.Background(), Update{
		Target:      release.Target{Package: "@minecraft/server", Tag: "beta"},
		Version:     "2.0.0-beta.1",
		Meta:        &release.Version{Version: "2.0.0-beta.1", Publisher: &release.Person{Name: "mojang"}},
		PublishedAt: published,
	})

	want := release.Message{
		Title:        "[@minecraft/server:beta] updated to 2.0.0-beta.1",
		Description:  "`npm i @minecraft/server@2.0.0-beta.1`",
		URL:          "https://www.npmjs.com/package/@minecraft/server",
		Author:       release.Author{Name: "mojang", IconURL: "https://img/mojang.png"},
		Color:        0xED1C24,
		Username:     "Npm",
		BrandIconURL: BrandIconURL,
		Timestamp:    published,
	}
	if msg != want {
		t.Errorf("Compose() =\n%+v\nwant\n%+v", msg, want)
	}
}

func TestComposeCustomTemplates(t *testing.T) {
	c := New(config.Templates{
		Title: "{package} {version} ({tag}) {unknown}",
		URL:   "https://example.com/{package}/v/{version}",
	}, &fakeAvatars{}, discardLogger())

	msg := c.Compose(context.Background(), Update{
		Target:  release.Target{Package: "react", Tag: "latest"},
		Version: "19.0.0",
	})

	if msg.Title != "react 19.0.0 (latest) {unknown}" {
		t.Errorf("Title = %q", msg.Title)
	}
	if msg.Description != "`npm i react@19.0.0`" {
		t.Errorf("Description = %q, want default", msg.Description)
	}
	if msg.URL != "https://example.com/react/v/19.0.0" {
		t.Errorf("URL = %q", msg.URL)
	}
}

func TestComposeUnknownAuthor(t *testing.T) {
	avatars := &fakeAvatars{}
	c := New(config.Templates{}, avatars, discardLogger())
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	for _, meta := range []*release.Version{nil, {Version: "1.0.0"}} {
		msg := c.Compose(context.Background(), Update{
			Target:  release.Target{Package: "pkg", Tag: "latest"},
			Version: "1.0.0",
			Meta:    meta,
		})
		if msg.Author.Name != UnknownAuthor || msg.Author.IconURL != BrandIconURL {
			t.Errorf("Author = %+v, want Unknown with brand icon", msg.Author)
		}
		if !msg.Timestamp.Equal(fixed) {
			t.Errorf("Timestamp = %v, want composer clock %v", msg.Timestamp, fixed)
		}
	}
	if len(avatars.calls) != 0 {
		t.Errorf("avatar cache consulted %d times without a publisher", len(avatars.calls))
	}
}

func TestComposeAvatarMiss(t *testing.T) {
	c := New(config.Templates{}, &fakeAvatars{}, discardLogger())
	msg := c.Compose(context.Background(), Update{
		Target:  release.Target{Package: "pkg", Tag: "latest"},
		Version: "1.0.0",
		Meta:    &release.Version{Publisher: &release.Person{Name: "someone"}},
	})
	if msg.Author.Name != "someone" || msg.Author.IconURL != BrandIconURL {
		t.Errorf("Author = %+v, want publisher name with brand icon", msg.Author)
	}
}
