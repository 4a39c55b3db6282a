// Package release contains the core domain types for the npm release notification service.
package release

import (
	"encoding/json"
	"time"
)

// Target is a monitored (package, tag) pair.
type Target struct {
	Package string
	Tag     string // Dist-tag channel ("latest") or a pinned version string
}

func (t Target) String() string {
	return t.Package + "@" + t.Tag
}

// Person is an npm user reference as it appears in registry documents.
type Person struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Version is the metadata of one published version.
type Version struct {
	Name        string  `json:"name"`
	Version     string  `json:"version"`
	Description string  `json:"description,omitempty"`
	Homepage    string  `json:"homepage,omitempty"`
	Publisher   *Person `json:"_npmUser,omitempty"` // Account that ran npm publish
}

// PublisherName returns the publishing account name, or "" when unknown.
func (v *Version) PublisherName() string {
	if v == nil || v.Publisher == nil {
		return ""
	}
	return v.Publisher.Name
}

// Document is the packument returned by GET <registry>/<package>.
type Document struct {
	Name     string              `json:"name"`
	DistTags map[string]string   `json:"dist-tags"`
	Versions map[string]*Version `json:"versions"`
	// Time maps versions (plus "created"/"modified") to timestamps. Kept raw
	// because unpublished packages store an object under "unpublished".
	Time map[string]json.RawMessage `json:"time,omitempty"`
}

// PublishedAt returns when version was published, if the document says.
func (d *Document) PublishedAt(version string) (time.Time, bool) {
	if d == nil {
		return time.Time{}, false
	}
	raw, ok := d.Time[version]
	if !ok {
		return time.Time{}, false
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Profile is what could be learned about an npm user from their public profile page.
type Profile struct {
	Name   string
	Avatar string // Absolute image URL, empty when the page has none
	GitHub string // GitHub handle without the leading @
}

// Author is the resolved author block of a notification.
type Author struct {
	Name    string
	IconURL string
}

// Message is a composed notification, independent of the webhook wire format.
type Message struct {
	Title        string
	Description  string
	URL          string
	Author       Author
	Color        int
	Username     string
	BrandIconURL string
	Timestamp    time.Time
}
