package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"npm-release-notifier/pkg/release"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMessage() release.Message {
	return release.Message{
		Title:        "[react:latest] updated to 19.0.0",
		Description:  "`npm i react@19.0.0`",
		URL:          "https://www.npmjs.com/package/react",
		Author:       release.Author{Name: "gaearon", IconURL: "https://img/g.png"},
		Color:        0xED1C24,
		Username:     "Npm",
		BrandIconURL: "https://img/npm.png",
		Timestamp:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestDiscordSend(t *testing.T) {
	var got map[string]any
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordProvider(srv.Client(), srv.URL, discardLogger())
	if err := d.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
	if got["username"] != "Npm" || got["avatar_url"] != "https://img/npm.png" {
		t.Errorf("branding = %v / %v", got["username"], got["avatar_url"])
	}
	embeds, _ := got["embeds"].([]any)
	if len(embeds) != 1 {
		t.Fatalf("embeds = %v, want one", got["embeds"])
	}
	embed := embeds[0].(map[string]any)
	if embed["title"] != "[react:latest] updated to 19.0.0" {
		t.Errorf("title = %v", embed["title"])
	}
	if embed["color"] != float64(0xED1C24) {
		t.Errorf("color = %v", embed["color"])
	}
	if embed["timestamp"] != "2025-01-02T03:04:05Z" {
		t.Errorf("timestamp = %v", embed["timestamp"])
	}
	author := embed["author"].(map[string]any)
	if author["name"] != "gaearon" || author["icon_url"] != "https://img/g.png" {
		t.Errorf("author = %v", author)
	}
}

func TestDiscordSendNon2xx(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"message": "Invalid Webhook Token"}`)
	}))
	defer srv.Close()

	d := NewDiscordProvider(srv.Client(), srv.URL, discardLogger())
	err := d.Send(context.Background(), testMessage())
	if err == nil {
		t.Fatal("Send() should fail on HTTP 400")
	}
	if !strings.Contains(err.Error(), "HTTP 400") || !strings.Contains(err.Error(), "Invalid Webhook Token") {
		t.Errorf("error = %v, want status and body", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("webhook hit %d times, want 1 (no retry)", n)
	}
}

func TestMockProviderNeverFails(t *testing.T) {
	if err := NewMockProvider(discardLogger()).Send(context.Background(), testMessage()); err != nil {
		t.Errorf("Send() error = %v", err)
	}
}
