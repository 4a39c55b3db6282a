package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

const reactDocument = `{
	"name": "react",
	"dist-tags": {"latest": "19.0.0"},
	"versions": {"19.0.0": {"name": "react", "version": "19.0.0", "_npmUser": {"name": "gaearon"}}},
	"time": {"19.0.0": "2024-12-05T18:10:18.000Z"}
}`

const gaearonProfile = `<html><body>
<img src="/npm-avatar/abc123" alt="avatar">
<a href="https://github.com/gaearon">@gaearon</a>
</body></html>`

type fakeNPM struct {
	registry, profiles, webhook *httptest.Server
	posts                       atomic.Int32
	profileHits                 atomic.Int32
	lastPost                    atomic.Value
}

func newFakeNPM(t *testing.T) *fakeNPM {
	t.Helper()
	f := &fakeNPM{}
	f.registry = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/react" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, reactDocument)
	}))
	f.profiles = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.profileHits.Add(1)
		_, _ = io.WriteString(w, gaearonProfile)
	}))
	f.webhook = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.lastPost.Store(string(body))
		f.posts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(func() {
		f.registry.Close()
		f.profiles.Close()
		f.webhook.Close()
	})
	return f
}

func (f *fakeNPM) setenv(t *testing.T, statePath string) {
	t.Helper()
	t.Setenv("DISCORD_WEBHOOK_URL", f.webhook.URL)
	t.Setenv("PACKAGES_TO_MONITOR", `{"react": "latest", "left-pad": "latest"}`)
	t.Setenv("REGISTRY_URL", f.registry.URL)
	t.Setenv("PROFILE_URL", f.profiles.URL)
	t.Setenv("PROFILE_RATE", "100")
	t.Setenv("STATE_PATH", statePath)
	t.Setenv("LOG_LEVEL", "error")
}

func TestRunNotifiesOnce(t *testing.T) {
	f := newFakeNPM(t)
	dir := t.TempDir()
	f.setenv(t, dir)

	if code := run(); code != 0 {
		t.Fatalf("first run exit code = %d, want 0", code)
	}
	if got := f.posts.Load(); got != 1 {
		t.Fatalf("webhook posts after first run = %d, want 1", got)
	}

	var payload struct {
		Username string `json:"username"`
		Embeds   []struct {
			Title     string `json:"title"`
			Timestamp string `json:"timestamp"`
			Author    struct {
				Name    string `json:"name"`
				IconURL string `json:"icon_url"`
			} `json:"author"`
		} `json:"embeds"`
	}
	if err := json.Unmarshal([]byte(f.lastPost.Load().(string)), &payload); err != nil {
		t.Fatalf("decode webhook payload: %v", err)
	}
	embed := payload.Embeds[0]
	if embed.Title != "[react:latest] updated to 19.0.0" {
		t.Errorf("title = %q", embed.Title)
	}
	if embed.Author.Name != "gaearon" || embed.Author.IconURL != f.profiles.URL+"/npm-avatar/abc123" {
		t.Errorf("author = %+v", embed.Author)
	}
	if embed.Timestamp != "2024-12-05T18:10:18Z" {
		t.Errorf("timestamp = %q, want publish time", embed.Timestamp)
	}

	if _, err := os.Stat(filepath.Join(dir, "avatar-cache.json")); err != nil {
		t.Errorf("avatar cache not persisted: %v", err)
	}

	if code := run(); code != 0 {
		t.Fatalf("second run exit code = %d, want 0", code)
	}
	if got := f.posts.Load(); got != 1 {
		t.Errorf("webhook posts after second run = %d, want still 1", got)
	}
	if got := f.profileHits.Load(); got != 1 {
		t.Errorf("profile fetched %d times, want 1 (cached)", got)
	}
}

func TestRunDryRunDoesNotPost(t *testing.T) {
	f := newFakeNPM(t)
	f.setenv(t, t.TempDir())
	t.Setenv("DRY_RUN", "true")

	if code := run(); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if got := f.posts.Load(); got != 0 {
		t.Errorf("webhook posts = %d, want 0 in dry run", got)
	}
}

func TestRunInvalidConfigFailsBeforeNetwork(t *testing.T) {
	f := newFakeNPM(t)
	dir := filepath.Join(t.TempDir(), "state")
	f.setenv(t, dir)
	t.Setenv("PACKAGES_TO_MONITOR", `{"react": latest}`)

	if code := run(); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if got := f.posts.Load(); got != 0 {
		t.Errorf("webhook posts = %d, want 0", got)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("state directory created despite fatal config error: %v", err)
	}
}

func TestRunSQLiteState(t *testing.T) {
	f := newFakeNPM(t)
	f.setenv(t, "sqlite:"+filepath.Join(t.TempDir(), "state.db"))

	for i := range 2 {
		if code := run(); code != 0 {
			t.Fatalf("run %d exit code = %d, want 0", i, code)
		}
	}
	if got := f.posts.Load(); got != 1 {
		t.Errorf("webhook posts = %d, want 1", got)
	}
}

func TestRunUnreachableStateContinuesWithEmptyState(t *testing.T) {
	f := newFakeNPM(t)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	f.setenv(t, filepath.Join(blocker, "state"))

	if code := run(); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if got := f.posts.Load(); got != 1 {
		t.Errorf("webhook posts = %d, want 1", got)
	}
}

func TestRunMalformedStateLocationIsFatal(t *testing.T) {
	f := newFakeNPM(t)
	f.setenv(t, "sqlite:")

	if code := run(); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if got := f.posts.Load(); got != 0 {
		t.Errorf("webhook posts = %d, want 0", got)
	}
}
