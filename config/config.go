// Package config loads run configuration from the environment.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"npm-release-notifier/pkg/release"
)

// Default notification templates. Placeholders: {package}, {tag}, {version}.
const (
	DefaultTitleTemplate       = "[{package}:{tag}] updated to {version}"
	DefaultDescriptionTemplate = "`npm i {package}@{version}`"
	DefaultURLTemplate         = "https://www.npmjs.com/package/{package}"
)

// Templates holds the notification text templates.
type Templates struct {
	Title       string
	Description string
	URL         string
}

// Config is built once at startup and passed to every component that needs it.
type Config struct {
	WebhookURL            string
	Targets               []release.Target // In configured order
	Templates             Templates
	StatePath             string
	RegistryURL           string
	ProfileURL            string
	GoogleCredentialsJSON string
	HTTPTimeout           time.Duration
	ProfileRate           float64
	LogLevel              slog.Level
	DryRun                bool
	EmitState             bool
}

var envKeys = map[string]string{
	"webhook_url":             "DISCORD_WEBHOOK_URL",
	"packages":                "PACKAGES_TO_MONITOR",
	"title_template":          "DISCORD_TITLE_TEMPLATE",
	"description_template":    "DISCORD_DESCRIPTION_TEMPLATE",
	"url_template":            "DISCORD_URL_TEMPLATE",
	"state_path":              "STATE_PATH",
	"registry_url":            "REGISTRY_URL",
	"profile_url":             "PROFILE_URL",
	"google_credentials_json": "GOOGLE_CREDENTIALS_JSON",
	"http_timeout":            "HTTP_TIMEOUT",
	"profile_rate":            "PROFILE_RATE",
	"log_level":               "LOG_LEVEL",
	"dry_run":                 "DRY_RUN",
	"emit_state":              "EMIT_STATE",
}

// Load reads the configuration from environment variables.
// Any error is fatal: the caller must stop before doing network work.
func Load() (*Config, error) {
	v := viper.New()
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	v.SetDefault("title_template", DefaultTitleTemplate)
	v.SetDefault("description_template", DefaultDescriptionTemplate)
	v.SetDefault("url_template", DefaultURLTemplate)
	v.SetDefault("state_path", ".state")
	v.SetDefault("registry_url", "https://registry.npmjs.org")
	v.SetDefault("profile_url", "https://www.npmjs.com")
	v.SetDefault("http_timeout", "15s")
	v.SetDefault("profile_rate", 2)
	v.SetDefault("log_level", "info")
	v.SetDefault("dry_run", false)
	v.SetDefault("emit_state", false)

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	webhook := strings.TrimSpace(v.GetString("webhook_url"))
	if webhook == "" {
		return nil, errors.New("missing DISCORD_WEBHOOK_URL")
	}

	raw := strings.TrimSpace(v.GetString("packages"))
	if raw == "" {
		return nil, errors.New("missing PACKAGES_TO_MONITOR")
	}
	targets, err := ParseTargets(raw)
	if err != nil {
		return nil, fmt.Errorf("PACKAGES_TO_MONITOR is not valid: %w", err)
	}

	timeout, err := parseTimeout(v.GetString("http_timeout"))
	if err != nil {
		return nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return &Config{
		WebhookURL: webhook,
		Targets:    targets,
		Templates: Templates{
			Title:       orDefault(v.GetString("title_template"), DefaultTitleTemplate),
			Description: orDefault(v.GetString("description_template"), DefaultDescriptionTemplate),
			URL:         orDefault(v.GetString("url_template"), DefaultURLTemplate),
		},
		StatePath:             orDefault(v.GetString("state_path"), ".state"),
		RegistryURL:           v.GetString("registry_url"),
		ProfileURL:            v.GetString("profile_url"),
		GoogleCredentialsJSON: v.GetString("google_credentials_json"),
		HTTPTimeout:           timeout,
		ProfileRate:           v.GetFloat64("profile_rate"),
		LogLevel:              level,
		DryRun:                v.GetBool("dry_run"),
		EmitState:             v.GetBool("emit_state"),
	}, nil
}

// MinHTTPTimeout is the shortest accepted HTTP_TIMEOUT.
const MinHTTPTimeout = 100 * time.Millisecond

// parseTimeout requires a unit ("15s", "1500ms"); a bare number is rejected
// rather than read as nanoseconds.
func parseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid HTTP_TIMEOUT %q: want a duration with a unit such as 15s", raw)
	}
	if d < MinHTTPTimeout {
		return 0, fmt.Errorf("invalid HTTP_TIMEOUT %q: must be at least %s", raw, MinHTTPTimeout)
	}
	return d, nil
}

// An empty environment variable counts as unset.
func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// ParseTargets decodes a JSON object of package -> tag, keeping key order.
func ParseTargets(raw string) ([]release.Target, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("expected a JSON object of package to tag")
	}

	var targets []release.Target
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		pkg, _ := tok.(string)

		var tag string
		if err := dec.Decode(&tag); err != nil {
			return nil, fmt.Errorf("tag for %q must be a string: %w", pkg, err)
		}
		pkg, tag = strings.TrimSpace(pkg), strings.TrimSpace(tag)
		if pkg == "" || tag == "" {
			return nil, fmt.Errorf("empty package or tag in entry %q: %q", pkg, tag)
		}
		if seen[pkg] {
			return nil, fmt.Errorf("duplicate package %q", pkg)
		}
		seen[pkg] = true
		targets = append(targets, release.Target{Package: pkg, Tag: tag})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON object")
	}
	if len(targets) == 0 {
		return nil, errors.New("no packages configured")
	}
	return targets, nil
}
