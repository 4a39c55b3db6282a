package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"npm-release-notifier/pkg/release"
)

// DefaultProfileURL is the npm website that hosts public user profiles.
const DefaultProfileURL = "https://www.npmjs.com"

// ProfileClient scrapes public npm user profile pages.
type ProfileClient struct {
	client  *http.Client
	logger  *slog.Logger
	limiter *rate.Limiter
	baseURL string
}

// NewProfileClient creates a profile scraper allowing perSecond lookups per second.
func NewProfileClient(client *http.Client, baseURL string, perSecond float64, logger *slog.Logger) *ProfileClient {
	if baseURL == "" {
		baseURL = DefaultProfileURL
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	return &ProfileClient{
		client:  client,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Profile fetches the profile for user. It returns (nil, nil) when npm has
// no such user. Failures are not retried: the avatar cache decides when to
// ask again.
func (p *ProfileClient) Profile(ctx context.Context, user string) (*release.Profile, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	pageURL := p.baseURL + "/~" + url.PathEscape(user)
	p.logger.Debug("HTTP request starting",
		"method", "GET",
		"url", pageURL,
		"purpose", "fetch_user_profile")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("User-Agent", userAgent)

	startTime := time.Now()
	resp, err := p.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	p.logger.Info("HTTP request completed",
		"url", pageURL,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	profile, err := parseProfile(resp.Body, pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	profile.Name = user
	return profile, nil
}

// parseProfile extracts the avatar image and GitHub handle from a profile page.
func parseProfile(body io.Reader, pageURL string) (*release.Profile, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, err
	}

	profile := &release.Profile{}

	avatar, _ := doc.Find(`img[src*="/npm-avatar/"], img[src*="gravatar.com/avatar"]`).First().Attr("src")
	if avatar != "" {
		profile.Avatar = absoluteURL(pageURL, avatar)
	}

	// Profile links render as "@handle"; site chrome links to github.com/npm without the "@".
	doc.Find(`a[href^="https://github.com/"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if !strings.HasPrefix(text, "@") {
			return true
		}
		profile.GitHub = strings.TrimPrefix(text, "@")
		return false
	})

	return profile, nil
}

func absoluteURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
