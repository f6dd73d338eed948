package gateway

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"golang.org/x/oauth2"

	"github.com/naka-gawa/oss-stamp/internal/domain"
)

// newHTTPClient assembles the transport chain shared by the REST and GraphQL
// clients: token -> throttle classification -> secondary limit waiter -> base.
func newHTTPClient(base http.RoundTripper, token func() string, sleepLimit time.Duration, logger *slog.Logger) (*http.Client, error) {
	if base == nil {
		base = http.DefaultTransport
	}
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(base,
		github_ratelimit.WithLimitDetectedCallback(func(*github_ratelimit.CallbackContext) {
			logger.Warn("secondary rate limit detected")
		}),
		github_ratelimit.WithSingleSleepLimit(sleepLimit, func(*github_ratelimit.CallbackContext) {
			logger.Warn("secondary rate limit wait exceeds limit; surfacing to caller", "limit", sleepLimit)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	return &http.Client{
		Transport: &authTransport{
			token: token,
			base:  &throttleTransport{base: rateLimitWaiter, now: time.Now},
		},
	}, nil
}

// authTransport sends the current token, or nothing when there is none.
type authTransport struct {
	token func() string
	base  http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := strings.TrimSpace(t.token())
	if token == "" {
		return t.base.RoundTrip(req)
	}
	ot := &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
		Base:   t.base,
	}
	return ot.RoundTrip(req)
}

// throttleTransport turns throttled responses into RateLimited errors so that
// REST and GraphQL callers see the same failure.
type throttleTransport struct {
	base http.RoundTripper
	now  func() time.Time
}

func (t *throttleTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	throttled := isThrottled(resp)
	var body []byte
	if throttled || resp.Header.Get("X-RateLimit-Remaining") == "0" {
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, domain.NewTransportError(req.URL.Path, fmt.Errorf("failed to read response: %w", err))
		}
		// GraphQL reports an exhausted quota as 200 with a RATE_LIMITED error.
		throttled = throttled || bytes.Contains(body, []byte(`"RATE_LIMITED"`))
	}
	if !throttled {
		if body != nil {
			resp.Body = io.NopCloser(bytes.NewReader(body))
		}
		return resp, nil
	}
	if len(body) > 4<<10 {
		body = body[:4<<10]
	}
	return nil, domain.NewRateLimitedError(req.URL.Path, resetTime(resp.Header, t.now()),
		fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
}

// isThrottled reports primary (403, remaining 0) and secondary (429 or Retry-After) limits.
func isThrottled(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != ""
	default:
		return false
	}
}

// resetTime prefers Retry-After seconds, then X-RateLimit-Reset, then a fixed backoff.
func resetTime(header http.Header, now time.Time) time.Time {
	if s := header.Get("Retry-After"); s != "" {
		if seconds, err := strconv.Atoi(s); err == nil && seconds > 0 {
			return now.Add(time.Duration(seconds) * time.Second)
		}
	}
	if s := header.Get("X-RateLimit-Reset"); s != "" {
		if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
			if reset := time.Unix(unix, 0); reset.After(now) {
				return reset
			}
		}
	}
	return now.Add(defaultRateLimitBackoff)
}
