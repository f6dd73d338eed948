package gateway

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"

	"github.com/naka-gawa/oss-stamp/internal/domain"
)

// defaultRateLimitBackoff applies when a throttled response carries no reset hint.
const defaultRateLimitBackoff = 60 * time.Second

var errUserNotResolved = errors.New("could not resolve user")

// classify converts client errors into the domain error taxonomy.
func (g *GitHubGateway) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if kind := domain.KindOf(err); kind != 0 {
		var de *domain.Error
		errors.As(err, &de)
		return &domain.Error{Kind: kind, ResetAt: de.ResetAt, Op: op, Err: err}
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		reset := rateErr.Rate.Reset.Time
		if reset.IsZero() {
			reset = g.now().Add(defaultRateLimitBackoff)
		}
		return domain.NewRateLimitedError(op, reset, err)
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		wait := defaultRateLimitBackoff
		if abuseErr.RetryAfter != nil {
			wait = *abuseErr.RetryAfter
		}
		return domain.NewRateLimitedError(op, g.now().Add(wait), err)
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusNotFound:
			return domain.NewNotFoundError(op, err)
		case http.StatusUnprocessableEntity:
			// Search answers 422 when a qualifier names an unknown user; any
			// other validation failure is a broken query, not an empty one.
			if namesUnknownUser(respErr) {
				return domain.NewNotFoundError(op, err)
			}
		}
	}

	if errors.Is(err, errUserNotResolved) || strings.Contains(err.Error(), "Could not resolve to a") {
		return domain.NewNotFoundError(op, err)
	}
	return domain.NewTransportError(op, err)
}

func namesUnknownUser(respErr *github.ErrorResponse) bool {
	if strings.Contains(respErr.Message, "cannot be searched") {
		return true
	}
	for _, e := range respErr.Errors {
		if strings.Contains(e.Message, "cannot be searched") {
			return true
		}
	}
	return false
}
