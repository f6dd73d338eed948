// Package gateway provides a gateway to the GitHub API,
// abstracting away the underlying REST and GraphQL clients.
package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
)

const (
	defaultAPIURL     = "https://api.github.com/"
	defaultGraphQLURL = "https://api.github.com/graphql"
)

// Fetcher performs single logical queries against GitHub. Each failure is a
// *domain.Error of kind RateLimited, NotFound or Transport. No method retries.
type Fetcher interface {
	// FetchCount returns the number of issues and pull requests matching filter.
	FetchCount(ctx context.Context, filter string) (int, error)
	// FetchFirstCreated returns the creation time of the oldest match, or nil if none match.
	FetchFirstCreated(ctx context.Context, filter string) (*time.Time, error)
	// FetchProfile returns the public profile of login.
	FetchProfile(ctx context.Context, login string) (*Profile, error)
	// FetchPRAuthor returns the login of the author of a pull request.
	FetchPRAuthor(ctx context.Context, owner, repo string, number int) (string, error)
}

// Profile is the account data returned by FetchProfile.
type Profile struct {
	Login       string
	CreatedAt   time.Time
	Followers   int
	PublicRepos int
}

// Recorder receives one observation per query.
type Recorder interface {
	FetchObserved(op string, err error, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) FetchObserved(string, error, time.Duration) {}

// Options configures NewGitHubGateway.
type Options struct {
	// Token returns the current credential; an empty string means anonymous access.
	Token func() string
	// APIURL is the REST base URL. Defaults to https://api.github.com/.
	APIURL string
	// GraphQLURL is the GraphQL endpoint. Defaults to https://api.github.com/graphql.
	GraphQLURL string
	// SecondarySleepLimit is the longest secondary rate limit wait the transport
	// absorbs. Longer limits surface as RateLimited errors.
	SecondarySleepLimit time.Duration
	// Base is the underlying transport. Defaults to http.DefaultTransport.
	Base     http.RoundTripper
	Logger   *slog.Logger
	Recorder Recorder
}

// GitHubGateway is the concrete implementation of the Fetcher interface.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	logger        *slog.Logger
	recorder      Recorder
	token         func() string
	now           func() time.Time
}

var _ Fetcher = (*GitHubGateway)(nil)

// searchCountQuery asks only for the number of matches.
type searchCountQuery struct {
	Search struct {
		IssueCount githubv4.Int
	} `graphql:"search(query: $query, type: ISSUE, first: 1)"`
}

// profileQuery fetches the public account data of one user.
type profileQuery struct {
	User struct {
		Login     githubv4.String
		CreatedAt githubv4.DateTime
		Followers struct {
			TotalCount githubv4.Int
		}
		Repositories struct {
			TotalCount githubv4.Int
		} `graphql:"repositories(privacy: PUBLIC, ownerAffiliations: OWNER)"`
	} `graphql:"user(login: $login)"`
}

// NewGitHubGateway is a constructor that creates a new instance of GitHubGateway.
func NewGitHubGateway(opts Options) (*GitHubGateway, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Token == nil {
		opts.Token = func() string { return "" }
	}
	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	graphqlURL := opts.GraphQLURL
	if graphqlURL == "" {
		graphqlURL = defaultGraphQLURL
	}

	httpClient, err := newHTTPClient(opts.Base, opts.Token, opts.SecondarySleepLimit, opts.Logger)
	if err != nil {
		return nil, err
	}
	return newGateway(httpClient, opts.Token, apiURL, graphqlURL, opts.Logger, opts.Recorder)
}

func newGateway(httpClient *http.Client, token func() string, apiURL, graphqlURL string, logger *slog.Logger, recorder Recorder) (*GitHubGateway, error) {
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	baseURL, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API URL %q: %w", apiURL, err)
	}
	restClient := github.NewClient(httpClient)
	restClient.BaseURL = baseURL

	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &GitHubGateway{
		restClient:    restClient,
		graphqlClient: githubv4.NewEnterpriseClient(graphqlURL, httpClient),
		logger:        logger.With("component", "gateway"),
		recorder:      recorder,
		token:         token,
		now:           time.Now,
	}, nil
}

// FetchCount counts matches through the GraphQL search connection, or REST
// search when no token is configured.
func (g *GitHubGateway) FetchCount(ctx context.Context, filter string) (count int, err error) {
	const op = "count"
	defer g.observe(op, time.Now(), &err)
	g.logger.Debug("searching issue count", "query", filter)

	if g.anonymous() {
		result, _, err := g.restClient.Search.Issues(ctx, filter, &github.SearchOptions{ListOptions: github.ListOptions{PerPage: 1}})
		if err != nil {
			return 0, g.classify(op, fmt.Errorf("failed to search issue count with REST API: %w", err))
		}
		return result.GetTotal(), nil
	}

	var q searchCountQuery
	variables := map[string]interface{}{"query": githubv4.String(filter)}
	if err := g.graphqlClient.Query(ctx, &q, variables); err != nil {
		return 0, g.classify(op, fmt.Errorf("failed to execute GraphQL query for counts: %w", err))
	}
	return int(q.Search.IssueCount), nil
}

// FetchFirstCreated returns the oldest match using REST search sorted by creation date.
func (g *GitHubGateway) FetchFirstCreated(ctx context.Context, filter string) (first *time.Time, err error) {
	const op = "first-created"
	defer g.observe(op, time.Now(), &err)
	g.logger.Debug("searching oldest match", "query", filter)

	opts := &github.SearchOptions{
		Sort:        "created",
		Order:       "asc",
		ListOptions: github.ListOptions{PerPage: 1},
	}
	result, _, err := g.restClient.Search.Issues(ctx, filter, opts)
	if err != nil {
		return nil, g.classify(op, fmt.Errorf("failed to search issues with REST API: %w", err))
	}
	if len(result.Issues) == 0 || result.Issues[0].CreatedAt == nil {
		return nil, nil
	}
	created := result.Issues[0].GetCreatedAt().Time
	return &created, nil
}

// FetchProfile reads the user's account data through GraphQL, or the REST
// users endpoint when no token is configured.
func (g *GitHubGateway) FetchProfile(ctx context.Context, login string) (profile *Profile, err error) {
	const op = "profile"
	defer g.observe(op, time.Now(), &err)
	g.logger.Debug("fetching profile", "login", login)

	if g.anonymous() {
		user, _, err := g.restClient.Users.Get(ctx, login)
		if err != nil {
			return nil, g.classify(op, fmt.Errorf("failed to get user with REST API: %w", err))
		}
		return &Profile{
			Login:       user.GetLogin(),
			CreatedAt:   user.GetCreatedAt().Time,
			Followers:   user.GetFollowers(),
			PublicRepos: user.GetPublicRepos(),
		}, nil
	}

	var q profileQuery
	variables := map[string]interface{}{"login": githubv4.String(login)}
	if err := g.graphqlClient.Query(ctx, &q, variables); err != nil {
		return nil, g.classify(op, fmt.Errorf("failed to execute GraphQL query for profile: %w", err))
	}
	if q.User.Login == "" {
		return nil, g.classify(op, fmt.Errorf("user %q: %w", login, errUserNotResolved))
	}
	return &Profile{
		Login:       string(q.User.Login),
		CreatedAt:   q.User.CreatedAt.Time,
		Followers:   int(q.User.Followers.TotalCount),
		PublicRepos: int(q.User.Repositories.TotalCount),
	}, nil
}

// FetchPRAuthor reads the author of a pull request through REST.
func (g *GitHubGateway) FetchPRAuthor(ctx context.Context, owner, repo string, number int) (login string, err error) {
	const op = "pr-author"
	defer g.observe(op, time.Now(), &err)
	g.logger.Debug("fetching pull request author", "owner", owner, "repo", repo, "number", number)

	pr, _, err := g.restClient.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return "", g.classify(op, fmt.Errorf("failed to get pull request with REST API: %w", err))
	}
	login = pr.GetUser().GetLogin()
	if login == "" {
		return "", g.classify(op, fmt.Errorf("pull request %s/%s#%d has no author: %w", owner, repo, number, errUserNotResolved))
	}
	return login, nil
}

// TokenInfo describes the credential currently in use.
type TokenInfo struct {
	Login     string
	RateLimit int
}

// ValidateToken resolves the authenticated user and the rate limit granted to it.
func (g *GitHubGateway) ValidateToken(ctx context.Context) (*TokenInfo, error) {
	user, resp, err := g.restClient.Users.Get(ctx, "")
	if err != nil {
		return nil, g.classify("validate-token", fmt.Errorf("failed to get authenticated user: %w", err))
	}
	info := &TokenInfo{Login: user.GetLogin(), RateLimit: 5000}
	if resp != nil && resp.Rate.Limit > 0 {
		info.RateLimit = resp.Rate.Limit
	}
	return info, nil
}

// anonymous reports whether requests go out without a token. GraphQL requires
// one, so anonymous queries use the REST equivalents.
func (g *GitHubGateway) anonymous() bool {
	return strings.TrimSpace(g.token()) == ""
}

func (g *GitHubGateway) observe(op string, start time.Time, err *error) {
	g.recorder.FetchObserved(op, *err, time.Since(start))
	if *err != nil {
		g.logger.Debug("query failed", "op", op, "error", *err)
	}
}
