package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/oss-stamp/internal/domain"
	"github.com/naka-gawa/oss-stamp/internal/gateway"
)

// mockFetcher is a mock implementation of the gateway.Fetcher interface.
// It allows us to simulate the behavior of the GitHub gateway without making real API calls.
type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchCount(ctx context.Context, filter string) (int, error) {
	args := m.Called(ctx, filter)
	return args.Int(0), args.Error(1)
}

func (m *mockFetcher) FetchFirstCreated(ctx context.Context, filter string) (*time.Time, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*time.Time), args.Error(1)
}

func (m *mockFetcher) FetchProfile(ctx context.Context, login string) (*gateway.Profile, error) {
	args := m.Called(ctx, login)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Profile), args.Error(1)
}

func (m *mockFetcher) FetchPRAuthor(ctx context.Context, owner, repo string, number int) (string, error) {
	args := m.Called(ctx, owner, repo, number)
	return args.String(0), args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	repoMerged  = "repo:o/r author:u is:pr is:merged"
	repoTotal   = "repo:o/r author:u is:pr"
	repoReviews = "repo:o/r is:pr reviewed-by:u -author:u"
)

// TestAggregator_LoadRepoScope uses a table-driven approach to test the repository scope.
func TestAggregator_LoadRepoScope(t *testing.T) {
	first := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rateLimited := domain.NewRateLimitedError("count", first, errors.New("403"))

	testCases := []struct {
		name          string
		merged        int
		total         int
		reviews       int
		mergedErr     error
		first         *time.Time
		expectFirst   bool
		expected      domain.RawMetrics
		expectErrKind domain.ErrorKind
	}{
		{
			name:        "happy path - all counters and first contribution",
			merged:      10,
			total:       20,
			reviews:     5,
			first:       &first,
			expectFirst: true,
			expected: domain.RawMetrics{
				Scope: domain.ScopeRepo, MergedPRs: 10, TotalPRs: 20, ReviewsGiven: 5, FirstContributionAt: &first,
			},
		},
		{
			name:     "no pull requests - first contribution is not queried",
			reviews:  3,
			expected: domain.RawMetrics{Scope: domain.ScopeRepo, ReviewsGiven: 3},
		},
		{
			name:          "rate limited count fails the whole aggregation",
			mergedErr:     rateLimited,
			total:         0,
			expectErrKind: domain.KindRateLimited,
		},
		{
			name:      "not found count is treated as zero",
			mergedErr: domain.NewNotFoundError("count", nil),
			reviews:   1,
			expected:  domain.RawMetrics{Scope: domain.ScopeRepo, ReviewsGiven: 1},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			fetcher := new(mockFetcher)
			fetcher.On("FetchCount", mock.Anything, repoMerged).Return(tc.merged, tc.mergedErr)
			fetcher.On("FetchCount", mock.Anything, repoTotal).Return(tc.total, nil)
			fetcher.On("FetchCount", mock.Anything, repoReviews).Return(tc.reviews, nil)
			if tc.expectFirst {
				fetcher.On("FetchFirstCreated", mock.Anything, repoTotal).Return(tc.first, nil).Once()
			}
			aggregator := NewAggregator(fetcher, discardLogger())

			// --- Act ---
			got, err := aggregator.LoadRepoScope(context.Background(), "o", "r", "u")

			// --- Assert ---
			if tc.expectErrKind != 0 {
				require.Error(t, err)
				assert.Equal(t, tc.expectErrKind, domain.KindOf(err))
				assert.Equal(t, domain.RawMetrics{}, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
			fetcher.AssertExpectations(t)
			if !tc.expectFirst {
				fetcher.AssertNotCalled(t, "FetchFirstCreated", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestAggregator_LoadRepoScope_FirstContributionFailure(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("FetchCount", mock.Anything, repoMerged).Return(1, nil)
	fetcher.On("FetchCount", mock.Anything, repoTotal).Return(2, nil)
	fetcher.On("FetchCount", mock.Anything, repoReviews).Return(0, nil)
	fetcher.On("FetchFirstCreated", mock.Anything, repoTotal).Return(nil, domain.NewTransportError("first-created", errors.New("reset")))

	_, err := NewAggregator(fetcher, discardLogger()).LoadRepoScope(context.Background(), "o", "r", "u")
	assert.Equal(t, domain.KindTransport, domain.KindOf(err))
}

func TestAggregator_LoadSubjectScope(t *testing.T) {
	created := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("happy path", func(t *testing.T) {
		fetcher := new(mockFetcher)
		fetcher.On("FetchProfile", mock.Anything, "u").Return(&gateway.Profile{Login: "u", CreatedAt: created, Followers: 4, PublicRepos: 9}, nil)
		fetcher.On("FetchCount", mock.Anything, "author:u is:pr is:merged").Return(30, nil)
		fetcher.On("FetchCount", mock.Anything, "author:u is:pr").Return(40, nil)
		fetcher.On("FetchCount", mock.Anything, "is:pr reviewed-by:u -author:u").Return(12, nil)

		got, err := NewAggregator(fetcher, discardLogger()).LoadSubjectScope(context.Background(), "u")
		require.NoError(t, err)
		assert.Equal(t, domain.RawMetrics{
			Scope:        domain.ScopeSubject,
			MergedPRs:    30,
			TotalPRs:     40,
			ReviewsGiven: 12,
			Profile:      &domain.Profile{Login: "u", CreatedAt: created, Followers: 4, PublicRepos: 9},
		}, got)
		fetcher.AssertExpectations(t)
	})

	t.Run("unknown user yields an absent profile", func(t *testing.T) {
		fetcher := new(mockFetcher)
		fetcher.On("FetchProfile", mock.Anything, "u").Return(nil, domain.NewNotFoundError("profile", nil))
		fetcher.On("FetchCount", mock.Anything, mock.Anything).Return(0, nil)

		got, err := NewAggregator(fetcher, discardLogger()).LoadSubjectScope(context.Background(), "u")
		require.NoError(t, err)
		assert.Nil(t, got.Profile)
	})

	t.Run("transport failure is surfaced", func(t *testing.T) {
		fetcher := new(mockFetcher)
		fetcher.On("FetchProfile", mock.Anything, "u").Return(nil, domain.NewTransportError("profile", errors.New("eof")))
		fetcher.On("FetchCount", mock.Anything, mock.Anything).Return(0, nil)

		_, err := NewAggregator(fetcher, discardLogger()).LoadSubjectScope(context.Background(), "u")
		assert.Equal(t, domain.KindTransport, domain.KindOf(err))
	})
}

// releaseBarrier holds every query until all of them are in flight, then lets
// them finish one at a time in the given order.
type releaseBarrier struct {
	t      *testing.T
	inside sync.WaitGroup
	allIn  chan struct{}
	gates  map[string]chan struct{}
	done   map[string]chan struct{}
}

func newReleaseBarrier(t *testing.T, order ...string) *releaseBarrier {
	b := &releaseBarrier{
		t:     t,
		allIn: make(chan struct{}),
		gates: make(map[string]chan struct{}),
		done:  make(map[string]chan struct{}),
	}
	b.inside.Add(len(order))
	for _, key := range order {
		b.gates[key] = make(chan struct{})
		b.done[key] = make(chan struct{})
	}
	go func() {
		b.inside.Wait()
		close(b.allIn)
		for _, key := range order {
			close(b.gates[key])
			<-b.done[key]
		}
	}()
	return b
}

func (b *releaseBarrier) wait(key string) func(mock.Arguments) {
	return func(mock.Arguments) {
		b.inside.Done()
		select {
		case <-b.allIn:
		case <-time.After(2 * time.Second):
			b.t.Errorf("%q ran while other queries had not started", key)
			return
		}
		<-b.gates[key]
		close(b.done[key])
	}
}

func TestAggregator_LoadSubjectScope_ConcurrentAndPositional(t *testing.T) {
	const (
		merged  = "author:u is:pr is:merged"
		total   = "author:u is:pr"
		reviews = "is:pr reviewed-by:u -author:u"
	)
	b := newReleaseBarrier(t, reviews, total, merged, "profile")
	created := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

	fetcher := new(mockFetcher)
	fetcher.On("FetchProfile", mock.Anything, "u").Run(b.wait("profile")).
		Return(&gateway.Profile{Login: "u", CreatedAt: created, Followers: 4, PublicRepos: 9}, nil)
	fetcher.On("FetchCount", mock.Anything, merged).Run(b.wait(merged)).Return(30, nil)
	fetcher.On("FetchCount", mock.Anything, total).Run(b.wait(total)).Return(40, nil)
	fetcher.On("FetchCount", mock.Anything, reviews).Run(b.wait(reviews)).Return(12, nil)

	got, err := NewAggregator(fetcher, discardLogger()).LoadSubjectScope(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, 30, got.MergedPRs)
	assert.Equal(t, 40, got.TotalPRs)
	assert.Equal(t, 12, got.ReviewsGiven)
	require.NotNil(t, got.Profile)
	assert.Equal(t, 9, got.Profile.PublicRepos)
}

func TestAggregator_LoadRepoScope_ConcurrentAndPositional(t *testing.T) {
	b := newReleaseBarrier(t, repoReviews, repoTotal, repoMerged)
	first := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	fetcher := new(mockFetcher)
	fetcher.On("FetchCount", mock.Anything, repoMerged).Run(b.wait(repoMerged)).Return(7, nil)
	fetcher.On("FetchCount", mock.Anything, repoTotal).Run(b.wait(repoTotal)).Return(11, nil)
	fetcher.On("FetchCount", mock.Anything, repoReviews).Run(b.wait(repoReviews)).Return(3, nil)
	fetcher.On("FetchFirstCreated", mock.Anything, repoTotal).Return(&first, nil).Once()

	got, err := NewAggregator(fetcher, discardLogger()).LoadRepoScope(context.Background(), "o", "r", "u")
	require.NoError(t, err)
	assert.Equal(t, domain.RawMetrics{
		Scope: domain.ScopeRepo, MergedPRs: 7, TotalPRs: 11, ReviewsGiven: 3, FirstContributionAt: &first,
	}, got)
}
