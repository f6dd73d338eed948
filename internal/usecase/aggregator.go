// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/oss-stamp/internal/domain"
	"github.com/naka-gawa/oss-stamp/internal/gateway"
)

// Aggregator is the use case for aggregating contributor metrics.
// It issues the fixed query set of a scope concurrently and assembles one RawMetrics.
type Aggregator struct {
	fetcher gateway.Fetcher
	logger  *slog.Logger
}

// NewAggregator creates a new Aggregator instance.
func NewAggregator(fetcher gateway.Fetcher, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		fetcher: fetcher,
		logger:  logger.With("component", "aggregator"),
	}
}

// Search filters of each scope. The review filter excludes self-reviews.
func subjectFilters(subject string) (merged, total, reviews string) {
	return fmt.Sprintf("author:%s is:pr is:merged", subject),
		fmt.Sprintf("author:%s is:pr", subject),
		fmt.Sprintf("is:pr reviewed-by:%s -author:%s", subject, subject)
}

func repoFilters(owner, repo, subject string) (merged, total, reviews string) {
	return fmt.Sprintf("repo:%s/%s author:%s is:pr is:merged", owner, repo, subject),
		fmt.Sprintf("repo:%s/%s author:%s is:pr", owner, repo, subject),
		fmt.Sprintf("repo:%s/%s is:pr reviewed-by:%s -author:%s", owner, repo, subject, subject)
}

// LoadSubjectScope aggregates a subject's activity across GitHub.
func (a *Aggregator) LoadSubjectScope(ctx context.Context, subject string) (domain.RawMetrics, error) {
	a.logger.Debug("starting subject scope aggregation", "subject", subject)
	mergedFilter, totalFilter, reviewsFilter := subjectFilters(subject)

	var (
		profile                *gateway.Profile
		merged, total, reviews int
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		var err error
		profile, err = a.fetcher.FetchProfile(egCtx, subject)
		return absentOnNotFound(err)
	})
	eg.Go(func() error {
		var err error
		merged, err = a.fetcher.FetchCount(egCtx, mergedFilter)
		return absentOnNotFound(err)
	})
	eg.Go(func() error {
		var err error
		total, err = a.fetcher.FetchCount(egCtx, totalFilter)
		return absentOnNotFound(err)
	})
	eg.Go(func() error {
		var err error
		reviews, err = a.fetcher.FetchCount(egCtx, reviewsFilter)
		return absentOnNotFound(err)
	})

	if err := eg.Wait(); err != nil {
		return domain.RawMetrics{}, fmt.Errorf("load subject scope for %s: %w", subject, err)
	}

	metrics := domain.RawMetrics{
		Scope:        domain.ScopeSubject,
		MergedPRs:    merged,
		TotalPRs:     total,
		ReviewsGiven: reviews,
	}
	if profile != nil {
		metrics.Profile = &domain.Profile{
			Login:       profile.Login,
			CreatedAt:   profile.CreatedAt,
			Followers:   profile.Followers,
			PublicRepos: profile.PublicRepos,
		}
	}
	a.logger.Debug("subject scope aggregation complete", "subject", subject)
	return metrics, nil
}

// LoadRepoScope aggregates a subject's activity within one repository.
// The first contribution is only looked up when the subject has pull requests there.
func (a *Aggregator) LoadRepoScope(ctx context.Context, owner, repo, subject string) (domain.RawMetrics, error) {
	a.logger.Debug("starting repo scope aggregation", "owner", owner, "repo", repo, "subject", subject)
	mergedFilter, totalFilter, reviewsFilter := repoFilters(owner, repo, subject)

	var merged, total, reviews int

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		var err error
		merged, err = a.fetcher.FetchCount(egCtx, mergedFilter)
		return absentOnNotFound(err)
	})
	eg.Go(func() error {
		var err error
		total, err = a.fetcher.FetchCount(egCtx, totalFilter)
		return absentOnNotFound(err)
	})
	eg.Go(func() error {
		var err error
		reviews, err = a.fetcher.FetchCount(egCtx, reviewsFilter)
		return absentOnNotFound(err)
	})

	if err := eg.Wait(); err != nil {
		return domain.RawMetrics{}, fmt.Errorf("load repo scope for %s in %s/%s: %w", subject, owner, repo, err)
	}

	var first *time.Time
	if total > 0 {
		var err error
		first, err = a.fetcher.FetchFirstCreated(ctx, totalFilter)
		if err = absentOnNotFound(err); err != nil {
			return domain.RawMetrics{}, fmt.Errorf("load repo scope for %s in %s/%s: %w", subject, owner, repo, err)
		}
	}

	a.logger.Debug("repo scope aggregation complete", "owner", owner, "repo", repo, "subject", subject, "total", total)
	return domain.RawMetrics{
		Scope:               domain.ScopeRepo,
		MergedPRs:           merged,
		TotalPRs:            total,
		ReviewsGiven:        reviews,
		FirstContributionAt: first,
	}, nil
}

// absentOnNotFound treats a query that resolved to nothing as a zero result.
func absentOnNotFound(err error) error {
	if domain.IsNotFound(err) {
		return nil
	}
	return err
}
