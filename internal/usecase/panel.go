package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/oss-stamp/internal/cache"
	"github.com/naka-gawa/oss-stamp/internal/domain"
	"github.com/naka-gawa/oss-stamp/internal/scoring"
)

// ScopeLoader aggregates raw metrics for one scope. *Aggregator implements it.
type ScopeLoader interface {
	LoadSubjectScope(ctx context.Context, subject string) (domain.RawMetrics, error)
	LoadRepoScope(ctx context.Context, owner, repo, subject string) (domain.RawMetrics, error)
}

// View is everything the panel renders for one subject on one page.
type View struct {
	Context     domain.PageContext `json:"context"`
	Subject     string             `json:"subject"`
	Repo        *domain.RawMetrics `json:"repo,omitempty"`
	Global      domain.RawMetrics  `json:"global"`
	Score       domain.ScoreResult `json:"score"`
	ActiveSince string             `json:"active_since"`
	AccountAge  string             `json:"account_age,omitempty"`
}

// Panel loads views through the result cache and scores them.
type Panel struct {
	loader    ScopeLoader
	cache     *cache.Cache[domain.RawMetrics]
	engine    *scoring.Engine
	freshness time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewPanel creates a Panel. freshness is the window after which cached
// metrics are served stale and refreshed in the background.
func NewPanel(loader ScopeLoader, c *cache.Cache[domain.RawMetrics], engine *scoring.Engine, freshness time.Duration, logger *slog.Logger) *Panel {
	return &Panel{
		loader:    loader,
		cache:     c,
		engine:    engine,
		freshness: freshness,
		now:       time.Now,
		logger:    logger.With("component", "panel"),
	}
}

// Load returns the view of subject on page pc, serving cached metrics when possible.
func (p *Panel) Load(ctx context.Context, pc domain.PageContext, subject string) (*View, error) {
	return p.load(ctx, pc, subject, false)
}

// Reload is Load with every cached metric refetched. It backs the manual retry.
func (p *Panel) Reload(ctx context.Context, pc domain.PageContext, subject string) (*View, error) {
	return p.load(ctx, pc, subject, true)
}

// Invalidate drops all cached metrics, e.g. after the credential changed.
func (p *Panel) Invalidate() {
	p.cache.Purge()
}

func (p *Panel) load(ctx context.Context, pc domain.PageContext, subject string, force bool) (*View, error) {
	if subject == "" {
		return nil, errors.New("panel: empty subject")
	}
	subjectKey := "subject:" + strings.ToLower(subject)
	repoKey := fmt.Sprintf("repo:%s/%s:%s", strings.ToLower(pc.Owner), strings.ToLower(pc.Repo), strings.ToLower(subject))

	var global, repo domain.RawMetrics
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		var err error
		global, err = p.fetch(egCtx, subjectKey, force, func(ctx context.Context) (domain.RawMetrics, error) {
			return p.loader.LoadSubjectScope(ctx, subject)
		})
		return err
	})
	if pc.RequiresRepo() {
		eg.Go(func() error {
			var err error
			repo, err = p.fetch(egCtx, repoKey, force, func(ctx context.Context) (domain.RawMetrics, error) {
				return p.loader.LoadRepoScope(ctx, pc.Owner, pc.Repo, subject)
			})
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	now := p.now()
	view := &View{Context: pc, Subject: subject, Global: global}
	if pc.RequiresRepo() {
		view.Repo = &repo
		view.Score = p.engine.Score(repo.WithProfile(global.Profile))
		view.ActiveSince = domain.FormatActiveSince(repo.FirstContributionAt, now)
	} else {
		view.Score = p.engine.Score(global)
		if global.Profile != nil {
			created := global.Profile.CreatedAt
			view.ActiveSince = domain.FormatActiveSince(&created, now)
		} else {
			view.ActiveSince = domain.FormatActiveSince(nil, now)
		}
	}
	if global.Profile != nil {
		view.AccountAge = domain.FormatAccountAge(global.Profile.CreatedAt, now)
	}
	p.logger.Debug("view loaded", "page", pc.String(), "subject", subject, "overall", view.Score.Overall, "tier", view.Score.Tier)
	return view, nil
}

func (p *Panel) fetch(ctx context.Context, key string, force bool, loader cache.Loader[domain.RawMetrics]) (domain.RawMetrics, error) {
	if force {
		return p.cache.Reload(ctx, key, loader)
	}
	return p.cache.GetOrLoad(ctx, key, loader, p.freshness)
}
