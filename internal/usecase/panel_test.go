package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/oss-stamp/internal/cache"
	"github.com/naka-gawa/oss-stamp/internal/domain"
	"github.com/naka-gawa/oss-stamp/internal/scoring"
)

type fakeScopeLoader struct {
	subjectCalls atomic.Int32
	repoCalls    atomic.Int32
	subject      domain.RawMetrics
	repo         domain.RawMetrics
	err          error
}

func (f *fakeScopeLoader) LoadSubjectScope(ctx context.Context, subject string) (domain.RawMetrics, error) {
	f.subjectCalls.Add(1)
	return f.subject, f.err
}

func (f *fakeScopeLoader) LoadRepoScope(ctx context.Context, owner, repo, subject string) (domain.RawMetrics, error) {
	f.repoCalls.Add(1)
	return f.repo, f.err
}

var panelNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestPanel(t *testing.T, loader ScopeLoader) *Panel {
	t.Helper()
	engine, err := scoring.New(scoring.DefaultPolicy(), scoring.WithClock(func() time.Time { return panelNow }))
	require.NoError(t, err)
	p := NewPanel(loader, cache.New[domain.RawMetrics](), engine, time.Hour, discardLogger())
	p.now = func() time.Time { return panelNow }
	return p
}

func TestPanel_LoadRepoPage(t *testing.T) {
	first := panelNow.Add(-11 * scoring.Month)
	loader := &fakeScopeLoader{
		subject: domain.RawMetrics{Scope: domain.ScopeSubject, Profile: &domain.Profile{Login: "u", CreatedAt: panelNow.AddDate(-3, 0, -1)}},
		repo:    domain.RawMetrics{Scope: domain.ScopeRepo, MergedPRs: 10, TotalPRs: 20, ReviewsGiven: 5, FirstContributionAt: &first},
	}
	p := newTestPanel(t, loader)
	pc := domain.ParsePageContext("https://github.com/o/r/pull/1")

	view, err := p.Load(context.Background(), pc, "u")
	require.NoError(t, err)
	require.NotNil(t, view.Repo)
	assert.Equal(t, 10, view.Repo.MergedPRs)
	assert.Equal(t, "u", view.Global.Profile.Login)
	assert.Equal(t, 50, view.Score.Components[domain.ComponentMergeRate])
	// Profile present with no followers or repositories: recency is 0, not neutral.
	assert.Equal(t, 0, view.Score.Components[domain.ComponentRecency])
	assert.Equal(t, "11 mo", view.ActiveSince)
	assert.Equal(t, "3 yrs", view.AccountAge)

	_, err = p.Load(context.Background(), pc, "U")
	require.NoError(t, err)
	assert.Equal(t, int32(1), loader.subjectCalls.Load())
	assert.Equal(t, int32(1), loader.repoCalls.Load())
}

func TestPanel_LoadProfilePageSkipsRepoScope(t *testing.T) {
	loader := &fakeScopeLoader{subject: domain.RawMetrics{Scope: domain.ScopeSubject, MergedPRs: 3, TotalPRs: 3}}
	p := newTestPanel(t, loader)

	view, err := p.Load(context.Background(), domain.ParsePageContext("https://github.com/u"), "u")
	require.NoError(t, err)
	assert.Nil(t, view.Repo)
	assert.Equal(t, 100, view.Score.Components[domain.ComponentMergeRate])
	assert.Equal(t, int32(0), loader.repoCalls.Load())
}

func TestPanel_ZeroActivityIsTierD(t *testing.T) {
	loader := &fakeScopeLoader{
		subject: domain.RawMetrics{Scope: domain.ScopeSubject},
		repo:    domain.RawMetrics{Scope: domain.ScopeRepo},
	}
	p := newTestPanel(t, loader)

	view, err := p.Load(context.Background(), domain.ParsePageContext("https://github.com/o/r/pull/1"), "u")
	require.NoError(t, err)
	assert.Equal(t, 0, view.Score.Components[domain.ComponentMergeRate])
	assert.Equal(t, 0, view.Score.Components[domain.ComponentContribution])
	assert.Equal(t, domain.TierD, view.Score.Tier)
}

func TestPanel_ReloadBypassesCache(t *testing.T) {
	loader := &fakeScopeLoader{subject: domain.RawMetrics{Scope: domain.ScopeSubject}}
	p := newTestPanel(t, loader)
	pc := domain.ParsePageContext("https://github.com/u")

	_, err := p.Load(context.Background(), pc, "u")
	require.NoError(t, err)
	_, err = p.Reload(context.Background(), pc, "u")
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.subjectCalls.Load())

	p.Invalidate()
	_, err = p.Load(context.Background(), pc, "u")
	require.NoError(t, err)
	assert.Equal(t, int32(3), loader.subjectCalls.Load())
}

func TestPanel_FailureIsSingleState(t *testing.T) {
	limited := domain.NewRateLimitedError("count", panelNow.Add(time.Minute), errors.New("429"))
	p := newTestPanel(t, &fakeScopeLoader{err: limited})

	view, err := p.Load(context.Background(), domain.ParsePageContext("https://github.com/o/r/pull/1"), "u")
	assert.Nil(t, view)
	assert.True(t, domain.IsRateLimited(err))

	_, err = p.Load(context.Background(), domain.PageContext{}, "")
	assert.Error(t, err)
}
