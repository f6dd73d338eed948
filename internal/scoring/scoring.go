// Package scoring maps raw contribution metrics to a composite reputation score.
//
// The engine is pure: the same RawMetrics and the same clock reading always
// produce the same ScoreResult. Weights and caps are policy, carried by Policy
// and validated once at construction.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/naka-gawa/oss-stamp/internal/domain"
)

// Month is the month length used for tenure, matching the display helpers.
const Month = 30 * 24 * time.Hour

// Weights is the weight vector of the overall score. It must sum to 1.
type Weights struct {
	Contribution float64 `koanf:"contribution" json:"contribution"`
	MergeRate    float64 `koanf:"merge_rate" json:"merge_rate"`
	Review       float64 `koanf:"review" json:"review"`
	Tenure       float64 `koanf:"tenure" json:"tenure"`
	Recency      float64 `koanf:"recency" json:"recency"`
}

func (w Weights) sum() float64 {
	return w.Contribution + w.MergeRate + w.Review + w.Tenure + w.Recency
}

// Policy holds the tunable constants of the engine.
type Policy struct {
	Weights         Weights       `koanf:"weights" json:"weights"`
	ContributionCap int           `koanf:"contribution_cap" json:"contribution_cap"`
	ReviewCap       int           `koanf:"review_cap" json:"review_cap"`
	RecencyCap      int           `koanf:"recency_cap" json:"recency_cap"`
	TenureWindow    time.Duration `koanf:"tenure_window" json:"tenure_window"`
	// NeutralRecency is used when no profile was aggregated.
	NeutralRecency int `koanf:"neutral_recency" json:"neutral_recency"`
}

// DefaultPolicy returns the repository-scoped policy: merged PRs dominate,
// the other four signals share the rest evenly.
func DefaultPolicy() Policy {
	return Policy{
		Weights: Weights{
			Contribution: 0.40,
			MergeRate:    0.15,
			Review:       0.15,
			Tenure:       0.15,
			Recency:      0.15,
		},
		ContributionCap: 50,
		ReviewCap:       30,
		RecencyCap:      100,
		TenureWindow:    24 * Month,
		NeutralRecency:  50,
	}
}

// ErrInvalidPolicy is returned by Validate and New.
var ErrInvalidPolicy = errors.New("invalid scoring policy")

// Validate checks that weights sum to 1 and caps are positive.
func (p Policy) Validate() error {
	if s := p.Weights.sum(); math.Abs(s-1) > 1e-9 {
		return fmt.Errorf("%w: weights sum to %.4f, want 1", ErrInvalidPolicy, s)
	}
	for _, w := range []float64{p.Weights.Contribution, p.Weights.MergeRate, p.Weights.Review, p.Weights.Tenure, p.Weights.Recency} {
		if w < 0 {
			return fmt.Errorf("%w: negative weight %v", ErrInvalidPolicy, w)
		}
	}
	if p.ContributionCap <= 0 || p.ReviewCap <= 0 || p.RecencyCap <= 0 {
		return fmt.Errorf("%w: caps must be positive", ErrInvalidPolicy)
	}
	if p.TenureWindow <= 0 {
		return fmt.Errorf("%w: tenure window must be positive", ErrInvalidPolicy)
	}
	if p.NeutralRecency < 0 || p.NeutralRecency > 100 {
		return fmt.Errorf("%w: neutral recency %d out of [0,100]", ErrInvalidPolicy, p.NeutralRecency)
	}
	return nil
}

// Engine scores RawMetrics under a fixed Policy.
type Engine struct {
	policy Policy
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used for tenure.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Engine after validating the policy.
func New(policy Policy, opts ...Option) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{policy: policy, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy { return e.policy }

// Score computes the composite score of m.
func (e *Engine) Score(m domain.RawMetrics) domain.ScoreResult {
	p := e.policy

	contribution := LogScale(m.MergedPRs, p.ContributionCap)
	mergeRate := MergeRate(m.MergedPRs, m.TotalPRs)
	review := LogScale(m.ReviewsGiven, p.ReviewCap)
	tenure := Tenure(tenureStart(m), e.now(), p.TenureWindow)

	recency := p.NeutralRecency
	if m.Profile != nil {
		mean, _ := stats.Mean(stats.Float64Data{
			float64(LogScale(m.Profile.PublicRepos, p.RecencyCap)),
			float64(LogScale(m.Profile.Followers, p.RecencyCap)),
		})
		recency = round(mean)
	}

	overall := round(float64(contribution)*p.Weights.Contribution +
		float64(mergeRate)*p.Weights.MergeRate +
		float64(review)*p.Weights.Review +
		float64(tenure)*p.Weights.Tenure +
		float64(recency)*p.Weights.Recency)
	overall = clamp(overall)

	return domain.ScoreResult{
		Overall: overall,
		Tier:    TierFor(overall),
		Components: map[string]int{
			domain.ComponentContribution: contribution,
			domain.ComponentMergeRate:    mergeRate,
			domain.ComponentReview:       review,
			domain.ComponentTenure:       tenure,
			domain.ComponentRecency:      recency,
		},
	}
}

// tenureStart is the first contribution; subject-scoped records fall back to account creation.
func tenureStart(m domain.RawMetrics) *time.Time {
	if m.FirstContributionAt != nil {
		return m.FirstContributionAt
	}
	if m.Scope == domain.ScopeSubject && m.Profile != nil && !m.Profile.CreatedAt.IsZero() {
		t := m.Profile.CreatedAt
		return &t
	}
	return nil
}

// LogScale maps a count onto [0,100] with diminishing returns, reaching 100 at ceiling.
func LogScale(value, ceiling int) int {
	if value <= 0 || ceiling <= 0 {
		return 0
	}
	return clamp(round(100 * math.Log(float64(value)+1) / math.Log(float64(ceiling)+1)))
}

// MergeRate is the percentage of merged over total, 0 when there is nothing to rate.
func MergeRate(merged, total int) int {
	if total <= 0 || merged <= 0 {
		return 0
	}
	return clamp(round(100 * float64(merged) / float64(total)))
}

// Tenure scales the time elapsed since start against window.
func Tenure(start *time.Time, now time.Time, window time.Duration) int {
	if start == nil || window <= 0 {
		return 0
	}
	elapsed := now.Sub(*start)
	if elapsed <= 0 {
		return 0
	}
	return clamp(round(100 * float64(elapsed) / float64(window)))
}

// tiers is ordered from the highest threshold down.
var tiers = []struct {
	min  int
	tier domain.Tier
}{
	{90, domain.TierS},
	{70, domain.TierA},
	{50, domain.TierB},
	{30, domain.TierC},
}

// TierFor maps an overall score to its tier.
func TierFor(score int) domain.Tier {
	for _, t := range tiers {
		if score >= t.min {
			return t.tier
		}
	}
	return domain.TierD
}

// round rounds half away from zero, like the display layer expects.
func round(v float64) int {
	r, err := stats.Round(v, 0)
	if err != nil {
		return 0
	}
	return int(r)
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
