package domain

// Tier is the letter grade of an overall score.
type Tier string

const (
	TierS Tier = "S"
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
	TierD Tier = "D"
)

// Rank orders tiers from D (0) to S (4).
func (t Tier) Rank() int {
	switch t {
	case TierS:
		return 4
	case TierA:
		return 3
	case TierB:
		return 2
	case TierC:
		return 1
	default:
		return 0
	}
}

// Score component names.
const (
	ComponentContribution = "contribution"
	ComponentMergeRate    = "mergeRate"
	ComponentReview       = "review"
	ComponentTenure       = "tenure"
	ComponentRecency      = "recency"
)

// ScoreResult is derived from RawMetrics and never persisted.
type ScoreResult struct {
	Overall    int            `json:"overall"`
	Tier       Tier           `json:"tier"`
	Components map[string]int `json:"components"`
}
