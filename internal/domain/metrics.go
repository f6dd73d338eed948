package domain

import "time"

// Scope tells which view a RawMetrics record was aggregated for.
type Scope string

const (
	// ScopeSubject covers a contributor's activity across all of GitHub.
	ScopeSubject Scope = "subject"
	// ScopeRepo covers a contributor's activity within one repository.
	ScopeRepo Scope = "repo"
)

// Profile holds the public account data of a subject.
type Profile struct {
	Login       string    `json:"login"`
	CreatedAt   time.Time `json:"created_at"`
	Followers   int       `json:"followers"`
	PublicRepos int       `json:"public_repos"`
}

// RawMetrics is the flat record produced by one aggregation.
// It is a value type: copy it, never mutate a shared one.
type RawMetrics struct {
	Scope               Scope      `json:"scope"`
	MergedPRs           int        `json:"merged_prs"`
	TotalPRs            int        `json:"total_prs"`
	ReviewsGiven        int        `json:"reviews_given"`
	FirstContributionAt *time.Time `json:"first_contribution_at"`
	Profile             *Profile   `json:"profile,omitempty"`
}

// WithProfile returns a copy of m carrying p as its profile.
func (m RawMetrics) WithProfile(p *Profile) RawMetrics {
	if p != nil {
		cp := *p
		p = &cp
	}
	m.Profile = p
	return m
}
