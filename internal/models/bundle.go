package models

import (
	"fmt"
)

// Requirement kinds
const (
	KindFunctional    = "functional"
	KindNonFunctional = "nonfunctional"
)

// Requirement categories
const (
	CategoryPerformance     = "performance"
	CategoryRobustness      = "robustness"
	CategoryMaintainability = "maintainability"
	CategoryOther           = "other"
)

// Well-known requirement ids the scoring policy keys on
const (
	ReqEdgeCases       = "fr-edges"
	ReqRobustness      = "nfr-robust"
	ReqMaintainability = "nfr-maint"
	ReqPerformance     = "nfr-perf"
)

// Requirement is one criterion a solution must or should satisfy.
// Requirements are immutable once generated; regeneration replaces
// the whole bundle rather than mutating individual entries.
type Requirement struct {
	ID        string   `yaml:"id" json:"id"`
	Kind      string   `yaml:"kind" json:"kind"`
	Title     string   `yaml:"title" json:"title"`
	Details   []string `yaml:"details" json:"details,omitempty"`
	Category  string   `yaml:"category" json:"category,omitempty"`
	Mandatory bool     `yaml:"mandatory" json:"mandatory,omitempty"`
}

// TestCase is a descriptive test traced back to the requirements that
// motivated it. Execution is delegated to the external runner; the code
// field is illustrative assertion text, never run locally.
type TestCase struct {
	ID         string   `yaml:"id" json:"id"`
	Title      string   `yaml:"title" json:"title"`
	Code       string   `yaml:"code" json:"code"`
	FromReqIDs []string `yaml:"from_req_ids" json:"from_req_ids,omitempty"`
}

// Candidate origins
const (
	OriginArchcode = "archcode"
	OriginExisting = "existing"
	OriginOther    = "other"
)

// Candidate is one proposed solution with declared quality metrics.
type Candidate struct {
	ID        string           `yaml:"id" json:"id"`
	Name      string           `yaml:"name" json:"name"`
	Language  string           `yaml:"language" json:"language"`
	Origin    string           `yaml:"origin" json:"origin,omitempty"`
	Code      string           `yaml:"code" json:"code"`
	Metrics   CandidateMetrics `yaml:"metrics" json:"metrics"`
	Rationale []string         `yaml:"rationale" json:"rationale,omitempty"`
}

// CandidateMetrics holds the declared static quality metrics of a candidate.
// TimeComplexityRank is ordinal, not cardinal: 1=O(1), 2=O(log n), 3=O(√n),
// 4=O(n), 5=O(n log n), 6=O(n²). Callers must not assume uniform spacing.
type CandidateMetrics struct {
	TimeComplexityRank      int      `yaml:"time_complexity_rank" json:"time_complexity_rank"`
	TimeComplexityLabel     string   `yaml:"time_complexity_label" json:"time_complexity_label"`
	CyclomaticComplexity    int      `yaml:"cyclomatic_complexity" json:"cyclomatic_complexity"`
	RobustInputChecks       bool     `yaml:"robust_input_checks" json:"robust_input_checks"`
	HandlesNegativesAndZero bool     `yaml:"handles_negatives_and_zero" json:"handles_negatives_and_zero"`
	Notes                   []string `yaml:"notes" json:"notes,omitempty"`
}

// Bundle is the full generated artifact for one problem statement.
// It is replaced atomically on regeneration; there are no partial updates.
type Bundle struct {
	Problem      string        `yaml:"problem" json:"problem"`
	Requirements []Requirement `yaml:"requirements" json:"requirements"`
	Tests        []TestCase    `yaml:"tests" json:"tests"`
	Candidates   []Candidate   `yaml:"candidates" json:"candidates"`
}

// HasRequirement reports whether the bundle carries a requirement with
// the given id.
func (b *Bundle) HasRequirement(id string) bool {
	for _, r := range b.Requirements {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Candidate returns the candidate with the given id, or nil.
func (b *Bundle) Candidate(id string) *Candidate {
	for i := range b.Candidates {
		if b.Candidates[i].ID == id {
			return &b.Candidates[i]
		}
	}
	return nil
}

// ValidationError reports a malformed bundle or candidate shape.
// It names the offending field so callers can fail fast with context.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// Validate checks candidate metrics for the invariants the scoring policy
// relies on. Malformed metrics are a caller contract violation, not a
// recoverable runtime condition.
func (m *CandidateMetrics) Validate(candidateID string) error {
	if m.TimeComplexityRank < 1 {
		return &ValidationError{
			Field:   fmt.Sprintf("candidates[%s].metrics.time_complexity_rank", candidateID),
			Message: fmt.Sprintf("must be a positive ordinal, got %d", m.TimeComplexityRank),
		}
	}
	if m.TimeComplexityLabel == "" {
		return &ValidationError{
			Field:   fmt.Sprintf("candidates[%s].metrics.time_complexity_label", candidateID),
			Message: "must name the complexity class for the rank",
		}
	}
	if m.CyclomaticComplexity < 0 {
		return &ValidationError{
			Field:   fmt.Sprintf("candidates[%s].metrics.cyclomatic_complexity", candidateID),
			Message: fmt.Sprintf("must be non-negative, got %d", m.CyclomaticComplexity),
		}
	}
	return nil
}

// Validate checks bundle-level invariants: unique ids, resolvable test
// traces, and well-formed candidate metrics.
func (b *Bundle) Validate() error {
	reqIDs := make(map[string]bool, len(b.Requirements))
	for i, r := range b.Requirements {
		if r.ID == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("requirements[%d].id", i),
				Message: "id is required",
			}
		}
		if reqIDs[r.ID] {
			return &ValidationError{
				Field:   fmt.Sprintf("requirements[%d].id", i),
				Message: fmt.Sprintf("duplicate requirement id %q", r.ID),
			}
		}
		if r.Kind != KindFunctional && r.Kind != KindNonFunctional {
			return &ValidationError{
				Field:   fmt.Sprintf("requirements[%s].kind", r.ID),
				Message: fmt.Sprintf("unknown kind %q", r.Kind),
			}
		}
		reqIDs[r.ID] = true
	}

	testIDs := make(map[string]bool, len(b.Tests))
	for i, t := range b.Tests {
		if t.ID == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("tests[%d].id", i),
				Message: "id is required",
			}
		}
		if testIDs[t.ID] {
			return &ValidationError{
				Field:   fmt.Sprintf("tests[%d].id", i),
				Message: fmt.Sprintf("duplicate test id %q", t.ID),
			}
		}
		testIDs[t.ID] = true

		for _, ref := range t.FromReqIDs {
			if !reqIDs[ref] {
				return &ValidationError{
					Field:   fmt.Sprintf("tests[%s].from_req_ids", t.ID),
					Message: fmt.Sprintf("references unknown requirement %q", ref),
				}
			}
		}
	}

	candIDs := make(map[string]bool, len(b.Candidates))
	for i, c := range b.Candidates {
		if c.ID == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("candidates[%d].id", i),
				Message: "id is required",
			}
		}
		if candIDs[c.ID] {
			return &ValidationError{
				Field:   fmt.Sprintf("candidates[%d].id", i),
				Message: fmt.Sprintf("duplicate candidate id %q", c.ID),
			}
		}
		candIDs[c.ID] = true

		if err := c.Metrics.Validate(c.ID); err != nil {
			return err
		}
	}

	return nil
}
