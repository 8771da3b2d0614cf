// Package scoring implements the candidate scoring and selection policy.
//
// Everything here is pure: deterministic functions of their inputs with no
// side effects, no I/O, and no shared state. Callers hand in a candidate
// plus the full requirement list of its bundle and get back a ScoreResult.
package scoring

import (
	"fmt"
	"sort"

	"github.com/archeval/arbiter/internal/models"
)

// complexityTargetRank is the fixed ordinal ceiling for "acceptable"
// asymptotic behavior (rank 3 = O(√n)).
const complexityTargetRank = 3

// Point values of the additive rules, in tie-break precedence order.
const (
	pointsEdgeCases      = 25
	pointsComplexity     = 20
	pointsRobustness     = 15
	pointsMaintainable   = 10
	pointsRationale      = 5
	cyclomaticPenaltyCap = 10
)

// ScoreCandidate computes the deterministic score and eligibility of one
// candidate against the requirement set of its bundle.
//
// The sum is order-independent; reasons are accumulated in rule precedence
// order so fixtures are reproducible. The only error is a ValidationError
// for malformed metrics — over well-formed input this is a total function.
//
// An edge-case requirement ("fr-edges") that the candidate does not handle
// is the single condition that can mark a candidate ineligible.
func ScoreCandidate(c *models.Candidate, requirements []models.Requirement) (models.ScoreResult, error) {
	if err := c.Metrics.Validate(c.ID); err != nil {
		return models.ScoreResult{}, err
	}

	present := make(map[string]bool, len(requirements))
	for _, r := range requirements {
		present[r.ID] = true
	}

	result := models.ScoreResult{
		CandidateID: c.ID,
		Eligible:    true,
		Reasons:     []string{},
	}
	m := c.Metrics

	if present[models.ReqEdgeCases] {
		if m.HandlesNegativesAndZero {
			result.Score += pointsEdgeCases
			result.Reasons = append(result.Reasons,
				fmt.Sprintf("+%d: handles negatives and zero (%s)", pointsEdgeCases, models.ReqEdgeCases))
		} else {
			result.Eligible = false
			result.Reasons = append(result.Reasons,
				fmt.Sprintf("ineligible: does not handle negatives and zero (%s)", models.ReqEdgeCases))
		}
	}

	// The complexity bonus is intentionally not gated on a performance
	// requirement being present. See the policy quirk note in the tests.
	if m.TimeComplexityRank <= complexityTargetRank {
		result.Score += pointsComplexity
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("+%d: meets complexity target (%s, rank %d <= %d)",
				pointsComplexity, m.TimeComplexityLabel, m.TimeComplexityRank, complexityTargetRank))
	}

	if present[models.ReqRobustness] && m.RobustInputChecks {
		result.Score += pointsRobustness
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("+%d: robust input checks (%s)", pointsRobustness, models.ReqRobustness))
	}

	if present[models.ReqMaintainability] && m.CyclomaticComplexity <= 5 {
		result.Score += pointsMaintainable
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("+%d: cyclomatic complexity %d <= 5 (%s)",
				pointsMaintainable, m.CyclomaticComplexity, models.ReqMaintainability))
	}

	// Lower cyclomatic complexity always helps, independent of the
	// maintainability requirement being present.
	if cc := cyclomaticPenaltyCap - m.CyclomaticComplexity; cc > 0 {
		result.Score += cc
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("+%d: low cyclomatic complexity (%d - %d)", cc, cyclomaticPenaltyCap, m.CyclomaticComplexity))
	}

	if len(c.Rationale) > 0 {
		result.Score += pointsRationale
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("+%d: documented rationale (%d entries)", pointsRationale, len(c.Rationale)))
	}

	return result, nil
}

// ScoreBundle scores every candidate of a bundle in order.
func ScoreBundle(b *models.Bundle) ([]models.ScoreResult, error) {
	scores := make([]models.ScoreResult, 0, len(b.Candidates))
	for i := range b.Candidates {
		s, err := ScoreCandidate(&b.Candidates[i], b.Requirements)
		if err != nil {
			return nil, err
		}
		scores = append(scores, s)
	}
	return scores, nil
}

// SelectBest picks the winning score from a bundle's scored candidates.
//
// If any candidate is eligible the pool is restricted to eligible ones;
// otherwise the full pool is used so something is always returned when
// candidates exist. Within the pool the maximum score wins and ties go to
// the candidate appearing first in input order. Returns nil only for an
// empty input — zero candidates is a valid terminal state, not an error.
func SelectBest(scored []models.ScoreResult) *models.ScoreResult {
	if len(scored) == 0 {
		return nil
	}

	var best *models.ScoreResult
	anyEligible := false
	for i := range scored {
		if scored[i].Eligible {
			anyEligible = true
			break
		}
	}

	for i := range scored {
		if anyEligible && !scored[i].Eligible {
			continue
		}
		if best == nil || scored[i].Score > best.Score {
			best = &scored[i]
		}
	}

	return best
}

// RankByResults ranks candidates by external runner results and returns
// the winning candidate id, or "" when no results were supplied.
//
// Only candidates the runner reported on participate; the rest are
// excluded from this ranking pass even if they score well statically.
// Ordering: pass descending, then fail ascending, then the candidate's
// static TimeComplexityRank ascending, then bundle order (stable).
func RankByResults(b *models.Bundle, results models.ExternalResults) string {
	type ranked struct {
		id      string
		outcome models.TestOutcome
		rank    int
	}

	pool := make([]ranked, 0, len(results))
	for _, c := range b.Candidates {
		outcome, ok := results[c.ID]
		if !ok {
			continue
		}
		pool = append(pool, ranked{
			id:      c.ID,
			outcome: outcome,
			rank:    c.Metrics.TimeComplexityRank,
		})
	}

	if len(pool) == 0 {
		return ""
	}

	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].outcome.Pass != pool[j].outcome.Pass {
			return pool[i].outcome.Pass > pool[j].outcome.Pass
		}
		if pool[i].outcome.Fail != pool[j].outcome.Fail {
			return pool[i].outcome.Fail < pool[j].outcome.Fail
		}
		return pool[i].rank < pool[j].rank
	})

	return pool[0].id
}
