// Package generate is the bundle generation collaborator: it turns a
// free-form problem statement into a requirement/test/candidate bundle.
//
// Generation never fails. Input that cannot be classified degrades to a
// skeleton bundle with placeholder content rather than returning an error.
package generate

import (
	"log/slog"

	"github.com/archeval/arbiter/internal/models"
)

// Generator produces a bundle for a problem statement.
type Generator interface {
	Generate(problem string) *models.Bundle
}

// FixtureGenerator classifies problem text against a template catalog.
type FixtureGenerator struct {
	loader *Loader
}

// NewFixtureGenerator creates a generator backed by the given loader.
func NewFixtureGenerator(loader *Loader) *FixtureGenerator {
	return &FixtureGenerator{loader: loader}
}

// Generate returns the bundle for the best-matching template, or a
// skeleton bundle when the problem cannot be classified.
func (g *FixtureGenerator) Generate(problem string) *models.Bundle {
	if tmpl := g.loader.Match(problem); tmpl != nil {
		slog.Info("problem classified", "template", tmpl.Name)
		return tmpl.Bundle(problem)
	}

	slog.Warn("problem not classified, generating skeleton", "problem_len", len(problem))
	return SkeletonBundle(problem)
}

// SkeletonBundle is the graceful-degradation bundle: placeholder
// requirements, a placeholder test, and a single stub candidate so the
// rest of the flow stays exercisable.
func SkeletonBundle(problem string) *models.Bundle {
	return &models.Bundle{
		Problem: problem,
		Requirements: []models.Requirement{
			{
				ID:        "fr-core",
				Kind:      models.KindFunctional,
				Title:     "Implement the described behavior",
				Details:   []string{"The problem statement could not be classified; refine it and regenerate."},
				Mandatory: true,
			},
		},
		Tests: []models.TestCase{
			{
				ID:         "t-core",
				Title:      "Core behavior placeholder",
				Code:       "assert solve(example_input) == example_output",
				FromReqIDs: []string{"fr-core"},
			},
		},
		Candidates: []models.Candidate{
			{
				ID:       "stub",
				Name:     "stub implementation",
				Language: "python",
				Origin:   models.OriginOther,
				Code:     "def solve(*args):\n    raise NotImplementedError",
				Metrics: models.CandidateMetrics{
					TimeComplexityRank:   1,
					TimeComplexityLabel:  "O(1)",
					CyclomaticComplexity: 1,
				},
			},
		},
	}
}
