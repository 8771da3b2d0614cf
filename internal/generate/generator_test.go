package generate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/archeval/arbiter/internal/models"
	"github.com/archeval/arbiter/internal/scoring"
)

func fixturesDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join("..", "..", "fixtures")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Skip("fixtures directory not found, skipping")
	}
	return dir
}

func TestLoadFromDir(t *testing.T) {
	loader := NewLoader()
	if err := loader.LoadFromDir(fixturesDir(t)); err != nil {
		t.Fatalf("LoadFromDir failed: %v", err)
	}

	templates := loader.List()
	if len(templates) < 2 {
		t.Fatalf("expected at least 2 templates, got %d", len(templates))
	}

	primality := loader.Get("primality")
	if primality == nil {
		t.Fatal("primality template not found")
	}
	if len(primality.Candidates) != 4 {
		t.Errorf("expected 4 primality candidates, got %d", len(primality.Candidates))
	}
	if len(primality.Requirements) != 5 {
		t.Errorf("expected 5 primality requirements, got %d", len(primality.Requirements))
	}

	for _, tmpl := range templates {
		t.Logf("  %s: %d requirements, %d tests, %d candidates",
			tmpl.Name, len(tmpl.Requirements), len(tmpl.Tests), len(tmpl.Candidates))
	}
}

func TestLoadRejectsBrokenFixture(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.yaml")
	content := `
name: broken
keywords: [broken]
problem: test
requirements:
  - id: r1
    kind: functional
    title: one
tests:
  - id: t1
    title: dangling trace
    code: assert true
    from_req_ids: [does-not-exist]
`
	if err := os.WriteFile(broken, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader()
	if err := loader.LoadFromFile(broken); err == nil {
		t.Fatal("expected load failure for dangling requirement reference")
	}
}

func TestGenerateClassifiesPrimality(t *testing.T) {
	loader := NewLoader()
	if err := loader.LoadFromDir(fixturesDir(t)); err != nil {
		t.Fatalf("LoadFromDir failed: %v", err)
	}

	gen := NewFixtureGenerator(loader)
	bundle := gen.Generate("Check whether a number is prime and reject negatives")

	if bundle == nil {
		t.Fatal("Generate returned nil")
	}
	if err := bundle.Validate(); err != nil {
		t.Fatalf("generated bundle invalid: %v", err)
	}
	if !bundle.HasRequirement(models.ReqEdgeCases) {
		t.Error("primality bundle must carry fr-edges")
	}
	if len(bundle.Candidates) != 4 {
		t.Errorf("expected 4 candidates, got %d", len(bundle.Candidates))
	}

	// The generated bundle must drive the documented end-to-end scenario:
	// sqrt-trial scores 80 and wins over the naive candidates.
	scores, err := scoring.ScoreBundle(bundle)
	if err != nil {
		t.Fatalf("ScoreBundle failed: %v", err)
	}
	best := scoring.SelectBest(scores)
	if best == nil || best.CandidateID != "sqrt-trial" {
		t.Fatalf("expected sqrt-trial selection, got %+v", best)
	}
	if best.Score != 80 {
		t.Errorf("expected sqrt-trial score 80, got %d", best.Score)
	}

	naive := func() *models.ScoreResult {
		for i := range scores {
			if scores[i].CandidateID == "naive" {
				return &scores[i]
			}
		}
		return nil
	}()
	if naive == nil {
		t.Fatal("naive candidate missing from scores")
	}
	if naive.Eligible {
		t.Error("naive candidate must be ineligible (fails fr-edges)")
	}
}

func TestGenerateDegradesToSkeleton(t *testing.T) {
	loader := NewLoader()
	if err := loader.LoadFromDir(fixturesDir(t)); err != nil {
		t.Fatalf("LoadFromDir failed: %v", err)
	}

	gen := NewFixtureGenerator(loader)
	bundle := gen.Generate("compose a haiku about distributed consensus")

	if bundle == nil {
		t.Fatal("Generate must never return nil")
	}
	if err := bundle.Validate(); err != nil {
		t.Fatalf("skeleton bundle invalid: %v", err)
	}
	if len(bundle.Requirements) == 0 || len(bundle.Tests) == 0 || len(bundle.Candidates) == 0 {
		t.Error("skeleton bundle must carry placeholder requirements, tests and candidates")
	}
}

func TestBundleCopiesAreIndependent(t *testing.T) {
	loader := NewLoader()
	if err := loader.LoadFromDir(fixturesDir(t)); err != nil {
		t.Fatalf("LoadFromDir failed: %v", err)
	}

	tmpl := loader.Get("primality")
	if tmpl == nil {
		t.Fatal("primality template not found")
	}

	first := tmpl.Bundle("")
	first.Requirements[0].Title = "mutated"

	second := tmpl.Bundle("")
	if second.Requirements[0].Title == "mutated" {
		t.Error("template content leaked between generated bundles")
	}
}
