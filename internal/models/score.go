package models

// ScoreResult is the derived verdict for one candidate against a
// requirement set. Recomputed on demand from (Candidate, requirements);
// never authoritative storage, always a pure function of its inputs.
type ScoreResult struct {
	CandidateID string   `json:"candidate_id"`
	Score       int      `json:"score"`
	Eligible    bool     `json:"eligible"`
	Reasons     []string `json:"reasons"`
}

// TestOutcome holds the external runner's pass/fail counts for one
// candidate. When present, these counts are authoritative for ranking
// that candidate above its static score.
type TestOutcome struct {
	Pass  int `json:"pass"`
	Fail  int `json:"fail"`
	Total int `json:"total"`
}

// ExternalResults maps candidate id to the runner's outcome for it.
// Candidates the runner did not report on are absent.
type ExternalResults map[string]TestOutcome

// RunCandidate is the stripped candidate shape sent to the runner.
// Metrics and rationale are intentionally omitted from the wire request.
type RunCandidate struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

// RunRequest is the single request shape of the test-execution runner.
type RunRequest struct {
	Problem      string         `json:"problem"`
	Requirements []Requirement  `json:"requirements"`
	Tests        []TestCase     `json:"tests"`
	Candidates   []RunCandidate `json:"candidates"`
}

// RunResponse is the runner's reply.
type RunResponse struct {
	Results ExternalResults `json:"results"`
}

// NewRunRequest builds the runner request from a bundle, stripping
// metrics and rationale from each candidate.
func NewRunRequest(b *Bundle) RunRequest {
	candidates := make([]RunCandidate, 0, len(b.Candidates))
	for _, c := range b.Candidates {
		candidates = append(candidates, RunCandidate{
			ID:       c.ID,
			Name:     c.Name,
			Code:     c.Code,
			Language: c.Language,
		})
	}
	return RunRequest{
		Problem:      b.Problem,
		Requirements: b.Requirements,
		Tests:        b.Tests,
		Candidates:   candidates,
	}
}
