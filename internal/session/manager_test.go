package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/archeval/arbiter/internal/models"
)

// fakeRepo is an in-memory Repository for manager tests.
type fakeRepo struct {
	mu       sync.Mutex
	sessions map[string]models.Session
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{sessions: make(map[string]models.Session)}
}

func (r *fakeRepo) CreateSession(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = *s
	return nil
}

func (r *fakeRepo) GetSession(_ context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := s
	return &cp, nil
}

func (r *fakeRepo) GetSessionByToken(_ context.Context, token string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Token == token {
			cp := s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) UpdateSession(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return errors.New("session not found")
	}
	r.sessions[s.ID] = *s
	return nil
}

func (r *fakeRepo) DeleteSession(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return errors.New("session not found")
	}
	delete(r.sessions, id)
	return nil
}

func (r *fakeRepo) ListSessions(_ context.Context, _ models.ListFilters) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		cp := s
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeRepo) GetExpiredSessions(_ context.Context) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Session
	for _, s := range r.sessions {
		if s.IsExpired() && s.Status != models.SessionExpired {
			cp := s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetClientByApiKey(_ context.Context, _ string) (*models.ApiClient, error) {
	return nil, nil
}

func (r *fakeRepo) UpdateClientLastUsed(_ context.Context, _ string) error { return nil }
func (r *fakeRepo) Ping(_ context.Context) error                          { return nil }
func (r *fakeRepo) Close() error                                          { return nil }

// fakeGenerator returns a two-candidate bundle where sqrt wins statically.
type fakeGenerator struct{}

func (fakeGenerator) Generate(problem string) *models.Bundle {
	return &models.Bundle{
		Problem: problem,
		Requirements: []models.Requirement{
			{ID: models.ReqEdgeCases, Kind: models.KindFunctional, Title: "edges", Mandatory: true},
			{ID: models.ReqRobustness, Kind: models.KindNonFunctional, Title: "robust"},
		},
		Tests: []models.TestCase{
			{ID: "t1", Title: "basic", Code: "assert true", FromReqIDs: []string{models.ReqEdgeCases}},
		},
		Candidates: []models.Candidate{
			{
				ID: "naive", Name: "naive", Language: "python", Code: "...",
				Metrics: models.CandidateMetrics{
					TimeComplexityRank: 4, TimeComplexityLabel: "O(n)", CyclomaticComplexity: 3,
				},
			},
			{
				ID: "sqrt", Name: "sqrt", Language: "python", Code: "...",
				Metrics: models.CandidateMetrics{
					TimeComplexityRank: 3, TimeComplexityLabel: "O(√n)", CyclomaticComplexity: 5,
					RobustInputChecks: true, HandlesNegativesAndZero: true,
				},
			},
		},
	}
}

// fakeRunner blocks until released when gate is non-nil.
type fakeRunner struct {
	mu      sync.Mutex
	gate    chan struct{}
	results models.ExternalResults
	err     error
}

func (f *fakeRunner) Run(ctx context.Context, _ models.RunRequest) (models.ExternalResults, error) {
	f.mu.Lock()
	gate := f.gate
	results, err := f.results, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return results, err
}

func newTestManager(t *testing.T, r Runner) (*Manager, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	mgr := NewManager(repo, nil, NewMemoryLocker(), fakeGenerator{}, r, NewHub(), Config{
		DefaultTTL: time.Hour,
		MaxTTL:     2 * time.Hour,
		RunTimeout: 5 * time.Second,
	})
	return mgr, repo
}

func waitForEvent(t *testing.T, ch <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

// waitForRunSettled waits until the manager has folded in the run outcome
// (the run lock is only released after the outcome is applied).
func waitForRunSettled(t *testing.T, mgr *Manager, id string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		ok, err := mgr.locker.AcquireRunLock(context.Background(), id, time.Second)
		if err != nil {
			t.Fatalf("lock probe failed: %v", err)
		}
		if ok {
			mgr.locker.ReleaseRunLock(context.Background(), id)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run never settled")
}

func TestCreateScoresAndSelects(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeRunner{})

	s, err := mgr.Create(context.Background(), "check primality", 0, "tester")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if s.Status != models.SessionScored {
		t.Errorf("expected status scored, got %s", s.Status)
	}
	if s.BundleVersion != 1 {
		t.Errorf("expected bundle version 1, got %d", s.BundleVersion)
	}
	if s.SelectedID != "sqrt" {
		t.Errorf("expected static selection sqrt, got %q", s.SelectedID)
	}
	if len(s.Scores) != 2 {
		t.Errorf("expected 2 scores, got %d", len(s.Scores))
	}
}

func TestCreateRejectsEmptyProblem(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeRunner{})

	_, err := mgr.Create(context.Background(), "", 0, "")
	if err == nil {
		t.Fatal("expected validation error for empty problem")
	}
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *models.ValidationError, got %T", err)
	}
}

func TestRunResultsOverrideSelection(t *testing.T) {
	// The runner reports naive passing everything and sqrt failing:
	// external results are authoritative over the static score.
	runner := &fakeRunner{results: models.ExternalResults{
		"naive": {Pass: 5, Fail: 0, Total: 5},
		"sqrt":  {Pass: 3, Fail: 2, Total: 5},
	}}
	mgr, _ := newTestManager(t, runner)

	s, err := mgr.Create(context.Background(), "check primality", 0, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	events, cancel := mgr.Hub().Subscribe(s.ID)
	defer cancel()

	if _, err := mgr.StartRun(context.Background(), s.ID); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	ev := waitForEvent(t, events, EventRunCompleted)
	if ev.SelectedID != "naive" {
		t.Errorf("expected naive to win on runner results, got %q", ev.SelectedID)
	}

	got, err := mgr.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SelectedID != "naive" {
		t.Errorf("expected persisted selection naive, got %q", got.SelectedID)
	}
	if got.Status != models.SessionVerified {
		t.Errorf("expected status verified, got %s", got.Status)
	}
	if len(got.Results) != 2 {
		t.Errorf("expected 2 results, got %d", len(got.Results))
	}
}

func TestRunInFlightRejected(t *testing.T) {
	gate := make(chan struct{})
	runner := &fakeRunner{gate: gate, results: models.ExternalResults{}}
	mgr, _ := newTestManager(t, runner)

	s, err := mgr.Create(context.Background(), "check primality", 0, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := mgr.StartRun(context.Background(), s.ID); err != nil {
		t.Fatalf("first StartRun failed: %v", err)
	}

	_, err = mgr.StartRun(context.Background(), s.ID)
	if !errors.Is(err, ErrRunInFlight) {
		t.Errorf("expected ErrRunInFlight, got %v", err)
	}

	close(gate)
	waitForRunSettled(t, mgr, s.ID)

	// After settling the slot is free again.
	if _, err := mgr.StartRun(context.Background(), s.ID); err != nil {
		t.Errorf("StartRun after settle failed: %v", err)
	}
}

func TestRunFailureKeepsPreviousSelection(t *testing.T) {
	runner := &fakeRunner{err: errors.New("runner unreachable: connection refused")}
	mgr, _ := newTestManager(t, runner)

	s, err := mgr.Create(context.Background(), "check primality", 0, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	events, cancel := mgr.Hub().Subscribe(s.ID)
	defer cancel()

	if _, err := mgr.StartRun(context.Background(), s.ID); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	ev := waitForEvent(t, events, EventRunFailed)
	if ev.Error == "" {
		t.Error("run_failed event must carry the error text")
	}

	got, err := mgr.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SelectedID != "sqrt" {
		t.Errorf("previous selection must survive a collaborator failure, got %q", got.SelectedID)
	}
	if got.Results != nil {
		t.Errorf("results must stay untouched on failure, got %+v", got.Results)
	}
	if got.LastError == "" {
		t.Error("collaborator error text must be surfaced on the session")
	}
	if got.Status != models.SessionScored {
		t.Errorf("expected status scored after failed run, got %s", got.Status)
	}
}

func TestStaleRunnerResponseDiscarded(t *testing.T) {
	gate := make(chan struct{})
	runner := &fakeRunner{gate: gate, results: models.ExternalResults{
		"naive": {Pass: 5, Fail: 0, Total: 5},
	}}
	mgr, _ := newTestManager(t, runner)

	s, err := mgr.Create(context.Background(), "check primality", 0, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := mgr.StartRun(context.Background(), s.ID); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	// Regenerate while the run is outstanding: the bundle version moves on.
	regenerated, err := mgr.Regenerate(context.Background(), s.ID, "check primality again")
	if err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}
	if regenerated.BundleVersion != 2 {
		t.Fatalf("expected bundle version 2 after regenerate, got %d", regenerated.BundleVersion)
	}

	// Release the stale response and let the manager settle.
	close(gate)
	waitForRunSettled(t, mgr, s.ID)

	got, err := mgr.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.BundleVersion != 2 {
		t.Errorf("expected bundle version 2, got %d", got.BundleVersion)
	}
	if got.Results != nil {
		t.Errorf("stale results must not be applied, got %+v", got.Results)
	}
	if got.SelectedID != "sqrt" {
		t.Errorf("stale response must not alter the selection, got %q", got.SelectedID)
	}
	if got.Status != models.SessionScored {
		t.Errorf("expected status scored, got %s", got.Status)
	}
}

func TestRegenerateClearsResults(t *testing.T) {
	runner := &fakeRunner{results: models.ExternalResults{
		"naive": {Pass: 5, Fail: 0, Total: 5},
		"sqrt":  {Pass: 4, Fail: 1, Total: 5},
	}}
	mgr, _ := newTestManager(t, runner)

	s, err := mgr.Create(context.Background(), "check primality", 0, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	events, cancel := mgr.Hub().Subscribe(s.ID)
	defer cancel()

	if _, err := mgr.StartRun(context.Background(), s.ID); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	waitForEvent(t, events, EventRunCompleted)

	regenerated, err := mgr.Regenerate(context.Background(), s.ID, "")
	if err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}

	if regenerated.Results != nil {
		t.Error("regeneration must clear results keyed to old candidate ids")
	}
	if regenerated.SelectedID != "sqrt" {
		t.Errorf("regeneration must fall back to the static selection, got %q", regenerated.SelectedID)
	}
	if regenerated.Status != models.SessionScored {
		t.Errorf("expected status scored, got %s", regenerated.Status)
	}
}

func TestSelectionReadModel(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeRunner{})

	s, err := mgr.Create(context.Background(), "check primality", 0, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	sel, err := mgr.Selection(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Selection failed: %v", err)
	}

	if sel.SelectedID != "sqrt" {
		t.Errorf("expected sqrt, got %q", sel.SelectedID)
	}
	if sel.Selected == nil || sel.Selected.ID != "sqrt" {
		t.Error("selection must embed the candidate")
	}
	if sel.Score == nil || sel.Score.CandidateID != "sqrt" {
		t.Error("selection must embed the static score")
	}
	if sel.Verified {
		t.Error("static selection must not claim verification")
	}
}

func TestGetUnknownSession(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeRunner{})

	_, err := mgr.Get(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
