// Package session owns the mutable state of the authoring flow: the
// current bundle, its scores, the current selection, and the last runner
// results. All mutation goes through the Manager so the scoring functions
// themselves stay pure.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archeval/arbiter/internal/generate"
	"github.com/archeval/arbiter/internal/models"
	"github.com/archeval/arbiter/internal/scoring"
	"github.com/archeval/arbiter/internal/storage"
)

// Common errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session has expired")
	ErrRunInFlight     = errors.New("a test run is already in flight for this session")
	ErrNoCandidates    = errors.New("bundle has no candidates to run")
)

// Runner abstracts the test-execution collaborator.
type Runner interface {
	Run(ctx context.Context, req models.RunRequest) (models.ExternalResults, error)
}

// Locker guards the single-in-flight run slot per session.
type Locker interface {
	AcquireRunLock(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context, sessionID string) error
}

// Cache holds hot session snapshots. May be backed by Redis or absent.
type Cache interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	PutSession(ctx context.Context, s *models.Session) error
	InvalidateSession(ctx context.Context, id string) error
}

// Config holds manager tunables.
type Config struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration
	RunTimeout time.Duration
}

// Manager orchestrates session lifecycle: generation, scoring, selection
// and external test runs.
type Manager struct {
	repo   storage.Repository
	cache  Cache // may be nil
	locker Locker
	gen    generate.Generator
	runner Runner
	hub    *Hub
	cfg    Config

	// serializes state transitions so a regeneration and a finishing run
	// cannot interleave their read-modify-write cycles
	mu sync.Mutex
}

// NewManager creates a session manager.
func NewManager(
	repo storage.Repository,
	cache Cache,
	locker Locker,
	gen generate.Generator,
	runner Runner,
	hub *Hub,
	cfg Config,
) *Manager {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 2 * time.Hour
	}
	if cfg.MaxTTL < cfg.DefaultTTL {
		cfg.MaxTTL = cfg.DefaultTTL
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 60 * time.Second
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if hub == nil {
		hub = NewHub()
	}

	return &Manager{
		repo:   repo,
		cache:  cache,
		locker: locker,
		gen:    gen,
		runner: runner,
		hub:    hub,
		cfg:    cfg,
	}
}

// Hub returns the manager's event hub for stream subscribers.
func (m *Manager) Hub() *Hub {
	return m.hub
}

// Create opens a new session: generates a bundle for the problem, scores
// it, and picks the static selection.
func (m *Manager) Create(ctx context.Context, problem string, ttl time.Duration, createdBy string) (*models.Session, error) {
	if problem == "" {
		return nil, &models.ValidationError{Field: "problem", Message: "problem statement is required"}
	}

	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}
	if ttl > m.cfg.MaxTTL {
		ttl = m.cfg.MaxTTL
	}

	token, err := models.GenerateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now()
	s := &models.Session{
		ID:        uuid.New().String()[:12],
		Token:     token,
		Problem:   problem,
		Status:    models.SessionScored,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
		CreatedBy: createdBy,
	}

	if err := m.populateBundle(s, problem); err != nil {
		return nil, err
	}

	if err := m.repo.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	m.putCache(ctx, s)

	slog.Info("session created",
		"id", s.ID,
		"candidates", len(s.Bundle.Candidates),
		"selected", s.SelectedID,
		"expires_at", s.ExpiresAt,
	)

	m.hub.Publish(Event{SessionID: s.ID, Type: EventCreated, BundleVersion: s.BundleVersion, SelectedID: s.SelectedID})

	return s, nil
}

// populateBundle generates and scores a fresh bundle onto the session,
// bumping the bundle version. Results from any previous bundle are
// cleared: they are keyed to candidate ids that no longer exist.
func (m *Manager) populateBundle(s *models.Session, problem string) error {
	bundle := m.gen.Generate(problem)
	if err := bundle.Validate(); err != nil {
		return fmt.Errorf("generated bundle invalid: %w", err)
	}

	scores, err := scoring.ScoreBundle(bundle)
	if err != nil {
		return fmt.Errorf("failed to score bundle: %w", err)
	}

	s.Problem = problem
	s.Bundle = bundle
	s.BundleVersion++
	s.Scores = scores
	s.Results = nil
	s.LastError = ""
	s.Status = models.SessionScored

	if best := scoring.SelectBest(scores); best != nil {
		s.SelectedID = best.CandidateID
	} else {
		s.SelectedID = ""
	}

	return nil
}

// Get retrieves a session by id.
func (m *Manager) Get(ctx context.Context, id string) (*models.Session, error) {
	if m.cache != nil {
		if s, err := m.cache.GetSession(ctx, id); err == nil && s != nil {
			return s, nil
		}
	}

	s, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}

	m.putCache(ctx, s)
	return s, nil
}

// GetByToken retrieves a session by its share token.
func (m *Manager) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	s, err := m.repo.GetSessionByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns sessions matching filters.
func (m *Manager) List(ctx context.Context, filters models.ListFilters) ([]*models.Session, error) {
	return m.repo.ListSessions(ctx, filters)
}

// Delete removes a session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if s == nil {
		return ErrSessionNotFound
	}

	if err := m.repo.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if m.cache != nil {
		m.cache.InvalidateSession(ctx, id)
	}

	slog.Info("session deleted", "id", id)
	return nil
}

// Regenerate atomically replaces the session's bundle. An outstanding
// test run keeps running but its eventual response will carry the old
// bundle version and be discarded on arrival.
func (m *Manager) Regenerate(ctx context.Context, id, problem string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	if s.IsExpired() {
		return nil, ErrSessionExpired
	}

	if problem == "" {
		problem = s.Problem
	}

	if err := m.populateBundle(s, problem); err != nil {
		return nil, err
	}
	s.UpdatedAt = time.Now()

	if err := m.repo.UpdateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	m.putCache(ctx, s)

	slog.Info("session regenerated",
		"id", s.ID,
		"bundle_version", s.BundleVersion,
		"selected", s.SelectedID,
	)

	m.hub.Publish(Event{SessionID: s.ID, Type: EventRegenerated, BundleVersion: s.BundleVersion, SelectedID: s.SelectedID})

	return s, nil
}

// StartRun kicks off an external test run for the session's current
// bundle. Only one run may be in flight per session; concurrent attempts
// fail with ErrRunInFlight. The run completes asynchronously and
// subscribers learn the outcome through the event hub.
func (m *Manager) StartRun(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	if s.IsExpired() {
		return nil, ErrSessionExpired
	}
	if s.Bundle == nil || len(s.Bundle.Candidates) == 0 {
		return nil, ErrNoCandidates
	}

	// Lock TTL outlives the run timeout so a crashed holder cannot
	// wedge the session forever.
	acquired, err := m.locker.AcquireRunLock(ctx, id, m.cfg.RunTimeout+time.Minute)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !acquired {
		return nil, ErrRunInFlight
	}

	version := s.BundleVersion
	req := models.NewRunRequest(s.Bundle)

	s.Status = models.SessionRunning
	s.UpdatedAt = time.Now()
	if err := m.repo.UpdateSession(ctx, s); err != nil {
		m.locker.ReleaseRunLock(ctx, id)
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	m.putCache(ctx, s)

	slog.Info("test run started", "id", id, "bundle_version", version, "candidates", len(req.Candidates))
	m.hub.Publish(Event{SessionID: id, Type: EventRunStarted, BundleVersion: version})

	go m.executeRun(id, version, req)

	return s, nil
}

// executeRun calls the runner off the request goroutine and applies the
// outcome. The background context deliberately detaches the run from the
// originating HTTP request; cancellation is bounded by RunTimeout.
func (m *Manager) executeRun(sessionID string, version int, req models.RunRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RunTimeout)
	defer cancel()
	defer m.locker.ReleaseRunLock(context.Background(), sessionID)

	results, err := m.runner.Run(ctx, req)
	m.applyRunOutcome(sessionID, version, results, err)
}

// applyRunOutcome folds a runner response (or failure) into the session.
//
// A response tagged with a bundle version other than the session's current
// one is stale — the bundle was regenerated while the run was in flight
// and the candidate ids no longer correspond — and is discarded without
// touching any state.
func (m *Manager) applyRunOutcome(sessionID string, version int, results models.ExternalResults, runErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		slog.Error("failed to load session for run outcome", "id", sessionID, "error", err)
		return
	}
	if s == nil {
		slog.Warn("run finished for deleted session", "id", sessionID)
		return
	}

	if s.BundleVersion != version {
		slog.Info("discarding stale runner response",
			"id", sessionID,
			"response_version", version,
			"current_version", s.BundleVersion,
		)
		return
	}

	if runErr != nil {
		// Collaborator failure: previous selection and results stay
		// intact, only the error text is surfaced.
		s.Status = models.SessionScored
		s.LastError = runErr.Error()
		s.UpdatedAt = time.Now()

		if err := m.repo.UpdateSession(ctx, s); err != nil {
			slog.Error("failed to record run failure", "id", sessionID, "error", err)
			return
		}
		m.putCache(ctx, s)

		slog.Warn("test run failed", "id", sessionID, "error", runErr)
		m.hub.Publish(Event{SessionID: sessionID, Type: EventRunFailed, BundleVersion: version, Error: runErr.Error()})
		return
	}

	s.Results = results
	s.LastError = ""
	s.UpdatedAt = time.Now()

	if winner := scoring.RankByResults(s.Bundle, results); winner != "" {
		s.SelectedID = winner
		s.Status = models.SessionVerified
	} else {
		s.Status = models.SessionScored
	}

	if err := m.repo.UpdateSession(ctx, s); err != nil {
		slog.Error("failed to apply run results", "id", sessionID, "error", err)
		return
	}
	m.putCache(ctx, s)

	slog.Info("test run completed",
		"id", sessionID,
		"bundle_version", version,
		"reported", len(results),
		"selected", s.SelectedID,
	)
	m.hub.Publish(Event{SessionID: sessionID, Type: EventRunCompleted, BundleVersion: version, SelectedID: s.SelectedID})
}

// Selection builds the read model for the session's current selection.
func (m *Manager) Selection(ctx context.Context, id string) (*models.SelectionResponse, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := &models.SelectionResponse{
		SelectedID:    s.SelectedID,
		Verified:      s.Status == models.SessionVerified,
		BundleVersion: s.BundleVersion,
	}

	if s.SelectedID != "" && s.Bundle != nil {
		resp.Selected = s.Bundle.Candidate(s.SelectedID)
		resp.Score = s.ScoreFor(s.SelectedID)
	}

	return resp, nil
}

// MarkExpired flips a session into the expired state.
func (m *Manager) MarkExpired(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if s == nil {
		return ErrSessionNotFound
	}

	s.Status = models.SessionExpired
	s.UpdatedAt = time.Now()
	if err := m.repo.UpdateSession(ctx, s); err != nil {
		return fmt.Errorf("failed to mark session expired: %w", err)
	}
	if m.cache != nil {
		m.cache.InvalidateSession(ctx, id)
	}

	return nil
}

// GetExpired returns sessions whose TTL has elapsed.
func (m *Manager) GetExpired(ctx context.Context) ([]*models.Session, error) {
	return m.repo.GetExpiredSessions(ctx)
}

// Ping checks the manager's dependencies.
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.repo.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (m *Manager) putCache(ctx context.Context, s *models.Session) {
	if m.cache == nil {
		return
	}
	if err := m.cache.PutSession(ctx, s); err != nil {
		slog.Warn("failed to cache session", "id", s.ID, "error", err)
	}
}

// MemoryLocker is an in-process Locker for single-instance deployments
// and tests. Redis takes over when the service runs replicated.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewMemoryLocker creates an in-process run locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time)}
}

// AcquireRunLock claims the run slot unless an unexpired claim exists.
func (l *MemoryLocker) AcquireRunLock(_ context.Context, sessionID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if deadline, ok := l.held[sessionID]; ok && time.Now().Before(deadline) {
		return false, nil
	}
	l.held[sessionID] = time.Now().Add(ttl)
	return true, nil
}

// ReleaseRunLock frees the run slot.
func (l *MemoryLocker) ReleaseRunLock(_ context.Context, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, sessionID)
	return nil
}
