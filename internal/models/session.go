package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// SessionStatus represents the current state of an evaluation session
type SessionStatus string

const (
	SessionScored   SessionStatus = "scored"   // Bundle generated, static scores computed
	SessionRunning  SessionStatus = "running"  // Test run in flight with the runner
	SessionVerified SessionStatus = "verified" // Runner results applied to the selection
	SessionExpired  SessionStatus = "expired"  // TTL elapsed
)

// Session is the explicit state object for one authoring flow:
// the current bundle, its static scores, the current selection, and the
// last external results. Owned by the session manager and handed into the
// pure scoring functions — never ambient global state.
type Session struct {
	ID            string          `json:"id"`
	Token         string          `json:"token"`
	Problem       string          `json:"problem"`
	Status        SessionStatus   `json:"status"`
	Bundle        *Bundle         `json:"bundle,omitempty"`
	BundleVersion int             `json:"bundle_version"`
	Scores        []ScoreResult   `json:"scores,omitempty"`
	SelectedID    string          `json:"selected_id,omitempty"`
	Results       ExternalResults `json:"results,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	CreatedBy     string          `json:"created_by,omitempty"`
}

// IsExpired checks if the session TTL has elapsed
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// TimeRemaining returns the duration until expiry (0 if expired)
func (s *Session) TimeRemaining() time.Duration {
	remaining := time.Until(s.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ScoreFor returns the static score for a candidate id, or nil.
func (s *Session) ScoreFor(candidateID string) *ScoreResult {
	for i := range s.Scores {
		if s.Scores[i].CandidateID == candidateID {
			return &s.Scores[i]
		}
	}
	return nil
}

// GenerateSessionToken creates a cryptographically random 48-char hex token
func GenerateSessionToken() (string, error) {
	bytes := make([]byte, 24)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// CreateSessionRequest represents a request to open an evaluation session
type CreateSessionRequest struct {
	Problem string `json:"problem"`
	TTL     int    `json:"ttl,omitempty"` // seconds, 0 = server default
}

// RegenerateRequest replaces the session's bundle with a fresh generation.
// An empty problem reuses the session's current problem text.
type RegenerateRequest struct {
	Problem string `json:"problem,omitempty"`
}

// SelectionResponse is the read model for the current selection.
type SelectionResponse struct {
	SelectedID    string       `json:"selected_id,omitempty"`
	Selected      *Candidate   `json:"selected,omitempty"`
	Score         *ScoreResult `json:"score,omitempty"`
	Verified      bool         `json:"verified"`
	BundleVersion int          `json:"bundle_version"`
}

// ListFilters defines filters for listing sessions
type ListFilters struct {
	Status SessionStatus
	Limit  int
	Offset int
}
