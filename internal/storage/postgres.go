package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archeval/arbiter/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 5
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const sessionColumns = `id, token, problem, status, bundle, bundle_version, scores, selected_id, results, last_error, created_at, updated_at, expires_at, created_by`

// CreateSession creates a new evaluation session record
func (r *PostgresRepository) CreateSession(ctx context.Context, s *models.Session) error {
	bundleJSON, scoresJSON, resultsJSON, err := marshalSessionState(s)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO eval_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.pool.Exec(ctx, query,
		s.ID,
		s.Token,
		s.Problem,
		string(s.Status),
		bundleJSON,
		s.BundleVersion,
		scoresJSON,
		nullString(s.SelectedID),
		resultsJSON,
		nullString(s.LastError),
		s.CreatedAt,
		s.UpdatedAt,
		s.ExpiresAt,
		nullString(s.CreatedBy),
	)

	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetSession retrieves a session by ID
func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return r.getSession(ctx, "id", id)
}

// GetSessionByToken retrieves a session by its share token
func (r *PostgresRepository) GetSessionByToken(ctx context.Context, token string) (*models.Session, error) {
	return r.getSession(ctx, "token", token)
}

func (r *PostgresRepository) getSession(ctx context.Context, field, value string) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT `+sessionColumns+` FROM eval_sessions WHERE %s = $1`, field)

	s, err := scanSession(r.pool.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return s, nil
}

// UpdateSession replaces the stored session state. The whole bundle plus
// derived scores/selection/results are written together so a regeneration
// is atomic from the reader's point of view.
func (r *PostgresRepository) UpdateSession(ctx context.Context, s *models.Session) error {
	bundleJSON, scoresJSON, resultsJSON, err := marshalSessionState(s)
	if err != nil {
		return err
	}

	query := `
		UPDATE eval_sessions
		SET problem = $2, status = $3, bundle = $4, bundle_version = $5, scores = $6,
		    selected_id = $7, results = $8, last_error = $9, updated_at = $10, expires_at = $11
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query,
		s.ID,
		s.Problem,
		string(s.Status),
		bundleJSON,
		s.BundleVersion,
		scoresJSON,
		nullString(s.SelectedID),
		resultsJSON,
		nullString(s.LastError),
		s.UpdatedAt,
		s.ExpiresAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %s", s.ID)
	}

	return nil
}

// DeleteSession deletes a session by ID
func (r *PostgresRepository) DeleteSession(ctx context.Context, id string) error {
	query := `DELETE FROM eval_sessions WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %s", id)
	}

	return nil
}

// ListSessions returns sessions matching filters
func (r *PostgresRepository) ListSessions(ctx context.Context, filters models.ListFilters) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM eval_sessions WHERE 1=1`
	args := make([]interface{}, 0)
	argNum := 1

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(filters.Status))
		argNum++
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filters.Limit)
		argNum++
	}

	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filters.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// GetExpiredSessions returns non-expired-status sessions whose TTL elapsed
func (r *PostgresRepository) GetExpiredSessions(ctx context.Context) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM eval_sessions
		WHERE status != 'expired'
		  AND expires_at < NOW()
		ORDER BY expires_at ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get expired sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// GetClientByApiKey retrieves an API client by its key
func (r *PostgresRepository) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	query := `
		SELECT id, name, api_key, is_active, created_at, last_used_at, permissions, metadata
		FROM api_clients
		WHERE api_key = $1
	`

	var client models.ApiClient
	var lastUsedAt sql.NullTime
	var permissionsJSON, metadataJSON []byte

	err := r.pool.QueryRow(ctx, query, apiKey).Scan(
		&client.ID,
		&client.Name,
		&client.ApiKey,
		&client.IsActive,
		&client.CreatedAt,
		&lastUsedAt,
		&permissionsJSON,
		&metadataJSON,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get api client: %w", err)
	}

	if lastUsedAt.Valid {
		client.LastUsedAt = &lastUsedAt.Time
	}

	if permissionsJSON != nil {
		if err := json.Unmarshal(permissionsJSON, &client.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &client.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &client, nil
}

// UpdateClientLastUsed updates the last_used_at timestamp for a client
func (r *PostgresRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	query := `UPDATE api_clients SET last_used_at = NOW() WHERE api_key = $1`

	_, err := r.pool.Exec(ctx, query, apiKey)
	if err != nil {
		return fmt.Errorf("failed to update client last_used_at: %w", err)
	}

	return nil
}

// Helpers

func marshalSessionState(s *models.Session) (bundle, scores, results []byte, err error) {
	bundle, err = json.Marshal(s.Bundle)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal bundle: %w", err)
	}

	scores, err = json.Marshal(s.Scores)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal scores: %w", err)
	}

	results, err = json.Marshal(s.Results)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal results: %w", err)
	}

	return bundle, scores, results, nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	var statusStr string
	var selectedID, lastError, createdBy sql.NullString
	var bundleJSON, scoresJSON, resultsJSON []byte

	err := row.Scan(
		&s.ID,
		&s.Token,
		&s.Problem,
		&statusStr,
		&bundleJSON,
		&s.BundleVersion,
		&scoresJSON,
		&selectedID,
		&resultsJSON,
		&lastError,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.ExpiresAt,
		&createdBy,
	)
	if err != nil {
		return nil, err
	}

	s.Status = models.SessionStatus(statusStr)
	s.SelectedID = selectedID.String
	s.LastError = lastError.String
	s.CreatedBy = createdBy.String

	if bundleJSON != nil {
		if err := json.Unmarshal(bundleJSON, &s.Bundle); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bundle: %w", err)
		}
	}
	if scoresJSON != nil {
		if err := json.Unmarshal(scoresJSON, &s.Scores); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scores: %w", err)
		}
	}
	if resultsJSON != nil {
		if err := json.Unmarshal(resultsJSON, &s.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal results: %w", err)
		}
	}

	return &s, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
