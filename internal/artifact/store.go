package artifact

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/intakehq/intake/internal/db"
)

// Store persists artifact lifecycle rows. State transitions go through
// the typed setters; rows default to absent when never written.
type Store struct {
	db *db.DB
}

// NewStore creates an artifact store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Get returns the artifact row, or an absent placeholder when no row
// exists yet.
func (s *Store) Get(ctx context.Context, sessionID, artifactID string) (*Artifact, error) {
	var a Artifact
	var generatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, artifact_id, state, content, reason, generated_at, updated_at
		 FROM artifacts WHERE session_id = ? AND artifact_id = ?`,
		sessionID, artifactID,
	).Scan(&a.SessionID, &a.ID, &a.State, &a.Content, &a.Reason, &generatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return &Artifact{SessionID: sessionID, ID: artifactID, State: StateAbsent}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting artifact: %w", err)
	}
	if generatedAt.Valid {
		t := generatedAt.Time
		a.GeneratedAt = &t
	}
	return &a, nil
}

// List returns all artifact rows for a session.
func (s *Store) List(ctx context.Context, sessionID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, artifact_id, state, content, reason, generated_at, updated_at
		 FROM artifacts WHERE session_id = ? ORDER BY artifact_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		var generatedAt sql.NullTime
		if err := rows.Scan(&a.SessionID, &a.ID, &a.State, &a.Content, &a.Reason, &generatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		if generatedAt.Valid {
			t := generatedAt.Time
			a.GeneratedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetGenerating records the generation trigger.
func (s *Store) SetGenerating(ctx context.Context, sessionID, artifactID string) error {
	return s.upsert(ctx, sessionID, artifactID, StateGenerating, "", "", nil)
}

// SetReady commits generated content with its timestamp.
func (s *Store) SetReady(ctx context.Context, sessionID, artifactID, content string) error {
	now := time.Now().UTC()
	return s.upsert(ctx, sessionID, artifactID, StateReady, content, "", &now)
}

// SetError records a generation or validation failure with its reason.
func (s *Store) SetError(ctx context.Context, sessionID, artifactID, reason string) error {
	return s.upsert(ctx, sessionID, artifactID, StateError, "", reason, nil)
}

// SetAbsent demotes the artifact, clearing content.
func (s *Store) SetAbsent(ctx context.Context, sessionID, artifactID, reason string) error {
	return s.upsert(ctx, sessionID, artifactID, StateAbsent, "", reason, nil)
}

// ResetInflight demotes any row stuck in generating back to absent. Used
// when rehydrating a session after a restart: an in-flight generation
// from a previous process can never commit.
func (s *Store) ResetInflight(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET state = 'absent', content = '', reason = 'interrupted', updated_at = ?
		 WHERE session_id = ? AND state = 'generating'`,
		time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("resetting in-flight artifacts: %w", err)
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, sessionID, artifactID string, state State, content, reason string, generatedAt *time.Time) error {
	var gen any
	if generatedAt != nil {
		gen = *generatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (session_id, artifact_id, state, content, reason, generated_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, artifact_id) DO UPDATE SET
		   state = excluded.state,
		   content = excluded.content,
		   reason = excluded.reason,
		   generated_at = excluded.generated_at,
		   updated_at = excluded.updated_at`,
		sessionID, artifactID, state, content, reason, gen, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating artifact %s/%s: %w", sessionID, artifactID, err)
	}
	return nil
}
