package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/intakehq/intake/internal/db"
)

// Store persists the append-only fact log. Rows are inserted and read,
// never updated or deleted. Per-session seq ordering is the source of
// truth for replay; callers serialize appends per session.
type Store struct {
	db *db.DB
}

// NewStore creates a fact store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Append writes facts to the log in order, assigning consecutive seq
// numbers after the current maximum for the session. The caller must hold
// the session's write lock.
func (s *Store) Append(ctx context.Context, sessionID string, facts []Fact) ([]Fact, error) {
	if len(facts) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning fact append: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM facts WHERE session_id = ?`, sessionID,
	).Scan(&maxSeq); err != nil {
		return nil, fmt.Errorf("reading max seq: %w", err)
	}

	seq := maxSeq.Int64
	out := make([]Fact, 0, len(facts))
	for _, f := range facts {
		seq++
		f.SessionID = sessionID
		f.Seq = seq

		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("encoding fact value for %s: %w", f.FieldPath, err)
		}

		var confidence any
		if f.Confidence != nil {
			confidence = *f.Confidence
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO facts (id, session_id, field_path, value, confidence, source_turn_id, correction, observed_at, seq)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.SessionID, f.FieldPath, string(value), confidence,
			f.SourceTurnID, boolToInt(f.Correction), f.ObservedAt, f.Seq,
		); err != nil {
			return nil, fmt.Errorf("appending fact for %s: %w", f.FieldPath, err)
		}
		out = append(out, f)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing fact append: %w", err)
	}
	return out, nil
}

// List returns the full fact log for a session in seq order.
func (s *Store) List(ctx context.Context, sessionID string) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, field_path, value, confidence, source_turn_id, correction, observed_at, seq
		 FROM facts WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying facts: %w", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var f Fact
		var value string
		var confidence sql.NullFloat64
		var correction int
		if err := rows.Scan(&f.ID, &f.SessionID, &f.FieldPath, &value, &confidence,
			&f.SourceTurnID, &correction, &f.ObservedAt, &f.Seq); err != nil {
			return nil, fmt.Errorf("scanning fact: %w", err)
		}
		if err := json.Unmarshal([]byte(value), &f.Value); err != nil {
			return nil, fmt.Errorf("decoding fact value %s: %w", f.ID, err)
		}
		if confidence.Valid {
			c := confidence.Float64
			f.Confidence = &c
		}
		f.Correction = correction != 0
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// Count returns the number of facts logged for a session.
func (s *Store) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM facts WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
