package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Session is one run of the capture loop.
type Session struct {
	ID         string
	Engine     string
	Source     string
	StartedAt  time.Time
	EndedAt    *time.Time
	Frames     uint64
	Dropped    uint64
	Inferences uint64
	Failures   uint64
}

// SessionTotals are the counters written when a session ends.
type SessionTotals struct {
	Frames     uint64
	Dropped    uint64
	Inferences uint64
	Failures   uint64
}

// SessionRepository provides operations on sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Start inserts a new open session and returns it.
func (r *SessionRepository) Start(engine, source string) (*Session, error) {
	sess := &Session{
		ID:        uuid.New().String(),
		Engine:    engine,
		Source:    source,
		StartedAt: time.Now(),
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, engine, source, started_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Engine, sess.Source, sess.StartedAt,
	)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// End closes a session and records its totals.
func (r *SessionRepository) End(id string, totals SessionTotals) error {
	result, err := r.db.Exec(
		`UPDATE sessions SET ended_at = ?, frames = ?, dropped = ?, inferences = ?, failures = ?
		 WHERE id = ?`,
		time.Now(), totals.Frames, totals.Dropped, totals.Inferences, totals.Failures, id,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	row := r.db.QueryRow(
		`SELECT id, engine, source, started_at, ended_at, frames, dropped, inferences, failures
		 FROM sessions WHERE id = ?`,
		id,
	)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

// List retrieves the most recent sessions first.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(
		`SELECT id, engine, source, started_at, ended_at, frames, dropped, inferences, failures
		 FROM sessions ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	sess := &Session{}
	var ended sql.NullTime

	err := row.Scan(&sess.ID, &sess.Engine, &sess.Source, &sess.StartedAt, &ended,
		&sess.Frames, &sess.Dropped, &sess.Inferences, &sess.Failures)
	if err != nil {
		return nil, err
	}

	if ended.Valid {
		t := ended.Time
		sess.EndedAt = &t
	}
	return sess, nil
}
