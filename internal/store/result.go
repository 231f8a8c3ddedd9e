package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ayusman/segcam/internal/detector"
)

// ResultRecord is a persisted inference result. The JSON columns are kept raw so
// callers can decode only what they need.
type ResultRecord struct {
	ID         int64
	SessionID  string
	Seq        uint64
	Kind       detector.Kind
	Engine     string
	Score      float64
	MaskPixels int
	Detections json.RawMessage
	Hands      json.RawMessage
	Points     json.RawMessage
	LatencyMS  float64
	CreatedAt  time.Time
}

// NewResultRecord converts a result summary into a record for sessionID.
func NewResultRecord(sessionID string, s detector.Summary) (*ResultRecord, error) {
	detections, err := marshalList(s.Detections)
	if err != nil {
		return nil, fmt.Errorf("encode detections: %w", err)
	}
	hands, err := marshalList(s.Hands)
	if err != nil {
		return nil, fmt.Errorf("encode hands: %w", err)
	}
	points, err := marshalList(s.Points)
	if err != nil {
		return nil, fmt.Errorf("encode points: %w", err)
	}

	at := s.At
	if at.IsZero() {
		at = time.Now()
	}

	return &ResultRecord{
		SessionID:  sessionID,
		Seq:        s.Seq,
		Kind:       s.Kind,
		Engine:     s.Engine,
		Score:      s.Score,
		MaskPixels: s.MaskPixels,
		Detections: detections,
		Hands:      hands,
		Points:     points,
		LatencyMS:  s.LatencyMS,
		CreatedAt:  at,
	}, nil
}

// marshalList encodes a slice, writing [] rather than null for nil.
func marshalList[T any](v []T) (json.RawMessage, error) {
	if v == nil {
		v = []T{}
	}
	return json.Marshal(v)
}

// ResultRepository provides operations on results.
type ResultRepository struct {
	db *sql.DB
}

// Results returns the result repository for this store.
func (s *Store) Results() *ResultRepository {
	return &ResultRepository{db: s.db}
}

// InsertBatch inserts records in a single transaction and fills in their IDs.
func (r *ResultRepository) InsertBatch(records []*ResultRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO results (session_id, seq, kind, engine, score, mask_pixels,
		 detections, hands, points, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		res, err := stmt.Exec(
			rec.SessionID, rec.Seq, string(rec.Kind), rec.Engine, rec.Score, rec.MaskPixels,
			string(orEmptyList(rec.Detections)), string(orEmptyList(rec.Hands)),
			string(orEmptyList(rec.Points)), rec.LatencyMS, rec.CreatedAt,
		)
		if err != nil {
			return err
		}
		if rec.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func orEmptyList(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("[]")
	}
	return raw
}

// ListBySession returns a session's results in sequence order.
func (r *ResultRepository) ListBySession(sessionID string, limit int) ([]*ResultRecord, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.db.Query(
		`SELECT id, session_id, seq, kind, engine, score, mask_pixels,
		 detections, hands, points, latency_ms, created_at
		 FROM results WHERE session_id = ? ORDER BY seq ASC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ResultRecord
	for rows.Next() {
		rec := &ResultRecord{}
		var kind, detections, hands, points string
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.Seq, &kind, &rec.Engine, &rec.Score, &rec.MaskPixels,
			&detections, &hands, &points, &rec.LatencyMS, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Kind = detector.Kind(kind)
		rec.Detections = json.RawMessage(detections)
		rec.Hands = json.RawMessage(hands)
		rec.Points = json.RawMessage(points)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// CountBySession returns the number of results stored for a session.
func (r *ResultRepository) CountBySession(sessionID string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM results WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}
