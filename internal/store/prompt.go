package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/segcam/internal/pipeline"
)

// ErrEmptyPrompt is returned when saving a prompt with no points.
var ErrEmptyPrompt = errors.New("prompt has no points")

// Prompt is a saved set of steering points together with the frame size they
// were placed on.
type Prompt struct {
	ID        string
	Name      string
	Width     int
	Height    int
	Points    []pipeline.Point
	CreatedAt time.Time
}

// PromptRepository provides operations on prompts.
type PromptRepository struct {
	db *sql.DB
}

// Prompts returns the prompt repository for this store.
func (s *Store) Prompts() *PromptRepository {
	return &PromptRepository{db: s.db}
}

// Create saves a prompt. It generates an ID when p.ID is empty.
func (r *PromptRepository) Create(p *Prompt) error {
	if len(p.Points) == 0 {
		return ErrEmptyPrompt
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	points, err := json.Marshal(p.Points)
	if err != nil {
		return fmt.Errorf("encode points: %w", err)
	}

	_, err = r.db.Exec(
		`INSERT INTO prompts (id, name, width, height, points, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Width, p.Height, string(points), p.CreatedAt,
	)
	return err
}

// GetByID retrieves a prompt by its ID.
func (r *PromptRepository) GetByID(id string) (*Prompt, error) {
	return r.getOne(
		`SELECT id, name, width, height, points, created_at FROM prompts WHERE id = ?`, id,
	)
}

// Latest returns the most recently saved prompt.
func (r *PromptRepository) Latest() (*Prompt, error) {
	return r.getOne(
		`SELECT id, name, width, height, points, created_at FROM prompts
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	)
}

// List returns all prompts, newest first.
func (r *PromptRepository) List() ([]*Prompt, error) {
	rows, err := r.db.Query(
		`SELECT id, name, width, height, points, created_at FROM prompts
		 ORDER BY created_at DESC, rowid DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prompts []*Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return prompts, nil
}

// Delete removes a prompt by its ID.
func (r *PromptRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM prompts WHERE id = ?`, id)
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

func (r *PromptRepository) getOne(query string, args ...any) (*Prompt, error) {
	p, err := scanPrompt(r.db.QueryRow(query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func scanPrompt(row scanner) (*Prompt, error) {
	p := &Prompt{}
	var points string
	if err := row.Scan(&p.ID, &p.Name, &p.Width, &p.Height, &points, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(points), &p.Points); err != nil {
		return nil, fmt.Errorf("decode points for prompt %s: %w", p.ID, err)
	}
	return p, nil
}

// ScaledTo returns the prompt's points mapped onto a frame of width x height.
func (p *Prompt) ScaledTo(width, height int) []pipeline.Point {
	out := make([]pipeline.Point, len(p.Points))
	copy(out, p.Points)
	if p.Width <= 0 || p.Height <= 0 || (p.Width == width && p.Height == height) {
		return out
	}
	for i := range out {
		out[i].Pos.X = out[i].Pos.X * width / p.Width
		out[i].Pos.Y = out[i].Pos.Y * height / p.Height
	}
	return out
}
