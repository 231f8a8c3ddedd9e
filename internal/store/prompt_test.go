package store

import (
	"errors"
	"image"
	"testing"
	"time"

	"github.com/ayusman/segcam/internal/pipeline"
)

func hairPoints() []pipeline.Point {
	return []pipeline.Point{
		{Pos: image.Pt(320, 96), Label: pipeline.Foreground},
		{Pos: image.Pt(320, 120), Label: pipeline.Foreground},
		{Pos: image.Pt(10, 470), Label: pipeline.Background},
	}
}

func TestPromptRepository_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	repo := s.Prompts()

	p := &Prompt{Name: "hair", Width: 640, Height: 480, Points: hairPoints()}
	if err := repo.Create(p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p.ID == "" {
		t.Fatal("Create() should assign an ID")
	}

	got, err := repo.GetByID(p.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "hair" || got.Width != 640 || got.Height != 480 {
		t.Errorf("GetByID() = %+v", got)
	}
	if len(got.Points) != 3 {
		t.Fatalf("points = %d, want 3", len(got.Points))
	}
	for i, pt := range hairPoints() {
		if got.Points[i] != pt {
			t.Errorf("point %d = %+v, want %+v", i, got.Points[i], pt)
		}
	}
}

func TestPromptRepository_CreateEmpty(t *testing.T) {
	s := newTestStore(t)
	if err := s.Prompts().Create(&Prompt{Name: "empty"}); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("Create() error = %v, want ErrEmptyPrompt", err)
	}
}

func TestPromptRepository_Latest(t *testing.T) {
	s := newTestStore(t)
	repo := s.Prompts()

	if _, err := repo.Latest(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Latest() on empty store error = %v, want ErrNotFound", err)
	}

	base := time.Now()
	for i, name := range []string{"first", "second", "third"} {
		p := &Prompt{
			Name:      name,
			Width:     640,
			Height:    480,
			Points:    hairPoints(),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Create(p); err != nil {
			t.Fatalf("Create(%s) error = %v", name, err)
		}
	}

	latest, err := repo.Latest()
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.Name != "third" {
		t.Errorf("Latest() = %s, want third", latest.Name)
	}

	all, err := repo.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 || all[0].Name != "third" {
		t.Errorf("List() order wrong: %d prompts", len(all))
	}
}

func TestPromptRepository_Delete(t *testing.T) {
	s := newTestStore(t)
	repo := s.Prompts()

	p := &Prompt{Name: "tmp", Width: 1, Height: 1, Points: hairPoints()}
	if err := repo.Create(p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Delete(p.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestPrompt_ScaledTo(t *testing.T) {
	p := &Prompt{Width: 640, Height: 480, Points: hairPoints()}

	tests := []struct {
		name  string
		w, h  int
		want0 image.Point
	}{
		{name: "same size", w: 640, h: 480, want0: image.Pt(320, 96)},
		{name: "half size", w: 320, h: 240, want0: image.Pt(160, 48)},
		{name: "double size", w: 1280, h: 960, want0: image.Pt(640, 192)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.ScaledTo(tt.w, tt.h)
			if got[0].Pos != tt.want0 {
				t.Errorf("first point = %v, want %v", got[0].Pos, tt.want0)
			}
			if got[2].Label != pipeline.Background {
				t.Error("labels should be preserved")
			}
		})
	}

	// Scaling must not modify the stored points.
	if p.Points[0].Pos != image.Pt(320, 96) {
		t.Error("ScaledTo modified the prompt")
	}
}
