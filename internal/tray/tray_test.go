package tray

import (
	"errors"
	"testing"
)

// The menu items only exist once systray is running; handlers must cope without them.

func TestTray_HandlePauseToggles(t *testing.T) {
	tr := New()

	var got []bool
	tr.OnPause(func(p bool) { got = append(got, p) })

	tr.handlePause()
	if !tr.IsPaused() {
		t.Error("first click should pause")
	}
	tr.handlePause()
	if tr.IsPaused() {
		t.Error("second click should resume")
	}

	if len(got) != 2 || !got[0] || got[1] {
		t.Errorf("callback values = %v, want [true false]", got)
	}
}

func TestTray_HandlersCallCallbacks(t *testing.T) {
	tr := New()

	colors, clears, loads := 0, 0, 0
	tr.OnNextColor(func() string { colors++; return "Red" })
	tr.OnClear(func() { clears++ })
	tr.OnLoad(func() error { loads++; return errors.New("no saved prompt") })

	tr.handleNextColor()
	tr.handleClear()
	tr.handleLoad()

	if colors != 1 || clears != 1 || loads != 1 {
		t.Errorf("colors=%d clears=%d loads=%d, want 1 each", colors, clears, loads)
	}
}

func TestTray_NilCallbacks(t *testing.T) {
	tr := New()

	tr.handlePause()
	tr.handleNextColor()
	tr.handleClear()
	tr.handleLoad()
	tr.SetLastResult("mask 0.90")
}

func TestPauseTitle(t *testing.T) {
	if pauseTitle(true) == pauseTitle(false) {
		t.Error("pause and resume titles should differ")
	}
}
