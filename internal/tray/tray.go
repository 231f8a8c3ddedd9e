// Package tray provides system tray controls for a running segcam session.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

// Tray represents the system tray menu.
type Tray struct {
	onPause     func(paused bool)
	onNextColor func() string
	onClear     func()
	onLoad      func() error
	onQuit      func()
	paused      bool
	mu          sync.RWMutex

	// Menu items stored for later updates
	menuPause      *systray.MenuItem
	menuColor      *systray.MenuItem
	menuLastResult *systray.MenuItem
}

// New creates a new Tray instance with inference running.
func New() *Tray {
	return &Tray{}
}

// OnPause sets the callback called when inference is paused or resumed.
func (t *Tray) OnPause(fn func(paused bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPause = fn
}

// OnNextColor sets the callback called to advance the mask colour. It returns the
// new colour name.
func (t *Tray) OnNextColor(fn func() string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onNextColor = fn
}

// OnClear sets the callback called to clear the steering points.
func (t *Tray) OnClear(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClear = fn
}

// OnLoad sets the callback called to load the latest saved prompt.
func (t *Tray) OnLoad(fn func() error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onLoad = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
func (t *Tray) onReady() {
	systray.SetTitle("segcam")
	systray.SetTooltip("segcam live segmentation")

	t.mu.Lock()
	t.menuPause = systray.AddMenuItem(pauseTitle(false), "Pause or resume inference")
	t.menuColor = systray.AddMenuItem("Next colour", "Cycle the mask colour")
	t.mu.Unlock()
	menuClear := systray.AddMenuItem("Clear points", "Remove all steering points")
	menuLoad := systray.AddMenuItem("Load last prompt", "Restore the most recently saved points")
	systray.AddSeparator()

	t.mu.Lock()
	t.menuLastResult = systray.AddMenuItem("Last: none", "Last inference result")
	t.menuLastResult.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit segcam")

	go func() {
		for {
			select {
			case <-t.menuPause.ClickedCh:
				t.handlePause()
			case <-t.menuColor.ClickedCh:
				t.handleNextColor()
			case <-menuClear.ClickedCh:
				t.handleClear()
			case <-menuLoad.ClickedCh:
				t.handleLoad()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func pauseTitle(paused bool) string {
	if paused {
		return "▶ Resume inference"
	}
	return "❚❚ Pause inference"
}

// handlePause flips the pause state.
func (t *Tray) handlePause() {
	t.mu.Lock()
	t.paused = !t.paused
	paused := t.paused
	if t.menuPause != nil {
		t.menuPause.SetTitle(pauseTitle(paused))
	}
	callback := t.onPause
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(paused)
	}
}

func (t *Tray) handleNextColor() {
	t.mu.RLock()
	callback := t.onNextColor
	t.mu.RUnlock()

	if callback == nil {
		return
	}
	name := callback()

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.menuColor != nil {
		t.menuColor.SetTitle("Next colour (" + name + ")")
	}
}

func (t *Tray) handleClear() {
	t.mu.RLock()
	callback := t.onClear
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleLoad() {
	t.mu.RLock()
	callback := t.onLoad
	t.mu.RUnlock()

	if callback == nil {
		return
	}
	if err := callback(); err != nil {
		t.SetLastResult("load failed: " + err.Error())
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetLastResult updates the last result line in the menu.
func (t *Tray) SetLastResult(text string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuLastResult != nil {
		if text == "" {
			t.menuLastResult.SetTitle("Last: none")
		} else {
			t.menuLastResult.SetTitle("Last: " + text)
		}
	}
}

// IsPaused returns the pause state shown in the menu.
func (t *Tray) IsPaused() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.paused
}
