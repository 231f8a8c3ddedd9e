package app

import (
	"fmt"
	"time"

	"github.com/golang/glog"
)

const keyEscape = 27

// handleKey applies a key press from the display. -1 means no key.
//
//	q, Esc  quit
//	r       next mask colour
//	c       clear points and result
//	p       pause or resume inference
//	s       save points as a prompt
//	l       load the latest saved prompt
func (a *App) handleKey(key int) {
	if key < 0 {
		return
	}

	switch key & 0xff {
	case 'q', keyEscape:
		a.Quit()
	case 'r':
		sw := a.NextColor()
		glog.Infof("mask colour: %s", sw.Name)
	case 'c':
		a.ClearPrompt()
		glog.Info("cleared points")
	case 'p':
		a.TogglePause()
	case 's':
		name := fmt.Sprintf("prompt-%s", time.Now().Format("20060102-150405"))
		if _, err := a.SavePrompt(name); err != nil {
			glog.Warningf("save prompt: %v", err)
		}
	case 'l':
		if err := a.LoadPrompt(); err != nil {
			glog.Warningf("%v", err)
		}
	}
}
