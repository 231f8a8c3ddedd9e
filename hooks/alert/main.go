// Package main is a segcam hook that raises desktop notifications, beeps or appends
// results to a JSON-lines log. Build it with `go build -o alert` inside this
// directory and point hooks.dir at the parent.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/ayusman/segcam/internal/detector"
	"github.com/ayusman/segcam/internal/hook"
)

// notifyParams configures the notify action.
type notifyParams struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// logParams configures the log action.
type logParams struct {
	Path string `json:"path"`
}

type actionHandler func(req *hook.Request) error

var actionHandlers = map[string]actionHandler{
	"notify": notify,
	"log":    appendLog,
	"beep":   beep,
}

func main() {
	var req hook.Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResponse(hook.Response{Error: fmt.Sprintf("failed to decode request: %v", err)})
		return
	}

	handler, ok := actionHandlers[req.Action]
	if !ok {
		writeResponse(hook.Response{Error: fmt.Sprintf("unknown action: %s", req.Action)})
		return
	}
	if err := handler(&req); err != nil {
		writeResponse(hook.Response{Error: fmt.Sprintf("action %s failed: %v", req.Action, err)})
		return
	}
	writeResponse(hook.Response{Success: true})
}

func writeResponse(resp hook.Response) {
	json.NewEncoder(os.Stdout).Encode(resp)
}

func notify(req *hook.Request) error {
	p := notifyParams{Title: "segcam"}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return fmt.Errorf("invalid params: %w", err)
		}
	}
	if p.Body == "" {
		p.Body = fmt.Sprintf("%s: %s", req.Trigger, req.Summary.String())
	}

	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", strconv.Quote(p.Body), strconv.Quote(p.Title))
		return run("osascript", "-e", script)
	case "linux":
		return run("notify-send", p.Title, p.Body)
	default:
		return fmt.Errorf("notifications are not supported on %s", runtime.GOOS)
	}
}

func beep(*hook.Request) error {
	switch runtime.GOOS {
	case "darwin":
		return run("osascript", "-e", "beep")
	default:
		// Terminal bell on the hook's stderr.
		_, err := os.Stderr.WriteString("\a")
		return err
	}
}

// appendLog writes one JSON line per request.
func appendLog(req *hook.Request) error {
	var p logParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return fmt.Errorf("invalid params: %w", err)
		}
	}
	if p.Path == "" {
		return errors.New("params.path is required")
	}

	f, err := os.OpenFile(p.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line := struct {
		Time    time.Time        `json:"time"`
		Trigger string           `json:"trigger"`
		Session string           `json:"session,omitempty"`
		Summary detector.Summary `json:"summary"`
	}{time.Now(), req.Trigger, req.Session, req.Summary}
	return json.NewEncoder(f).Encode(line)
}

// run executes a command and folds its output into the error.
func run(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(out))
	}
	return nil
}
