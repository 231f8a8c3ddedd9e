// Package hook runs external executables when inference results match a trigger.
package hook

import (
	"encoding/json"

	"github.com/ayusman/segcam/internal/detector"
)

// ManifestFile is the manifest each hook directory must contain.
const ManifestFile = "hook.json"

// Manifest describes a hook executable.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Executable  string   `json:"executable"`
	Actions     []string `json:"actions"`
}

// Request is written to the hook's stdin as JSON.
type Request struct {
	Action  string           `json:"action"`
	Trigger string           `json:"trigger"`
	Session string           `json:"session,omitempty"`
	Summary detector.Summary `json:"summary"`
	Params  json.RawMessage  `json:"params,omitempty"`
}

// Response is read from the hook's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Hook is a discovered hook with its manifest and location.
type Hook struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Supports reports whether the manifest lists action. A manifest without actions
// accepts any.
func (h *Hook) Supports(action string) bool {
	if len(h.Manifest.Actions) == 0 {
		return true
	}
	for _, a := range h.Manifest.Actions {
		if a == action {
			return true
		}
	}
	return false
}
