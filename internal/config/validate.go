package config

import (
	"fmt"
	"strings"

	"github.com/ayusman/segcam/internal/capture"
	"github.com/ayusman/segcam/internal/detector"
	"github.com/ayusman/segcam/internal/hook"
	"github.com/ayusman/segcam/internal/pipeline"
	"github.com/ayusman/segcam/internal/render"
)

var engineKinds = []string{"sam2", "hair", "hands", "yolo", "helmet", "mock"}

// Validate fills in defaults and rejects values the app cannot run with.
func Validate(cfg *Config) error {
	// Source
	if cfg.Source.URL == "" && cfg.Source.Device < 0 {
		return fmt.Errorf("source.device must be >= 0")
	}
	if cfg.Source.Width < 0 || cfg.Source.Height < 0 || cfg.Source.FPS < 0 {
		return fmt.Errorf("source width, height and fps must not be negative")
	}
	if cfg.Source.Width == 0 {
		cfg.Source.Width = capture.DefaultWidth
	}
	if cfg.Source.Height == 0 {
		cfg.Source.Height = capture.DefaultHeight
	}
	if cfg.Source.FPS == 0 {
		cfg.Source.FPS = capture.DefaultFPS
	}

	// Engine
	def := detector.DefaultConfig()
	cfg.Engine.Kind = strings.ToLower(strings.TrimSpace(cfg.Engine.Kind))
	if cfg.Engine.Kind == "" {
		cfg.Engine.Kind = def.Kind
	}
	if !knownEngine(cfg.Engine.Kind) {
		return fmt.Errorf("engine.kind %q must be one of %s", cfg.Engine.Kind, strings.Join(engineKinds, ", "))
	}
	if cfg.Engine.InferenceWidth == 0 {
		cfg.Engine.InferenceWidth = def.InferenceSize.X
	}
	if cfg.Engine.InferenceHeight == 0 {
		cfg.Engine.InferenceHeight = def.InferenceSize.Y
	}
	if cfg.Engine.InferenceWidth < 0 || cfg.Engine.InferenceHeight < 0 {
		return fmt.Errorf("engine inference size must be positive")
	}
	if cfg.Engine.Confidence == 0 {
		cfg.Engine.Confidence = def.Confidence
	}
	if cfg.Engine.Confidence < 0 || cfg.Engine.Confidence > 1 {
		return fmt.Errorf("engine.confidence must be in [0, 1], got %v", cfg.Engine.Confidence)
	}
	if cfg.Engine.NMSThreshold == 0 {
		cfg.Engine.NMSThreshold = def.NMSThreshold
	}
	if cfg.Engine.NMSThreshold < 0 || cfg.Engine.NMSThreshold > 1 {
		return fmt.Errorf("engine.nms_threshold must be in [0, 1], got %v", cfg.Engine.NMSThreshold)
	}
	if len(cfg.Engine.Classes) == 0 {
		cfg.Engine.Classes = def.Classes
	}
	if cfg.Engine.MaxHands <= 0 {
		cfg.Engine.MaxHands = def.MaxHands
	}
	if cfg.Engine.IdleTimeout <= 0 {
		cfg.Engine.IdleTimeout = def.IdleTimeout
	}
	if (cfg.Engine.Kind == "yolo" || cfg.Engine.Kind == "helmet") && cfg.Engine.ModelPath == "" {
		return fmt.Errorf("engine.model_path is required for %s", cfg.Engine.Kind)
	}

	// Prompt
	if cfg.Engine.Kind == "hair" && cfg.Prompt.Preset == "" {
		cfg.Prompt.Preset = "hair"
		cfg.Prompt.presetFromEngine = true
	}
	if _, err := detector.LookupPreset(cfg.Prompt.Preset); err != nil {
		return fmt.Errorf("prompt.preset: %w", err)
	}
	if cfg.Prompt.RequirePoints == nil {
		required := cfg.Engine.Kind == "sam2" && cfg.Prompt.Preset == ""
		cfg.Prompt.RequirePoints = &required
	}

	// Pipeline
	if cfg.Pipeline.IdleSleep <= 0 {
		cfg.Pipeline.IdleSleep = pipeline.DefaultIdleSleep
	}
	if cfg.Pipeline.StopTimeout <= 0 {
		cfg.Pipeline.StopTimeout = pipeline.DefaultStopTimeout
	}
	if _, err := pipeline.ParseDropPolicy(cfg.Pipeline.DropPolicy); err != nil {
		return fmt.Errorf("pipeline.drop_policy: %w", err)
	}
	if cfg.Pipeline.MotionThreshold == 0 {
		cfg.Pipeline.MotionThreshold = capture.DefaultMotionThreshold
	}
	if cfg.Pipeline.MotionThreshold < 0 || cfg.Pipeline.MotionThreshold > 100 {
		return fmt.Errorf("pipeline.motion_threshold must be a percentage, got %v", cfg.Pipeline.MotionThreshold)
	}

	// Render
	if cfg.Render.Window == "" {
		cfg.Render.Window = "segcam"
	}
	if cfg.Render.Alpha == 0 {
		cfg.Render.Alpha = render.DefaultAlpha
	}
	if cfg.Render.Alpha < 0 || cfg.Render.Alpha > 1 {
		return fmt.Errorf("render.alpha must be in [0, 1], got %v", cfg.Render.Alpha)
	}
	if cfg.Render.BlurKernel == 0 {
		cfg.Render.BlurKernel = render.DefaultBlurKernel
	}

	// Store
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	// MQTT
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}

	// Hooks
	if cfg.Hooks.Dir == "" {
		cfg.Hooks.Dir = DefaultHooksDir()
	}
	if cfg.Hooks.Timeout <= 0 {
		cfg.Hooks.Timeout = hook.DefaultTimeout
	}
	for i, r := range cfg.Hooks.Rules {
		if _, err := hook.ParseTrigger(r.When); err != nil {
			return fmt.Errorf("hooks.rules[%d].when: %w", i, err)
		}
		if r.Hook == "" || r.Action == "" {
			return fmt.Errorf("hooks.rules[%d]: hook and action are required", i)
		}
		if r.Cooldown < 0 {
			return fmt.Errorf("hooks.rules[%d].cooldown must not be negative", i)
		}
	}

	return nil
}

func knownEngine(kind string) bool {
	for _, k := range engineKinds {
		if k == kind {
			return true
		}
	}
	return false
}
