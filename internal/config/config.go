// Package config loads the segcam YAML configuration and applies command-line
// overrides.
package config

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/segcam/internal/capture"
	"github.com/ayusman/segcam/internal/detector"
	"github.com/ayusman/segcam/internal/emitter"
	"github.com/ayusman/segcam/internal/hook"
	"github.com/ayusman/segcam/internal/pipeline"
	"github.com/ayusman/segcam/internal/render"
)

// Config is the complete segcam configuration.
type Config struct {
	Source   SourceConfig   `yaml:"source"`
	Engine   EngineConfig   `yaml:"engine"`
	Prompt   PromptConfig   `yaml:"prompt"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Render   RenderConfig   `yaml:"render"`
	Store    StoreConfig    `yaml:"store"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Hooks    HooksConfig    `yaml:"hooks"`
	Tray     bool           `yaml:"tray"`
}

// SourceConfig selects the video source. A non-empty URL wins over Device.
type SourceConfig struct {
	Device int    `yaml:"device"`
	URL    string `yaml:"url"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
}

// EngineConfig contains inference engine settings.
type EngineConfig struct {
	Kind            string        `yaml:"kind"` // sam2, hair, hands, yolo, helmet, mock
	Python          string        `yaml:"python"`
	Script          string        `yaml:"script"`
	InferenceWidth  int           `yaml:"inference_width"`
	InferenceHeight int           `yaml:"inference_height"`
	ModelPath       string        `yaml:"model_path"`
	Confidence      float64       `yaml:"confidence"`
	NMSThreshold    float64       `yaml:"nms_threshold"`
	Classes         []string      `yaml:"classes"`
	MaxHands        int           `yaml:"max_hands"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
}

// PromptConfig controls steering points.
type PromptConfig struct {
	// Preset seeds fixed points, e.g. "hair".
	Preset string `yaml:"preset"`

	// RequirePoints skips inference while no points exist. Unset means true for
	// interactive segmentation and false otherwise.
	RequirePoints *bool `yaml:"require_points"`

	// presetFromEngine marks a Preset filled in from the engine kind.
	presetFromEngine bool
}

// PipelineConfig contains worker and mailbox settings.
type PipelineConfig struct {
	IdleSleep       time.Duration `yaml:"idle_sleep"`
	StopTimeout     time.Duration `yaml:"stop_timeout"`
	DropPolicy      string        `yaml:"drop_policy"` // drop_oldest, drop_newest
	MotionGate      bool          `yaml:"motion_gate"`
	MotionThreshold float64       `yaml:"motion_threshold"` // percent of changed pixels
}

// RenderConfig contains display settings.
type RenderConfig struct {
	Window     string  `yaml:"window"`
	Headless   bool    `yaml:"headless"`
	Alpha      float64 `yaml:"alpha"`
	BlurKernel int     `yaml:"blur_kernel"`
}

// StoreConfig contains journal settings.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MQTTConfig contains broker settings. An empty broker disables publishing.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
	Control  bool   `yaml:"control"`
}

// HooksConfig lists external executables to run on matching results. No rules
// disables hooks.
type HooksConfig struct {
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"timeout"`
	Rules   []HookRule    `yaml:"rules"`
}

// HookRule runs Hook's Action when a result matches When.
type HookRule struct {
	When     string         `yaml:"when"`
	Hook     string         `yaml:"hook"`
	Action   string         `yaml:"action"`
	Params   map[string]any `yaml:"params"`
	Cooldown time.Duration  `yaml:"cooldown"`
}

// Default returns a validated configuration with every default filled in.
func Default() *Config {
	cfg := &Config{}
	if err := Validate(cfg); err != nil {
		// The zero config is always valid.
		panic(err)
	}
	return cfg
}

// Load reads and parses a YAML configuration file. An empty path or a missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			glog.Infof("config %s not found, using defaults", path)
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// DefaultHooksDir returns ~/.segcam/hooks, or a relative path when the home
// directory is unknown.
func DefaultHooksDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".segcam", "hooks")
	}
	return filepath.Join(home, ".segcam", "hooks")
}

// DefaultStorePath returns ~/.segcam/segcam.db, or a relative path when the home
// directory is unknown.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".segcam", "segcam.db")
	}
	return filepath.Join(home, ".segcam", "segcam.db")
}

// CaptureSource converts the source section.
func (c *Config) CaptureSource() capture.Source {
	return capture.Source{
		Device: c.Source.Device,
		URL:    c.Source.URL,
		Width:  c.Source.Width,
		Height: c.Source.Height,
		FPS:    c.Source.FPS,
	}
}

// DetectorConfig converts the engine section.
func (c *Config) DetectorConfig() detector.Config {
	return detector.Config{
		Kind:          c.Engine.Kind,
		Python:        c.Engine.Python,
		Script:        c.Engine.Script,
		InferenceSize: image.Pt(c.Engine.InferenceWidth, c.Engine.InferenceHeight),
		IdleTimeout:   c.Engine.IdleTimeout,
		ModelPath:     c.Engine.ModelPath,
		Confidence:    c.Engine.Confidence,
		NMSThreshold:  c.Engine.NMSThreshold,
		Classes:       append([]string(nil), c.Engine.Classes...),
		MaxHands:      c.Engine.MaxHands,
	}
}

// DropPolicy returns the parsed mailbox policy. Validate has already checked it.
func (c *Config) DropPolicy() pipeline.DropPolicy {
	p, _ := pipeline.ParseDropPolicy(c.Pipeline.DropPolicy)
	return p
}

// PointsRequired reports whether inference waits for steering points.
func (c *Config) PointsRequired() bool {
	return c.Prompt.RequirePoints != nil && *c.Prompt.RequirePoints
}

// RenderOptions converts the render section.
func (c *Config) RenderOptions() render.Options {
	return render.Options{Alpha: c.Render.Alpha, BlurKernel: c.Render.BlurKernel}
}

// EmitterConfig converts the mqtt section.
func (c *Config) EmitterConfig() emitter.Config {
	return emitter.Config{
		Broker:   c.MQTT.Broker,
		Topic:    c.MQTT.Topic,
		ClientID: c.MQTT.ClientID,
		QoS:      c.MQTT.QoS,
	}
}

// HookRules converts the hook rules.
func (c *Config) HookRules() []hook.Rule {
	rules := make([]hook.Rule, 0, len(c.Hooks.Rules))
	for _, r := range c.Hooks.Rules {
		rules = append(rules, hook.Rule{
			When:     r.When,
			Hook:     r.Hook,
			Action:   r.Action,
			Params:   r.Params,
			Cooldown: r.Cooldown,
		})
	}
	return rules
}
