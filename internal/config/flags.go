package config

import (
	"flag"
	"strconv"
)

// Overrides holds command-line values that take precedence over the file.
type Overrides struct {
	fs *flag.FlagSet

	ConfigPath string
	Source     string
	Engine     string
	Preset     string
	Headless   bool
	Tray       bool
	DBPath     string
	Broker     string
}

// BindFlags registers the override flags on fs.
func BindFlags(fs *flag.FlagSet) *Overrides {
	o := &Overrides{fs: fs}
	fs.StringVar(&o.ConfigPath, "config", "segcam.yaml", "path to the YAML config file")
	fs.StringVar(&o.Source, "source", "", "camera index, stream URL or video file")
	fs.StringVar(&o.Engine, "engine", "", "inference engine: sam2, hair, hands, yolo, helmet or mock")
	fs.StringVar(&o.Preset, "preset", "", "prompt preset to seed steering points")
	fs.BoolVar(&o.Headless, "headless", false, "run without a display window")
	fs.BoolVar(&o.Tray, "tray", false, "show system tray controls")
	fs.StringVar(&o.DBPath, "db", "", "journal results to this SQLite file")
	fs.StringVar(&o.Broker, "mqtt", "", "publish results to this MQTT broker")
	return o
}

// Apply copies every flag that was set explicitly into cfg, then revalidates it.
func (o *Overrides) Apply(cfg *Config) error {
	set := make(map[string]bool)
	o.fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["source"] {
		if n, err := strconv.Atoi(o.Source); err == nil {
			cfg.Source.Device = n
			cfg.Source.URL = ""
		} else {
			cfg.Source.URL = o.Source
		}
	}
	if set["engine"] {
		cfg.Engine.Kind = o.Engine
		// Defaults derived from the old engine no longer apply.
		cfg.Prompt.RequirePoints = nil
		if cfg.Prompt.presetFromEngine {
			cfg.Prompt.Preset = ""
			cfg.Prompt.presetFromEngine = false
		}
	}
	if set["preset"] {
		cfg.Prompt.Preset = o.Preset
		cfg.Prompt.presetFromEngine = false
		cfg.Prompt.RequirePoints = nil
	}
	if set["headless"] {
		cfg.Render.Headless = o.Headless
	}
	if set["tray"] {
		cfg.Tray = o.Tray
	}
	if set["db"] {
		cfg.Store.Enabled = o.DBPath != ""
		cfg.Store.Path = o.DBPath
	}
	if set["mqtt"] {
		cfg.MQTT.Broker = o.Broker
	}

	return Validate(cfg)
}
