package detector

import (
	"fmt"
	"image"
	"sort"

	"github.com/ayusman/segcam/internal/pipeline"
)

// Preset produces steering points for a frame of the given size.
type Preset func(size image.Point) []pipeline.Point

var presets = map[string]Preset{
	"hair": HairPreset,
}

// HairPreset places four foreground points on the upper part of the frame where a
// head is expected in a selfie view.
func HairPreset(size image.Point) []pipeline.Point {
	w, h := size.X, size.Y
	return []pipeline.Point{
		{Pos: image.Pt(w/2, h/5), Label: pipeline.Foreground},
		{Pos: image.Pt(w/2, h/4), Label: pipeline.Foreground},
		{Pos: image.Pt(w/3, h/3), Label: pipeline.Foreground},
		{Pos: image.Pt(2*w/3, h/3), Label: pipeline.Foreground},
	}
}

// LookupPreset returns the named preset. An empty name returns nil and no error.
func LookupPreset(name string) (Preset, error) {
	if name == "" {
		return nil, nil
	}
	p, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown prompt preset %q (have %v)", name, PresetNames())
	}
	return p, nil
}

// PresetNames lists the registered presets.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
