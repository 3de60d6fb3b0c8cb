// Package preset maps backend model names to recommended generation
// parameter envelopes and checks user settings against them.
package preset

import "strings"

// Preset is the recommended-parameter envelope for one model family. All
// allowed-value slices are non-empty for any preset in the catalog.
type Preset struct {
	ModelName   string
	Steps       []int
	CFG         []float64
	Samplers    []string
	Schedulers  []string
	Resolutions []int

	// Fixed prompt fragments prepended/appended when the preset is active.
	PrePrompt      string
	PostPrompt     string
	NegativePrompt string
}

// catalog order matters: Resolve returns the first preset whose normalized
// model name is a substring of the normalized backend model name.
var catalog = []Preset{
	{
		ModelName:      "dreamshaper",
		Steps:          []int{25, 30, 35},
		CFG:            []float64{7.0, 7.5, 8.0},
		Samplers:       []string{"DPM++ 2M Karras", "DPM++ SDE Karras", "Euler a"},
		Schedulers:     []string{"Automatic", "Karras"},
		Resolutions:    []int{512, 640, 768},
		NegativePrompt: "lowres, bad anatomy, bad hands, text, error, watermark",
	},
	{
		ModelName:      "juggernaut",
		Steps:          []int{25, 30, 35, 40},
		CFG:            []float64{4.5, 5.0, 6.0, 7.0},
		Samplers:       []string{"DPM++ 2M Karras", "DPM++ 2M SDE Karras", "Euler a"},
		Schedulers:     []string{"Automatic", "Karras"},
		Resolutions:    []int{832, 896, 1024},
		PrePrompt:      "masterpiece, best quality",
		NegativePrompt: "lowres, worst quality, jpeg artifacts, watermark, signature",
	},
	{
		ModelName:   "lcm",
		Steps:       []int{4, 5, 6, 8},
		CFG:         []float64{1.0, 1.5, 2.0},
		Samplers:    []string{"LCM"},
		Schedulers:  []string{"Automatic", "Simple"},
		Resolutions: []int{512, 768},
	},
	{
		ModelName:      "flux",
		Steps:          []int{8, 12, 20},
		CFG:            []float64{1.0},
		Samplers:       []string{"Euler"},
		Schedulers:     []string{"Simple"},
		Resolutions:    []int{832, 896, 1024},
		NegativePrompt: "cgi, 3d, airbrushed, deformed eyes",
	},
}

// Resolve finds the preset for a backend model name. The name is lowered and
// stripped of separators before the substring match; no match means the
// model has no recommended envelope and compliance is undefined.
func Resolve(modelName string) (*Preset, bool) {
	normalized := normalize(modelName)
	if normalized == "" {
		return nil, false
	}
	for i := range catalog {
		if strings.Contains(normalized, normalize(catalog[i].ModelName)) {
			return &catalog[i], true
		}
	}
	return nil, false
}

// Catalog returns all registered presets, in match order.
func Catalog() []Preset {
	out := make([]Preset, len(catalog))
	copy(out, catalog)
	return out
}

func normalize(name string) string {
	name = strings.ToLower(name)
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(name)
}
