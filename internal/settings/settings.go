package settings

import (
	"strconv"
	"strings"
)

// SchemaVersion is bumped whenever the persisted settings shape changes.
// Load migrates or discards documents carrying an older version.
const SchemaVersion = 1

var (
	AspectChoices = []string{"1:1", "4:3", "3:4", "9:16", "16:9"}
	BaseChoices   = []int{512, 640, 768, 896, 1024}

	MinSteps = 4
	MaxSteps = 50

	MinBatchCount = 1
	MaxBatchCount = 8
)

// Settings is the per-user generation configuration. Jobs capture a copy at
// dequeue time, so edits made while a job is queued take effect.
type Settings struct {
	Version       int      `json:"version"`
	AspectRatio   string   `json:"aspect_ratio"`
	BaseSize      int      `json:"base_size"`
	Steps         int      `json:"steps"`
	CFGScale      float64  `json:"cfg_scale"`
	SamplerName   string   `json:"sampler_name"`
	Scheduler     string   `json:"scheduler"`
	BatchCount    int      `json:"n_iter"`
	Loras         []string `json:"loras"`
	DetailModels  []string `json:"detail_models"`
	PreModifiers  []string `json:"pre_modifiers"`
	PostModifiers []string `json:"post_modifiers"`

	// Prompt fragments copied from the active preset by auto-config, used
	// when composing the final prompt.
	PrePrompt      string `json:"pre_prompt,omitempty"`
	PostPrompt     string `json:"post_prompt,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
}

func Default() Settings {
	return Settings{
		Version:     SchemaVersion,
		AspectRatio: "1:1",
		BaseSize:    512,
		Steps:       4,
		CFGScale:    1.0,
		SamplerName: "LCM",
		Scheduler:   "",
		BatchCount:  1,
	}
}

// Normalize clamps out-of-range values back to usable ones. Runs at the load
// boundary so the rest of the pipeline can trust the struct.
func (s *Settings) Normalize() {
	if s.Version == 0 {
		s.Version = SchemaVersion
	}
	if !validRatio(s.AspectRatio) {
		s.AspectRatio = "1:1"
	}
	if s.BaseSize < 64 {
		s.BaseSize = 512
	}
	if s.Steps < MinSteps {
		s.Steps = MinSteps
	}
	if s.Steps > MaxSteps {
		s.Steps = MaxSteps
	}
	if s.CFGScale <= 0 {
		s.CFGScale = 1.0
	}
	if s.SamplerName == "" {
		s.SamplerName = "LCM"
	}
	if s.BatchCount < MinBatchCount {
		s.BatchCount = MinBatchCount
	}
	if s.BatchCount > MaxBatchCount {
		s.BatchCount = MaxBatchCount
	}
}

// Dims resolves the stored aspect ratio and base size to pixel dimensions.
func (s Settings) Dims() (width, height int) {
	return RatioDims(s.AspectRatio, s.BaseSize)
}

// RatioDims derives width and height from a "W:H" ratio string and a base
// size for the short side. The long side rounds up to the next multiple of
// 64 with a floor of 64. An unparseable ratio falls back to a square.
func RatioDims(ratio string, base int) (width, height int) {
	w, h, ok := parseRatio(ratio)
	if !ok {
		return base, base
	}
	if w >= h {
		height = base
		width = round64Up(float64(base) * float64(w) / float64(h))
	} else {
		width = base
		height = round64Up(float64(base) * float64(h) / float64(w))
	}
	return
}

// ComposePrompt assembles the final prompt sent to the backend: preset and
// user pre-fragments, the user prompt, then post-fragments.
func (s Settings) ComposePrompt(userPrompt string) string {
	parts := make([]string, 0, 4)
	if s.PrePrompt != "" {
		parts = append(parts, s.PrePrompt)
	}
	if len(s.PreModifiers) > 0 {
		parts = append(parts, strings.Join(s.PreModifiers, ", "))
	}
	userPrompt = strings.TrimSpace(userPrompt)
	if userPrompt != "" {
		parts = append(parts, userPrompt)
	}
	if len(s.PostModifiers) > 0 {
		parts = append(parts, strings.Join(s.PostModifiers, ", "))
	}
	if s.PostPrompt != "" {
		parts = append(parts, s.PostPrompt)
	}
	return strings.Join(parts, ", ")
}

func parseRatio(ratio string) (w, h int, ok bool) {
	parts := strings.SplitN(ratio, ":", 2)
	if len(parts) != 2 {
		return
	}
	var err error
	if w, err = strconv.Atoi(strings.TrimSpace(parts[0])); err != nil || w <= 0 {
		return 0, 0, false
	}
	if h, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil || h <= 0 {
		return 0, 0, false
	}
	ok = true
	return
}

func validRatio(ratio string) bool {
	_, _, ok := parseRatio(ratio)
	return ok
}

func round64Up(x float64) int {
	n := (int(x) + 63) / 64 * 64
	if n < 64 {
		n = 64
	}
	return n
}
