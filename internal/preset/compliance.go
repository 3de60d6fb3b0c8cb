package preset

import (
	"math/rand"

	"github.com/artdiffusion/a1111-bot/internal/settings"
)

// squareSizes force a 1:1 aspect ratio when chosen by auto-config.
var squareSizes = map[int]struct{}{512: {}, 768: {}, 1024: {}}

var autoConfigRatios = []string{"1:1", "4:3", "3:4", "16:9", "9:16"}

// IsCompliant reports whether the settings fall entirely within the preset's
// allowed values. A nil preset (unresolvable model) is never compliant.
// All five checks are exact set membership, not range checks.
func IsCompliant(s settings.Settings, p *Preset) bool {
	if p == nil {
		return false
	}
	if !containsInt(p.Steps, s.Steps) {
		return false
	}
	if !containsFloat(p.CFG, s.CFGScale) {
		return false
	}
	if !containsString(p.Samplers, s.SamplerName) {
		return false
	}
	if !containsString(p.Schedulers, s.Scheduler) {
		return false
	}
	return containsInt(p.Resolutions, s.BaseSize)
}

// AutoConfig returns a settings snapshot with steps, cfg, sampler, scheduler
// and base size each drawn uniformly from the preset's allowed sets, so the
// result is compliant by construction. Square base sizes force a 1:1 ratio;
// any other size gets a random ratio. The preset's prompt fragments are
// copied into the snapshot for later prompt composition.
func AutoConfig(s settings.Settings, p *Preset, rng *rand.Rand) settings.Settings {
	if p == nil {
		return s
	}
	s.Steps = p.Steps[rng.Intn(len(p.Steps))]
	s.CFGScale = p.CFG[rng.Intn(len(p.CFG))]
	s.SamplerName = p.Samplers[rng.Intn(len(p.Samplers))]
	s.Scheduler = p.Schedulers[rng.Intn(len(p.Schedulers))]
	s.BaseSize = p.Resolutions[rng.Intn(len(p.Resolutions))]
	if _, square := squareSizes[s.BaseSize]; square {
		s.AspectRatio = "1:1"
	} else {
		s.AspectRatio = autoConfigRatios[rng.Intn(len(autoConfigRatios))]
	}
	s.PrePrompt = p.PrePrompt
	s.PostPrompt = p.PostPrompt
	s.NegativePrompt = p.NegativePrompt
	return s
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func containsFloat(values []float64, v float64) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
