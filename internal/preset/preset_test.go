package preset

import (
	"math/rand"
	"testing"

	"github.com/artdiffusion/a1111-bot/internal/settings"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		modelName  string
		wantPreset string
		wantFound  bool
	}{
		{"exact", "dreamshaper", "dreamshaper", true},
		{"checkpoint filename", "DreamShaper_8_pruned.safetensors", "dreamshaper", true},
		{"separators stripped", "Juggernaut-XL_v9", "juggernaut", true},
		{"case folded", "FLUX.1-dev", "flux", true},
		{"embedded lcm", "sd15_LCM_fused", "lcm", true},
		{"unknown model", "sd_xl_base_1.0", "", false},
		{"empty name", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, found := Resolve(tt.modelName)
			if found != tt.wantFound {
				t.Fatalf("Resolve(%q) found = %v, want %v", tt.modelName, found, tt.wantFound)
			}
			if found && p.ModelName != tt.wantPreset {
				t.Errorf("Resolve(%q) = %q, want %q", tt.modelName, p.ModelName, tt.wantPreset)
			}
		})
	}
}

func compliantSettings(p *Preset) settings.Settings {
	s := settings.Default()
	s.Steps = p.Steps[0]
	s.CFGScale = p.CFG[0]
	s.SamplerName = p.Samplers[0]
	s.Scheduler = p.Schedulers[0]
	s.BaseSize = p.Resolutions[0]
	return s
}

func TestIsCompliant(t *testing.T) {
	p, found := Resolve("dreamshaper")
	if !found {
		t.Fatal("dreamshaper preset missing from catalog")
	}
	base := compliantSettings(p)
	if !IsCompliant(base, p) {
		t.Fatal("settings drawn from the preset should be compliant")
	}

	tests := []struct {
		name   string
		mutate func(*settings.Settings)
	}{
		{"steps outside set", func(s *settings.Settings) { s.Steps = 26 }},
		{"cfg outside set", func(s *settings.Settings) { s.CFGScale = 9.0 }},
		{"sampler outside set", func(s *settings.Settings) { s.SamplerName = "Heun" }},
		{"scheduler outside set", func(s *settings.Settings) { s.Scheduler = "Exponential" }},
		{"base size outside set", func(s *settings.Settings) { s.BaseSize = 1024 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			if IsCompliant(s, p) {
				t.Errorf("%s should break compliance", tt.name)
			}
		})
	}
}

func TestIsCompliantNilPreset(t *testing.T) {
	if IsCompliant(settings.Default(), nil) {
		t.Error("nil preset must never be compliant")
	}
}

func TestAutoConfigIsCompliantByConstruction(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, p := range Catalog() {
		p := p
		t.Run(p.ModelName, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				s := AutoConfig(settings.Default(), &p, rng)
				if !IsCompliant(s, &p) {
					t.Fatalf("draw %d not compliant: %+v", i, s)
				}
				if _, square := squareSizes[s.BaseSize]; square && s.AspectRatio != "1:1" {
					t.Fatalf("square base %d got ratio %q", s.BaseSize, s.AspectRatio)
				}
			}
		})
	}
}

func TestAutoConfigCopiesPromptFragments(t *testing.T) {
	p, found := Resolve("juggernaut")
	if !found {
		t.Fatal("juggernaut preset missing from catalog")
	}
	rng := rand.New(rand.NewSource(1))
	s := AutoConfig(settings.Default(), p, rng)
	if s.PrePrompt != p.PrePrompt {
		t.Errorf("PrePrompt = %q, want %q", s.PrePrompt, p.PrePrompt)
	}
	if s.NegativePrompt != p.NegativePrompt {
		t.Errorf("NegativePrompt = %q, want %q", s.NegativePrompt, p.NegativePrompt)
	}
}
