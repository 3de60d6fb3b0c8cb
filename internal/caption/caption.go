// Package caption renders the structured result caption attached to every
// delivered image and parses it back. The parser exists for replay actions
// on messages that predate the job record store: it is a legacy
// compatibility decoder and must stay in lockstep with Render.
package caption

import (
	"fmt"
	"strconv"
	"strings"
)

// Params is everything a replay action needs to rebuild a generation.
type Params struct {
	Prompt      string
	Steps       int
	SamplerName string
	Scheduler   string
	CFGScale    float64
	Seed        int64
	Width       int
	Height      int
	Author      string
}

const promptDisplayLimit = 200

// Render produces the HTML caption for a delivered image. The labeled block
// is what Parse later recovers, so label text and line layout are part of
// the persisted grammar and must not change casually.
func Render(p Params) string {
	var b strings.Builder
	b.WriteString(Bold("✅ 🎨 Generación completada"))
	b.WriteString("\n\n")
	b.WriteString(Bold("📝 Prompt:") + " " + Code(Truncate(p.Prompt, promptDisplayLimit)))
	b.WriteString("\n\n")
	b.WriteString(Bold("⚙️ Configuración:") + "\n")
	b.WriteString("• " + Bold("Pasos:") + " " + Code(strconv.Itoa(p.Steps)) + "\n")
	b.WriteString("• " + Bold("Sampler:") + " " + Code(p.SamplerName) + "\n")
	b.WriteString("• " + Bold("Scheduler:") + " " + Code(p.Scheduler) + "\n")
	b.WriteString("• " + Bold("CFG:") + " " + Code(formatFloat(p.CFGScale)) + "\n")
	b.WriteString("• " + Bold("Seed:") + " " + Code(strconv.FormatInt(p.Seed, 10)) + "\n")
	b.WriteString("• " + Bold("Tamaño:") + " " + Code(fmt.Sprintf("%dx%d", p.Width, p.Height)))
	if p.Author != "" {
		b.WriteString("\n\n")
		b.WriteString(Bold("👤 Autor:") + " " + Code(p.Author))
	}
	return b.String()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Truncate shortens text to at most limit runes, appending an ellipsis.
// Prompts routinely carry accented words and emoji, so cutting on a byte
// boundary would leave a mangled final character.
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
