package caption

import (
	"errors"
	"html"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnparseable means none of the parser tiers could recover generation
// parameters from a caption; the interaction should be rejected as expired.
var ErrUnparseable = errors.New("caption: no reconstructable parameters")

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

// strict tier: exact label ordering and line breaks, as Render emits them.
var strictRe = regexp.MustCompile(
	`📝\s*Prompt:\s*((?s).*?)\n\s*⚙️\s*Configuración:\s*\n` +
		`\s*•\s*Pasos:\s*(\d+)\s*\n` +
		`\s*•\s*Sampler:\s*([^\n]*?)\s*\n` +
		`\s*•\s*Scheduler:\s*([^\n]*?)\s*\n` +
		`\s*•\s*CFG:\s*([\d.]+)\s*\n` +
		`\s*•\s*Seed:\s*(-?\d+)\s*\n` +
		`\s*•\s*Tamaño:\s*(\d+)x(\d+)`)

// loose tier: tolerates reflowed whitespace and decoration between labels.
var looseRe = regexp.MustCompile(
	`(?is)Prompt:\s*(.*?)\n.*?Configuraci[oó]n:.*?` +
		`Pasos:\s*(\d+).*?` +
		`Sampler:\s*([^\n•]*).*?` +
		`Scheduler:\s*([^\n•]*).*?` +
		`CFG:\s*([\d.]+).*?` +
		`Seed:\s*(-?\d+).*?` +
		`Tamaño:\s*(\d+)x(\d+)`)

// field tier: each label searched for independently; all must be found.
var (
	fieldPromptRe    = regexp.MustCompile(`📝\s*Prompt:\s*((?s).*?)(\n\s*⚙️|\n\s*Configuraci|$)`)
	fieldStepsRe     = regexp.MustCompile(`(?i)Pasos:\s*(\d+)`)
	fieldSamplerRe   = regexp.MustCompile(`(?i)Sampler:\s*([^\n•]*)`)
	fieldSchedulerRe = regexp.MustCompile(`(?i)Scheduler:\s*([^\n•]*)`)
	fieldCFGRe       = regexp.MustCompile(`(?i)CFG:\s*([\d.]+)`)
	fieldSeedRe      = regexp.MustCompile(`(?i)Seed:\s*(-?\d+)`)
	fieldSizeRe      = regexp.MustCompile(`(?i)Tamaño:\s*(\d+)x(\d+)`)
)

// Parse recovers generation parameters from a rendered caption, trying the
// three tiers from strictest to loosest. HTML tags are stripped first so
// both the raw HTML caption and the plain text the chat client exposes
// parse the same way.
func Parse(text string) (Params, error) {
	text = html.UnescapeString(htmlTagRe.ReplaceAllString(text, ""))
	if p, ok := parseStrict(text); ok {
		return p, nil
	}
	if p, ok := parseLoose(text); ok {
		return p, nil
	}
	if p, ok := parseFields(text); ok {
		return p, nil
	}
	return Params{}, ErrUnparseable
}

func parseStrict(text string) (Params, bool) {
	return paramsFromMatch(strictRe.FindStringSubmatch(text))
}

func parseLoose(text string) (Params, bool) {
	return paramsFromMatch(looseRe.FindStringSubmatch(text))
}

func parseFields(text string) (p Params, ok bool) {
	prompt := fieldPromptRe.FindStringSubmatch(text)
	steps := fieldStepsRe.FindStringSubmatch(text)
	sampler := fieldSamplerRe.FindStringSubmatch(text)
	scheduler := fieldSchedulerRe.FindStringSubmatch(text)
	cfg := fieldCFGRe.FindStringSubmatch(text)
	seed := fieldSeedRe.FindStringSubmatch(text)
	size := fieldSizeRe.FindStringSubmatch(text)
	if prompt == nil || steps == nil || sampler == nil || scheduler == nil || cfg == nil || seed == nil || size == nil {
		return
	}
	return paramsFromMatch([]string{"",
		prompt[1], steps[1], sampler[1], scheduler[1], cfg[1], seed[1], size[1], size[2],
	})
}

func paramsFromMatch(m []string) (p Params, ok bool) {
	if len(m) < 9 {
		return
	}
	var err error
	p.Prompt = strings.TrimSpace(m[1])
	if p.Steps, err = strconv.Atoi(m[2]); err != nil {
		return
	}
	p.SamplerName = strings.TrimSpace(m[3])
	p.Scheduler = strings.TrimSpace(m[4])
	if p.CFGScale, err = strconv.ParseFloat(m[5], 64); err != nil {
		return
	}
	if p.Seed, err = strconv.ParseInt(m[6], 10, 64); err != nil {
		return
	}
	if p.Width, err = strconv.Atoi(m[7]); err != nil {
		return
	}
	if p.Height, err = strconv.Atoi(m[8]); err != nil {
		return
	}
	ok = true
	return
}
