// Package engine is the generation job queue: a fixed pool of workers that
// process txt2img jobs against the backend one at a time, report progress
// while a job is in flight, and persist a record per delivered image so the
// result can be replayed later.
package engine

import (
	"github.com/artdiffusion/a1111-bot/internal/a1111"
	"github.com/google/uuid"
)

// OpKind tags what kind of operation produced a job.
type OpKind string

const (
	OpTxt2Img   OpKind = "txt2img"
	OpRepeat    OpKind = "repeat"
	OpUpscaleHR OpKind = "upscale_hr"
	OpNewSeed   OpKind = "newseed"
)

// Overrides supersede the user's stored settings field by field. Nil fields
// fall back to the settings captured at dequeue time.
type Overrides struct {
	Steps       *int
	CFGScale    *float64
	SamplerName *string
	Scheduler   *string
	Width       *int
	Height      *int
	Seed        *int64
	BatchCount  *int
}

// Job is one unit of generation work. The queue owns it exclusively from
// Submit until the worker finishes with it.
type Job struct {
	ID     string
	UserID int64
	ChatID int64

	// Prompt is the caller-composed prompt; the worker may still prepend
	// and append the active preset's fragments.
	Prompt         string
	NegativePrompt string

	// StatusMessageID, when non-zero, is a transient indicator message the
	// worker updates with progress and removes on completion.
	StatusMessageID int64

	Overrides    *Overrides
	HiRes        *a1111.HiResOptions
	DetailModels []string
	Kind         OpKind

	// Meta is free-form, used only for progress and caption display.
	Meta map[string]string
}

func NewJob(userID, chatID int64, prompt string, kind OpKind) *Job {
	return &Job{
		ID:     uuid.New().String(),
		UserID: userID,
		ChatID: chatID,
		Prompt: prompt,
		Kind:   kind,
		Meta:   map[string]string{},
	}
}

// Action is a replay affordance attached to a delivered image. The
// messenger encodes it as a callback token referencing the delivery key.
type Action struct {
	Label string
	Verb  string
}

const (
	VerbRepeat  = "repeat"
	VerbUpscale = "upscale"
	VerbNewSeed = "newseed"
	VerbFinal   = "final"
)
