// Package replay rebuilds generation parameters for a previously delivered
// result and derives new jobs from them: repeat, new seed, hi-res upscale,
// and the post-hoc final upscale of the delivered bitmap.
package replay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/artdiffusion/a1111-bot/internal/a1111"
	"github.com/artdiffusion/a1111-bot/internal/caption"
	"github.com/artdiffusion/a1111-bot/internal/engine"
	"github.com/artdiffusion/a1111-bot/internal/jobstore"
	"github.com/artdiffusion/a1111-bot/internal/logger"
	"github.com/artdiffusion/a1111-bot/internal/preset"
	"github.com/artdiffusion/a1111-bot/internal/settings"
)

var (
	// ErrExpired means neither a job record nor a parseable caption exists;
	// the interaction must be rejected.
	ErrExpired = errors.New("replay: no reconstructable parameters")

	ErrUnknownAction = errors.New("replay: unknown action")
)

// RandomSeed asks the backend to draw a fresh seed.
const RandomSeed int64 = -1

const (
	finalUpscaler    = "R-ESRGAN 4x+"
	finalScaleFactor = 2.0

	hiResScale     = 1.5
	hiResUpscaler  = "R-ESRGAN 4x+"
	hiResDenoising = 0.3
)

// defaultDetailModels is the built-in detail-pass list used when the user
// has not configured auxiliary models.
var defaultDetailModels = []string{
	"face_yolov8n.pt",
	"mediapipe_face_short",
	"mediapipe_face_mesh_eyes_only",
}

type RecordGetter interface {
	Get(key string) (jobstore.Record, error)
}

type SettingsSource interface {
	Load(userID int64) settings.Settings
}

// Backend is the slice of the generation client replay needs: model
// resolution for sampler drift, script availability for detail passes, and
// the plain upscale operation for the final action.
type Backend interface {
	CurrentModel(ctx context.Context) (string, error)
	HasScript(ctx context.Context, name string) bool
	Upscale(ctx context.Context, image []byte, upscaler string, scale float64) ([]byte, error)
}

type Submitter interface {
	Submit(job *engine.Job)
}

type FileSource interface {
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

type Resolver struct {
	records RecordGetter
	users   SettingsSource
	backend Backend
	queue   Submitter
	files   FileSource
	msgr    engine.Messenger

	rngMu sync.Mutex
	rng   *rand.Rand

	logger *logger.CustomLogger
}

func NewResolver(records RecordGetter, users SettingsSource, backend Backend, queue Submitter, files FileSource, msgr engine.Messenger) *Resolver {
	return &Resolver{
		records: records,
		users:   users,
		backend: backend,
		queue:   queue,
		files:   files,
		msgr:    msgr,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:  logger.NewCustomLogger().With("component", "replay"),
	}
}

// Resolve reconstructs the parameters behind a delivery key. The persisted
// record is authoritative; the caption parser is the legacy fallback for
// results delivered before the record store existed.
func (r *Resolver) Resolve(key, messageCaption string) (caption.Params, *jobstore.Record, error) {
	record, err := r.records.Get(key)
	if err == nil {
		return caption.Params{
			Prompt:      record.Prompt,
			Steps:       record.Steps,
			SamplerName: record.SamplerName,
			Scheduler:   record.Scheduler,
			CFGScale:    record.CFGScale,
			Seed:        record.Seed,
			Width:       record.Width,
			Height:      record.Height,
		}, &record, nil
	}
	if !errors.Is(err, jobstore.ErrNotFound) {
		r.logger.Warnf("record lookup for %s failed, trying caption fallback: %s", key, err)
	}
	params, parseErr := caption.Parse(messageCaption)
	if parseErr != nil {
		return caption.Params{}, nil, ErrExpired
	}
	r.logger.Infof("key %s resolved through caption fallback", key)
	return params, nil, nil
}

// Handle executes one action token of the form <ns>:<verb>:<key>[:<page>].
func (r *Resolver) Handle(ctx context.Context, token string, userID, chatID int64, messageCaption string) error {
	ns, verb, key, err := parseToken(token)
	if err != nil {
		return err
	}
	if ns != "job" {
		return fmt.Errorf("%w: namespace %q is not queue-originated", ErrUnknownAction, ns)
	}
	params, record, err := r.Resolve(key, messageCaption)
	if err != nil {
		return err
	}
	switch verb {
	case engine.VerbRepeat:
		return r.submit(ctx, r.Repeat(ctx, params, userID), chatID,
			caption.Bold("🔄 Iniciando repetición")+"\n"+caption.Italic("Generando con configuración idéntica pero seed diferente..."))
	case engine.VerbNewSeed:
		return r.submit(ctx, r.NewSeed(params, userID), chatID,
			caption.Bold("🎲 Nueva generación con seed aleatorio")+"\n"+caption.Italic("Se usará un seed diferente para variar el resultado..."))
	case engine.VerbUpscale:
		return r.submit(ctx, r.Upscale(ctx, params, userID), chatID,
			caption.Bold("🔍 Upscale HR encolado")+"\n"+caption.Italic("Generando versión de alta resolución..."))
	case engine.VerbFinal:
		return r.FinalUpscale(ctx, chatID, record)
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, verb)
}

// Repeat derives a job with the same steps, cfg and size, a fresh random
// seed, and the image count from the user's current settings. Sampler and
// scheduler drift toward the active model's recommendation when a preset
// resolves.
func (r *Resolver) Repeat(ctx context.Context, params caption.Params, userID int64) *engine.Job {
	sampler, scheduler := params.SamplerName, params.Scheduler
	if model, err := r.backend.CurrentModel(ctx); err == nil {
		if activePreset, ok := preset.Resolve(model); ok {
			sampler = r.pick(activePreset.Samplers)
			scheduler = r.pick(activePreset.Schedulers)
		}
	}
	job := r.derivedJob(params, userID, engine.OpRepeat)
	job.Overrides.SamplerName = &sampler
	job.Overrides.Scheduler = &scheduler
	batch := r.users.Load(userID).BatchCount
	job.Overrides.BatchCount = &batch
	return job
}

// NewSeed is repeat without the sampler/scheduler drift.
func (r *Resolver) NewSeed(params caption.Params, userID int64) *engine.Job {
	job := r.derivedJob(params, userID, engine.OpNewSeed)
	batch := r.users.Load(userID).BatchCount
	job.Overrides.BatchCount = &batch
	return job
}

// Upscale derives a hi-res second-pass job. The seed is preserved so the
// subject stays identical.
func (r *Resolver) Upscale(ctx context.Context, params caption.Params, userID int64) *engine.Job {
	job := r.derivedJob(params, userID, engine.OpUpscaleHR)
	seed := params.Seed
	job.Overrides.Seed = &seed
	one := 1
	job.Overrides.BatchCount = &one
	job.HiRes = &a1111.HiResOptions{
		Scale:             hiResScale,
		SecondPassSteps:   maxInt(1, params.Steps/2),
		Upscaler:          hiResUpscaler,
		DenoisingStrength: hiResDenoising,
		SamplerName:       params.SamplerName,
		Scheduler:         params.Scheduler,
	}
	job.DetailModels = r.detailModels(ctx, userID)
	return job
}

// FinalUpscale upscales the already-delivered bitmap through the extras
// endpoint. No prompt is involved and the job queue is bypassed entirely.
func (r *Resolver) FinalUpscale(ctx context.Context, chatID int64, record *jobstore.Record) error {
	if record == nil || record.FileID == "" {
		return ErrExpired
	}
	image, err := r.files.DownloadFile(ctx, record.FileID)
	if err != nil {
		return fmt.Errorf("download original image: %w", err)
	}
	upscaled, err := r.backend.Upscale(ctx, image, finalUpscaler, finalScaleFactor)
	if err != nil {
		return fmt.Errorf("final upscale: %w", err)
	}
	text := caption.Bold("✅ 🔍 Final Upscale completado") + "\n" +
		caption.Bold("Upscaler:") + " " + caption.Code(finalUpscaler) + "\n" +
		caption.Bold("Factor:") + " " + caption.Code("2x")
	if _, _, err := r.msgr.SendDocument(ctx, chatID, "final_upscale.png", upscaled, text, nil); err != nil {
		return fmt.Errorf("deliver final upscale: %w", err)
	}
	return nil
}

func (r *Resolver) derivedJob(params caption.Params, userID int64, kind engine.OpKind) *engine.Job {
	job := engine.NewJob(userID, 0, params.Prompt, kind)
	steps, cfg := params.Steps, params.CFGScale
	width, height := params.Width, params.Height
	sampler, scheduler := params.SamplerName, params.Scheduler
	seed := RandomSeed
	job.Overrides = &engine.Overrides{
		Steps:       &steps,
		CFGScale:    &cfg,
		Width:       &width,
		Height:      &height,
		SamplerName: &sampler,
		Scheduler:   &scheduler,
		Seed:        &seed,
	}
	return job
}

// detailModels assembles the detail-pass list: the user's configured
// auxiliary models, or the built-in defaults, gated on the backend
// actually exposing the adetailer script.
func (r *Resolver) detailModels(ctx context.Context, userID int64) []string {
	if !r.backend.HasScript(ctx, "adetailer") {
		return nil
	}
	if configured := r.users.Load(userID).DetailModels; len(configured) > 0 {
		return configured
	}
	return defaultDetailModels
}

func (r *Resolver) submit(ctx context.Context, job *engine.Job, chatID int64, notice string) error {
	job.ChatID = chatID
	if statusID, err := r.msgr.SendMessage(ctx, chatID, notice); err == nil {
		job.StatusMessageID = statusID
	} else {
		r.logger.Warnf("status message for job %s not sent: %s", job.ID, err)
	}
	r.queue.Submit(job)
	return nil
}

func (r *Resolver) pick(values []string) string {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return values[r.rng.Intn(len(values))]
}

func parseToken(token string) (ns, verb, key string, err error) {
	parts := strings.Split(token, ":")
	if len(parts) < 3 {
		err = fmt.Errorf("%w: malformed token %q", ErrUnknownAction, token)
		return
	}
	// a trailing :<page> element is legal and ignored here
	return parts[0], parts[1], parts[2], nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
