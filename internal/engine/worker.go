package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/artdiffusion/a1111-bot/internal/a1111"
	"github.com/artdiffusion/a1111-bot/internal/caption"
	"github.com/artdiffusion/a1111-bot/internal/jobstore"
	"github.com/artdiffusion/a1111-bot/internal/logger"
	"github.com/artdiffusion/a1111-bot/internal/preset"
	"github.com/artdiffusion/a1111-bot/internal/settings"
)

// resolvedParams are the effective generation parameters for one job:
// stored settings, overridden field by field by the job's overrides.
type resolvedParams struct {
	width, height int
	steps         int
	cfg           float64
	sampler       string
	scheduler     string
	seed          int64
	batchCount    int
}

func resolveParams(s settings.Settings, o *Overrides) resolvedParams {
	width, height := s.Dims()
	p := resolvedParams{
		width:      width,
		height:     height,
		steps:      s.Steps,
		cfg:        s.CFGScale,
		sampler:    s.SamplerName,
		scheduler:  s.Scheduler,
		seed:       -1,
		batchCount: s.BatchCount,
	}
	if o == nil {
		return p
	}
	if o.Steps != nil {
		p.steps = *o.Steps
	}
	if o.CFGScale != nil {
		p.cfg = *o.CFGScale
	}
	if o.SamplerName != nil {
		p.sampler = *o.SamplerName
	}
	if o.Scheduler != nil {
		p.scheduler = *o.Scheduler
	}
	if o.Width != nil {
		p.width = *o.Width
	}
	if o.Height != nil {
		p.height = *o.Height
	}
	if o.Seed != nil {
		p.seed = *o.Seed
	}
	if o.BatchCount != nil {
		p.batchCount = *o.BatchCount
	}
	return p
}

// process runs one job to completion. Failures here never touch other
// workers or queued jobs.
func (q *Queue) process(ctx context.Context, job *Job, workerLogger *logger.CustomLogger) {
	defer q.removeStatusMessage(job)

	userSettings := q.settings.Load(job.UserID)
	params := resolveParams(userSettings, job.Overrides)

	prompt := job.Prompt
	negative := job.NegativePrompt
	if negative == "" {
		negative = userSettings.NegativePrompt
	}
	if model, err := q.gen.CurrentModel(ctx); err != nil {
		workerLogger.Warnf("job %s: active model unresolved, skipping preset fragments: %s", job.ID, err)
	} else if activePreset, ok := preset.Resolve(model); ok {
		// A prompt receives preset fragments at most once. Auto-configured
		// settings carry the fragments and ComposePrompt already folded
		// them in at submit time; derived jobs replay a recorded prompt
		// that went through this step on its original run.
		if job.Kind == OpTxt2Img && userSettings.PrePrompt == "" && userSettings.PostPrompt == "" {
			prompt = joinFragments(activePreset.PrePrompt, prompt, activePreset.PostPrompt)
		}
		if negative == "" {
			negative = activePreset.NegativePrompt
		}
	}
	job.Prompt = prompt

	// The monitor must be gone before cleanup so no stray progress edit
	// races with the status message removal.
	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		q.monitorProgress(monitorCtx, job)
	}()
	defer func() {
		cancelMonitor()
		<-monitorDone
	}()

	workerLogger.Infof("job %s: generating %dx%d steps=%d cfg=%g sampler=%q scheduler=%q seed=%d n=%d",
		job.ID, params.width, params.height, params.steps, params.cfg, params.sampler, params.scheduler, params.seed, params.batchCount)

	// The worker's context only governs the monitor; a generation already
	// started runs to its own timeout even through engine shutdown.
	result, err := q.gen.Txt2Img(context.Background(), a1111.Txt2ImgRequest{
		Prompt:         prompt,
		NegativePrompt: negative,
		Width:          params.width,
		Height:         params.height,
		Steps:          params.steps,
		CFGScale:       params.cfg,
		SamplerName:    params.sampler,
		Scheduler:      params.scheduler,
		Seed:           params.seed,
		BatchCount:     params.batchCount,
		HiRes:          job.HiRes,
		DetailModels:   job.DetailModels,
	})
	if err != nil {
		workerLogger.Errorf("job %s failed: %s", job.ID, err)
		q.notify(job.ChatID, caption.Bold("⚠️ ❌ Error en generación")+"\n"+caption.Code(err.Error()))
		return
	}
	if len(result.Images) == 0 {
		workerLogger.Warnf("job %s produced no images", job.ID)
		q.notify(job.ChatID, caption.Bold("⚠️ ❌ Sin imágenes generadas"))
		return
	}

	delivered := 0
	for i, image := range result.Images {
		seed := int64(-1)
		if i < len(result.Seeds) {
			seed = result.Seeds[i]
		}
		captionText := caption.Render(caption.Params{
			Prompt:      job.Prompt,
			Steps:       params.steps,
			SamplerName: params.sampler,
			Scheduler:   params.scheduler,
			CFGScale:    params.cfg,
			Seed:        seed,
			Width:       params.width,
			Height:      params.height,
			Author:      job.Meta["user_name"],
		})
		messageID, fileID, err := q.deliver(job.ChatID, fmt.Sprintf("image_%d.png", i), image, captionText, q.actionsFor(job))
		if err != nil {
			// fatal for this image only
			workerLogger.Errorf("job %s: image %d could not be delivered: %s", job.ID, i, err)
			continue
		}
		delivered++
		record := jobstore.Record{
			Prompt:      job.Prompt,
			Width:       params.width,
			Height:      params.height,
			Steps:       params.steps,
			CFGScale:    params.cfg,
			SamplerName: params.sampler,
			Scheduler:   params.scheduler,
			Seed:        seed,
			FileID:      fileID,
		}
		if err := q.records.Put(strconv.FormatInt(messageID, 10), record); err != nil {
			workerLogger.Errorf("job %s: record for message %d not persisted, replay will rely on caption parsing: %s", job.ID, messageID, err)
		}
	}
	if delivered == 0 {
		q.notify(job.ChatID, caption.Bold("⚠️ ❌ Error en generación")+"\n"+caption.Code("no se pudo entregar ninguna imagen"))
		return
	}
	workerLogger.Infof("job %s delivered %d/%d images", job.ID, delivered, len(result.Images))
}

// actionsFor picks the replay affordances: a job that already ran the
// hi-res pass offers the post-hoc final upscale instead of another pass.
func (q *Queue) actionsFor(job *Job) []Action {
	if job.HiRes != nil {
		return []Action{
			{Label: "🔄 Repetir", Verb: VerbRepeat},
			{Label: "🔍 Final Upscale", Verb: VerbFinal},
		}
	}
	return []Action{
		{Label: "🔄 Repetir", Verb: VerbRepeat},
		{Label: "🔍 Upscale", Verb: VerbUpscale},
	}
}

// deliver hands one image to the front-end, retrying with linearly
// increasing backoff before giving up on that image.
func (q *Queue) deliver(chatID int64, filename string, image []byte, captionText string, actions []Action) (int64, string, error) {
	backoff := time.Duration(q.cfg.DeliveryBackoffSeconds) * time.Second
	var lastErr error
	for attempt := 1; attempt <= q.cfg.DeliveryRetries; attempt++ {
		messageID, fileID, err := q.msgr.SendDocument(context.Background(), chatID, filename, image, captionText, actions)
		if err == nil {
			return messageID, fileID, nil
		}
		lastErr = err
		q.logger.Warnf("delivery attempt %d/%d failed: %s", attempt, q.cfg.DeliveryRetries, err)
		if attempt < q.cfg.DeliveryRetries {
			time.Sleep(time.Duration(attempt) * backoff)
		}
	}
	return 0, "", fmt.Errorf("delivery failed after %d attempts: %w", q.cfg.DeliveryRetries, lastErr)
}

// notify sends the single human-readable failure notice for a job.
func (q *Queue) notify(chatID int64, text string) {
	if _, err := q.msgr.SendMessage(context.Background(), chatID, text); err != nil {
		q.logger.Errorf("failure notice not delivered to chat %d: %s", chatID, err)
	}
}

func (q *Queue) removeStatusMessage(job *Job) {
	if job.StatusMessageID == 0 {
		return
	}
	if err := q.msgr.DeleteMessage(context.Background(), job.ChatID, job.StatusMessageID); err != nil {
		q.logger.Warnf("status message %d not removed: %s", job.StatusMessageID, err)
	}
}

func joinFragments(fragments ...string) string {
	parts := fragments[:0:0]
	for _, f := range fragments {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, ", ")
}
