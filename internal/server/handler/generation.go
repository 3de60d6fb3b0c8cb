package handler

import (
	"context"

	"github.com/artdiffusion/a1111-bot/internal/a1111"
	"github.com/artdiffusion/a1111-bot/internal/caption"
	"github.com/artdiffusion/a1111-bot/internal/engine"
	"github.com/artdiffusion/a1111-bot/internal/logger"
	"github.com/artdiffusion/a1111-bot/internal/model"
	"github.com/artdiffusion/a1111-bot/internal/replay"
	"github.com/artdiffusion/a1111-bot/internal/settings"
	"github.com/gin-gonic/gin"
)

// Backend is what the handlers need from the generation client beyond what
// the engine already uses.
type Backend interface {
	CurrentModel(ctx context.Context) (string, error)
	Samplers(ctx context.Context) ([]string, error)
	Schedulers(ctx context.Context) ([]a1111.Scheduler, error)
	Loras(ctx context.Context) ([]string, error)
}

type Handler struct {
	queue    *engine.Queue
	resolver *replay.Resolver
	users    *settings.Store
	backend  Backend
	msgr     engine.Messenger
}

func New(queue *engine.Queue, resolver *replay.Resolver, users *settings.Store, backend Backend, msgr engine.Messenger) *Handler {
	return &Handler{queue: queue, resolver: resolver, users: users, backend: backend, msgr: msgr}
}

// CreateGenerationTask accepts a txt2img request and enqueues it. The
// response only acknowledges queueing: results are delivered to the chat.
func (h *Handler) CreateGenerationTask(c *gin.Context) {
	var req model.GenerationTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, model.ErrorResponse{Message: err.Error()})
		return
	}
	userSettings := h.users.Load(req.UserID)
	prompt := userSettings.ComposePrompt(req.Prompt)
	if prompt == "" {
		c.JSON(400, model.ErrorResponse{Message: "empty prompt"})
		return
	}

	job := engine.NewJob(req.UserID, req.ChatID, prompt, engine.OpTxt2Img)
	job.NegativePrompt = req.NegativePrompt
	job.Meta["user_name"] = req.UserName
	if o := req.Overrides; o != nil {
		job.Overrides = &engine.Overrides{
			Steps:       o.Steps,
			CFGScale:    o.CFGScale,
			SamplerName: o.SamplerName,
			Scheduler:   o.Scheduler,
			Width:       o.Width,
			Height:      o.Height,
			Seed:        o.Seed,
			BatchCount:  o.BatchCount,
		}
	}

	statusText := caption.Bold("✅ 🎨 Solicitud recibida") + "\n" +
		caption.Bold("Prompt:") + " " + caption.Code(caption.Truncate(prompt, 100)) + "\n" +
		caption.Italic("Te notificaré cuando esté listo...")
	if statusID, err := h.msgr.SendMessage(c.Request.Context(), req.ChatID, statusText); err == nil {
		job.StatusMessageID = statusID
	} else {
		logger.Warnf("status message for job %s not sent: %s", job.ID, err)
	}

	h.queue.Submit(job)
	c.JSON(200, model.GenerationTaskResponse{JobID: job.ID, Status: "queued"})
}

// QueueStatus reports queue depth and how many jobs workers hold.
func (h *Handler) QueueStatus(c *gin.Context) {
	c.JSON(200, model.QueueStatusResponse{Depth: h.queue.Depth(), Active: h.queue.Active()})
}
