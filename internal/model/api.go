package model

import "github.com/artdiffusion/a1111-bot/internal/settings"

type GenerationOverrides struct {
	Steps       *int     `json:"steps"`
	CFGScale    *float64 `json:"cfg_scale"`
	SamplerName *string  `json:"sampler_name"`
	Scheduler   *string  `json:"scheduler"`
	Width       *int     `json:"width"`
	Height      *int     `json:"height"`
	Seed        *int64   `json:"seed"`
	BatchCount  *int     `json:"n_iter"`
}

type GenerationTaskRequest struct {
	UserID         int64                `json:"user_id" binding:"required"`
	ChatID         int64                `json:"chat_id" binding:"required"`
	Prompt         string               `json:"prompt" binding:"required"`
	NegativePrompt string               `json:"negative_prompt"`
	UserName       string               `json:"user_name"`
	Overrides      *GenerationOverrides `json:"overrides"`
}

type GenerationTaskResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"` // queued, failed
}

type ActionRequest struct {
	Token   string `json:"token" binding:"required"`
	UserID  int64  `json:"user_id" binding:"required"`
	ChatID  int64  `json:"chat_id" binding:"required"`
	Caption string `json:"caption"`
}

type QueueStatusResponse struct {
	Depth  int `json:"depth"`
	Active int `json:"active"`
}

type SettingsResponse struct {
	Settings  settings.Settings `json:"settings"`
	Model     string            `json:"model"`
	Preset    string            `json:"preset,omitempty"`
	Compliant bool              `json:"compliant"`
}

type BackendCatalogResponse struct {
	Model      string   `json:"model"`
	Samplers   []string `json:"samplers"`
	Schedulers []string `json:"schedulers"`
	Loras      []string `json:"loras"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}
