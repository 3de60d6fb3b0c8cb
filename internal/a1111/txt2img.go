package a1111

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/artdiffusion/a1111-bot/internal/logger"
)

// HiResOptions enables the hi-res fix second pass on a txt2img call.
type HiResOptions struct {
	Scale             float64
	SecondPassSteps   int
	Upscaler          string
	DenoisingStrength float64
	SamplerName       string
	Scheduler         string
}

// Txt2ImgRequest carries fully resolved generation parameters.
type Txt2ImgRequest struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	CFGScale       float64
	SamplerName    string
	Scheduler      string
	Seed           int64
	BatchCount     int
	HiRes          *HiResOptions

	// DetailModels lists ADetailer detection models for post-generation
	// detail passes (faces, hands). Empty means no always-on scripts.
	DetailModels []string
}

// GenerationResult is a decoded txt2img response.
type GenerationResult struct {
	Images        [][]byte
	Seeds         []int64
	RawParameters json.RawMessage
	RawInfo       string
}

type txt2imgResponse struct {
	Images     []string        `json:"images"`
	Parameters json.RawMessage `json:"parameters"`
	Info       string          `json:"info"`
}

type generationInfo struct {
	Seed     int64   `json:"seed"`
	AllSeeds []int64 `json:"all_seeds"`
}

type adetailerArgs struct {
	Model string `json:"ad_model"`
}

// Txt2Img runs a generation to completion. This is the dominant blocking
// point of the pipeline; the call is bounded by the generation timeout, not
// the regular request timeout.
func (c *Client) Txt2Img(ctx context.Context, req Txt2ImgRequest) (*GenerationResult, error) {
	payload := map[string]interface{}{
		"prompt":          req.Prompt,
		"negative_prompt": req.NegativePrompt,
		"seed":            req.Seed,
		"steps":           req.Steps,
		"cfg_scale":       req.CFGScale,
		"width":           req.Width,
		"height":          req.Height,
		"sampler_name":    req.SamplerName,
		"scheduler":       normalizeScheduler(req.Scheduler),
		"batch_size":      1,
		"n_iter":          clampBatchCount(req.BatchCount),
		"send_images":     true,
		"save_images":     false,
	}
	if hr := req.HiRes; hr != nil {
		secondPass := hr.SecondPassSteps
		if secondPass <= 0 {
			secondPass = maxInt(1, req.Steps/2)
		}
		payload["enable_hr"] = true
		payload["hr_scale"] = hr.Scale
		payload["hr_second_pass_steps"] = secondPass
		payload["hr_upscaler"] = hr.Upscaler
		payload["hr_sampler_name"] = hr.SamplerName
		payload["hr_scheduler"] = normalizeScheduler(hr.Scheduler)
		payload["denoising_strength"] = hr.DenoisingStrength
	}
	if len(req.DetailModels) > 0 {
		args := make([]adetailerArgs, 0, len(req.DetailModels))
		for _, model := range req.DetailModels {
			args = append(args, adetailerArgs{Model: model})
		}
		payload["alwayson_scripts"] = map[string]interface{}{
			"ADetailer": map[string]interface{}{"args": args},
		}
	}

	var resp txt2imgResponse
	if err := c.postJSON(ctx, "/sdapi/v1/txt2img", c.genTimeout, payload, &resp); err != nil {
		return nil, err
	}

	result := &GenerationResult{
		Images:        make([][]byte, 0, len(resp.Images)),
		RawParameters: resp.Parameters,
		RawInfo:       resp.Info,
	}
	for _, encoded := range resp.Images {
		decoded, err := base64.StdEncoding.DecodeString(stripDataPrefix(encoded))
		if err != nil {
			logger.Warnf("discarding undecodable image in txt2img response: %s", err)
			continue
		}
		result.Images = append(result.Images, decoded)
	}
	if resp.Info != "" {
		var info generationInfo
		if err := json.Unmarshal([]byte(resp.Info), &info); err == nil {
			result.Seeds = info.AllSeeds
		} else {
			logger.Warnf("txt2img info field is not valid json: %s", err)
		}
	}
	return result, nil
}

// The backend treats "", "none" and "automatic" as the same scheduler.
func normalizeScheduler(scheduler string) string {
	switch strings.ToLower(scheduler) {
	case "", "none", "automatic":
		return "Automatic"
	}
	return scheduler
}

func clampBatchCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > 8 {
		return 8
	}
	return n
}

// some backends prefix base64 payloads with a data-url header
func stripDataPrefix(encoded string) string {
	if i := strings.IndexByte(encoded, ','); i >= 0 && strings.HasPrefix(encoded, "data:") {
		return encoded[i+1:]
	}
	return encoded
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
