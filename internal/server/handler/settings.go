package handler

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/artdiffusion/a1111-bot/internal/logger"
	"github.com/artdiffusion/a1111-bot/internal/model"
	"github.com/artdiffusion/a1111-bot/internal/preset"
	"github.com/gin-gonic/gin"
)

// GetSettings returns a user's stored settings together with the compliance
// verdict against the preset of the model currently loaded in the backend.
func (h *Handler) GetSettings(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	userSettings := h.users.Load(userID)
	resp := model.SettingsResponse{Settings: userSettings}
	modelName, err := h.backend.CurrentModel(c.Request.Context())
	if err != nil {
		logger.Warnf("current model lookup failed: %s", err)
		c.JSON(200, resp)
		return
	}
	resp.Model = modelName
	if p, found := preset.Resolve(modelName); found {
		resp.Preset = p.ModelName
		resp.Compliant = preset.IsCompliant(userSettings, p)
	}
	c.JSON(200, resp)
}

// AutoConfigSettings redraws the user's generation parameters from the
// active model's preset and persists the result.
func (h *Handler) AutoConfigSettings(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	modelName, err := h.backend.CurrentModel(c.Request.Context())
	if err != nil {
		c.JSON(502, model.ErrorResponse{Message: err.Error()})
		return
	}
	p, found := preset.Resolve(modelName)
	if !found {
		c.JSON(409, model.ErrorResponse{Message: "no preset for model " + modelName})
		return
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	updated := preset.AutoConfig(h.users.Load(userID), p, rng)
	if err := h.users.Save(userID, updated); err != nil {
		c.JSON(500, model.ErrorResponse{Message: err.Error()})
		return
	}
	c.JSON(200, model.SettingsResponse{
		Settings:  updated,
		Model:     modelName,
		Preset:    p.ModelName,
		Compliant: true,
	})
}

// BackendCatalog exposes what the generation backend currently offers.
func (h *Handler) BackendCatalog(c *gin.Context) {
	ctx := c.Request.Context()
	resp := model.BackendCatalogResponse{}
	modelName, err := h.backend.CurrentModel(ctx)
	if err != nil {
		c.JSON(502, model.ErrorResponse{Message: err.Error()})
		return
	}
	resp.Model = modelName
	if samplers, err := h.backend.Samplers(ctx); err == nil {
		resp.Samplers = samplers
	} else {
		logger.Warnf("sampler catalog fetch failed: %s", err)
	}
	if schedulers, err := h.backend.Schedulers(ctx); err == nil {
		for _, s := range schedulers {
			resp.Schedulers = append(resp.Schedulers, s.Name)
		}
	} else {
		logger.Warnf("scheduler catalog fetch failed: %s", err)
	}
	if loras, err := h.backend.Loras(ctx); err == nil {
		resp.Loras = loras
	} else {
		logger.Warnf("lora catalog fetch failed: %s", err)
	}
	c.JSON(200, resp)
}

func userIDParam(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Param("userID"), 10, 64)
	if err != nil {
		c.JSON(400, model.ErrorResponse{Message: "invalid user id"})
		return 0, false
	}
	return userID, true
}
