package a1111

import (
	"context"
	"errors"
)

// ErrModelUnresolved means the backend reported no active checkpoint from
// any source; preset resolution is impossible and compliance is undefined.
var ErrModelUnresolved = errors.New("a1111: active model could not be resolved")

type namedItem struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	ModelName string `json:"model_name"`
	Title     string `json:"title"`
	Path      string `json:"path"`
}

// Scheduler is a backend scheduler with its display label.
type Scheduler struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

func (c *Client) Samplers(ctx context.Context) ([]string, error) {
	var items []namedItem
	if err := c.getJSON(ctx, "/sdapi/v1/samplers", &items); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if item.Name != "" {
			names = append(names, item.Name)
		}
	}
	return names, nil
}

func (c *Client) Schedulers(ctx context.Context) ([]Scheduler, error) {
	var items []namedItem
	if err := c.getJSON(ctx, "/sdapi/v1/schedulers", &items); err != nil {
		return nil, err
	}
	schedulers := make([]Scheduler, 0, len(items))
	for _, item := range items {
		if item.Name == "" {
			continue
		}
		label := item.Label
		if label == "" {
			label = item.Name
		}
		schedulers = append(schedulers, Scheduler{Name: item.Name, Label: label})
	}
	return schedulers, nil
}

func (c *Client) Loras(ctx context.Context) ([]string, error) {
	var items []namedItem
	if err := c.getJSON(ctx, "/sdapi/v1/loras", &items); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		name := item.Name
		if name == "" {
			name = item.ModelName
		}
		if name == "" {
			name = item.Path
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (c *Client) SDModels(ctx context.Context) ([]string, error) {
	var items []namedItem
	if err := c.getJSON(ctx, "/sdapi/v1/sd-models", &items); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if item.ModelName != "" {
			names = append(names, item.ModelName)
		}
	}
	return names, nil
}

func (c *Client) SetModel(ctx context.Context, modelName string) error {
	payload := map[string]string{"sd_model_checkpoint": modelName}
	return c.postJSON(ctx, "/sdapi/v1/options", c.reqTimeout, payload, nil)
}

// CurrentModel resolves the active checkpoint, preferring the options
// endpoint and falling back to the first entry of the model list.
func (c *Client) CurrentModel(ctx context.Context) (string, error) {
	var options struct {
		SDModelCheckpoint string `json:"sd_model_checkpoint"`
	}
	if err := c.getJSON(ctx, "/sdapi/v1/options", &options); err == nil && options.SDModelCheckpoint != "" {
		return options.SDModelCheckpoint, nil
	}
	models, err := c.SDModels(ctx)
	if err != nil {
		return "", err
	}
	if len(models) == 0 {
		return "", ErrModelUnresolved
	}
	return models[0], nil
}

type scriptsResponse struct {
	Txt2Img []string `json:"txt2img"`
	Img2Img []string `json:"img2img"`
}

// HasScript reports whether the backend exposes a txt2img script by name,
// e.g. "adetailer" for the detail-pass extension.
func (c *Client) HasScript(ctx context.Context, name string) bool {
	var resp scriptsResponse
	if err := c.getJSON(ctx, "/sdapi/v1/scripts", &resp); err != nil {
		return false
	}
	for _, script := range resp.Txt2Img {
		if script == name {
			return true
		}
	}
	return false
}
