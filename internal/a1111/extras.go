package a1111

import (
	"context"
	"encoding/base64"
	"errors"
)

var ErrNoImageInResponse = errors.New("a1111: response contains no image")

type extraSingleImageResponse struct {
	Image  string   `json:"image"`
	Images []string `json:"images"`
}

// Upscale runs a plain image upscale through the extras endpoint. No prompt
// is involved; this backs the post-hoc final-upscale action.
func (c *Client) Upscale(ctx context.Context, image []byte, upscaler string, scale float64) ([]byte, error) {
	payload := map[string]interface{}{
		"resize_mode":                  0,
		"show_extras_results":          true,
		"gfpgan_visibility":            0,
		"codeformer_visibility":        0,
		"codeformer_weight":            0,
		"upscaling_resize":             scale,
		"upscaling_crop":               true,
		"upscaler_1":                   upscaler,
		"upscaler_2":                   "None",
		"extras_upscaler_2_visibility": 0,
		"upscale_first":                false,
		"image":                        base64.StdEncoding.EncodeToString(image),
	}
	var resp extraSingleImageResponse
	if err := c.postJSON(ctx, "/sdapi/v1/extra-single-image", c.genTimeout, payload, &resp); err != nil {
		return nil, err
	}
	encoded := resp.Image
	if encoded == "" && len(resp.Images) > 0 {
		// older API versions return an images list instead
		encoded = resp.Images[0]
	}
	if encoded == "" {
		return nil, ErrNoImageInResponse
	}
	return base64.StdEncoding.DecodeString(stripDataPrefix(encoded))
}
