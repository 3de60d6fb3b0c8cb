package a1111

import "context"

// ProgressState is the backend's single global progress value. It is shared
// across every job the backend is running, which is why the monitor needs
// its consecutive-readings heuristic before trusting it.
type ProgressState struct {
	Fraction   float64        `json:"progress"`
	ETASeconds float64        `json:"eta_relative"`
	State      ProgressDetail `json:"state"`
}

type ProgressDetail struct {
	CurrentStep int `json:"sampling_step"`
	TotalSteps  int `json:"sampling_steps"`
	JobIndex    int `json:"job_no"`
	JobCount    int `json:"job_count"`
}

func (c *Client) Progress(ctx context.Context) (ProgressState, error) {
	var state ProgressState
	err := c.getJSON(ctx, "/sdapi/v1/progress", &state)
	return state, err
}
