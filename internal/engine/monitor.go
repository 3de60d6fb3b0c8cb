package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/artdiffusion/a1111-bot/internal/a1111"
	"github.com/artdiffusion/a1111-bot/internal/caption"
)

const progressBuckets = 20

// progressTracker decides when in-flight progress may be rendered. The
// backend reports one global progress value shared across all of its jobs,
// so a single non-zero reading may belong to someone else's generation:
// the tracker demands two consecutive non-zero readings before treating
// the job as started. This is a heuristic, not a guarantee.
type progressTracker struct {
	consecutive int
	started     bool
	lastPct     float64
	lastBucket  int
}

func newProgressTracker() *progressTracker {
	return &progressTracker{lastPct: -1, lastBucket: -1}
}

// Observe feeds one poll reading and reports whether detail should be
// rendered for it. Zero readings reset the start threshold; once started,
// updates are throttled to >=5 percentage points or a bucket change.
func (t *progressTracker) Observe(fraction float64) bool {
	if fraction <= 0 {
		t.consecutive = 0
		return false
	}
	t.consecutive++
	if !t.started && t.consecutive >= 2 {
		t.started = true
	}
	if !t.started {
		return false
	}
	pct := fraction * 100
	bucket := int(fraction * progressBuckets)
	if pct-t.lastPct >= 5 || bucket != t.lastBucket {
		t.lastPct = pct
		t.lastBucket = bucket
		return true
	}
	return false
}

// monitorProgress renders in-flight status onto the job's status message.
// Poll failures are logged and swallowed; progress is best-effort. The
// owning worker cancels the context once the backend call returns and
// waits for this loop to exit before cleanup.
func (q *Queue) monitorProgress(ctx context.Context, job *Job) {
	if job.StatusMessageID == 0 {
		return
	}
	queuedText := q.queuedIndicator(job)
	q.editStatus(ctx, job, queuedText)

	tracker := newProgressTracker()
	ticker := time.NewTicker(q.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		state, err := q.gen.Progress(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Debugf("progress poll for job %s failed: %s", job.ID, err)
			continue
		}
		if tracker.Observe(state.Fraction) {
			q.editStatus(ctx, job, renderProgress(state))
		}
	}
}

func (q *Queue) queuedIndicator(job *Job) string {
	prompt := caption.Truncate(job.Prompt, 100)
	return caption.Bold("⏳ En cola") + "\n" +
		caption.Bold("Prompt:") + " " + caption.Code(prompt) + "\n" +
		caption.Italic("Te notificaré cuando esté listo...")
}

func renderProgress(state a1111.ProgressState) string {
	pct := state.Fraction * 100
	filled := int(state.Fraction * progressBuckets)
	if filled > progressBuckets {
		filled = progressBuckets
	}
	bar := strings.Repeat("▓", filled) + strings.Repeat("░", progressBuckets-filled)
	line := fmt.Sprintf("%s %.0f%%", bar, pct)
	detail := fmt.Sprintf("paso %d/%d · ETA %.0fs", state.State.CurrentStep, state.State.TotalSteps, state.ETASeconds)
	return caption.Bold("🎨 Generando") + "\n" +
		caption.Code(line) + "\n" +
		caption.Italic(detail)
}

func (q *Queue) editStatus(ctx context.Context, job *Job, text string) {
	if err := q.msgr.EditMessage(ctx, job.ChatID, job.StatusMessageID, text); err != nil {
		q.logger.Debugf("status edit for job %s failed: %s", job.ID, err)
	}
}
