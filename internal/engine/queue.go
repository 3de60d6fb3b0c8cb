package engine

import (
	"context"
	"sync"
	"time"

	"github.com/artdiffusion/a1111-bot/internal/a1111"
	"github.com/artdiffusion/a1111-bot/internal/jobstore"
	"github.com/artdiffusion/a1111-bot/internal/logger"
	"github.com/artdiffusion/a1111-bot/internal/settings"
)

type Config struct {
	// Workers is the fixed worker pool size.
	Workers int `mapstructure:"workers"`

	PollIntervalSeconds    int `mapstructure:"pollIntervalSeconds"`
	DeliveryRetries        int `mapstructure:"deliveryRetries"`
	DeliveryBackoffSeconds int `mapstructure:"deliveryBackoffSeconds"`
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = 2
	}
	if c.DeliveryRetries <= 0 {
		c.DeliveryRetries = 3
	}
	if c.DeliveryBackoffSeconds <= 0 {
		c.DeliveryBackoffSeconds = 5
	}
}

// Generator is the slice of the backend client the queue needs.
type Generator interface {
	Txt2Img(ctx context.Context, req a1111.Txt2ImgRequest) (*a1111.GenerationResult, error)
	Progress(ctx context.Context) (a1111.ProgressState, error)
	CurrentModel(ctx context.Context) (string, error)
}

// Messenger delivers results and notices to the chat front-end.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)
	SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string, actions []Action) (messageID int64, fileID string, err error)
	EditMessage(ctx context.Context, chatID, messageID int64, text string) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

// SettingsSource yields a user's settings snapshot at dequeue time.
type SettingsSource interface {
	Load(userID int64) settings.Settings
}

// RecordPutter persists one job record per delivered image.
type RecordPutter interface {
	Put(key string, record jobstore.Record) error
}

// Queue is the bounded-concurrency scheduler. Submit never blocks and the
// queue never rejects; only the worker count bounds concurrency.
type Queue struct {
	cfg      Config
	gen      Generator
	msgr     Messenger
	records  RecordPutter
	settings SettingsSource

	mu      sync.Mutex
	pending []*Job
	active  int
	wake    chan struct{}

	cancel  context.CancelFunc
	started bool

	logger *logger.CustomLogger
}

func NewQueue(cfg Config, gen Generator, msgr Messenger, records RecordPutter, settingsSrc SettingsSource) *Queue {
	cfg.applyDefaults()
	return &Queue{
		cfg:      cfg,
		gen:      gen,
		msgr:     msgr,
		records:  records,
		settings: settingsSrc,
		wake:     make(chan struct{}, 1),
		logger:   logger.NewCustomLogger().With("component", "engine"),
	}
}

// Submit appends a job to the queue. Safe to call from any goroutine,
// before or after Start, and never blocks the caller.
func (q *Queue) Submit(job *Job) {
	q.mu.Lock()
	q.pending = append(q.pending, job)
	depth := len(q.pending)
	q.mu.Unlock()
	q.logger.Infof("job %s queued (%s), depth now %d", job.ID, job.Kind, depth)
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Start spawns the worker loops. Calling Start twice is a no-op.
func (q *Queue) Start(workerCount int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	if workerCount <= 0 {
		workerCount = q.cfg.Workers
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	for i := 0; i < workerCount; i++ {
		go q.workerLoop(ctx, i)
	}
	q.logger.Infof("started %d workers", workerCount)
}

// Stop cancels the worker loops. A backend call already in flight is not
// aborted; only its progress monitor stops, and the worker exits once the
// job it holds completes.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	q.started = false
}

// Depth reports how many jobs are waiting for a worker.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Active reports how many jobs are being processed right now.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

func (q *Queue) workerLoop(ctx context.Context, workerID int) {
	workerLogger := logger.NewCustomLogger().With("worker", workerID)
	for {
		job, ok := q.next(ctx)
		if !ok {
			workerLogger.Infof("worker stopping")
			return
		}
		q.mu.Lock()
		q.active++
		q.mu.Unlock()
		workerLogger.Infof("processing job %s (%s)", job.ID, job.Kind)
		q.process(ctx, job, workerLogger)
		q.mu.Lock()
		q.active--
		q.mu.Unlock()
	}
}

// next blocks the worker, not the process, until a job is available or the
// engine stops.
func (q *Queue) next(ctx context.Context) (*Job, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			job := q.pending[0]
			q.pending = q.pending[1:]
			if len(q.pending) > 0 {
				// Re-arm the wake token for the remaining jobs. Submit drops
				// its send when the buffer is full, so a sibling worker that
				// passed the pending check before our pop would otherwise
				// park with work still queued.
				select {
				case q.wake <- struct{}{}:
				default:
				}
			}
			q.mu.Unlock()
			return job, true
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, false
		case <-q.wake:
		}
	}
}

func (q *Queue) pollInterval() time.Duration {
	return time.Duration(q.cfg.PollIntervalSeconds) * time.Second
}
