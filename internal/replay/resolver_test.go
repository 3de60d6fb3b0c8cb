package replay

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/artdiffusion/a1111-bot/internal/caption"
	"github.com/artdiffusion/a1111-bot/internal/engine"
	"github.com/artdiffusion/a1111-bot/internal/jobstore"
	"github.com/artdiffusion/a1111-bot/internal/settings"
)

type fakeRecords struct {
	records map[string]jobstore.Record
}

func (f fakeRecords) Get(key string) (jobstore.Record, error) {
	r, ok := f.records[key]
	if !ok {
		return jobstore.Record{}, jobstore.ErrNotFound
	}
	return r, nil
}

type fakeUsers struct{ s settings.Settings }

func (f fakeUsers) Load(userID int64) settings.Settings { return f.s }

type fakeBackend struct {
	model     string
	hasScript bool
	upscaled  []byte
	upscaleIn []byte
}

func (b *fakeBackend) CurrentModel(ctx context.Context) (string, error) {
	if b.model == "" {
		return "", errors.New("backend down")
	}
	return b.model, nil
}

func (b *fakeBackend) HasScript(ctx context.Context, name string) bool { return b.hasScript }

func (b *fakeBackend) Upscale(ctx context.Context, image []byte, upscaler string, scale float64) ([]byte, error) {
	b.upscaleIn = image
	if b.upscaled == nil {
		return nil, errors.New("upscale backend error")
	}
	return b.upscaled, nil
}

type fakeQueue struct{ jobs []*engine.Job }

func (q *fakeQueue) Submit(job *engine.Job) { q.jobs = append(q.jobs, job) }

type fakeFiles struct{ data []byte }

func (f fakeFiles) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	if f.data == nil {
		return nil, errors.New("file gone")
	}
	return f.data, nil
}

type fakeMessenger struct {
	messages  []string
	documents [][]byte
	sendErr   error
}

func (m *fakeMessenger) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	m.messages = append(m.messages, text)
	return int64(1000 + len(m.messages)), nil
}

func (m *fakeMessenger) SendDocument(ctx context.Context, chatID int64, filename string, data []byte, captionText string, actions []engine.Action) (int64, string, error) {
	m.documents = append(m.documents, data)
	return 2000, "file-id", nil
}

func (m *fakeMessenger) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	return nil
}

func (m *fakeMessenger) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return nil
}

func newTestResolver(records map[string]jobstore.Record, backend *fakeBackend, userSettings settings.Settings) (*Resolver, *fakeQueue, *fakeMessenger) {
	queue := &fakeQueue{}
	msgr := &fakeMessenger{}
	r := NewResolver(fakeRecords{records: records}, fakeUsers{s: userSettings}, backend, queue, fakeFiles{data: []byte("original")}, msgr)
	return r, queue, msgr
}

var testRecord = jobstore.Record{
	Prompt:      "a red fox",
	Width:       960,
	Height:      512,
	Steps:       30,
	CFGScale:    7.5,
	SamplerName: "Euler a",
	Scheduler:   "Karras",
	Seed:        4242,
	FileID:      "file-abc",
}

func TestParseToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantNS  string
		wantErr bool
	}{
		{"plain", "job:repeat:123", "job", false},
		{"trailing page ignored", "job:upscale:123:2", "job", false},
		{"foreign namespace parses", "menu:open:1", "menu", false},
		{"two elements", "job:repeat", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns, _, _, err := parseToken(tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownAction) {
					t.Errorf("err = %v, want ErrUnknownAction", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseToken(%q): %s", tt.token, err)
			}
			if ns != tt.wantNS {
				t.Errorf("ns = %q, want %q", ns, tt.wantNS)
			}
		})
	}
}

func TestResolvePrefersRecord(t *testing.T) {
	r, _, _ := newTestResolver(map[string]jobstore.Record{"77": testRecord}, &fakeBackend{}, settings.Default())
	// deliberately contradictory caption: the record must win
	junkCaption := caption.Render(caption.Params{Prompt: "wrong", Steps: 1, SamplerName: "x", CFGScale: 1, Seed: 1, Width: 64, Height: 64})
	params, record, err := r.Resolve("77", junkCaption)
	if err != nil {
		t.Fatalf("Resolve: %s", err)
	}
	if record == nil || record.FileID != "file-abc" {
		t.Fatal("persisted record not returned")
	}
	if params.Prompt != "a red fox" || params.Seed != 4242 || params.Steps != 30 {
		t.Errorf("params = %+v, want the record's values", params)
	}
}

func TestResolveFallsBackToCaption(t *testing.T) {
	r, _, _ := newTestResolver(nil, &fakeBackend{}, settings.Default())
	rendered := caption.Render(caption.Params{
		Prompt: "legacy panda", Steps: 25, SamplerName: "Euler a", Scheduler: "Simple",
		CFGScale: 7, Seed: 99, Width: 512, Height: 512,
	})
	params, record, err := r.Resolve("missing", rendered)
	if err != nil {
		t.Fatalf("Resolve: %s", err)
	}
	if record != nil {
		t.Error("caption fallback must not invent a record")
	}
	if params.Prompt != "legacy panda" || params.Seed != 99 {
		t.Errorf("params = %+v", params)
	}
}

func TestResolveExpired(t *testing.T) {
	r, _, _ := newTestResolver(nil, &fakeBackend{}, settings.Default())
	if _, _, err := r.Resolve("missing", "no caption grammar here"); !errors.Is(err, ErrExpired) {
		t.Errorf("err = %v, want ErrExpired", err)
	}
}

func TestHandleRejectsForeignNamespace(t *testing.T) {
	r, queue, _ := newTestResolver(map[string]jobstore.Record{"77": testRecord}, &fakeBackend{}, settings.Default())
	err := r.Handle(context.Background(), "menu:repeat:77", 1, 100, "")
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("err = %v, want ErrUnknownAction", err)
	}
	if len(queue.jobs) != 0 {
		t.Error("nothing should be queued for a foreign namespace")
	}
}

func TestHandleRejectsUnknownVerb(t *testing.T) {
	r, _, _ := newTestResolver(map[string]jobstore.Record{"77": testRecord}, &fakeBackend{}, settings.Default())
	if err := r.Handle(context.Background(), "job:destroy:77", 1, 100, ""); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("err = %v, want ErrUnknownAction", err)
	}
}

func TestHandleRepeatSubmitsJob(t *testing.T) {
	userSettings := settings.Default()
	userSettings.BatchCount = 4
	r, queue, msgr := newTestResolver(map[string]jobstore.Record{"77": testRecord}, &fakeBackend{model: "no-preset-model"}, userSettings)

	if err := r.Handle(context.Background(), "job:repeat:77", 1, 100, ""); err != nil {
		t.Fatalf("Handle: %s", err)
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("want 1 queued job, got %d", len(queue.jobs))
	}
	job := queue.jobs[0]
	if job.Kind != engine.OpRepeat || job.ChatID != 100 || job.UserID != 1 {
		t.Errorf("job = %+v", job)
	}
	if job.StatusMessageID == 0 {
		t.Error("status message id should be captured")
	}
	if len(msgr.messages) != 1 {
		t.Errorf("want one status notice, got %d", len(msgr.messages))
	}
	o := job.Overrides
	if *o.Steps != 30 || *o.CFGScale != 7.5 || *o.Width != 960 || *o.Height != 512 {
		t.Errorf("repeat must preserve steps, cfg and size: %+v", o)
	}
	if *o.Seed != RandomSeed {
		t.Errorf("seed = %d, want the random sentinel", *o.Seed)
	}
	if *o.BatchCount != 4 {
		t.Errorf("batch = %d, want the user's current count", *o.BatchCount)
	}
	if job.Prompt != "a red fox" {
		t.Errorf("prompt changed: %q", job.Prompt)
	}
}

func TestRepeatDriftsTowardActivePreset(t *testing.T) {
	r, _, _ := newTestResolver(nil, &fakeBackend{model: "lcm_fused"}, settings.Default())
	job := r.Repeat(context.Background(), caption.Params{
		Prompt: "p", Steps: 30, SamplerName: "Euler a", Scheduler: "Karras",
		CFGScale: 7, Seed: 1, Width: 512, Height: 512,
	}, 1)
	// the lcm preset allows exactly one sampler, so drift is deterministic
	if *job.Overrides.SamplerName != "LCM" {
		t.Errorf("sampler = %q, want the preset's", *job.Overrides.SamplerName)
	}
}

func TestNewSeedKeepsSamplerAndScheduler(t *testing.T) {
	r, _, _ := newTestResolver(nil, &fakeBackend{}, settings.Default())
	job := r.NewSeed(caption.Params{
		Prompt: "p", Steps: 30, SamplerName: "Euler a", Scheduler: "Karras",
		CFGScale: 7, Seed: 4242, Width: 512, Height: 512,
	}, 1)
	if job.Kind != engine.OpNewSeed {
		t.Errorf("kind = %q", job.Kind)
	}
	if *job.Overrides.SamplerName != "Euler a" || *job.Overrides.Scheduler != "Karras" {
		t.Errorf("sampler/scheduler must not drift: %+v", job.Overrides)
	}
	if *job.Overrides.Seed != RandomSeed {
		t.Errorf("seed = %d, want the random sentinel", *job.Overrides.Seed)
	}
}

func TestUpscaleDerivation(t *testing.T) {
	tests := []struct {
		name         string
		hasScript    bool
		userModels   []string
		wantModels   []string
		steps        int
		wantSecondPS int
	}{
		{"adetailer missing", false, nil, nil, 30, 15},
		{"adetailer defaults", true, nil, defaultDetailModels, 30, 15},
		{"user configured models", true, []string{"hand_yolov8n.pt"}, []string{"hand_yolov8n.pt"}, 30, 15},
		{"tiny step count clamps to one", true, nil, defaultDetailModels, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userSettings := settings.Default()
			userSettings.DetailModels = tt.userModels
			r, _, _ := newTestResolver(nil, &fakeBackend{hasScript: tt.hasScript}, userSettings)
			job := r.Upscale(context.Background(), caption.Params{
				Prompt: "p", Steps: tt.steps, SamplerName: "Euler a", Scheduler: "Karras",
				CFGScale: 7, Seed: 4242, Width: 512, Height: 512,
			}, 1)
			if job.Kind != engine.OpUpscaleHR {
				t.Errorf("kind = %q", job.Kind)
			}
			if *job.Overrides.Seed != 4242 {
				t.Errorf("seed = %d, upscale must keep the seed", *job.Overrides.Seed)
			}
			if *job.Overrides.BatchCount != 1 {
				t.Errorf("batch = %d, want 1", *job.Overrides.BatchCount)
			}
			if job.HiRes == nil {
				t.Fatal("hi-res options missing")
			}
			if job.HiRes.Scale != 1.5 || job.HiRes.DenoisingStrength != 0.3 {
				t.Errorf("hi-res options = %+v", job.HiRes)
			}
			if job.HiRes.SecondPassSteps != tt.wantSecondPS {
				t.Errorf("second pass steps = %d, want %d", job.HiRes.SecondPassSteps, tt.wantSecondPS)
			}
			if len(job.DetailModels) != len(tt.wantModels) {
				t.Fatalf("detail models = %v, want %v", job.DetailModels, tt.wantModels)
			}
			for i := range tt.wantModels {
				if job.DetailModels[i] != tt.wantModels[i] {
					t.Errorf("detail models = %v, want %v", job.DetailModels, tt.wantModels)
				}
			}
		})
	}
}

func TestFinalUpscale(t *testing.T) {
	t.Run("delivers the upscaled bitmap", func(t *testing.T) {
		backend := &fakeBackend{upscaled: []byte("bigger")}
		r, _, msgr := newTestResolver(map[string]jobstore.Record{"77": testRecord}, backend, settings.Default())
		if err := r.Handle(context.Background(), "job:final:77", 1, 100, ""); err != nil {
			t.Fatalf("Handle: %s", err)
		}
		if !bytes.Equal(backend.upscaleIn, []byte("original")) {
			t.Error("the delivered original should be fed to the upscaler")
		}
		if len(msgr.documents) != 1 || !bytes.Equal(msgr.documents[0], []byte("bigger")) {
			t.Errorf("documents = %v", msgr.documents)
		}
	})

	t.Run("caption-only results cannot be final-upscaled", func(t *testing.T) {
		r, _, _ := newTestResolver(nil, &fakeBackend{upscaled: []byte("bigger")}, settings.Default())
		rendered := caption.Render(caption.Params{
			Prompt: "p", Steps: 4, SamplerName: "LCM", CFGScale: 1, Seed: 1, Width: 512, Height: 512,
		})
		if err := r.Handle(context.Background(), "job:final:missing", 1, 100, rendered); !errors.Is(err, ErrExpired) {
			t.Errorf("err = %v, want ErrExpired", err)
		}
	})

	t.Run("record without file id is expired", func(t *testing.T) {
		record := testRecord
		record.FileID = ""
		r, _, _ := newTestResolver(map[string]jobstore.Record{"77": record}, &fakeBackend{upscaled: []byte("b")}, settings.Default())
		if err := r.Handle(context.Background(), "job:final:77", 1, 100, ""); !errors.Is(err, ErrExpired) {
			t.Errorf("err = %v, want ErrExpired", err)
		}
	})
}
