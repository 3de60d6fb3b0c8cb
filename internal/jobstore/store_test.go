package jobstore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "jobs.db"), ttl)
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t, 72*time.Hour)
	want := Record{
		Prompt:      "a red fox, sharp focus",
		Width:       960,
		Height:      512,
		Steps:       30,
		CFGScale:    7.5,
		SamplerName: "DPM++ 2M Karras",
		Scheduler:   "Karras",
		Seed:        123456789,
		FileID:      "AgACAgQAAxkDAAI",
	}
	if err := s.Put("8841", want); err != nil {
		t.Fatalf("Put: %s", err)
	}
	got, err := s.Get("8841")
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	if got.Timestamp == 0 {
		t.Error("Put should stamp the record")
	}
	got.Timestamp = 0
	if got != want {
		t.Errorf("round trip changed record:\n got  %+v\n want %+v", got, want)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := openTestStore(t, 72*time.Hour)
	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
	}
}

func TestPutOverwritesSameKey(t *testing.T) {
	s := openTestStore(t, 72*time.Hour)
	if err := s.Put("1", Record{Prompt: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("1", Record{Prompt: "second"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get("1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Prompt != "second" {
		t.Errorf("Prompt = %q, want the later write", got.Prompt)
	}
}

func TestPurgeExpired(t *testing.T) {
	s := openTestStore(t, time.Hour)
	old := Record{Prompt: "stale", Timestamp: time.Now().Add(-2 * time.Hour).Unix()}
	fresh := Record{Prompt: "fresh"}
	if err := s.Put("old", old); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("fresh", fresh); err != nil {
		t.Fatal(err)
	}
	purged, err := s.PurgeExpired()
	if err != nil {
		t.Fatalf("PurgeExpired: %s", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
	if _, err := s.Get("old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale record should be gone, err = %v", err)
	}
	if _, err := s.Get("fresh"); err != nil {
		t.Errorf("fresh record should survive, err = %v", err)
	}
}

func TestPurgeDisabledWithoutTTL(t *testing.T) {
	s := openTestStore(t, 0)
	ancient := Record{Prompt: "kept", Timestamp: time.Now().Add(-1000 * time.Hour).Unix()}
	if err := s.Put("k", ancient); err != nil {
		t.Fatal(err)
	}
	purged, err := s.PurgeExpired()
	if err != nil {
		t.Fatal(err)
	}
	if purged != 0 {
		t.Errorf("purged = %d, want 0 when ttl is disabled", purged)
	}
}
