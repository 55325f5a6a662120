package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/podbrief/podbrief/internal/artifact"
)

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := fixedNow.Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestRetentionSweepsAgedFiles(t *testing.T) {
	store := newFakeStore()
	o := testOrchestrator(t, store)

	old := filepath.Join(o.cfg.StagingDir, "ai_20260801_060000.mp3")
	fresh := filepath.Join(o.cfg.StagingDir, "ai_20260825_060000.mp3")
	writeAged(t, old, 20*24*time.Hour) // past local_mp3_days = 7
	writeAged(t, fresh, time.Hour)

	nested := filepath.Join(o.cfg.AudioCacheDir, "episode_4.mp3")
	writeAged(t, nested, 10*24*time.Hour) // past audio_cache_days = 3

	rep := newPhaseReport(PhaseRetention)
	if err := o.runRetention(context.Background(), store, Options{}, rep); err != nil {
		t.Fatalf("runRetention: %v", err)
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("aged staging mp3 survived the sweep")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh staging mp3 was removed")
	}
	if _, err := os.Stat(nested); !os.IsNotExist(err) {
		t.Error("aged cache file survived the sweep")
	}
	if rep.count("staging_removed") != 1 {
		t.Errorf("staging_removed = %d, want 1", rep.count("staging_removed"))
	}
}

func TestRetentionDeletesAgedTags(t *testing.T) {
	store := newFakeStore()
	o := testOrchestrator(t, store)
	host := &fakeHost{tags: []artifact.Tag{
		{Name: "daily-2026-06-01"}, // well past github_release_days = 30
		{Name: "daily-2026-08-24"}, // fresh
	}}
	o.host = host

	rep := newPhaseReport(PhaseRetention)
	if err := o.runRetention(context.Background(), store, Options{}, rep); err != nil {
		t.Fatalf("runRetention: %v", err)
	}

	if len(host.deleted) != 1 || host.deleted[0] != "daily-2026-06-01" {
		t.Errorf("deleted tags = %v, want [daily-2026-06-01]", host.deleted)
	}
	// The dead tag's rows must stop advertising artifact URLs.
	if len(store.clearedDates) != 1 {
		t.Fatalf("cleared dates = %v, want 1 entry", store.clearedDates)
	}
	want := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	if !store.clearedDates[0].Equal(want) {
		t.Errorf("cleared date = %v, want %v", store.clearedDates[0], want)
	}
}

func TestRetentionDeletesAgedRows(t *testing.T) {
	store := newFakeStore()
	store.oldEpisodes = 12
	store.oldDigests = 3
	o := testOrchestrator(t, store)

	rep := newPhaseReport(PhaseRetention)
	if err := o.runRetention(context.Background(), store, Options{}, rep); err != nil {
		t.Fatalf("runRetention: %v", err)
	}
	if !store.deletedEpisodes || !store.deletedDigests {
		t.Error("row sweeps did not run")
	}
	if rep.count("episodes_removed") != 12 || rep.count("digests_removed") != 3 {
		t.Errorf("removed counts = %d/%d, want 12/3",
			rep.count("episodes_removed"), rep.count("digests_removed"))
	}
}

func TestRetentionDryRunReportsWithoutDeleting(t *testing.T) {
	store := newFakeStore()
	store.oldEpisodes = 5
	o := testOrchestrator(t, store)
	host := &fakeHost{tags: []artifact.Tag{{Name: "daily-2026-01-01"}}}
	o.host = host

	old := filepath.Join(o.cfg.StagingDir, "old.mp3")
	writeAged(t, old, 30*24*time.Hour)

	rep := newPhaseReport(PhaseRetention)
	if err := o.runRetention(context.Background(), store, Options{DryRun: true}, rep); err != nil {
		t.Fatalf("runRetention: %v", err)
	}

	if _, err := os.Stat(old); err != nil {
		t.Error("dry run deleted a file")
	}
	if len(host.deleted) != 0 || store.deletedEpisodes || store.deletedDigests {
		t.Error("dry run deleted remote or row state")
	}
	// Counts must match what a real sweep would report.
	if rep.count("staging_removed") != 1 {
		t.Errorf("staging_removed = %d, want 1", rep.count("staging_removed"))
	}
	if rep.count("tags_removed") != 1 {
		t.Errorf("tags_removed = %d, want 1", rep.count("tags_removed"))
	}
	if rep.count("episodes_removed") != 5 {
		t.Errorf("episodes_removed = %d, want 5", rep.count("episodes_removed"))
	}
}

func TestRetentionContinuesPastFailingSweep(t *testing.T) {
	store := newFakeStore()
	store.oldDigests = 2
	o := testOrchestrator(t, store)
	o.host = &fakeHost{listErr: os.ErrDeadlineExceeded}

	rep := newPhaseReport(PhaseRetention)
	err := o.runRetention(context.Background(), store, Options{}, rep)
	if err == nil {
		t.Fatal("expected sweep error to surface")
	}
	// Later sweeps still ran despite the artifact host being down.
	if !store.deletedDigests || !store.deletedEpisodes {
		t.Error("row sweeps skipped after artifact sweep failure")
	}
}
