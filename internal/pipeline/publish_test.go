package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/podbrief/podbrief/internal/database"
)

func publishableDigest(t *testing.T, dir string, id int64, topic string) database.Digest {
	t.Helper()
	path := filepath.Join(dir, topic+".mp3")
	if err := os.WriteFile(path, []byte("mp3 bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return database.Digest{
		ID:         id,
		Topic:      topic,
		DigestDate: time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC),
		MP3Path:    &path,
	}
}

func TestPublishUploadsAndFinalizes(t *testing.T) {
	store := newFakeStore()
	o := testOrchestrator(t, store)
	host := &fakeHost{assetURL: "https://host.example.com/daily-2026-08-25/ai.mp3", assetSize: 9}
	o.host = host

	d := publishableDigest(t, o.cfg.StagingDir, 1, "ai")
	store.pubEligible = []database.Digest{d}

	rep := newPhaseReport(PhasePublishing)
	if err := o.runPublishing(context.Background(), store, Options{}, rep); err != nil {
		t.Fatalf("runPublishing: %v", err)
	}

	if got := store.published[1]; got != host.assetURL {
		t.Errorf("published url = %q, want %q", got, host.assetURL)
	}
	if len(host.uploaded["daily-2026-08-25"]) != 1 {
		t.Errorf("uploads under tag = %v", host.uploaded)
	}
	if _, err := os.Stat(*d.MP3Path); !os.IsNotExist(err) {
		t.Error("local mp3 not deleted after upload")
	}
	if len(store.clearedPaths) != 1 || store.clearedPaths[0] != 1 {
		t.Errorf("mp3 path not cleared: %v", store.clearedPaths)
	}
	if rep.count("published") != 1 {
		t.Errorf("published = %d, want 1", rep.count("published"))
	}
}

func TestPublishSkipsMissingFile(t *testing.T) {
	store := newFakeStore()
	o := testOrchestrator(t, store)
	host := &fakeHost{}
	o.host = host

	missing := filepath.Join(o.cfg.StagingDir, "gone.mp3")
	store.pubEligible = []database.Digest{{
		ID:         1,
		Topic:      "ai",
		DigestDate: time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC),
		MP3Path:    &missing,
	}}

	rep := newPhaseReport(PhasePublishing)
	if err := o.runPublishing(context.Background(), store, Options{}, rep); err != nil {
		t.Fatalf("runPublishing: %v", err)
	}
	if len(host.uploaded) != 0 {
		t.Error("uploaded despite missing local file")
	}
	if rep.count("missing_file") != 1 {
		t.Errorf("missing_file = %d, want 1", rep.count("missing_file"))
	}
	if _, ok := store.digestFailures[1]; !ok {
		t.Error("missing file not recorded on the row")
	}
}

func TestPublishAllFailuresIsOutage(t *testing.T) {
	store := newFakeStore()
	o := testOrchestrator(t, store)
	o.host = &fakeHost{uploadErr: errors.New("503 service unavailable")}
	o.set.Pipeline.PublishMaxRetries = 1 // keep the test fast

	store.pubEligible = []database.Digest{publishableDigest(t, o.cfg.StagingDir, 1, "ai")}

	rep := newPhaseReport(PhasePublishing)
	err := o.runPublishing(context.Background(), store, Options{}, rep)
	if !errors.Is(err, ErrOutage) {
		t.Fatalf("err = %v, want ErrOutage", err)
	}
	if len(store.published) != 0 {
		t.Error("digest marked published despite upload failure")
	}
}

func TestPublishPartialFailureIsNotOutage(t *testing.T) {
	store := newFakeStore()
	o := testOrchestrator(t, store)
	o.set.Pipeline.PublishMaxRetries = 1

	ok := publishableDigest(t, o.cfg.StagingDir, 1, "ai")
	bad := database.Digest{
		ID:         2,
		Topic:      "security",
		DigestDate: ok.DigestDate,
	}
	missing := filepath.Join(o.cfg.StagingDir, "nope.mp3")
	bad.MP3Path = &missing
	store.pubEligible = []database.Digest{ok, bad}
	o.host = &fakeHost{assetURL: "https://host.example.com/a.mp3", assetSize: 9}

	rep := newPhaseReport(PhasePublishing)
	if err := o.runPublishing(context.Background(), store, Options{}, rep); err != nil {
		t.Fatalf("runPublishing: %v", err)
	}
	if len(store.published) != 1 {
		t.Errorf("published = %d rows, want 1", len(store.published))
	}
}

func TestPublishDryRunOnlyPlans(t *testing.T) {
	store := newFakeStore()
	o := testOrchestrator(t, store)
	host := &fakeHost{}
	o.host = host

	store.pubEligible = []database.Digest{publishableDigest(t, o.cfg.StagingDir, 1, "ai")}

	rep := newPhaseReport(PhasePublishing)
	if err := o.runPublishing(context.Background(), store, Options{DryRun: true}, rep); err != nil {
		t.Fatalf("runPublishing: %v", err)
	}
	if len(host.uploaded) != 0 || len(store.published) != 0 {
		t.Error("dry run uploaded or mutated rows")
	}
	if rep.count("would_publish") != 1 {
		t.Errorf("would_publish = %d, want 1", rep.count("would_publish"))
	}
}
