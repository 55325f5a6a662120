package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/podbrief/podbrief/internal/database"
	"github.com/podbrief/podbrief/internal/feeds"
)

func feedItem(guid string, age time.Duration) feeds.Item {
	return feeds.Item{
		GUID:        guid,
		Title:       "Episode " + guid,
		AudioURL:    "https://cdn.example.com/" + guid + ".mp3",
		PublishedAt: fixedNow.Add(-age),
	}
}

func TestDiscoveryInsertsRecentEpisodes(t *testing.T) {
	store := newFakeStore()
	store.feeds = []database.Feed{{ID: 1, URL: "https://pod.example.com/feed.xml"}}

	o := testOrchestrator(t, store)
	o.feeds = &fakeFetcher{feeds: map[string]*feeds.Feed{
		"https://pod.example.com/feed.xml": {
			Title: "Example Pod",
			Items: []feeds.Item{
				feedItem("ep-new", 2*time.Hour),
				feedItem("ep-old", 80*time.Hour), // outside 26h lookback
			},
		},
	}}

	rep := newPhaseReport(PhaseDiscovery)
	if err := o.runDiscovery(context.Background(), store, Options{}, rep); err != nil {
		t.Fatalf("runDiscovery: %v", err)
	}

	if got := len(store.inserted); got != 1 {
		t.Fatalf("inserted %d episodes, want 1", got)
	}
	if store.inserted[0].GUID != "ep-new" {
		t.Errorf("inserted guid = %q, want ep-new", store.inserted[0].GUID)
	}
	if store.checked[1] != "Example Pod" {
		t.Errorf("feed title not refreshed: %q", store.checked[1])
	}
	if rep.count("episodes_new") != 1 {
		t.Errorf("episodes_new = %d, want 1", rep.count("episodes_new"))
	}
}

func TestDiscoverySkipsKnownGUIDs(t *testing.T) {
	store := newFakeStore()
	store.feeds = []database.Feed{{ID: 1, URL: "https://pod.example.com/feed.xml"}}
	store.knownGUIDs["ep-known"] = true

	o := testOrchestrator(t, store)
	o.feeds = &fakeFetcher{feeds: map[string]*feeds.Feed{
		"https://pod.example.com/feed.xml": {Items: []feeds.Item{feedItem("ep-known", time.Hour)}},
	}}

	rep := newPhaseReport(PhaseDiscovery)
	if err := o.runDiscovery(context.Background(), store, Options{}, rep); err != nil {
		t.Fatalf("runDiscovery: %v", err)
	}
	if len(store.inserted) != 0 {
		t.Errorf("inserted %d episodes, want 0", len(store.inserted))
	}
	if rep.count("episodes_known") != 1 {
		t.Errorf("episodes_known = %d, want 1", rep.count("episodes_known"))
	}
}

func TestDiscoveryRecordsFeedFailure(t *testing.T) {
	store := newFakeStore()
	store.feeds = []database.Feed{{ID: 7, URL: "https://dead.example.com/feed.xml"}}

	o := testOrchestrator(t, store)
	o.feeds = &fakeFetcher{errs: map[string]error{
		"https://dead.example.com/feed.xml": errors.New("connect refused"),
	}}

	rep := newPhaseReport(PhaseDiscovery)
	if err := o.runDiscovery(context.Background(), store, Options{}, rep); err != nil {
		t.Fatalf("runDiscovery: %v", err)
	}
	if store.feedFailures[7] != 1 {
		t.Errorf("failures = %d, want 1", store.feedFailures[7])
	}
	if store.deactivated[7] {
		t.Error("feed deactivated on first failure")
	}
	if rep.count("feed_errors") != 1 {
		t.Errorf("feed_errors = %d, want 1", rep.count("feed_errors"))
	}
}

func TestDiscoveryDeactivatesAtThreshold(t *testing.T) {
	store := newFakeStore()
	store.feeds = []database.Feed{{ID: 7, URL: "https://dead.example.com/feed.xml"}}
	store.feedFailures[7] = 2 // threshold is 3

	o := testOrchestrator(t, store)
	o.feeds = &fakeFetcher{errs: map[string]error{
		"https://dead.example.com/feed.xml": errors.New("connect refused"),
	}}

	rep := newPhaseReport(PhaseDiscovery)
	if err := o.runDiscovery(context.Background(), store, Options{}, rep); err != nil {
		t.Fatalf("runDiscovery: %v", err)
	}
	if !store.deactivated[7] {
		t.Error("feed not deactivated at threshold")
	}
	if rep.count("feeds_deactivated") != 1 {
		t.Errorf("feeds_deactivated = %d, want 1", rep.count("feeds_deactivated"))
	}
}

func TestDiscoveryCapsNewEpisodes(t *testing.T) {
	store := newFakeStore()
	store.feeds = []database.Feed{{ID: 1, URL: "https://pod.example.com/feed.xml"}}

	var items []feeds.Item
	for _, g := range []string{"a", "b", "c", "d", "e"} {
		items = append(items, feedItem(g, time.Hour))
	}

	o := testOrchestrator(t, store)
	o.feeds = &fakeFetcher{feeds: map[string]*feeds.Feed{
		"https://pod.example.com/feed.xml": {Items: items},
	}}

	rep := newPhaseReport(PhaseDiscovery)
	if err := o.runDiscovery(context.Background(), store, Options{Limit: 2}, rep); err != nil {
		t.Fatalf("runDiscovery: %v", err)
	}
	if got := len(store.inserted); got != 2 {
		t.Errorf("inserted %d episodes, want 2 (capped)", got)
	}
}

func TestDiscoveryDryRunDoesNotMutate(t *testing.T) {
	store := newFakeStore()
	store.feeds = []database.Feed{{ID: 1, URL: "https://pod.example.com/feed.xml"}}

	o := testOrchestrator(t, store)
	o.feeds = &fakeFetcher{feeds: map[string]*feeds.Feed{
		"https://pod.example.com/feed.xml": {Items: []feeds.Item{feedItem("ep", time.Hour)}},
	}}

	rep := newPhaseReport(PhaseDiscovery)
	if err := o.runDiscovery(context.Background(), store, Options{DryRun: true}, rep); err != nil {
		t.Fatalf("runDiscovery: %v", err)
	}
	if len(store.inserted) != 0 || len(store.checked) != 0 {
		t.Error("dry run wrote to the store")
	}
	if rep.count("would_insert") != 1 {
		t.Errorf("would_insert = %d, want 1", rep.count("would_insert"))
	}
}

func TestDiscoveryCutoffWidensOnMonday(t *testing.T) {
	store := newFakeStore()
	o := testOrchestrator(t, store)

	monday := time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC)
	if monday.Weekday() != time.Monday {
		t.Fatal("test date is not a Monday")
	}
	o.now = func() time.Time { return monday }

	got := o.discoveryCutoff()
	want := monday.Add(-(26*time.Hour + weekendCatchup))
	if !got.Equal(want) {
		t.Errorf("monday cutoff = %v, want %v", got, want)
	}

	o.now = func() time.Time { return fixedNow } // Tuesday
	got = o.discoveryCutoff()
	want = fixedNow.Add(-26 * time.Hour)
	if !got.Equal(want) {
		t.Errorf("tuesday cutoff = %v, want %v", got, want)
	}
}
