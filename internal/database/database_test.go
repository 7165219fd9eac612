package database

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func TestUpsertStory(t *testing.T) {
	db := openTestDB(t)
	err := db.UpsertStory(Story{
		Slug:         "the-brave-little-owl",
		Title:        "The Brave Little Owl",
		Premise:      ptr("An owl learns to fly at night"),
		Folder:       "/out/the-brave-little-owl",
		SegmentCount: 10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s, err := db.GetStory("the-brave-little-owl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil {
		t.Fatal("expected story")
	}
	if s.Title != "The Brave Little Owl" {
		t.Errorf("expected title, got %q", s.Title)
	}
	if s.Premise == nil || *s.Premise != "An owl learns to fly at night" {
		t.Errorf("unexpected premise %v", s.Premise)
	}
	if s.SegmentCount != 10 {
		t.Errorf("expected 10 segments, got %d", s.SegmentCount)
	}
}

func TestUpsertStoryUpdatesAndKeepsPremise(t *testing.T) {
	db := openTestDB(t)
	db.UpsertStory(Story{Slug: "owl", Title: "Owl", Premise: ptr("night flight"), Folder: "/a"})
	if err := db.UpsertStory(Story{Slug: "owl", Title: "Owl Again", Folder: "/b", DurationSeconds: 42.5, Fallbacks: 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s, _ := db.GetStory("owl")
	if s.Title != "Owl Again" || s.Folder != "/b" {
		t.Errorf("expected updated record, got %+v", s)
	}
	if s.Premise == nil || *s.Premise != "night flight" {
		t.Errorf("expected premise kept, got %v", s.Premise)
	}
	if s.DurationSeconds != 42.5 {
		t.Errorf("expected duration 42.5, got %v", s.DurationSeconds)
	}

	stories, err := db.ListStories()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stories) != 1 {
		t.Errorf("expected 1 story after upsert, got %d", len(stories))
	}
}

func TestGetStoryUnknown(t *testing.T) {
	db := openTestDB(t)
	s, err := db.GetStory("missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != nil {
		t.Errorf("expected nil, got %+v", s)
	}
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	id, err := db.StartRun("generate")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("expected uuid run id, got %q", id)
	}
	if err := db.FinishRun(id, 3, 2, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runs, err := db.GetRecentRuns(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	r := runs[0]
	if r.Kind != "generate" || r.Processed != 3 || r.Succeeded != 2 || r.Failed != 1 {
		t.Errorf("unexpected run %+v", r)
	}
	if r.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}
}

func TestRepairs(t *testing.T) {
	db := openTestDB(t)
	runID, _ := db.StartRun("repair")
	db.InsertRepair(runID, "owl", "timings")
	db.InsertRepair(runID, "owl", "image_2.png")
	db.InsertRepair(runID, "fox", "story_audio.mp3")

	repairs, err := db.GetRepairs("owl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repairs) != 2 {
		t.Fatalf("expected 2 repairs, got %d", len(repairs))
	}
	if repairs[0].Action != "timings" || repairs[1].Action != "image_2.png" {
		t.Errorf("unexpected order: %+v", repairs)
	}
	if repairs[0].RunID != runID {
		t.Errorf("expected run id %q, got %q", runID, repairs[0].RunID)
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	db.UpsertStory(Story{Slug: "a", Title: "A", Folder: "/a"})
	db.UpsertStory(Story{Slug: "b", Title: "B", Folder: "/b", Fallbacks: 1})
	runID, _ := db.StartRun("repair")
	db.InsertRepair(runID, "a", "story.txt")

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Stories != 2 {
		t.Errorf("expected 2 stories, got %d", stats.Stories)
	}
	if stats.StoriesWithFallbacks != 1 {
		t.Errorf("expected 1 story with fallbacks, got %d", stats.StoriesWithFallbacks)
	}
	if stats.Runs != 1 || stats.Repairs != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}
