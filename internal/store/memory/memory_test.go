package memory

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jobforge/jobforge/internal/models"
	"github.com/jobforge/jobforge/internal/store"
)

func testJob(id string) *models.Job {
	return &models.Job{
		ID:       id,
		Function: "pkg.fn",
		Kwargs:   map[string]any{"key": "value"},
	}
}

func TestBuildLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, err := s.CreateBuild(ctx, "job-a", testJob("job-a"), models.BuildConfig{
		DependencyBuilds: map[string]int64{"dep": 5},
	})
	if err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}
	if id != 1 {
		t.Errorf("first build id = %d, want 1", id)
	}

	build, err := s.GetBuild(ctx, id)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if build.Started || build.Finished {
		t.Error("fresh build must be neither started nor finished")
	}
	if build.State() != models.BuildStateCreated {
		t.Errorf("state = %s, want created", build.State())
	}
	if build.Config.DependencyBuilds["dep"] != 5 {
		t.Errorf("pins not stored: %+v", build.Config)
	}

	if err := s.StartBuild(ctx, id); err != nil {
		t.Fatalf("StartBuild: %v", err)
	}
	build, _ = s.GetBuild(ctx, id)
	if !build.Started || build.StartTime == nil {
		t.Error("started build must carry a start time")
	}
	if build.State() != models.BuildStateRunning {
		t.Errorf("state = %s, want running", build.State())
	}

	err = s.FinishBuild(ctx, id, store.FinishResult{Success: true, Retval: "out"})
	if err != nil {
		t.Fatalf("FinishBuild: %v", err)
	}
	build, _ = s.GetBuild(ctx, id)
	if !build.Finished || build.EndTime == nil {
		t.Error("finished build must carry an end time")
	}
	if !build.Success || build.Retval != "out" {
		t.Errorf("build = %+v, want successful with retval out", build)
	}
	if build.State() != models.BuildStateSuccessful {
		t.Errorf("state = %s, want successful", build.State())
	}
}

func TestGetBuildNotFound(t *testing.T) {
	s := New()
	_, err := s.GetBuild(context.Background(), 99)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSnapshotImmutability(t *testing.T) {
	ctx := context.Background()
	s := New()

	job := testJob("job-a")
	id, _ := s.CreateBuild(ctx, "job-a", job, models.BuildConfig{})

	// Mutations after creation must not leak into the snapshot.
	job.Kwargs["key"] = "changed"

	build, _ := s.GetBuild(ctx, id)
	if build.JobConfig.Kwargs["key"] != "value" {
		t.Error("snapshot shares state with the caller's job")
	}

	// Mutations of a returned build must not leak into the store.
	build.JobConfig.Kwargs["key"] = "tampered"
	again, _ := s.GetBuild(ctx, id)
	if again.JobConfig.Kwargs["key"] != "value" {
		t.Error("returned build shares state with the store")
	}
}

func TestGetJobBuildsFiltersOrderLimit(t *testing.T) {
	ctx := context.Background()
	s := New()

	// Three builds: failed, successful, skipped-successful.
	id1, _ := s.CreateBuild(ctx, "job-a", testJob("job-a"), models.BuildConfig{})
	s.StartBuild(ctx, id1)
	s.FinishBuild(ctx, id1, store.FinishResult{Exception: "boom"})

	id2, _ := s.CreateBuild(ctx, "job-a", testJob("job-a"), models.BuildConfig{})
	s.StartBuild(ctx, id2)
	s.FinishBuild(ctx, id2, store.FinishResult{Success: true})

	id3, _ := s.CreateBuild(ctx, "job-a", testJob("job-a"), models.BuildConfig{})
	s.StartBuild(ctx, id3)
	s.FinishBuild(ctx, id3, store.FinishResult{Success: true, Skipped: true})

	// A build of another job never matches.
	s.CreateBuild(ctx, "job-b", testJob("job-b"), models.BuildConfig{})

	all, err := s.GetJobBuilds(ctx, "job-a", store.BuildFilters{}, store.OrderAsc, 0)
	if err != nil {
		t.Fatalf("GetJobBuilds: %v", err)
	}
	if len(all) != 3 || all[0].ID != id1 || all[2].ID != id3 {
		t.Errorf("ascending ids = %v", buildIDs(all))
	}

	desc, _ := s.GetJobBuilds(ctx, "job-a", store.BuildFilters{}, store.OrderDesc, 2)
	if len(desc) != 2 || desc[0].ID != id3 || desc[1].ID != id2 {
		t.Errorf("descending limited ids = %v", buildIDs(desc))
	}

	failed, _ := s.GetJobBuilds(ctx, "job-a",
		store.BuildFilters{Success: store.Bool(false)}, store.OrderAsc, 0)
	if len(failed) != 1 || failed[0].ID != id1 {
		t.Errorf("failed ids = %v", buildIDs(failed))
	}

	skipped, _ := s.GetJobBuilds(ctx, "job-a",
		store.BuildFilters{Skipped: store.Bool(true)}, store.OrderAsc, 0)
	if len(skipped) != 1 || skipped[0].ID != id3 {
		t.Errorf("skipped ids = %v", buildIDs(skipped))
	}
}

func TestGetLatestSuccessfulBuildExcludesSkipped(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.GetLatestSuccessfulBuild(ctx, "job-a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	id1, _ := s.CreateBuild(ctx, "job-a", testJob("job-a"), models.BuildConfig{})
	s.StartBuild(ctx, id1)
	s.FinishBuild(ctx, id1, store.FinishResult{Success: true})

	// Newer but skipped: must not shadow the real build.
	id2, _ := s.CreateBuild(ctx, "job-a", testJob("job-a"), models.BuildConfig{})
	s.StartBuild(ctx, id2)
	s.FinishBuild(ctx, id2, store.FinishResult{Success: true, Skipped: true})

	latest, err := s.GetLatestSuccessfulBuild(ctx, "job-a")
	if err != nil {
		t.Fatalf("GetLatestSuccessfulBuild: %v", err)
	}
	if latest.ID != id1 {
		t.Errorf("latest = %d, want %d", latest.ID, id1)
	}
}

func TestDeleteBuildRemovesAttachedRecords(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, _ := s.CreateBuild(ctx, "job-a", testJob("job-a"), models.BuildConfig{})
	s.ReportBuildProgress(ctx, id, 1, 2, []string{"phase"}, "")
	s.LogMessage(ctx, &models.LogEntry{BuildID: id, Message: "m", Timestamp: time.Now()})

	if err := s.DeleteBuild(ctx, id); err != nil {
		t.Fatalf("DeleteBuild: %v", err)
	}

	if _, err := s.GetBuild(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Error("build still present after delete")
	}
	rows, _ := s.GetBuildProgress(ctx, id)
	if len(rows) != 0 {
		t.Error("progress still present after delete")
	}
	logs, _ := s.IterLogMessages(ctx, store.LogQuery{BuildID: &id})
	if len(logs) != 0 {
		t.Error("logs still present after delete")
	}
}

func TestReportBuildProgressUpserts(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, _ := s.CreateBuild(ctx, "job-a", testJob("job-a"), models.BuildConfig{})

	if err := s.ReportBuildProgress(ctx, 99, 1, 2, nil, ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown build, got %v", err)
	}

	s.ReportBuildProgress(ctx, id, 1, 10, []string{"fetch"}, "downloading")
	s.ReportBuildProgress(ctx, id, 7, 10, []string{"fetch"}, "almost there")
	s.ReportBuildProgress(ctx, id, 0, 5, []string{"convert"}, "")

	rows, err := s.GetBuildProgress(ctx, id)
	if err != nil {
		t.Fatalf("GetBuildProgress: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (same path must upsert)", len(rows))
	}

	var fetch *models.ProgressEntry
	for _, row := range rows {
		if len(row.GroupPath) == 1 && row.GroupPath[0] == "fetch" {
			fetch = row
		}
	}
	if fetch == nil {
		t.Fatal("missing fetch row")
	}
	if fetch.Current != 7 || fetch.StatusLine != "almost there" {
		t.Errorf("fetch row = %+v, want upserted values", fetch)
	}
}

func TestLogPruneAndIter(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, _ := s.CreateBuild(ctx, "job-a", testJob("job-a"), models.BuildConfig{})
	now := time.Now().UTC()

	add := func(age time.Duration, level slog.Level, msg string) {
		s.LogMessage(ctx, &models.LogEntry{
			BuildID:   id,
			JobID:     "job-a",
			Timestamp: now.Add(-age),
			Level:     level,
			Message:   msg,
		})
	}
	add(48*time.Hour, slog.LevelDebug, "old debug")
	add(48*time.Hour, slog.LevelError, "old error")
	add(time.Minute, slog.LevelDebug, "fresh debug")
	add(time.Minute, slog.LevelInfo, "fresh info")

	// Prune debug records older than a day; the old error and both
	// fresh records survive.
	debug := slog.LevelDebug
	err := s.PruneLogMessages(ctx, store.LogPruneFilters{MaxAge: 24 * time.Hour, Level: &debug})
	if err != nil {
		t.Fatalf("PruneLogMessages: %v", err)
	}

	entries, _ := s.IterLogMessages(ctx, store.LogQuery{BuildID: &id})
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	// Ordered by timestamp ascending.
	if entries[0].Message != "old error" {
		t.Errorf("first entry = %q, want old error", entries[0].Message)
	}

	info := slog.LevelInfo
	filtered, _ := s.IterLogMessages(ctx, store.LogQuery{BuildID: &id, MinLevel: &info})
	if len(filtered) != 2 {
		t.Errorf("min-level filtered = %d, want 2", len(filtered))
	}

	minDate := now.Add(-time.Hour)
	recent, _ := s.IterLogMessages(ctx, store.LogQuery{BuildID: &id, MinDate: &minDate})
	if len(recent) != 2 {
		t.Errorf("date filtered = %d, want 2", len(recent))
	}
}

func buildIDs(builds []*models.Build) []int64 {
	out := make([]int64, len(builds))
	for i, b := range builds {
		out[i] = b.ID
	}
	return out
}
