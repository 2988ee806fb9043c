package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBuildState(t *testing.T) {
	tests := []struct {
		name  string
		build Build
		want  BuildState
	}{
		{"created", Build{}, BuildStateCreated},
		{"running", Build{Started: true}, BuildStateRunning},
		{"successful", Build{Started: true, Finished: true, Success: true}, BuildStateSuccessful},
		{"skipped", Build{Started: true, Finished: true, Success: true, Skipped: true}, BuildStateSkipped},
		{"failed", Build{Started: true, Finished: true}, BuildStateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.build.State(); got != tt.want {
				t.Errorf("State() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildSatisfied(t *testing.T) {
	successful := Build{Started: true, Finished: true, Success: true}
	if !successful.Satisfied() {
		t.Error("successful build must satisfy")
	}

	skipped := Build{Started: true, Finished: true, Success: true, Skipped: true}
	if !skipped.Satisfied() {
		t.Error("skipped build must satisfy")
	}

	failed := Build{Started: true, Finished: true}
	if failed.Satisfied() {
		t.Error("failed build must not satisfy")
	}

	running := Build{Started: true}
	if running.Satisfied() {
		t.Error("unfinished build must not satisfy")
	}
}

func TestJobCloneIsDeep(t *testing.T) {
	job := &Job{
		ID:           "crawl",
		Function:     "pkg.crawl",
		Args:         []any{"seed", []any{1, 2}},
		Kwargs:       map[string]any{"opts": map[string]any{"depth": 3}},
		Dependencies: []string{"seed-list"},
	}

	clone := job.Clone()
	clone.Args[1].([]any)[0] = 99
	clone.Kwargs["opts"].(map[string]any)["depth"] = 0
	clone.Dependencies[0] = "other"

	if job.Args[1].([]any)[0] != 1 {
		t.Error("nested args shared between clone and original")
	}
	if job.Kwargs["opts"].(map[string]any)["depth"] != 3 {
		t.Error("nested kwargs shared between clone and original")
	}
	if job.Dependencies[0] != "seed-list" {
		t.Error("dependency slice shared between clone and original")
	}
}

func TestJobJSONRoundTripRevivesArguments(t *testing.T) {
	job := &Job{
		ID:           "process",
		Function:     "pkg.process",
		Args:         []any{Retval{JobID: "crawl"}, 3, "label"},
		Kwargs:       map[string]any{"opts": map[string]any{"pages": Retval{JobID: "crawl"}, "ratio": 0.5}},
		Dependencies: []string{"crawl"},
	}

	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Job
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if ref, ok := got.Args[0].(Retval); !ok || ref.JobID != "crawl" {
		t.Errorf("Args[0] = %#v, want the crawl placeholder", got.Args[0])
	}
	if n, ok := got.Args[1].(int); !ok || n != 3 {
		t.Errorf("Args[1] = %#v (%T), want int 3", got.Args[1], got.Args[1])
	}
	if got.Args[2] != "label" {
		t.Errorf("Args[2] = %#v, want label", got.Args[2])
	}

	opts, ok := got.Kwargs["opts"].(map[string]any)
	if !ok {
		t.Fatalf("Kwargs[opts] = %#v, want a mapping", got.Kwargs["opts"])
	}
	if ref, ok := opts["pages"].(Retval); !ok || ref.JobID != "crawl" {
		t.Errorf("nested placeholder = %#v, want the crawl placeholder", opts["pages"])
	}
	if ratio, ok := opts["ratio"].(float64); !ok || ratio != 0.5 {
		t.Errorf("ratio = %#v (%T), want float64 0.5", opts["ratio"], opts["ratio"])
	}
}

func TestJobJSONRoundTripKeepsPlainMappings(t *testing.T) {
	job := &Job{
		ID:       "report",
		Function: "pkg.report",
		Kwargs:   map[string]any{"fields": map[string]any{"a": 1, "b": 2}},
	}

	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Job
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	fields, ok := got.Kwargs["fields"].(map[string]any)
	if !ok {
		t.Fatalf("fields = %#v, want a mapping", got.Kwargs["fields"])
	}
	if fields["a"] != 1 || fields["b"] != 2 {
		t.Errorf("fields = %#v, want ints 1 and 2", fields)
	}
}

func TestBuildCloneIsDeep(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	build := &Build{
		ID:        5,
		JobID:     "crawl",
		Started:   true,
		StartTime: &start,
		JobConfig: &Job{ID: "crawl", Function: "pkg.crawl"},
		Config:    BuildConfig{DependencyBuilds: map[string]int64{"seed-list": 2}},
		Retval:    map[string]any{"pages": 10},
	}

	clone := build.Clone()
	*clone.StartTime = clone.StartTime.Add(time.Hour)
	clone.JobConfig.Function = "pkg.other"
	clone.Config.DependencyBuilds["seed-list"] = 9
	clone.Retval.(map[string]any)["pages"] = 0

	if !build.StartTime.Equal(start) {
		t.Error("start time shared between clone and original")
	}
	if build.JobConfig.Function != "pkg.crawl" {
		t.Error("job snapshot shared between clone and original")
	}
	if build.Config.DependencyBuilds["seed-list"] != 2 {
		t.Error("pin map shared between clone and original")
	}
	if build.Retval.(map[string]any)["pages"] != 10 {
		t.Error("retval shared between clone and original")
	}
}
