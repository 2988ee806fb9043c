package models

import "time"

// BuildState is the derived lifecycle state of a build.
type BuildState string

const (
	BuildStateCreated    BuildState = "created"
	BuildStateRunning    BuildState = "running"
	BuildStateSuccessful BuildState = "successful"
	BuildStateSkipped    BuildState = "skipped"
	BuildStateFailed     BuildState = "failed"
)

// BuildConfig carries per-build configuration, most importantly the
// dependency pin map: for each dependency, the build id whose return
// value feeds this build. Pins are captured at build-creation time so
// later dependency rebuilds do not retroactively change a build's
// inputs.
type BuildConfig struct {
	DependencyBuilds map[string]int64 `json:"dependency_builds,omitempty"`
}

// Clone returns a copy of the build configuration.
func (c BuildConfig) Clone() BuildConfig {
	out := BuildConfig{}
	if c.DependencyBuilds != nil {
		out.DependencyBuilds = make(map[string]int64, len(c.DependencyBuilds))
		for k, v := range c.DependencyBuilds {
			out.DependencyBuilds[k] = v
		}
	}
	return out
}

// Build is one execution attempt of a job. Ids are assigned
// monotonically by storage. JobConfig is a frozen snapshot of the job
// at build-creation time and is immutable once the build exists.
type Build struct {
	ID        int64       `json:"id"`
	JobID     string      `json:"job_id"`
	StartTime *time.Time  `json:"start_time,omitempty"`
	EndTime   *time.Time  `json:"end_time,omitempty"`
	Started   bool        `json:"started"`
	Finished  bool        `json:"finished"`
	Success   bool        `json:"success"`
	Skipped   bool        `json:"skipped"`
	JobConfig *Job        `json:"job_config"`
	Config    BuildConfig `json:"build_config"`

	// Retval is present only on a successful, non-skipped build.
	Retval any `json:"retval,omitempty"`

	// Exception and ExceptionTrace are present only on failure.
	Exception      string `json:"exception,omitempty"`
	ExceptionTrace string `json:"exception_trace,omitempty"`
}

// State derives the lifecycle state from the boolean flags.
func (b *Build) State() BuildState {
	if !b.Started {
		return BuildStateCreated
	}
	if !b.Finished {
		return BuildStateRunning
	}
	if b.Success {
		if b.Skipped {
			return BuildStateSkipped
		}
		return BuildStateSuccessful
	}
	return BuildStateFailed
}

// Satisfied reports whether the build satisfies a dependent's "has a
// successful build" requirement. Skipped builds count: a skip is a
// successful no-op.
func (b *Build) Satisfied() bool {
	return b.Finished && b.Success
}

// Clone returns a deep copy of the build record.
func (b *Build) Clone() *Build {
	if b == nil {
		return nil
	}
	clone := *b
	if b.StartTime != nil {
		t := *b.StartTime
		clone.StartTime = &t
	}
	if b.EndTime != nil {
		t := *b.EndTime
		clone.EndTime = &t
	}
	clone.JobConfig = b.JobConfig.Clone()
	clone.Config = b.Config.Clone()
	clone.Retval = cloneValue(b.Retval)
	return &clone
}

// JobState is the derived status of a job, computed from its build
// history.
type JobState string

const (
	// JobStateNotBuilt means no finished build exists.
	JobStateNotBuilt JobState = "not_built"
	// JobStateRunning means a started, unfinished build exists and no
	// build has finished yet.
	JobStateRunning JobState = "running"
	// JobStateFailed means the latest finished build failed.
	JobStateFailed JobState = "failed"
	// JobStateSuccess means the latest finished build succeeded and is
	// not outdated.
	JobStateSuccess JobState = "success"
	// JobStateOutdated means a dependency has a successful build newer
	// than the job's latest successful build.
	JobStateOutdated JobState = "outdated"
)
