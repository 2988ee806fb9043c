// Package models defines the data model shared by the orchestration
// engine and its storage backends.
package models

// Job is a named, reusable build recipe: a function reference plus the
// arguments and dependency jobs it should be invoked with. Jobs are
// owned by the job configuration; the engine treats them as read-only.
type Job struct {
	ID              string         `yaml:"id" json:"id"`
	Function        string         `yaml:"function" json:"function"`
	Args            []any          `yaml:"args" json:"args,omitempty"`
	Kwargs          map[string]any `yaml:"kwargs" json:"kwargs,omitempty"`
	Dependencies    []string       `yaml:"dependencies" json:"dependencies,omitempty"`
	Title           string         `yaml:"title" json:"title,omitempty"`
	Notes           string         `yaml:"notes" json:"notes,omitempty"`
	CleanupFunction string         `yaml:"cleanup_function" json:"cleanup_function,omitempty"`
}

// HasDependency reports whether id is one of the job's declared
// dependencies.
func (j *Job) HasDependency(id string) bool {
	for _, dep := range j.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the job. Builds snapshot the job
// configuration at creation time, so the copy must not share mutable
// state with the original.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	clone.Args = cloneValueSlice(j.Args)
	clone.Kwargs = cloneValueMap(j.Kwargs)
	clone.Dependencies = append([]string(nil), j.Dependencies...)
	return &clone
}

func cloneValueSlice(vals []any) []any {
	if vals == nil {
		return nil
	}
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = cloneValue(v)
	}
	return out
}

func cloneValueMap(vals map[string]any) map[string]any {
	if vals == nil {
		return nil
	}
	out := make(map[string]any, len(vals))
	for k, v := range vals {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []any:
		return cloneValueSlice(val)
	case map[string]any:
		return cloneValueMap(val)
	case map[any]any:
		out := make(map[any]any, len(val))
		for k, item := range val {
			out[cloneValue(k)] = cloneValue(item)
		}
		return out
	default:
		// Scalars and placeholder values are immutable.
		return v
	}
}
