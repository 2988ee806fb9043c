package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// retvalKey tags dependency return-value placeholders in serialized
// job snapshots, so deserialization can tell them apart from ordinary
// mappings.
const retvalKey = "$retval"

// Retval is the typed placeholder for "the return value of dependency
// <JobID>", as written in job configuration (`!retval <job>`). It
// lives on the model so build snapshots can revive it after a JSON
// round trip through storage.
type Retval struct {
	JobID string
}

func (r Retval) String() string {
	return fmt.Sprintf("Retval(%q)", r.JobID)
}

// MarshalJSON serializes the placeholder as a tagged envelope.
func (r Retval) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{retvalKey: r.JobID})
}

// UnmarshalJSON restores a placeholder from its tagged envelope.
func (r *Retval) UnmarshalJSON(data []byte) error {
	var envelope map[string]string
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	id, ok := envelope[retvalKey]
	if !ok || len(envelope) != 1 {
		return fmt.Errorf("not a %q envelope", retvalKey)
	}
	r.JobID = id
	return nil
}

// UnmarshalJSON restores a job snapshot from storage. Args and kwargs
// are revived structurally: tagged envelopes become Retval
// placeholders again, and integral numbers come back as int rather
// than float64, matching what configuration parsing produces.
func (j *Job) UnmarshalJSON(data []byte) error {
	type plain Job
	var p plain

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return err
	}

	*j = Job(p)
	if revived, ok := reviveValue(j.Args).([]any); ok {
		j.Args = revived
	}
	if revived, ok := reviveValue(j.Kwargs).(map[string]any); ok {
		j.Kwargs = revived
	}
	return nil
}

// reviveValue undoes the type erasure of a JSON round trip on argument
// structures.
func reviveValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := strconv.ParseInt(string(val), 10, 64); err == nil {
			return int(n)
		}
		f, _ := val.Float64()
		return f

	case []any:
		for i, item := range val {
			val[i] = reviveValue(item)
		}
		return val

	case map[string]any:
		if id, ok := retvalEnvelope(val); ok {
			return Retval{JobID: id}
		}
		for k, item := range val {
			val[k] = reviveValue(item)
		}
		return val

	default:
		return v
	}
}

func retvalEnvelope(m map[string]any) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	id, ok := m[retvalKey].(string)
	return id, ok
}
