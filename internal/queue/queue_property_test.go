package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genTime generates a random time truncated to second precision for
// JSON compatibility.
func genTime() gopter.Gen {
	return gen.Int64Range(0, 2000000000).Map(func(secs int64) time.Time {
		return time.Unix(secs, 0).UTC()
	})
}

// genBuildRequest generates a random BuildRequest.
func genBuildRequest() gopter.Gen {
	return gopter.CombineGens(
		gen.Identifier(),                          // ID
		gen.Identifier(),                          // JobID
		gen.OneConstOf("", "required", "build"),   // DependencyPolicy
		gen.Bool(),                                // BuildDependents
		genTime(),                                 // CreatedAt
	).Map(func(vals []interface{}) BuildRequest {
		return BuildRequest{
			ID:               vals[0].(string),
			JobID:            vals[1].(string),
			DependencyPolicy: vals[2].(string),
			BuildDependents:  vals[3].(bool),
			CreatedAt:        vals[4].(time.Time),
		}
	})
}

// TestBuildRequestJSONRoundTrip verifies that the serialization used
// by the queue backends preserves every field.
func TestBuildRequestJSONRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("BuildRequest JSON round-trip preserves data", prop.ForAll(
		func(original BuildRequest) bool {
			data, err := json.Marshal(original)
			if err != nil {
				return false
			}

			var restored BuildRequest
			if err := json.Unmarshal(data, &restored); err != nil {
				return false
			}
			return restored == original
		},
		genBuildRequest(),
	))

	properties.TestingRun(t)
}

func TestNewBuildRequestDefaults(t *testing.T) {
	req := NewBuildRequest("job-a")
	if req.ID == "" {
		t.Error("request must get a fresh id")
	}
	if req.JobID != "job-a" {
		t.Errorf("job id = %q, want job-a", req.JobID)
	}
	if req.CreatedAt.IsZero() {
		t.Error("created_at must be set")
	}
	if other := NewBuildRequest("job-a"); other.ID == req.ID {
		t.Error("ids must be unique per request")
	}
}
