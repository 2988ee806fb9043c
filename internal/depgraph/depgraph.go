// Package depgraph resolves job dependency graphs into a deterministic
// build order.
//
// The graph is an adjacency mapping of job id to its direct
// dependencies. Ordering is by maximum distance from the root: the
// same job may be reachable through paths of different lengths, and
// taking the maximum depth guarantees a job is never scheduled before
// anything that depends on it transitively.
package depgraph

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError is returned when the dependency graph contains a loop
// reachable from the root. Trail holds the path that closed the loop,
// for diagnostics.
type CycleError struct {
	Trail []string
	Dest  string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s -> %s",
		strings.Join(e.Trail, " -> "), e.Dest)
}

// Vertex pairs a discovered job id with its maximum distance from the
// root.
type Vertex struct {
	ID       string
	Distance int
}

// Resolve returns every vertex reachable from start, ordered so that
// dependencies come before their dependents. Vertices missing from the
// graph are treated as having no dependencies. Fails with *CycleError
// if a loop is reachable from start.
func Resolve(graph map[string][]string, start string) ([]string, error) {
	vertices, err := ResolveWithDistances(graph, start)
	if err != nil {
		return nil, err
	}
	order := make([]string, len(vertices))
	for i, v := range vertices {
		order[i] = v.ID
	}
	return order, nil
}

// ResolveWithDistances is Resolve, returning the distance ranking
// alongside each vertex.
func ResolveWithDistances(graph map[string][]string, start string) ([]Vertex, error) {
	distances := map[string]int{start: 0}

	var explore func(vertex string, trail []string, onTrail map[string]bool) error
	explore = func(vertex string, trail []string, onTrail map[string]bool) error {
		for _, dest := range graph[vertex] {
			if onTrail[dest] {
				return &CycleError{Trail: append([]string(nil), trail...), Dest: dest}
			}

			// Keep the deepest level at which this vertex was reached.
			if d, ok := distances[dest]; !ok || len(trail) > d {
				distances[dest] = len(trail)
			}

			onTrail[dest] = true
			err := explore(dest, append(trail, dest), onTrail)
			delete(onTrail, dest)
			if err != nil {
				return err
			}
		}
		return nil
	}

	if err := explore(start, []string{start}, map[string]bool{start: true}); err != nil {
		return nil, err
	}

	vertices := make([]Vertex, 0, len(distances))
	for id, dist := range distances {
		vertices = append(vertices, Vertex{ID: id, Distance: dist})
	}

	// Descending by (distance, id): deeper dependencies first, ties
	// broken by id so repeated calls yield the same order.
	sort.Slice(vertices, func(i, j int) bool {
		if vertices[i].Distance != vertices[j].Distance {
			return vertices[i].Distance > vertices[j].Distance
		}
		return vertices[i].ID > vertices[j].ID
	})

	return vertices, nil
}
