// Package progress aggregates flat per-build progress reports into a
// nested tree. A job may report progress for many independent named
// sub-phases; consumers get both fine-grained and roll-up numbers
// without the job author computing aggregates.
package progress

import "encoding/json"

// Entry is one flat progress report. A nil or empty Path addresses the
// root of the tree.
type Entry struct {
	Path       []string
	Current    int
	Total      int
	StatusLine string
}

// Report is a node in the aggregate progress tree. A node either
// carries an explicit (current, total) pair or derives it from the sum
// of its children.
type Report struct {
	Name       string
	StatusLine string
	Children   []*Report

	current *int
	total   *int
}

// New returns a report node with an explicit value.
func New(name string, current, total int, statusLine string) *Report {
	return &Report{
		Name:       name,
		StatusLine: statusLine,
		current:    &current,
		total:      &total,
	}
}

// NewGroup returns a report node without an explicit value; its
// current/total are the sum of its children.
func NewGroup(name string) *Report {
	return &Report{Name: name}
}

// Explicit reports whether the node carries its own value rather than
// aggregating its children.
func (r *Report) Explicit() bool {
	return r.current != nil
}

// Current returns the node's explicit current value, or the sum of its
// children's.
func (r *Report) Current() int {
	if r.current != nil {
		return *r.current
	}
	sum := 0
	for _, c := range r.Children {
		sum += c.Current()
	}
	return sum
}

// Total returns the node's explicit total value, or the sum of its
// children's.
func (r *Report) Total() int {
	if r.total != nil {
		return *r.total
	}
	sum := 0
	for _, c := range r.Children {
		sum += c.Total()
	}
	return sum
}

// Percent returns completion as a 0-100 value, or 0 when the total is
// unknown.
func (r *Report) Percent() float64 {
	total := r.Total()
	if total == 0 {
		return 0
	}
	return float64(r.Current()) * 100 / float64(total)
}

// Child returns the direct child with the given name, or nil.
func (r *Report) Child(name string) *Report {
	for _, c := range r.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// MarshalJSON serializes the node with its derived numbers, so
// consumers see aggregated values without re-walking the tree.
func (r *Report) MarshalJSON() ([]byte, error) {
	type wireReport struct {
		Name       string    `json:"name"`
		StatusLine string    `json:"status_line,omitempty"`
		Current    int       `json:"current"`
		Total      int       `json:"total"`
		Percent    float64   `json:"percent"`
		Children   []*Report `json:"children,omitempty"`
	}
	return json.Marshal(wireReport{
		Name:       r.Name,
		StatusLine: r.StatusLine,
		Current:    r.Current(),
		Total:      r.Total(),
		Percent:    r.Percent(),
		Children:   r.Children,
	})
}

// FromTable builds the aggregate tree from flat entries. The entry
// with an empty path becomes the root's own value; every distinct
// first path segment among the rest becomes a child node, built
// recursively from the entries with that segment stripped. First-seen
// segment order is preserved.
func FromTable(entries []Entry, baseName string) *Report {
	var root *Report

	var prefixes []string
	subTables := make(map[string][]Entry)

	for _, e := range entries {
		if len(e.Path) == 0 {
			root = New(baseName, e.Current, e.Total, e.StatusLine)
			continue
		}

		prefix := e.Path[0]
		if _, seen := subTables[prefix]; !seen {
			prefixes = append(prefixes, prefix)
		}
		subTables[prefix] = append(subTables[prefix], Entry{
			Path:       e.Path[1:],
			Current:    e.Current,
			Total:      e.Total,
			StatusLine: e.StatusLine,
		})
	}

	if root == nil {
		root = NewGroup(baseName)
	}

	for _, prefix := range prefixes {
		root.Children = append(root.Children, FromTable(subTables[prefix], prefix))
	}

	return root
}
