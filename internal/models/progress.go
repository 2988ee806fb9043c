package models

// ProgressEntry is one progress report for a build, keyed by
// (build id, group path). An empty group path addresses the build's
// root progress. Re-reporting the same key replaces the prior entry.
type ProgressEntry struct {
	BuildID    int64    `json:"build_id"`
	GroupPath  []string `json:"group_path,omitempty"`
	Current    int      `json:"current"`
	Total      int      `json:"total"`
	StatusLine string   `json:"status_line,omitempty"`
}
