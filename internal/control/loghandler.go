package control

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jobforge/jobforge/internal/models"
	"github.com/jobforge/jobforge/internal/runctx"
	"github.com/jobforge/jobforge/internal/store"
)

// BuildLogHandler is a slog.Handler that persists records emitted
// during a build. The build is identified through the execution
// context carried on the record's context; records logged outside an
// active build are dropped.
type BuildLogHandler struct {
	storage  store.Storage
	minLevel slog.Level
	attrs    []slog.Attr
	groups   []string
}

var _ slog.Handler = (*BuildLogHandler)(nil)

// NewBuildLogHandler creates a handler writing to the given storage.
// All levels are persisted; retention is applied separately by
// PruneLogs.
func NewBuildLogHandler(storage store.Storage) *BuildLogHandler {
	return &BuildLogHandler{storage: storage, minLevel: slog.LevelDebug}
}

func (h *BuildLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

func (h *BuildLogHandler) Handle(ctx context.Context, rec slog.Record) error {
	exec, err := runctx.FromContext(ctx)
	if err != nil {
		return nil
	}

	attrs := make(map[string]string, rec.NumAttrs()+len(h.attrs))
	var errorTrace string
	collect := func(a slog.Attr) {
		key := h.attrKey(a.Key)
		if e, ok := a.Value.Any().(error); ok {
			errorTrace = fmt.Sprintf("%+v", e)
			attrs[key] = e.Error()
			return
		}
		attrs[key] = a.Value.String()
	}
	for _, a := range h.attrs {
		collect(a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		collect(a)
		return true
	})

	entry := &models.LogEntry{
		ID:         uuid.New().String(),
		BuildID:    exec.BuildID,
		JobID:      exec.JobID,
		Timestamp:  rec.Time,
		Level:      rec.Level,
		Message:    rec.Message,
		Attrs:      attrs,
		ErrorTrace: errorTrace,
	}
	return h.storage.LogMessage(ctx, entry)
}

func (h *BuildLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *BuildLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}

func (h *BuildLogHandler) attrKey(key string) string {
	if len(h.groups) == 0 {
		return key
	}
	return strings.Join(h.groups, ".") + "." + key
}

const day = 24 * time.Hour

// DefaultLogRetention maps log levels to how long records at that
// level are kept. Lower levels age out sooner.
var DefaultLogRetention = map[slog.Level]time.Duration{
	slog.LevelDebug: 15 * day,
	slog.LevelInfo:  30 * day,
	slog.LevelWarn:  90 * day,
	slog.LevelError: 180 * day,
}

// maxLogRetention caps retention for every level, whatever the policy
// says.
const maxLogRetention = 365 * day

// PruneLogs deletes build log records older than the retention policy
// allows. A nil policy applies DefaultLogRetention.
func (c *Control) PruneLogs(ctx context.Context, policy map[slog.Level]time.Duration) error {
	if policy == nil {
		policy = DefaultLogRetention
	}

	for level, maxAge := range policy {
		if maxAge > maxLogRetention {
			maxAge = maxLogRetention
		}
		lvl := level
		err := c.storage.PruneLogMessages(ctx, store.LogPruneFilters{
			MaxAge: maxAge,
			Level:  &lvl,
		})
		if err != nil {
			return fmt.Errorf("pruning logs at level %s: %w", level, err)
		}
	}

	// Anything the per-level policy missed still ages out eventually.
	if err := c.storage.PruneLogMessages(ctx, store.LogPruneFilters{MaxAge: maxLogRetention}); err != nil {
		return fmt.Errorf("pruning logs past maximum retention: %w", err)
	}
	return nil
}
