package handlers

import (
	"log/slog"
	"net/http"

	"github.com/jobforge/jobforge/internal/registry"
)

// FunctionHandler serves the names of the registered job functions, so
// clients can discover valid function references when defining jobs.
type FunctionHandler struct {
	functions registry.Lister
	logger    *slog.Logger
}

// NewFunctionHandler creates a function handler.
func NewFunctionHandler(functions registry.Lister, logger *slog.Logger) *FunctionHandler {
	return &FunctionHandler{functions: functions, logger: logger}
}

// List handles GET /v1/functions. An optional prefix query parameter
// narrows the result to matching names.
func (h *FunctionHandler) List(w http.ResponseWriter, r *http.Request) {
	var names []string
	if prefix := r.URL.Query().Get("prefix"); prefix != "" {
		names = h.functions.Autocomplete(prefix)
	} else {
		names = h.functions.Names()
	}
	if names == nil {
		names = []string{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{"functions": names})
}
