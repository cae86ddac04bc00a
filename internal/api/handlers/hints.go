package handlers

import (
	"net/http"
	"strconv"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/Harshitk-cp/reconledger/internal/service"
)

type HintHandler struct {
	metacog *service.MetaCognition
}

// NewHintHandler creates a new HintHandler. A nil metacog makes List answer 503.
func NewHintHandler(metacog *service.MetaCognition) *HintHandler {
	return &HintHandler{metacog: metacog}
}

// List returns active hints at or above min_severity (default info).
// refresh=true runs a fresh check first.
func (h *HintHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.metacog == nil {
		writeError(w, http.StatusServiceUnavailable, "metacognition not configured")
		return
	}

	minSeverity := domain.SeverityInfo
	if raw := r.URL.Query().Get("min_severity"); raw != "" {
		if err := minSeverity.UnmarshalText([]byte(raw)); err != nil {
			writeError(w, http.StatusBadRequest, "min_severity must be info, warning or critical")
			return
		}
	}
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		h.metacog.Check()
	}

	hints := h.metacog.ActiveHints(minSeverity)
	writeJSON(w, http.StatusOK, map[string]any{
		"hints": hints,
		"count": len(hints),
		"stats": h.metacog.Stats(),
	})
}
