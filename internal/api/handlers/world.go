// Package handlers serves the read side of the world model and the
// verification trigger over HTTP.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/Harshitk-cp/reconledger/internal/service"
	"github.com/go-chi/chi/v5"
)

const (
	defaultClaimLimit = 50
	maxClaimLimit     = 1000
)

// WorldHandler exposes snapshot, stats, claims and the target model.
type WorldHandler struct {
	orch *service.Orchestrator
}

// NewWorldHandler creates a new WorldHandler.
func NewWorldHandler(orch *service.Orchestrator) *WorldHandler {
	return &WorldHandler{orch: orch}
}

type claimView struct {
	*domain.Claim
	Expectation float64 `json:"expectation"`
	Controversy float64 `json:"controversy"`
}

func viewClaim(c *domain.Claim) claimView {
	return claimView{
		Claim:       c,
		Expectation: service.ExpectedProbability(c.Opinion),
		Controversy: service.Controversy(c.Opinion),
	}
}

// State returns the full world-model snapshot.
func (h *WorldHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.ExportState())
}

// Stats handles GET /stats.
func (h *WorldHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Stats(r.Context()))
}

// Model handles GET /model, optionally filtered by ?type=.
func (h *WorldHandler) Model(w http.ResponseWriter, r *http.Request) {
	if t := r.URL.Query().Get("type"); t != "" {
		if !domain.ValidEntityType(t) {
			writeError(w, http.StatusBadRequest, "unknown entity type")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"entities": h.orch.Model().Entities(domain.EntityType(t)),
		})
		return
	}
	writeJSON(w, http.StatusOK, h.orch.Model().Export())
}

// Claims lists claims. filter=uncertain|controversial ranks them; without a
// filter the most recent claims come first.
func (h *WorldHandler) Claims(w http.ResponseWriter, r *http.Request) {
	n := defaultClaimLimit
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = min(v, maxClaimLimit)
	}

	ledger := h.orch.Ledger()
	var claims []*domain.Claim
	switch filter := r.URL.Query().Get("filter"); filter {
	case "":
		claims = ledger.RecentClaims(n)
	case "uncertain":
		claims = ledger.HighUncertaintyClaims(n)
	case "controversial":
		claims = ledger.ControversialClaims(n)
	default:
		writeError(w, http.StatusBadRequest, "filter must be uncertain or controversial")
		return
	}

	views := make([]claimView, len(claims))
	for i, c := range claims {
		views[i] = viewClaim(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": views, "count": len(views)})
}

// Claim handles GET /claims/{id}.
func (h *WorldHandler) Claim(w http.ResponseWriter, r *http.Request) {
	c, ok := h.orch.Ledger().GetClaim(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "claim not found")
		return
	}
	writeJSON(w, http.StatusOK, viewClaim(c))
}
