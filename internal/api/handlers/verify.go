package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/Harshitk-cp/reconledger/internal/service"
	"go.uber.org/zap"
)

type VerifyHandler struct {
	ledger   *service.Ledger
	verifier *service.ReactiveVerifier
	logger   *zap.Logger
}

// NewVerifyHandler creates a new VerifyHandler.
func NewVerifyHandler(ledger *service.Ledger, verifier *service.ReactiveVerifier, logger *zap.Logger) *VerifyHandler {
	return &VerifyHandler{ledger: ledger, verifier: verifier, logger: logger}
}

type verifyRequest struct {
	ClaimIDs []string `json:"claim_ids,omitempty"`
	Priority string   `json:"priority,omitempty"` // "normal" (default) or "high"
	Limit    int      `json:"limit,omitempty"`
	Wait     bool     `json:"wait,omitempty"`
}

type verifyResponse struct {
	Enqueued    []string               `json:"enqueued"`
	Skipped     []string               `json:"skipped"`
	QueueLength int                    `json:"queue_length"`
	Stats       *service.VerifierStats `json:"stats,omitempty"`
}

// Verify enqueues claims for active verification. Without claim_ids every
// high-uncertainty claim that qualifies is queued. wait=true drains the
// queue before responding.
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		writeError(w, http.StatusServiceUnavailable, "verifier not configured")
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	priority := service.PriorityNormal
	switch req.Priority {
	case "", "normal":
	case "high":
		priority = service.PriorityHigh
	default:
		writeError(w, http.StatusBadRequest, "priority must be normal or high")
		return
	}

	var candidates []*domain.Claim
	if len(req.ClaimIDs) > 0 {
		for _, id := range req.ClaimIDs {
			c, ok := h.ledger.GetClaim(id)
			if !ok {
				writeError(w, http.StatusNotFound, "claim not found: "+id)
				return
			}
			candidates = append(candidates, c)
		}
	} else {
		candidates = h.ledger.HighUncertaintyClaims(req.Limit)
	}

	resp := verifyResponse{Enqueued: []string{}, Skipped: []string{}}
	for _, c := range candidates {
		if h.verifier.ShouldVerify(c) && h.verifier.Enqueue(c, priority) {
			resp.Enqueued = append(resp.Enqueued, c.ID)
		} else {
			resp.Skipped = append(resp.Skipped, c.ID)
		}
	}

	if req.Wait {
		if err := h.verifier.Drain(r.Context()); err != nil {
			h.logger.Warn("verification drain interrupted", zap.Error(err))
			writeError(w, http.StatusGatewayTimeout, "verification interrupted")
			return
		}
		stats := h.verifier.Stats()
		resp.Stats = &stats
	}

	resp.QueueLength = h.verifier.QueueLength()
	h.logger.Info("verification requested",
		zap.Int("enqueued", len(resp.Enqueued)),
		zap.Int("skipped", len(resp.Skipped)),
		zap.Bool("wait", req.Wait),
	)
	writeJSON(w, http.StatusAccepted, resp)
}
