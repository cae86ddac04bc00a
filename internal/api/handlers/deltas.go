package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/Harshitk-cp/reconledger/internal/service"
	"go.uber.org/zap"
)

const (
	deltaBuffer       = 256
	heartbeatInterval = 15 * time.Second
)

// DeltaHandler streams orchestrator deltas as server-sent events.
type DeltaHandler struct {
	bus       *service.DeltaBus
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewDeltaHandler creates a new DeltaHandler.
func NewDeltaHandler(bus *service.DeltaBus, logger *zap.Logger) *DeltaHandler {
	return &DeltaHandler{bus: bus, heartbeat: heartbeatInterval, logger: logger}
}

// Stream writes one SSE event per delta. types=agent:start,delta:claim
// restricts the stream. A slow client loses deltas rather than stalling
// the bus.
func (h *DeltaHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var allow map[domain.DeltaType]bool
	if raw := r.URL.Query().Get("types"); raw != "" {
		allow = make(map[domain.DeltaType]bool)
		for _, t := range strings.Split(raw, ",") {
			allow[domain.DeltaType(strings.TrimSpace(t))] = true
		}
	}

	ch, cancel := h.bus.Subscribe(deltaBuffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case d, ok := <-ch:
			if !ok {
				return
			}
			if allow != nil && !allow[d.Type] {
				continue
			}
			data, err := json.Marshal(d)
			if err != nil {
				h.logger.Warn("failed to encode delta", zap.String("type", string(d.Type)), zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", d.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
