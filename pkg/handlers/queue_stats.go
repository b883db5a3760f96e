package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/dealmatch/matchengine/pkg/models"
	"github.com/dealmatch/matchengine/pkg/queue"
)

// QueueStatsResponse reports queue depth by status.
type QueueStatsResponse struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// QueueStatsHandler exposes queue depth for dashboards.
type QueueStatsHandler struct {
	queue  queue.Service
	logger *zap.Logger
}

func NewQueueStatsHandler(q queue.Service, logger *zap.Logger) *QueueStatsHandler {
	return &QueueStatsHandler{queue: q, logger: logger}
}

// RegisterRoutes registers the queue stats routes on the given mux.
func (h *QueueStatsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/queue/stats", h.Stats)
}

// Stats handles GET /queue/stats.
func (h *QueueStatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	depth, err := h.queue.Depth(r.Context())
	if err != nil {
		h.logger.Error("failed to read queue depth", zap.Error(err))
		http.Error(w, "failed to read queue depth", http.StatusInternalServerError)
		return
	}

	response := QueueStatsResponse{}
	for status, count := range depth {
		switch status {
		case models.QueueStatusPending:
			response.Pending = count
		case models.QueueStatusProcessing:
			response.Processing = count
		case models.QueueStatusCompleted:
			response.Completed = count
		case models.QueueStatusFailed:
			response.Failed = count
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Warn("failed to encode queue stats", zap.Error(err))
	}
}
