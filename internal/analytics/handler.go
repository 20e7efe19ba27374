package analytics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	apperrors "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/errors"
)

// endToEndHop selects the whole round trip in the hop query parameter.
const endToEndHop = "end_to_end"

type Handler struct {
	aggregator *Aggregator
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

// Latency serves GET /api/v1/latency. With ?hop=<name> only that hop's
// summary is returned.
func (h *Handler) Latency(w http.ResponseWriter, r *http.Request) {
	stats := h.aggregator.Stats()
	var body any = stats
	if hop := r.URL.Query().Get("hop"); hop != "" {
		hs, err := selectHop(stats, hop)
		if err != nil {
			apperrors.WriteJSON(w, err, err.Error())
			return
		}
		body = map[string]any{"hop": hop, "stats": hs}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to write latency response", "error", err)
	}
}

// selectHop accepts the pipeline hop names, end_to_end, and any hop seen in
// the window. Known hops without samples yield zero stats.
func selectHop(stats AggregatedStats, hop string) (HopStats, error) {
	if hop == endToEndHop {
		return stats.EndToEnd, nil
	}
	if hs, ok := stats.Hops[hop]; ok {
		return hs, nil
	}
	if slices.Contains(pipelineHops, hop) {
		return HopStats{}, nil
	}
	return HopStats{}, fmt.Errorf("%w: unknown hop %q", apperrors.ErrInvalidInput, hop)
}
