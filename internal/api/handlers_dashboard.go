package api

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/persona-segmentation/internal/domain"
	"github.com/ignite/persona-segmentation/internal/pkg/httputil"
	"github.com/ignite/persona-segmentation/internal/service/stats"
)

// DashboardStats returns customer and message totals.
//
//	GET /dashboard/stats
func (h *Handlers) DashboardStats(w http.ResponseWriter, r *http.Request) {
	totals, err := h.Stats.Totals(r.Context())
	if err != nil {
		httputil.InternalError(w, "Failed to fetch dashboard stats", err)
		return
	}
	httputil.OK(w, struct {
		Success bool `json:"success"`
		*stats.Totals
	}{true, totals})
}

// CustomerCounts returns the customer count of every segment.
//
//	GET /segments/customer-counts
func (h *Handlers) CustomerCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Stats.SegmentCounts(r.Context())
	if err != nil {
		httputil.InternalError(w, "Failed to fetch customer counts", err)
		return
	}
	httputil.OK(w, struct {
		Success bool `json:"success"`
		*stats.Counts
	}{true, counts})
}

// TestCount runs every count method against one segment.
//
//	GET /test-count/{segment}
func (h *Handlers) TestCount(w http.ResponseWriter, r *http.Request) {
	segment, err := url.PathUnescape(chi.URLParam(r, "segment"))
	if err != nil {
		httputil.BadRequest(w, "invalid segment name")
		return
	}

	probe, err := h.Stats.ProbeSegment(r.Context(), domain.Persona(segment))
	if errors.Is(err, stats.ErrUnknownSegment) {
		httputil.JSON(w, http.StatusNotFound, map[string]interface{}{
			"detail":             "Segment '" + segment + "' not found",
			"available_segments": h.Stats.AvailableSegments(),
		})
		return
	}
	if err != nil {
		httputil.InternalError(w, "Failed to count segment", err)
		return
	}
	httputil.OK(w, probe)
}
