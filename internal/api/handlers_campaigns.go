package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/persona-segmentation/internal/domain"
	"github.com/ignite/persona-segmentation/internal/outreach"
	"github.com/ignite/persona-segmentation/internal/pkg/httputil"
	"github.com/ignite/persona-segmentation/internal/pkg/logger"
	"github.com/ignite/persona-segmentation/internal/routing"
	"github.com/ignite/persona-segmentation/internal/service/campaign"
	"github.com/ignite/persona-segmentation/internal/workflow"
)

// StartCampaign logs a new running campaign.
//
//	POST /campaigns/start
func (h *Handlers) StartCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.StartInput
	if !httputil.Decode(w, r, &in) {
		return
	}

	res, err := h.Campaigns.Start(r.Context(), in)
	var serr *campaign.StartError
	switch {
	case errors.As(err, &serr):
		httputil.BadRequest(w, startErrorDetail(serr))
		return
	case errors.Is(err, campaign.ErrStoreUnavailable):
		logger.Error("campaign start not persisted", "error", err)
		httputil.ServiceUnavailable(w, "Failed to start campaign: campaign log is unavailable")
		return
	case err != nil:
		httputil.InternalError(w, "Failed to start campaign", err)
		return
	}

	httputil.OK(w, map[string]interface{}{
		"success":        true,
		"campaign_id":    res.Campaign.CampaignID,
		"message":        "Campaign started successfully",
		"data":           res.Campaign,
		"count_degraded": res.CountDegraded,
	})
}

func startErrorDetail(e *campaign.StartError) string {
	switch {
	case errors.Is(e, campaign.ErrMissingField):
		return e.Field + " is required"
	case errors.Is(e, campaign.ErrUnknownSegment):
		return fmt.Sprintf("Unknown segment: %q", e.Segment)
	default:
		return e.Error()
	}
}

// completeRequest is the workflow engine's completion notification.
// started_at is parsed leniently since senders disagree on the format.
type completeRequest struct {
	CampaignID     string   `json:"campaign_id"`
	CampaignName   string   `json:"campaign_name"`
	SegmentName    string   `json:"segment_name"`
	Segment        string   `json:"segment"`
	ProductName    *string  `json:"product_name"`
	EmailsSent     *int     `json:"emails_sent"`
	TotalCustomers *int     `json:"total_customers"`
	SuccessRate    *float64 `json:"success_rate"`
	StartedAt      string   `json:"started_at"`
}

var startedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseStartedAt(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range startedAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// CampaignSuccess marks a campaign completed. It answers 200 even when the
// completion could not be stored; outcome.persisted says whether it was.
//
//	POST /campaign-success
func (h *Handlers) CampaignSuccess(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.CampaignID) == "" {
		httputil.BadRequest(w, "campaign_id is required")
		return
	}

	startedAt := parseStartedAt(req.StartedAt)
	if req.StartedAt != "" && startedAt == nil {
		logger.Warn("ignoring unparseable started_at", "campaign_id", req.CampaignID, "started_at", req.StartedAt)
	}

	out, err := h.Campaigns.Complete(r.Context(), campaign.CompleteInput{
		CampaignID:     req.CampaignID,
		CampaignName:   req.CampaignName,
		SegmentName:    req.SegmentName,
		Segment:        req.Segment,
		ProductName:    req.ProductName,
		EmailsSent:     req.EmailsSent,
		TotalCustomers: req.TotalCustomers,
		SuccessRate:    req.SuccessRate,
		StartedAt:      startedAt,
	})
	if errors.Is(err, campaign.ErrMissingField) {
		httputil.BadRequest(w, "campaign_id is required")
		return
	}
	if err != nil {
		httputil.InternalError(w, "Failed to process webhook", err)
		return
	}

	c := out.Campaign
	httputil.OK(w, map[string]interface{}{
		"status":      "success",
		"message":     "Campaign completion notification processed",
		"campaign_id": c.CampaignID,
		"updated_data": map[string]interface{}{
			"status":       c.Status,
			"completed_at": c.CompletedAt,
			"emails_sent":  c.EmailsSent,
			"success_rate": c.SuccessRate,
		},
		"outcome": out,
	})
}

// RecentCampaigns lists the latest campaigns.
//
//	GET /campaigns/recent?limit=N
func (h *Handlers) RecentCampaigns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	campaigns, err := h.Campaigns.Recent(r.Context(), limit)
	if err != nil {
		httputil.InternalError(w, "Failed to fetch campaigns", err)
		return
	}
	if campaigns == nil {
		campaigns = []domain.Campaign{}
	}
	httputil.OK(w, map[string]interface{}{
		"success":   true,
		"campaigns": campaigns,
		"total":     len(campaigns),
	})
}

// GetCampaign returns one campaign.
//
//	GET /campaigns/{campaignID}
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookupCampaign(w, r)
	if !ok {
		return
	}
	httputil.OK(w, map[string]interface{}{
		"success":  true,
		"campaign": c,
	})
}

func (h *Handlers) lookupCampaign(w http.ResponseWriter, r *http.Request) (*domain.Campaign, bool) {
	c, err := h.Campaigns.Get(r.Context(), chi.URLParam(r, "campaignID"))
	if errors.Is(err, campaign.ErrNotFound) {
		httputil.NotFound(w, "Campaign not found")
		return nil, false
	}
	if err != nil {
		httputil.InternalError(w, "Failed to fetch campaign", err)
		return nil, false
	}
	return c, true
}

type dispatchRequest struct {
	Limit int `json:"limit"`
}

// DispatchCampaign composes and sends a message to every customer of the
// campaign's segment.
//
//	POST /campaigns/{campaignID}/dispatch
func (h *Handlers) DispatchCampaign(w http.ResponseWriter, r *http.Request) {
	if h.Dispatcher == nil {
		httputil.ServiceUnavailable(w, "Message dispatch is not configured")
		return
	}

	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if req.Limit < 0 {
		httputil.BadRequest(w, "limit must not be negative")
		return
	}

	c, ok := h.lookupCampaign(w, r)
	if !ok {
		return
	}

	res, err := h.Dispatcher.Dispatch(r.Context(), c, req.Limit)
	switch {
	case errors.Is(err, outreach.ErrCampaignClosed):
		httputil.Error(w, http.StatusConflict, "Campaign is already completed")
		return
	case errors.Is(err, routing.ErrUnknownPersona):
		httputil.BadRequest(w, fmt.Sprintf("Unknown segment: %q", c.Segment))
		return
	case errors.Is(err, outreach.ErrNoOffer):
		httputil.Error(w, http.StatusUnprocessableEntity, fmt.Sprintf("No offer is configured for segment %q", c.Segment))
		return
	case errors.Is(err, routing.ErrStoreUnavailable):
		logger.Error("dispatch could not read segment", "campaign_id", c.CampaignID, "error", err)
		httputil.ServiceUnavailable(w, "Customer store is unavailable")
		return
	case err != nil:
		httputil.InternalError(w, "Failed to dispatch campaign", err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"success": true,
		"result":  res,
	})
}

// TriggerCampaign proxies a campaign trigger to the workflow engine.
//
//	POST /trigger-n8n-campaign
func (h *Handlers) TriggerCampaign(w http.ResponseWriter, r *http.Request) {
	if h.Trigger == nil {
		httputil.ServiceUnavailable(w, "Campaign trigger webhook is not configured")
		return
	}
	var payload json.RawMessage
	if !httputil.Decode(w, r, &payload) {
		return
	}

	resp, err := h.Trigger.Trigger(r.Context(), payload)
	var serr *workflow.StatusError
	switch {
	case errors.Is(err, workflow.ErrNotConfigured):
		httputil.ServiceUnavailable(w, "Campaign trigger webhook is not configured")
		return
	case errors.As(err, &serr):
		logger.Warn("campaign trigger rejected", "status", serr.StatusCode)
		httputil.Error(w, http.StatusBadGateway, fmt.Sprintf("n8n webhook failed: status %d: %s", serr.StatusCode, serr.Body))
		return
	case err != nil:
		logger.Error("campaign trigger failed", "error", err)
		httputil.Error(w, http.StatusBadGateway, "Failed to trigger n8n campaign")
		return
	}
	httputil.OK(w, map[string]interface{}{
		"success":      true,
		"message":      "Campaign triggered successfully",
		"n8n_response": resp,
	})
}
