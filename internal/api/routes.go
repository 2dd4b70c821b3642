package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, health *HealthChecker, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health and metrics
	if health != nil {
		r.Get("/health", health.HandleHealth)
		r.Get("/health/live", health.HandleLiveness)
		r.Get("/health/ready", health.HandleReadiness)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Segmentation
	r.Post("/segment-and-store", h.SegmentAndStore)
	r.Get("/batches/{batchID}", h.GetBatch)

	// Campaigns
	r.Post("/campaigns/start", h.StartCampaign)
	r.Post("/campaign-success", h.CampaignSuccess)
	r.Get("/campaigns/recent", h.RecentCampaigns)
	r.Get("/campaigns/{campaignID}", h.GetCampaign)
	r.Post("/campaigns/{campaignID}/dispatch", h.DispatchCampaign)
	r.Post("/trigger-n8n-campaign", h.TriggerCampaign)

	// Counts
	r.Get("/dashboard/stats", h.DashboardStats)
	r.Get("/segments/customer-counts", h.CustomerCounts)
	r.Get("/test-count/{segment}", h.TestCount)

	return r
}
