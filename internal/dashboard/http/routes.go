// Package dashboardhttp exposes KPI snapshots over HTTP.
package dashboardhttp

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chai-vision/chai-vision/internal/platform/httpx"
	"github.com/chai-vision/chai-vision/internal/shared"
)

// MountRoutes registers the KPI endpoints. The caller guards the group with
// dashboard.view; export additionally needs dashboard.export.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Get("/", h.handleKPIs)
	r.Get("/skus", h.handleSKUs)
	r.Group(func(gr chi.Router) {
		gr.Use(httpx.RateLimit(10, time.Minute))
		if h.guard != nil {
			gr.Use(h.guard(shared.PermDashboardExport))
		}
		gr.Get("/export.csv", h.handleCSV)
	})
}
