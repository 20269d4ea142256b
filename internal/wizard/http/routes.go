package wizardhttp

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/closeflow/internal/wizard"
)

// MountRoutes registers the request/response endpoints. timeout bounds each
// request; streams are mounted separately by MountStreams.
func (h *Handler) MountRoutes(r chi.Router, timeout time.Duration) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(10, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Group(func(r chi.Router) {
		if timeout > 0 {
			r.Use(middleware.Timeout(timeout))
		}
		r.Get("/state", h.handleState)
		r.Post("/state/refresh", h.handleRefresh)
		r.Put("/entity", h.handleSelectEntity)

		r.Get("/periods", h.handlePeriods)
		r.Post("/periods/refresh", h.handleFetchPeriods)
		r.Put("/period", h.handleSetPeriod)
		r.Post("/periods", h.handleAddPeriod)

		r.Get("/currency", h.handleCurrency)
		r.Post("/currency/refresh", h.handleLoadCurrency)
		r.Put("/currency", h.handleSetCurrency)
		r.Get("/currency/convert", h.handleConvert)

		r.Get("/files", h.handleListFiles)
		r.Get("/files/{category}", h.handleListCategory)
		r.Get("/files/{category}/{filename}/preview", h.handlePreview)
		r.Get("/files/{category}/{filename}/download", h.handleDownload)
		r.Post("/files/{category}/{filename}/delete-request", h.handleDeleteRequest)
		r.Delete("/files/{category}/{filename}", h.handleDelete)

		r.Get("/uploads", h.handleUploadKinds)
		r.With(limiter).Post("/uploads/{kind}", h.handleUpload)

		r.Get("/statements", h.handleStatements)
		r.Get("/statements/{statement}/files", h.handleListCategory)
		r.Get("/statements/{statement}/readiness", h.handleReadiness)
		r.Post("/statements/{statement}/readiness/check", h.handleCheckReadiness)
		r.Put("/statements/{statement}/readiness/auto", h.handleAutoRefresh)
		r.With(limiter).Post("/statements/{statement}/generate", h.handleGenerate)

		r.Get("/impact", h.handleImpact)
		r.Get("/impact.csv", h.handleImpactCSV)
	})
}

// MountStreams registers long-lived server-sent event endpoints.
func (h *Handler) MountStreams(r chi.Router) {
	if h == nil {
		return
	}
	r.Get("/statements/{statement}/readiness/stream", h.handleReadinessStream)
}

func rateLimitKey(r *http.Request) (string, error) {
	if id := strings.TrimSpace(wizard.ClientIDFromContext(r.Context())); id != "" {
		return "client:" + id, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
