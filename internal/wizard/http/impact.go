package wizardhttp

import (
	"bytes"
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/impact"
	"github.com/odyssey-erp/closeflow/internal/platform/httpx"
)

type impactResponse struct {
	impact.View
	Currency string `json:"currency"`
}

func (h *Handler) loadImpact(ctx context.Context, entity, classification string, conv impact.Converter) (impact.View, error) {
	var (
		analysis backend.AdjustmentAnalysis
		summary  backend.ImpactSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		analysis, err = h.backend.AdjustmentAnalysis(gctx, entity)
		return err
	})
	g.Go(func() error {
		var err error
		summary, err = h.backend.ImpactSummary(gctx, entity)
		return err
	})
	if err := g.Wait(); err != nil {
		return impact.View{}, err
	}
	return impact.BuildView(summary, analysis.Adjustments, classification, conv), nil
}

func (h *Handler) handleImpact(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	_, state, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	view, err := h.loadImpact(ctx, state.Entity.Code, r.URL.Query().Get("classification"), state.Currency)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, impactResponse{View: view, Currency: state.Currency.Selected})
}

func (h *Handler) handleImpactCSV(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	_, state, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	view, err := h.loadImpact(ctx, state.Entity.Code, r.URL.Query().Get("classification"), state.Currency)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := impact.WriteCSV(&buf, view); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="impact_`+state.Entity.Code+`.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
