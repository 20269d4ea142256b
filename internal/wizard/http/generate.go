package wizardhttp

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/platform/httpx"
	"github.com/odyssey-erp/closeflow/internal/statement"
)

type generateRequest struct {
	Mode        string `json:"mode,omitempty" validate:"omitempty,oneof=sync async"`
	PeriodLabel string `json:"period_label,omitempty" validate:"omitempty,max=128"`
	Currency    string `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	Scenario    string `json:"scenario,omitempty" validate:"omitempty,max=64"`
}

type statementInfo struct {
	statement.Definition
	Generating bool `json:"generating"`
}

func (h *Handler) handleStatements(w http.ResponseWriter, r *http.Request) {
	entity := ""
	if ws, err := h.client(r.Context()); err == nil {
		entity = ws.EntityCode()
	}
	defs := h.generator.Catalog().All()
	out := make([]statementInfo, 0, len(defs))
	for _, def := range defs {
		out = append(out, statementInfo{Definition: def, Generating: entity != "" && h.generator.Running(entity, def.Key)})
	}
	httpx.JSON(w, http.StatusOK, out)
}

// handleGenerate fills period and currency from the workspace when the body
// leaves them out.
func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	key, err := h.statementParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var body generateRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &body); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	ws, state, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	req := statement.Request{
		Statement:   key,
		Entity:      state.Entity.Code,
		PeriodLabel: body.PeriodLabel,
		Currency:    body.Currency,
		Scenario:    body.Scenario,
	}
	if req.PeriodLabel == "" {
		req.PeriodLabel = state.Period.Label()
	}
	if req.Currency == "" {
		req.Currency = state.Currency.Selected
	}

	def, _ := h.generator.Catalog().Get(key)
	var ready *backend.Readiness
	if def.RequiresReadiness {
		ready = h.knownReadiness(ctx, ws, key)
	}

	mode := body.Mode
	if mode == "" {
		mode = statement.ModeSync
		if h.asyncDefault {
			mode = statement.ModeAsync
		}
	}
	if mode == statement.ModeAsync {
		res, err := h.generator.Enqueue(ctx, req, ready, middleware.GetReqID(r.Context()))
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, res)
		return
	}
	res, err := h.generator.Generate(ctx, req, ready)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}
