package wizardhttp

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/closeflow/internal/platform/httpx"
	"github.com/odyssey-erp/closeflow/internal/wizard"
)

type stateResponse struct {
	wizard.State
	Notice string `json:"notice,omitempty"`
}

type selectEntityRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

type setPeriodRequest struct {
	PeriodKey string `json:"period_key" validate:"required,max=64"`
}

type addPeriodRequest struct {
	PeriodKey  string `json:"period_key" validate:"required,max=64"`
	ColumnName string `json:"column_name" validate:"required,max=128"`
}

type setCurrencyRequest struct {
	Code string `json:"code" validate:"required,len=3,alpha"`
}

type conversionResponse struct {
	Amount    decimal.Decimal `json:"amount"`
	Converted decimal.Decimal `json:"converted"`
	Currency  string          `json:"currency"`
	Display   string          `json:"display"`
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	ws, err := h.client(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	state, err := ws.Ensure(ctx)
	h.respondState(w, r, state, err)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	ws, _, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	state, err := ws.Refresh(ctx)
	h.respondState(w, r, state, err)
}

func (h *Handler) handleSelectEntity(w http.ResponseWriter, r *http.Request) {
	var req selectEntityRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	ws, _, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	state, err := ws.SelectEntity(ctx, req.Code)
	h.respondState(w, r, state, err)
}

// respondState reports load failures of dependent state as a notice; the
// entity switch itself already happened.
func (h *Handler) respondState(w http.ResponseWriter, r *http.Request, state wizard.State, err error) {
	if err != nil && (state.Entity == nil || !errors.Is(err, wizard.ErrPartialLoad)) {
		h.respondError(w, r, err)
		return
	}
	resp := stateResponse{State: state}
	if err != nil {
		resp.Notice = "Some wizard data could not be loaded"
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePeriods(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	ws, _, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	state := ws.Periods().Snapshot()
	if !state.Loaded {
		if state, err = ws.Periods().Fetch(ctx); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	httpx.JSON(w, http.StatusOK, state)
}

func (h *Handler) handleFetchPeriods(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	ws, _, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	state, err := ws.Periods().Fetch(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}

func (h *Handler) handleSetPeriod(w http.ResponseWriter, r *http.Request) {
	var req setPeriodRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	ws, _, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	state, err := ws.Periods().SetPeriod(ctx, req.PeriodKey)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}

func (h *Handler) handleAddPeriod(w http.ResponseWriter, r *http.Request) {
	var req addPeriodRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	ws, _, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	state, err := ws.Periods().AddCustomPeriod(ctx, req.PeriodKey, req.ColumnName)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, state)
}

func (h *Handler) handleCurrency(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	_, state, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, state.Currency)
}

func (h *Handler) handleLoadCurrency(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	ws, _, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	state, err := ws.Currency().Load(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}

func (h *Handler) handleSetCurrency(w http.ResponseWriter, r *http.Request) {
	var req setCurrencyRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	ws, _, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	state, err := ws.Currency().SetSelected(ctx, req.Code)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}

func (h *Handler) handleConvert(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		h.respondError(w, r, httpx.Wrap(httpx.ErrValidation, "amount must be a decimal number"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	_, state, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	converted := state.Currency.Convert(amount)
	httpx.JSON(w, http.StatusOK, conversionResponse{
		Amount:    amount,
		Converted: converted,
		Currency:  state.Currency.Selected,
		Display:   state.Currency.Format(converted),
	})
}
