package wizardhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/platform/httpx"
	"github.com/odyssey-erp/closeflow/internal/readiness"
	"github.com/odyssey-erp/closeflow/internal/wizard"
)

type autoRefreshRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// statementParam returns the validated statement key of the route.
func (h *Handler) statementParam(r *http.Request) (string, error) {
	key := chi.URLParam(r, "statement")
	if _, err := h.generator.Catalog().Get(key); err != nil {
		return "", err
	}
	return key, nil
}

func (h *Handler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	statement, err := h.statementParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	ws, state, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if p, ok := ws.Readiness(statement); ok {
		httpx.JSON(w, http.StatusOK, p.Snapshot())
		return
	}
	httpx.JSON(w, http.StatusOK, readiness.Snapshot{
		Statement:   statement,
		Entity:      state.Entity.Code,
		Phase:       readiness.PhaseIdle,
		Countdown:   readiness.CountdownStart,
		AutoRefresh: ws.AutoRefresh(statement),
	})
}

// handleCheckReadiness runs a manual check. Failures are reported inside the
// snapshot, not as an HTTP error.
func (h *Handler) handleCheckReadiness(w http.ResponseWriter, r *http.Request) {
	statement, err := h.statementParam(r)
	if err != nil {
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
	snap, err := h.check(ctx, ws, statement)
	if err != nil && snap.Statement == "" {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

// check runs a manual check on the live poller of statement, or on a poller
// that only lives for this call.
func (h *Handler) check(ctx context.Context, ws *wizard.Workspace, statement string) (readiness.Snapshot, error) {
	p, release, err := ws.WatchReadiness(statement)
	if err != nil {
		return readiness.Snapshot{}, err
	}
	defer release()
	return p.Check(ctx)
}

func (h *Handler) handleAutoRefresh(w http.ResponseWriter, r *http.Request) {
	statement, err := h.statementParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req autoRefreshRequest
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
	snap, _ := ws.SetAutoRefresh(statement, *req.Enabled)
	httpx.JSON(w, http.StatusOK, snap)
}

// handleReadinessStream pushes poller snapshots as server-sent events. The
// poller is held for as long as the request is open.
func (h *Handler) handleReadinessStream(w http.ResponseWriter, r *http.Request) {
	statement, err := h.statementParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	ctx := r.Context()
	setupCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	ws, state, err := h.workspace(setupCtx)
	cancel()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	poller, release, err := ws.WatchReadiness(statement)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	defer release()
	if h.streams != nil {
		defer h.streams.StreamOpened()()
	}
	updates, unsubscribe := poller.Subscribe()
	defer unsubscribe()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("readiness stream: flush unsupported", slog.Any("error", err))
		return
	}

	if snap := poller.Snapshot(); snap.Result == nil && !snap.Loading {
		go func() {
			_, _ = poller.Check(ctx)
		}()
	}

	h.logger.Debug("readiness stream opened",
		slog.String("client_id", state.ClientID),
		slog.String("statement", statement),
	)
	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				_ = writeEvent(w, rc, "closed", map[string]string{"statement": statement})
				return
			}
			if err := writeEvent(w, rc, "readiness", snap); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	return rc.Flush()
}

// knownReadiness returns the latest readiness of statement, checking once
// when no live poller holds a result. nil means unknown.
func (h *Handler) knownReadiness(ctx context.Context, ws *wizard.Workspace, statement string) *backend.Readiness {
	if p, ok := ws.Readiness(statement); ok {
		if snap := p.Snapshot(); snap.Result != nil {
			return snap.Result
		}
	}
	snap, err := h.check(ctx, ws, statement)
	if err != nil {
		return nil
	}
	return snap.Result
}
