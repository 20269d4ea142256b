// Package wizardhttp exposes the close wizard over JSON endpoints.
package wizardhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/currency"
	"github.com/odyssey-erp/closeflow/internal/entity"
	"github.com/odyssey-erp/closeflow/internal/files"
	"github.com/odyssey-erp/closeflow/internal/period"
	"github.com/odyssey-erp/closeflow/internal/platform/httpx"
	"github.com/odyssey-erp/closeflow/internal/statement"
	"github.com/odyssey-erp/closeflow/internal/upload"
	"github.com/odyssey-erp/closeflow/internal/wizard"
)

const requestTimeout = 20 * time.Second

var errMissingClient = httpx.Wrap(httpx.ErrValidation, "client id missing")

// Backend is the part of the backend client called directly by handlers.
type Backend interface {
	Upload(ctx context.Context, kind, entity string, files []backend.UploadFile) error
	AdjustmentAnalysis(ctx context.Context, entity string) (backend.AdjustmentAnalysis, error)
	ImpactSummary(ctx context.Context, entity string) (backend.ImpactSummary, error)
}

// Confirmations issues and redeems delete confirmation tokens.
type Confirmations interface {
	Issue(ctx context.Context, clientID string, ref backend.FileRef) (string, error)
	Confirmer(clientID, token string) files.Confirmer
}

// StreamObserver counts open readiness streams.
type StreamObserver interface {
	StreamOpened() func()
}

// Deps groups the collaborators of the handler.
type Deps struct {
	Logger        *slog.Logger
	Workspaces    *wizard.Manager
	Files         *files.Registry
	Confirmations Confirmations
	Uploads       *upload.Validator
	Generator     *statement.Generator
	Backend       Backend
	Streams       StreamObserver
	// AsyncDefault makes generation requests without an explicit mode queue
	// on the worker.
	AsyncDefault bool
	// KeepAlive is the SSE comment interval; zero uses 15s.
	KeepAlive time.Duration
}

// Handler serves the wizard API.
type Handler struct {
	logger        *slog.Logger
	workspaces    *wizard.Manager
	files         *files.Registry
	confirmations Confirmations
	uploads       *upload.Validator
	generator     *statement.Generator
	backend       Backend
	streams       StreamObserver
	asyncDefault  bool
	keepAlive     time.Duration
	validate      *validator.Validate
}

// NewHandler constructs the wizard HTTP handler.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	uploads := deps.Uploads
	if uploads == nil {
		uploads = upload.NewValidator(upload.DefaultMaxBytes)
	}
	keepAlive := deps.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &Handler{
		logger:        logger,
		workspaces:    deps.Workspaces,
		files:         deps.Files,
		confirmations: deps.Confirmations,
		uploads:       uploads,
		generator:     deps.Generator,
		backend:       deps.Backend,
		streams:       deps.Streams,
		asyncDefault:  deps.AsyncDefault,
		keepAlive:     keepAlive,
		validate:      validator.New(),
	}
}

func (h *Handler) client(ctx context.Context) (*wizard.Workspace, error) {
	id := wizard.ClientIDFromContext(ctx)
	if id == "" {
		return nil, errMissingClient
	}
	return h.workspaces.Get(id), nil
}

// workspace returns the caller's workspace with an entity resolved. Partial
// load failures are left to the individual endpoints.
func (h *Handler) workspace(ctx context.Context) (*wizard.Workspace, wizard.State, error) {
	ws, err := h.client(ctx)
	if err != nil {
		return nil, wizard.State{}, err
	}
	state, err := ws.Ensure(ctx)
	if err != nil && state.Entity == nil {
		return nil, state, err
	}
	return ws, state, nil
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	if err := h.validate.Struct(target); err != nil {
		return httpx.Wrap(httpx.ErrValidation, err.Error())
	}
	return nil
}

// respondError translates domain errors into problem responses.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	mapped := classify(err)
	if errors.Is(mapped, httpx.ErrUpstream) || !isKnown(mapped) {
		h.logger.Warn("wizard request failed",
			slog.String("path", r.URL.Path),
			slog.String("client_id", wizard.ClientIDFromContext(r.Context())),
			slog.Any("error", err),
		)
	}
	httpx.RespondError(w, mapped)
}

func classify(err error) error {
	var (
		detail  *httpx.DetailError
		invalid validator.ValidationErrors
		rejected *upload.ValidationError
		opErr   *files.OpError
		apiErr  *backend.APIError
	)
	switch {
	case errors.As(err, &detail):
		return err
	case errors.As(err, &invalid), errors.As(err, &rejected),
		errors.Is(err, upload.ErrUnknownKind), errors.Is(err, files.ErrInvalidRef):
		return httpx.Wrap(httpx.ErrValidation, err.Error())
	case errors.Is(err, entity.ErrUnknownEntity), errors.Is(err, period.ErrUnknownPeriod),
		errors.Is(err, statement.ErrUnknownStatement):
		return httpx.Wrap(httpx.ErrNotFound, err.Error())
	case errors.Is(err, statement.ErrNotReady), errors.Is(err, files.ErrNotConfirmed),
		errors.Is(err, files.ErrTokenRequired), errors.Is(err, wizard.ErrNoEntity),
		errors.Is(err, period.ErrNoEntity), errors.Is(err, currency.ErrNoEntity),
		errors.Is(err, entity.ErrNoEntities):
		return httpx.Wrap(httpx.ErrPrecondition, err.Error())
	case errors.Is(err, statement.ErrGenerationInProgress):
		return httpx.Wrap(httpx.ErrConflict, err.Error())
	case errors.Is(err, statement.ErrAsyncUnavailable):
		return httpx.Wrap(httpx.ErrUnavailable, err.Error())
	case errors.As(err, &opErr):
		return httpx.Wrap(httpx.ErrUpstream, opErr.Message)
	case errors.As(err, &apiErr):
		msg := backend.ErrorDetail(err)
		if msg == "" {
			msg = "backend request failed"
		}
		if apiErr.NotFound() {
			return httpx.Wrap(httpx.ErrNotFound, msg)
		}
		return httpx.Wrap(httpx.ErrUpstream, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return httpx.Wrap(httpx.ErrUpstream, "backend did not respond in time")
	}
	return err
}

func isKnown(err error) bool {
	for _, kind := range []error{httpx.ErrNotFound, httpx.ErrConflict, httpx.ErrValidation, httpx.ErrPrecondition, httpx.ErrUpstream, httpx.ErrUnavailable} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
