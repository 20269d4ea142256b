package wizardhttp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/platform/httpx"
	"github.com/odyssey-erp/closeflow/internal/upload"
	"github.com/odyssey-erp/closeflow/internal/wizard"
)

const maxUploadMemory = 32 << 20

type deleteToken struct {
	Token     string    `json:"token"`
	ExpiresIn string    `json:"expires_in,omitempty"`
	File      fileRefIO `json:"file"`
}

type fileRefIO struct {
	Entity   string `json:"entity"`
	Category string `json:"category"`
	Filename string `json:"filename"`
}

type uploadResponse struct {
	Kind   string   `json:"kind"`
	Entity string   `json:"entity"`
	Files  []string `json:"files"`
}

func (h *Handler) fileRef(r *http.Request, state wizard.State) backend.FileRef {
	return backend.FileRef{
		Entity:   state.Entity.Code,
		Category: pathParam(r, "category"),
		Filename: pathParam(r, "filename"),
	}
}

func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func (h *Handler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	_, state, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	listing, err := h.files.List(ctx, state.Entity.Code)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listing)
}

func (h *Handler) handleListCategory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	_, state, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	category := pathParam(r, "category")
	if category == "" {
		category = pathParam(r, "statement")
	}
	list, err := h.files.ListCategory(ctx, state.Entity.Code, category)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	_, state, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	preview, err := h.files.Preview(ctx, h.fileRef(r, state))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, preview)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	_, state, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	dl, err := h.files.Download(ctx, h.fileRef(r, state))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	contentType := dl.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(dl.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(dl.Body)
}

// handleDeleteRequest issues the token that the DELETE call must present.
func (h *Handler) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	if h.confirmations == nil {
		h.respondError(w, r, httpx.Wrap(httpx.ErrUnavailable, "file deletion is disabled"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	_, state, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	ref := h.fileRef(r, state)
	token, err := h.confirmations.Issue(ctx, state.ClientID, ref)
	if err != nil {
		h.respondError(w, r, fmt.Errorf("issue delete token: %w", err))
		return
	}
	resp := deleteToken{Token: token, File: fileRefIO{Entity: ref.Entity, Category: ref.Category, Filename: ref.Filename}}
	if ttl, ok := h.confirmations.(interface{ TTL() time.Duration }); ok {
		resp.ExpiresIn = ttl.TTL().String()
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if h.confirmations == nil {
		h.respondError(w, r, httpx.Wrap(httpx.ErrUnavailable, "file deletion is disabled"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	_, state, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	ref := h.fileRef(r, state)
	confirmer := h.confirmations.Confirmer(state.ClientID, r.URL.Query().Get("confirm"))
	var listing backend.FileListing
	refresh := func(ctx context.Context) error {
		var err error
		listing, err = h.files.List(ctx, ref.Entity)
		return err
	}
	if err := h.files.Delete(ctx, ref, confirmer, refresh); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logger.Info("file deleted",
		slog.String("client_id", state.ClientID),
		slog.String("entity", ref.Entity),
		slog.String("category", ref.Category),
		slog.String("filename", ref.Filename),
	)
	httpx.JSON(w, http.StatusOK, listing)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		h.respondError(w, r, httpx.Wrap(httpx.ErrValidation, "expected a multipart form"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		h.respondError(w, r, httpx.Wrap(httpx.ErrValidation, "no files uploaded"))
		return
	}
	uploads := make([]backend.UploadFile, 0, len(headers))
	names := make([]string, 0, len(headers))
	for _, fh := range headers {
		content, err := readPart(fh)
		if err != nil {
			h.respondError(w, r, httpx.Wrap(httpx.ErrValidation, fmt.Sprintf("read %s: %v", fh.Filename, err)))
			return
		}
		uploads = append(uploads, backend.UploadFile{Name: fh.Filename, Content: content})
		names = append(names, fh.Filename)
	}
	if err := h.uploads.Validate(kind, uploads); err != nil {
		h.respondError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	_, state, err := h.workspace(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.backend.Upload(ctx, strings.TrimSpace(kind), state.Entity.Code, uploads); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, uploadResponse{Kind: kind, Entity: state.Entity.Code, Files: names})
}

func (h *Handler) handleUploadKinds(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string][]string{"kinds": upload.Kinds()})
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
