// Package files lists, previews, downloads and deletes the stored artifacts of
// an entity.
package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/odyssey-erp/closeflow/internal/backend"
)

// User-facing messages used when the backend gives no detail.
const (
	MsgListFailed     = "Failed to load files"
	MsgPreviewFailed  = "Failed to load preview"
	MsgDownloadFailed = "Failed to download file"
	MsgDeleteFailed   = "Failed to delete file"
)

var (
	// ErrNotConfirmed is returned when a delete was not confirmed.
	ErrNotConfirmed = errors.New("files: delete not confirmed")
	// ErrInvalidRef is returned for incomplete file references.
	ErrInvalidRef = errors.New("files: entity, category and filename are required")
)

// Backend is the subset of the backend client used by the registry.
type Backend interface {
	ListFiles(ctx context.Context, entity string) (backend.FileListing, error)
	ListStatementFiles(ctx context.Context, statement, entity string) ([]backend.FileInfo, error)
	PreviewFile(ctx context.Context, ref backend.FileRef) (backend.Preview, error)
	DownloadFile(ctx context.Context, ref backend.FileRef) (backend.Download, error)
	DeleteFile(ctx context.Context, ref backend.FileRef) error
}

// Confirmer answers whether the user affirmed a delete.
type Confirmer interface {
	Confirm(ctx context.Context, ref backend.FileRef) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, ref backend.FileRef) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, ref backend.FileRef) (bool, error) {
	return f(ctx, ref)
}

// Observer records file operation outcomes.
type Observer interface {
	ObserveFileOperation(action string, err error)
}

// OpError wraps a failed operation with the message shown to users.
type OpError struct {
	Op      string
	Message string
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("files: %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Message returns the user-facing text of err.
func Message(err error) string {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func opError(op, generic string, err error) error {
	msg := backend.ErrorDetail(err)
	if msg == "" {
		msg = generic
	}
	return &OpError{Op: op, Message: msg, Err: err}
}

// Preview is a tabular preview, or rendered HTML for markdown files.
type Preview struct {
	Filename     string   `json:"filename"`
	TotalRows    int      `json:"total_rows"`
	TotalColumns int      `json:"total_columns"`
	Columns      []string `json:"columns"`
	Rows         []any    `json:"rows"`
	Truncated    bool     `json:"truncated"`
	HTML         string   `json:"html,omitempty"`
}

// Registry performs file operations for one or more entities.
type Registry struct {
	backend    Backend
	statements map[string]struct{}
	markdown   goldmark.Markdown
	observer   Observer
	logger     *slog.Logger
}

// NewRegistry constructs a Registry. statements lists the categories served by
// statement endpoints.
func NewRegistry(b Backend, statements []string, observer Observer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	set := make(map[string]struct{}, len(statements))
	for _, s := range statements {
		set[s] = struct{}{}
	}
	return &Registry{backend: b, statements: set, markdown: goldmark.New(), observer: observer, logger: logger}
}

// List returns the files of entity grouped by category, sorted by name.
func (r *Registry) List(ctx context.Context, entity string) (backend.FileListing, error) {
	listing, err := r.backend.ListFiles(ctx, entity)
	r.observe("list", err)
	if err != nil {
		return nil, opError("list", MsgListFailed, err)
	}
	if listing == nil {
		listing = backend.FileListing{}
	}
	for _, files := range listing {
		sortFiles(files)
	}
	return listing, nil
}

// ListCategory returns the files of one category.
func (r *Registry) ListCategory(ctx context.Context, entity, category string) ([]backend.FileInfo, error) {
	if _, ok := r.statements[category]; ok {
		files, err := r.backend.ListStatementFiles(ctx, category, entity)
		r.observe("list", err)
		if err != nil {
			return nil, opError("list", MsgListFailed, err)
		}
		if files == nil {
			files = []backend.FileInfo{}
		}
		sortFiles(files)
		return files, nil
	}
	listing, err := r.List(ctx, entity)
	if err != nil {
		return nil, err
	}
	files := listing[category]
	if files == nil {
		files = []backend.FileInfo{}
	}
	return files, nil
}

// Preview fetches a tabular preview. Markdown files are rendered to HTML.
func (r *Registry) Preview(ctx context.Context, ref backend.FileRef) (Preview, error) {
	if err := validRef(ref); err != nil {
		return Preview{}, err
	}
	if isMarkdown(ref.Filename) {
		dl, err := r.backend.DownloadFile(ctx, ref)
		r.observe("preview", err)
		if err != nil {
			return Preview{}, opError("preview", MsgPreviewFailed, err)
		}
		var buf bytes.Buffer
		if err := r.markdown.Convert(dl.Body, &buf); err != nil {
			return Preview{}, opError("preview", MsgPreviewFailed, err)
		}
		return Preview{Filename: ref.Filename, Columns: []string{}, Rows: []any{}, HTML: buf.String()}, nil
	}
	p, err := r.backend.PreviewFile(ctx, ref)
	r.observe("preview", err)
	if err != nil {
		return Preview{}, opError("preview", MsgPreviewFailed, err)
	}
	if p.Filename == "" {
		p.Filename = ref.Filename
	}
	out := Preview{
		Filename:     p.Filename,
		TotalRows:    p.TotalRows,
		TotalColumns: p.TotalColumns,
		Columns:      p.Columns,
		Rows:         p.Rows,
		Truncated:    p.Truncated(),
	}
	if out.Columns == nil {
		out.Columns = []string{}
	}
	if out.Rows == nil {
		out.Rows = []any{}
	}
	return out, nil
}

// Download returns the raw file content under its original name.
func (r *Registry) Download(ctx context.Context, ref backend.FileRef) (backend.Download, error) {
	if err := validRef(ref); err != nil {
		return backend.Download{}, err
	}
	dl, err := r.backend.DownloadFile(ctx, ref)
	r.observe("download", err)
	if err != nil {
		return backend.Download{}, opError("download", MsgDownloadFailed, err)
	}
	if dl.Filename == "" {
		dl.Filename = ref.Filename
	}
	if dl.ContentType == "" {
		dl.ContentType = contentTypeFor(dl.Filename)
	}
	return dl, nil
}

// Delete removes a file once confirmer affirms it, then calls refresh. The
// backend is never called without an affirmative confirmation.
func (r *Registry) Delete(ctx context.Context, ref backend.FileRef, confirmer Confirmer, refresh func(context.Context) error) error {
	if err := validRef(ref); err != nil {
		return err
	}
	if confirmer == nil {
		return ErrNotConfirmed
	}
	ok, err := confirmer.Confirm(ctx, ref)
	if err != nil {
		return fmt.Errorf("files: confirm delete: %w", err)
	}
	if !ok {
		return ErrNotConfirmed
	}
	err = r.backend.DeleteFile(ctx, ref)
	r.observe("delete", err)
	if err != nil {
		return opError("delete", MsgDeleteFailed, err)
	}
	if refresh != nil {
		if err := refresh(ctx); err != nil {
			r.logger.Warn("files: refresh after delete", slog.String("file", ref.Filename), slog.Any("error", err))
		}
	}
	return nil
}

func (r *Registry) observe(action string, err error) {
	if r.observer != nil {
		r.observer.ObserveFileOperation(action, err)
	}
}

func validRef(ref backend.FileRef) error {
	if strings.TrimSpace(ref.Entity) == "" || strings.TrimSpace(ref.Category) == "" || strings.TrimSpace(ref.Filename) == "" {
		return ErrInvalidRef
	}
	if name := ref.Filename; name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return ErrInvalidRef
	}
	return nil
}

func isMarkdown(name string) bool {
	return strings.EqualFold(path.Ext(name), ".md")
}

func sortFiles(files []backend.FileInfo) {
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Filename < files[j].Filename
	})
}
