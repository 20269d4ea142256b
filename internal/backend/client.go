// Package backend is the HTTP client for the reporting backend that performs
// adjustment application, rule validation, statement generation and FX lookup.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// RequestIDHeader carries the correlation id to the backend.
const RequestIDHeader = "X-Request-ID"

// APIError is returned when the backend answers with a failure.
type APIError struct {
	Op     string
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend: %s: %s", e.Op, e.Detail)
	}
	return fmt.Sprintf("backend: %s: status %d", e.Op, e.Status)
}

// NotFound reports whether the backend answered 404.
func (e *APIError) NotFound() bool {
	return e != nil && e.Status == http.StatusNotFound
}

// ErrorDetail extracts the backend-provided detail from err, if any.
func ErrorDetail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return ""
}

// FileRef addresses a stored file.
type FileRef struct {
	Entity   string
	Category string
	Filename string
}

// Client wraps interactions with the reporting backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	statements map[string]struct{}
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger attaches a logger for transport diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStatementCategories registers file categories that belong to generated
// statements. Those categories are served by the statement endpoints instead of
// the generic file endpoints.
func WithStatementCategories(keys ...string) Option {
	return func(c *Client) {
		for _, key := range keys {
			c.statements[key] = struct{}{}
		}
	}
}

// NewClient constructs a new client.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
		statements: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListEntities returns all entities.
func (c *Client) ListEntities(ctx context.Context) ([]Entity, error) {
	var out []Entity
	err := c.doJSON(ctx, "list entities", http.MethodGet, "/api/entities", nil, nil, &out)
	return out, err
}

// ListPeriods returns the periods of an entity.
func (c *Client) ListPeriods(ctx context.Context, entity string) (PeriodsResponse, error) {
	var out PeriodsResponse
	err := c.doJSON(ctx, "list periods", http.MethodGet, join("api", "entities", entity, "periods"), nil, nil, &out)
	return out, err
}

// SetCurrentPeriod changes the active period of an entity.
func (c *Client) SetCurrentPeriod(ctx context.Context, entity, periodKey string) (SetPeriodResponse, error) {
	var out SetPeriodResponse
	body := map[string]string{"period_key": periodKey}
	if err := c.doJSON(ctx, "set period", http.MethodPost, join("api", "entities", entity, "periods", "current"), nil, body, &out); err != nil {
		return out, err
	}
	if !out.Success {
		return out, &APIError{Op: "set period", Status: http.StatusOK, Detail: fallback(out.Message, "period change rejected")}
	}
	return out, nil
}

// AddPeriod registers a custom period.
func (c *Client) AddPeriod(ctx context.Context, entity, periodKey, columnName string) (AddPeriodResponse, error) {
	var out AddPeriodResponse
	body := map[string]string{"period_key": periodKey, "column_name": columnName}
	if err := c.doJSON(ctx, "add period", http.MethodPost, join("api", "entities", entity, "periods"), nil, body, &out); err != nil {
		return out, err
	}
	if !out.Success {
		return out, &APIError{Op: "add period", Status: http.StatusOK, Detail: fallback(out.Message, "period registration rejected")}
	}
	return out, nil
}

// CurrencyContext fetches the local currency and FX rates of an entity.
func (c *Client) CurrencyContext(ctx context.Context, entity string, reporting []string, forceRefresh bool) (CurrencyContext, error) {
	var out CurrencyContext
	query := url.Values{}
	if len(reporting) > 0 {
		query.Set("reporting", strings.Join(reporting, ","))
	}
	if forceRefresh {
		query.Set("force_refresh", "true")
	}
	err := c.doJSON(ctx, "currency context", http.MethodGet, join("api", "currency", entity), query, nil, &out)
	return out, err
}

// ListFiles returns the files of an entity grouped by category.
func (c *Client) ListFiles(ctx context.Context, entity string) (FileListing, error) {
	out := FileListing{}
	err := c.doJSON(ctx, "list files", http.MethodGet, join("api", "files", entity), nil, nil, &out)
	return out, err
}

// ListStatementFiles returns the generated files of one statement type.
func (c *Client) ListStatementFiles(ctx context.Context, statement, entity string) ([]FileInfo, error) {
	var out struct {
		Files []FileInfo `json:"files"`
	}
	err := c.doJSON(ctx, "list statement files", http.MethodGet, join("api", "statements", statement, entity, "files"), nil, nil, &out)
	return out.Files, err
}

// Upload forwards files of the given kind (trial_balance, adjustments, mapping, config).
func (c *Client) Upload(ctx context.Context, kind, entity string, files []UploadFile) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range files {
		part, err := writer.CreateFormFile("files", f.Name)
		if err != nil {
			return err
		}
		if _, err := part.Write(f.Content); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, join("api", "upload", kind, entity), nil, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	_, err = c.send(req, "upload "+kind)
	return err
}

// PreviewFile returns a tabular preview of a stored file.
func (c *Client) PreviewFile(ctx context.Context, ref FileRef) (Preview, error) {
	var out Preview
	err := c.doJSON(ctx, "preview file", http.MethodGet, c.filePath(ref, "preview"), nil, nil, &out)
	return out, err
}

// DownloadFile returns the raw bytes of a stored file.
func (c *Client) DownloadFile(ctx context.Context, ref FileRef) (Download, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.filePath(ref, "download"), nil, nil)
	if err != nil {
		return Download{}, err
	}
	resp, err := c.send(req, "download file")
	if err != nil {
		return Download{}, err
	}
	return Download{
		Filename:    downloadName(resp.header, ref.Filename),
		ContentType: resp.header.Get("Content-Type"),
		Body:        resp.body,
	}, nil
}

// DeleteFile removes a stored file.
func (c *Client) DeleteFile(ctx context.Context, ref FileRef) error {
	req, err := c.newRequest(ctx, http.MethodDelete, c.filePath(ref, ""), nil, nil)
	if err != nil {
		return err
	}
	_, err = c.send(req, "delete file")
	return err
}

// CheckReadiness asks whether a statement type can be generated.
func (c *Client) CheckReadiness(ctx context.Context, statement, entity string) (Readiness, error) {
	var out Readiness
	err := c.doJSON(ctx, "check readiness", http.MethodGet, join("api", "statements", statement, entity, "readiness"), nil, nil, &out)
	return out, err
}

// Generate triggers generation of a statement.
func (c *Client) Generate(ctx context.Context, statement, entity string, in GenerateRequest) (GenerateResponse, error) {
	var out GenerateResponse
	if err := c.doJSON(ctx, "generate "+statement, http.MethodPost, join("api", "statements", statement, entity, "generate"), nil, in, &out); err != nil {
		return out, err
	}
	if !out.Success {
		return out, &APIError{Op: "generate " + statement, Status: http.StatusOK, Detail: fallback(out.Message, "generation failed")}
	}
	return out, nil
}

// AdjustmentAnalysis returns the analysed adjustments of an entity.
func (c *Client) AdjustmentAnalysis(ctx context.Context, entity string) (AdjustmentAnalysis, error) {
	var out AdjustmentAnalysis
	err := c.doJSON(ctx, "adjustment analysis", http.MethodGet, join("api", "adjustments", entity, "analysis"), nil, nil, &out)
	return out, err
}

// ImpactSummary returns the precomputed adjustment impact of an entity.
func (c *Client) ImpactSummary(ctx context.Context, entity string) (ImpactSummary, error) {
	var out ImpactSummary
	err := c.doJSON(ctx, "impact summary", http.MethodGet, join("api", "adjustments", entity, "impact"), nil, nil, &out)
	return out, err
}

// Ping checks if the backend is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return err
	}
	_, err = c.send(req, "ping")
	return err
}

func (c *Client) filePath(ref FileRef, action string) string {
	var path string
	if _, ok := c.statements[ref.Category]; ok {
		path = join("api", "statements", ref.Category, ref.Entity, "files", ref.Filename)
	} else {
		path = join("api", "files", ref.Entity, ref.Category, ref.Filename)
	}
	if action != "" {
		path += "/" + action
	}
	return path
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: %s: encode: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.send(req, op)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("backend: %s: decode: %w", op, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	reqID := chimw.GetReqID(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	req.Header.Set(RequestIDHeader, reqID)
	return req, nil
}

func (c *Client) send(req *http.Request, op string) (response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("backend: %s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, fmt.Errorf("backend: %s: read body: %w", op, err)
	}
	c.logger.Debug("backend call",
		slog.String("op", op),
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)
	if resp.StatusCode >= 400 {
		return response{}, &APIError{Op: op, Status: resp.StatusCode, Detail: parseDetail(body)}
	}
	return response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

func parseDetail(body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			return s
		}
		if string(payload.Detail) != "null" {
			return string(payload.Detail)
		}
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}

func downloadName(header http.Header, fallbackName string) string {
	if cd := header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}
	return fallbackName
}

func join(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

