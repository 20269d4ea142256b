package wizardhttp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/files"
	"github.com/odyssey-erp/closeflow/internal/prefs"
	"github.com/odyssey-erp/closeflow/internal/readiness"
	"github.com/odyssey-erp/closeflow/internal/statement"
	"github.com/odyssey-erp/closeflow/internal/wizard"
)

type fakeBackend struct {
	mu           sync.Mutex
	ready        bool
	readinessErr bool
	deleted      []string
	generated    []backend.GenerateRequest
	uploaded     []string
}

func (f *fakeBackend) routes() http.Handler {
	r := chi.NewRouter()
	writeJSON := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
	r.Get("/api/entities", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `[{"code":"IN01","name":"India Ops","short_code":"IN"},{"code":"MY01","name":"Malaysia Ops","short_code":"MY"}]`)
	})
	r.Get("/api/entities/{entity}/periods", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "entity") == "MY01" {
			writeJSON(w, `{"available_periods":{"dec_2024":"Total Dec'24"},"current_period":"dec_2024","current_period_column":"Total Dec'24"}`)
			return
		}
		writeJSON(w, `{"available_periods":{"mar_2025":"Total Mar'25","feb_2025":"Total Feb'25"},"current_period":"mar_2025","current_period_column":"Total Mar'25"}`)
	})
	r.Post("/api/entities/{entity}/periods/current", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"success":true}`)
	})
	r.Get("/api/currency/{entity}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "entity") == "MY01" {
			writeJSON(w, `{"entity":"MY01","local_currency":{"default_currency":"MYR","currency_symbol":"RM","decimal_places":2},"rates":[]}`)
			return
		}
		writeJSON(w, `{"entity":"IN01","local_currency":{"default_currency":"INR","currency_symbol":"₹","decimal_places":2},"rates":[{"base_currency":"INR","target_currency":"USD","rate":"0.012"}]}`)
	})
	r.Get("/api/files/{entity}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.deleted) > 0 {
			writeJSON(w, `{"adjustments":[]}`)
			return
		}
		writeJSON(w, `{"adjustments":["adj_mar.xlsx"]}`)
	})
	r.Get("/api/files/{entity}/{category}/{filename}/download", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, "account,debit,credit\n")
	})
	r.Delete("/api/files/{entity}/{category}/{filename}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.deleted = append(f.deleted, chi.URLParam(r, "category")+"/"+chi.URLParam(r, "filename"))
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/api/statements/{statement}/{entity}/readiness", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.readinessErr {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if f.ready {
			writeJSON(w, `{"is_ready":true,"total_found":5,"total_required":5}`)
			return
		}
		writeJSON(w, `{"is_ready":false,"total_found":3,"total_required":5,"missing_notes":["4","5A"]}`)
	})
	r.Post("/api/statements/{statement}/{entity}/generate", func(w http.ResponseWriter, r *http.Request) {
		var in backend.GenerateRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.mu.Lock()
		f.generated = append(f.generated, in)
		f.mu.Unlock()
		writeJSON(w, `{"success":true,"message":"generated"}`)
	})
	r.Get("/api/adjustments/{entity}/analysis", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"total_adjustments":2,"adjustments":[
			{"account":"4000","debit":"0","credit":"50","classification":"Accrual"},
			{"account":"5000","debit":"30","credit":"0","classification":"Reclass"}]}`)
	})
	r.Get("/api/adjustments/{entity}/impact", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"total_adjustments":2,"categories":[{"category":"Revenue","total_gls":2,"before":"100","after":"150","change":"50","gl_changes":[
			{"gl_code":"4000","gl_name":"Sales","category":"Revenue","before":"100","after":"150","change":"50"},
			{"gl_code":"5000","gl_name":"Other","category":"Revenue","before":"0","after":"0","change":"0"}]}],"gl_changes":[]}`)
	})
	r.Post("/api/upload/{kind}/{entity}", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		for _, fh := range r.MultipartForm.File["files"] {
			f.uploaded = append(f.uploaded, chi.URLParam(r, "kind")+"/"+fh.Filename)
		}
		f.mu.Unlock()
		writeJSON(w, `{"success":true}`)
	})
	return r
}

type testEnv struct {
	fake    *fakeBackend
	handler *Handler
	router  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fake := &fakeBackend{}
	srv := httptest.NewServer(fake.routes())
	t.Cleanup(srv.Close)

	catalog := statement.DefaultCatalog()
	client := backend.NewClient(srv.URL, 2*time.Second, backend.WithStatementCategories(catalog.Keys()...))
	gen := statement.NewGenerator(catalog, client, nil, nil, nil)
	mgr := wizard.NewManager(client, prefs.NewMemoryStore(), nil,
		wizard.WithReadiness(gen.CheckReadiness, readiness.WithIntervals(time.Hour, time.Hour)))
	t.Cleanup(mgr.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := NewHandler(Deps{
		Workspaces:    mgr,
		Files:         files.NewRegistry(client, catalog.Keys(), nil, nil),
		Confirmations: files.NewTokenStore(rdb, time.Minute),
		Generator:     gen,
		Backend:       client,
		KeepAlive:     time.Hour,
	})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Test-Client")
			if id == "" {
				id = "c1"
			}
			next.ServeHTTP(w, r.WithContext(wizard.ContextWithClientID(r.Context(), id)))
		})
	})
	r.Route("/api", func(r chi.Router) {
		h.MountRoutes(r, 0)
		h.MountStreams(r)
	})
	return &testEnv{fake: fake, handler: h, router: r}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestStateResolvesFirstEntityWithPeriodAndCurrency(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	state := decodeBody[wizard.State](t, rr)
	require.Equal(t, "IN01", state.Entity.Code)
	require.Len(t, state.Entities, 2)
	require.Equal(t, "mar_2025", state.Period.Key())
	require.Equal(t, "INR", state.Currency.Selected)
}

func TestSelectEntitySwitchesDependentState(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPut, "/api/entity", `{"code":"MY"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	state := decodeBody[wizard.State](t, rr)
	require.Equal(t, "MY01", state.Entity.Code)
	require.Equal(t, "dec_2024", state.Period.Key())
	require.Equal(t, "MYR", state.Currency.Selected)

	rr = env.do(t, http.MethodPut, "/api/entity", `{"code":"ZZ01"}`)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPut, "/api/entity", `{}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSetPeriodRejectsUnknownKeys(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPut, "/api/period", `{"period_key":"jan_1999"}`)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPut, "/api/period", `{"period_key":"feb_2025"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"current_period":"feb_2025"`)
}

func TestCurrencySelectionAndConversion(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPut, "/api/currency", `{"code":"US"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPut, "/api/currency", `{"code":"USD"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/currency/convert?amount=1000", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	conv := decodeBody[conversionResponse](t, rr)
	require.Equal(t, "USD", conv.Currency)
	require.Equal(t, "12", conv.Converted.String())
	require.Equal(t, "$12.00", conv.Display)

	rr = env.do(t, http.MethodGet, "/api/currency/convert?amount=abc", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeleteNeedsAFreshToken(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodDelete, "/api/files/adjustments/adj_mar.xlsx", "")
	require.Equal(t, http.StatusPreconditionFailed, rr.Code)
	rr = env.do(t, http.MethodDelete, "/api/files/adjustments/adj_mar.xlsx?confirm=bogus", "")
	require.Equal(t, http.StatusPreconditionFailed, rr.Code)
	require.Empty(t, env.fake.deleted)

	rr = env.do(t, http.MethodPost, "/api/files/adjustments/adj_mar.xlsx/delete-request", "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	tok := decodeBody[deleteToken](t, rr)
	require.NotEmpty(t, tok.Token)
	require.Equal(t, "1m0s", tok.ExpiresIn)

	rr = env.do(t, http.MethodDelete, "/api/files/other/adj_mar.xlsx?confirm="+tok.Token, "")
	require.Equal(t, http.StatusPreconditionFailed, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/files/adjustments/adj_mar.xlsx/delete-request", "")
	tok = decodeBody[deleteToken](t, rr)
	rr = env.do(t, http.MethodDelete, "/api/files/adjustments/adj_mar.xlsx?confirm="+tok.Token, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, []string{"adjustments/adj_mar.xlsx"}, env.fake.deleted)
	require.JSONEq(t, `{"adjustments":[]}`, rr.Body.String())

	rr = env.do(t, http.MethodDelete, "/api/files/adjustments/adj_mar.xlsx?confirm="+tok.Token, "")
	require.Equal(t, http.StatusPreconditionFailed, rr.Code)
}

func TestTokensAreBoundToTheIssuingClient(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/files/adjustments/adj_mar.xlsx/delete-request", "")
	tok := decodeBody[deleteToken](t, rr)

	req := httptest.NewRequest(http.MethodDelete, "/api/files/adjustments/adj_mar.xlsx?confirm="+tok.Token, nil)
	req.Header.Set("X-Test-Client", "c2")
	other := httptest.NewRecorder()
	env.router.ServeHTTP(other, req)
	require.Equal(t, http.StatusPreconditionFailed, other.Code)
	require.Empty(t, env.fake.deleted)
}

func TestDownloadStreamsBackendBytes(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/files/adjustments/adj_mar.csv/download", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Header().Get("Content-Disposition"), "adj_mar.csv")
	require.Equal(t, "account,debit,credit\n", rr.Body.String())
}

func TestGenerateIsBlockedUntilReady(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/statements/pnl/generate", "")
	require.Equal(t, http.StatusPreconditionFailed, rr.Code, rr.Body.String())
	require.Empty(t, env.fake.generated)

	env.fake.mu.Lock()
	env.fake.ready = true
	env.fake.mu.Unlock()

	rr = env.do(t, http.MethodPost, "/api/statements/pnl/generate", `{"mode":"sync"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Len(t, env.fake.generated, 1)
	require.Equal(t, "Total Mar'25", env.fake.generated[0].PeriodLabel)
	require.Equal(t, "INR", env.fake.generated[0].Currency)

	rr = env.do(t, http.MethodPost, "/api/statements/pnl/generate", `{"mode":"async"}`)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/statements/unknown/generate", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCheckReadinessReportsGenericFailure(t *testing.T) {
	env := newTestEnv(t)
	env.fake.mu.Lock()
	env.fake.readinessErr = true
	env.fake.mu.Unlock()

	rr := env.do(t, http.MethodPost, "/api/statements/balance_sheet/readiness/check", "")
	require.Equal(t, http.StatusOK, rr.Code)
	snap := decodeBody[readiness.Snapshot](t, rr)
	require.Equal(t, readiness.CheckFailedMessage, snap.Error)
	require.Equal(t, readiness.PhaseError, snap.Phase)
	require.Nil(t, snap.Result)

	_, live := env.handler.workspaces.Get("c1").Readiness("balance_sheet")
	require.False(t, live)
}

func TestAutoRefreshToggleIsRemembered(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPut, "/api/statements/pnl/readiness/auto", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/statements/pnl/readiness", "")
	snap := decodeBody[readiness.Snapshot](t, rr)
	require.False(t, snap.AutoRefresh)
	require.Equal(t, readiness.PhaseIdle, snap.Phase)

	rr = env.do(t, http.MethodPut, "/api/statements/pnl/readiness/auto", `{}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReadinessStreamPushesCheckResults(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/statements/pnl/readiness/stream", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var got readiness.Snapshot
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &got))
		if got.Result != nil && !got.Loading {
			break
		}
	}
	require.NotNil(t, got.Result)
	require.False(t, got.Result.IsReady)
	require.Equal(t, readiness.PhasePolling, got.Phase)
	require.Equal(t, []backend.Ident{"4", "5A"}, got.Result.MissingNotes)

	_, live := env.handler.workspaces.Get("c1").Readiness("pnl")
	require.True(t, live)
	cancel()
	require.Eventually(t, func() bool {
		_, live := env.handler.workspaces.Get("c1").Readiness("pnl")
		return !live
	}, 2*time.Second, 10*time.Millisecond)
}

func TestImpactFiltersByClassification(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/impact?classification=Accrual", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var view struct {
		Classifications []string `json:"classifications"`
		Categories      []struct {
			ChangedCount int `json:"changed_count"`
			GLChanges    []struct {
				GLCode string `json:"gl_code"`
			} `json:"gl_changes"`
		} `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	require.Equal(t, []string{"Accrual", "Reclass"}, view.Classifications)
	require.Len(t, view.Categories, 1)
	require.Equal(t, 1, view.Categories[0].ChangedCount)
	require.Equal(t, "4000", view.Categories[0].GLChanges[0].GLCode)

	rr = env.do(t, http.MethodGet, "/api/impact", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	require.Equal(t, 2, view.Categories[0].ChangedCount)

	rr = env.do(t, http.MethodGet, "/api/impact.csv?classification=Reclass", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "Revenue,5000,Other")
}

func multipartBody(t *testing.T, name string, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("files", name)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestUploadValidatesBeforeForwarding(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, "adj.csv", "account,amount\n4000,10\n")
	req := httptest.NewRequest(http.MethodPost, "/api/uploads/adjustments", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	require.Empty(t, env.fake.uploaded)

	body, ct = multipartBody(t, "adj.csv", "Account,Debit,Credit\n4000,10,0\n")
	req = httptest.NewRequest(http.MethodPost, "/api/uploads/adjustments", body)
	req.Header.Set("Content-Type", ct)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Equal(t, []string{"adjustments/adj.csv"}, env.fake.uploaded)
}

func TestMissingClientIDIsRejected(t *testing.T) {
	env := newTestEnv(t)
	rr := httptest.NewRecorder()
	env.handler.handleState(rr, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
