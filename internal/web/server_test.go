package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/formexport/internal/config"
	"github.com/JonMunkholm/formexport/internal/core"
	"github.com/JonMunkholm/formexport/internal/export"
)

// fakeService records calls and returns canned results.
type fakeService struct {
	mu sync.Mutex

	exportReq   export.Request
	exportForm  string
	result      *export.Result
	fields      []string
	reservation core.Reservation
	owner       string
	filter      core.ReservationFilter
	list        []core.Reservation
	released    []string
	artifact    string
	file        core.StoredFile
	err         error
}

func (f *fakeService) Export(ctx context.Context, formID string, req export.Request) (*export.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exportForm, f.exportReq = formID, req
	return f.result, f.err
}

func (f *fakeService) ExportFields(ctx context.Context, formID string, req export.Request) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exportForm, f.exportReq = formID, req
	return f.fields, f.err
}

func (f *fakeService) ExportWithReservation(ctx context.Context, formID string, req export.Request, owner string) (core.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exportForm, f.exportReq, f.owner = formID, req, owner
	return f.reservation, f.err
}

func (f *fakeService) ReadReservation(ctx context.Context, id string) (core.Reservation, error) {
	if f.err != nil {
		return core.Reservation{}, f.err
	}
	return f.reservation, nil
}

func (f *fakeService) ListReservations(ctx context.Context, filter core.ReservationFilter) ([]core.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = filter
	return f.list, f.err
}

func (f *fakeService) ReleaseReservation(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, id)
	return f.err
}

func (f *fakeService) OpenArtifact(ctx context.Context, id string) (io.ReadCloser, core.StoredFile, error) {
	if f.err != nil {
		return nil, core.StoredFile{}, f.err
	}
	return io.NopCloser(strings.NewReader(f.artifact)), f.file, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{RequestTimeout: 5 * time.Second},
		Rate:     config.RateLimitConfig{Enabled: false},
		Security: config.SecurityConfig{OwnerHeader: "X-Forwarded-User", EnableCSP: true},
	}
}

func newTestServer(t *testing.T, svc ExportService, opts ...Option) *Server {
	t.Helper()
	return newTestServerWithConfig(t, svc, testConfig(), opts...)
}

func newTestServerWithConfig(t *testing.T, svc ExportService, cfg *config.Config, opts ...Option) *Server {
	t.Helper()
	s := NewServer(svc, cfg, opts...)
	t.Cleanup(s.Close)
	return s
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func TestHandleExport_CSV(t *testing.T) {
	svc := &fakeService{result: &export.Result{
		Data:        []byte("form.confirmationId,a\nC1,x\n"),
		ContentType: "text/csv",
		Filename:    "intake_submissions.csv",
	}}
	s := newTestServer(t, svc)

	rr := do(s, httptest.NewRequest(http.MethodGet,
		"/api/v1/forms/form-1/export?format=csv&template=flattenedWithBlankOut&version=2&columns=a,b&drafts=true", nil))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="intake_submissions.csv"`, rr.Header().Get("Content-Disposition"))
	assert.Equal(t, "form.confirmationId,a\nC1,x\n", rr.Body.String())

	assert.Equal(t, "form-1", svc.exportForm)
	assert.Equal(t, export.TemplateBlankOut, svc.exportReq.Template)
	require.NotNil(t, svc.exportReq.Version)
	assert.Equal(t, 2, *svc.exportReq.Version)
	assert.Equal(t, []string{"a", "b"}, svc.exportReq.Columns)
	assert.True(t, svc.exportReq.Drafts)
}

func TestHandleExport_InvalidParams(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc)

	rr := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/forms/form-1/export?format=xml", nil))

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "EXP002", decodeError(t, rr).Code)
	assert.Empty(t, svc.exportForm, "service must not be called")
}

func TestHandleExportBody_Columns(t *testing.T) {
	svc := &fakeService{result: &export.Result{Data: []byte("[]"), ContentType: "application/json", Filename: "f_submissions.json"}}
	s := newTestServer(t, svc)

	body := `{"format":"json","columns":["a","c"],"preference":"{\"minDate\":\"2024-01-01\"}"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/forms/form-1/export/fields", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := do(s, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, export.FormatJSON, svc.exportReq.Format)
	assert.Equal(t, []string{"a", "c"}, svc.exportReq.Columns)
	require.NotNil(t, svc.exportReq.MinDate)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *svc.exportReq.MinDate)
}

func TestHandleExportFields(t *testing.T) {
	svc := &fakeService{fields: []string{"form.confirmationId", "a", "b"}}
	s := newTestServer(t, svc)

	rr := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/forms/form-1/csvexport/fields?version=1", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `["form.confirmationId","a","b"]`, rr.Body.String())
}

func TestHandleExportWithReservation(t *testing.T) {
	svc := &fakeService{reservation: core.Reservation{ID: "r1", Status: core.ReservationPending, CreatedBy: "alice"}}
	s := newTestServer(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/forms/form-1/export/reservations", strings.NewReader(`{"template":"unflattened"}`))
	req.Header.Set("X-Forwarded-User", "alice")
	rr := do(s, req)

	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.Equal(t, "/api/v1/reservations/r1", rr.Header().Get("Location"))
	assert.Equal(t, "alice", svc.owner)
	assert.Equal(t, export.TemplateUnflattened, svc.exportReq.Template)

	var got core.Reservation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "r1", got.ID)
	assert.False(t, got.Ready)
}

func TestHandleExportWithReservation_MissingOwner(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc)

	rr := do(s, httptest.NewRequest(http.MethodPost, "/api/v1/forms/form-1/export/reservations", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "AUTH_MISSING_USER", decodeError(t, rr).Code)
}

func TestHandleGetReservation_HTMX(t *testing.T) {
	errMsg := "The export did not finish in time"
	tests := []struct {
		name string
		res  core.Reservation
		want string
	}{
		{"pending polls", core.Reservation{ID: "r1", Status: core.ReservationPending}, `hx-trigger="every 2s"`},
		{"ready links download", core.Reservation{ID: "r1", Ready: true, Status: core.ReservationReady}, `href="/api/v1/reservations/r1/download"`},
		{"failed shows error", core.Reservation{ID: "r1", Status: core.ReservationFailed, Error: &errMsg}, errMsg},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeService{reservation: tt.res})
			req := httptest.NewRequest(http.MethodGet, "/api/v1/reservations/r1", nil)
			req.Header.Set("HX-Request", "true")
			rr := do(s, req)

			require.Equal(t, http.StatusOK, rr.Code)
			assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
			assert.Contains(t, rr.Body.String(), tt.want)
		})
	}
}

func TestHandleGetReservation_JSON(t *testing.T) {
	fileID := "f1"
	s := newTestServer(t, &fakeService{reservation: core.Reservation{ID: "r1", FileID: &fileID, Ready: true, Status: core.ReservationReady}})

	rr := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/reservations/r1", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "f1", body["fileId"])
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, "ready", body["status"])
}

func TestHandleListReservations_Filter(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc)

	rr := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/reservations?ready=false&createdBy=alice&fileId=f1&status=pending", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
	require.NotNil(t, svc.filter.Ready)
	assert.False(t, *svc.filter.Ready)
	require.NotNil(t, svc.filter.FileID)
	assert.Equal(t, "f1", *svc.filter.FileID)
	assert.Equal(t, "alice", svc.filter.CreatedBy)
	assert.Equal(t, core.ReservationPending, svc.filter.Status)

	rr = do(s, httptest.NewRequest(http.MethodGet, "/api/v1/reservations?ready=maybe", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestHandleDownload(t *testing.T) {
	svc := &fakeService{
		artifact: "a,b\n1,2\n",
		file:     core.StoredFile{ID: "f1", OriginalName: "intake_submissions.csv", MimeType: "text/csv", Size: 8},
	}
	s := newTestServer(t, svc)

	rr := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/reservations/r1/download", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Equal(t, "8", rr.Header().Get("Content-Length"))
	assert.Equal(t, `attachment; filename="intake_submissions.csv"`, rr.Header().Get("Content-Disposition"))
	assert.Equal(t, "a,b\n1,2\n", rr.Body.String())
}

func TestHandleReleaseReservation(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc)

	rr := do(s, httptest.NewRequest(http.MethodDelete, "/api/v1/reservations/r1", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []string{"r1"}, svc.released)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", fmt.Errorf("read reservation r1: %w", core.ErrNotFound), http.StatusNotFound, "EXP001"},
		{"invalid", fmt.Errorf("%w: bad", core.ErrInvalidRequest), http.StatusUnprocessableEntity, "EXP002"},
		{"format", &core.FormatError{Format: export.FormatCSV, Err: errors.New("boom")}, http.StatusInternalServerError, "EXP003"},
		{"storage", &core.StorageError{Op: "open", Err: errors.New("disk")}, http.StatusBadGateway, "EXP004"},
		{"not ready", fmt.Errorf("reservation r1: %w", core.ErrNotReady), http.StatusConflict, "EXP005"},
		{"busy", core.ErrTooManyExports, http.StatusServiceUnavailable, "EXP006"},
		{"shutting down", core.ErrWorkerClosed, http.StatusServiceUnavailable, "EXP008"},
		{"unknown", errors.New("kaboom"), http.StatusInternalServerError, "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeService{err: tt.err})

			rr := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/reservations/r1/download", nil))

			assert.Equal(t, tt.status, rr.Code)
			body := decodeError(t, rr)
			assert.Equal(t, tt.code, body.Code)
			assert.NotContains(t, body.Message, "kaboom", "technical details stay in the log")
		})
	}
}

func TestErrorResponse_HTMX(t *testing.T) {
	s := newTestServer(t, &fakeService{err: core.ErrNotFound})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reservations/r1", nil)
	req.Header.Set("HX-Request", "true")

	rr := do(s, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), `role="alert"`)
	assert.Contains(t, rr.Body.String(), "EXP001")
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret"}
	s := newTestServerWithConfig(t, &fakeService{}, cfg)

	rr := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/reservations", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reservations", nil)
	req.Header.Set("X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, do(s, req).Code)

	assert.Equal(t, http.StatusOK, do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code, "health is not behind the key")
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, ExportLimit: 2}
	svc := &fakeService{result: &export.Result{Data: []byte("x"), ContentType: "text/csv", Filename: "x.csv"}}
	s := newTestServerWithConfig(t, svc, cfg)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(s, httptest.NewRequest(http.MethodGet, "/api/v1/forms/f/export", nil)).Code)
	}
	rr := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/forms/f/export", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "RATE001", decodeError(t, rr).Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do(s, httptest.NewRequest(http.MethodGet, "/api/v1/reservations", nil)).Code,
		"the export limit does not apply to reservation reads")
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("formexport_exports_total 1\n"))
	})
	healthy := true
	s := newTestServer(t, &fakeService{},
		WithMetrics(metrics),
		WithHealthCheck(func(ctx context.Context) error {
			if !healthy {
				return errors.New("db down")
			}
			return nil
		}),
	)

	rr := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	healthy = false
	assert.Equal(t, http.StatusServiceUnavailable, do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)

	rr = do(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), "formexport_exports_total")
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t, &fakeService{})

	rr := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rr.Header().Get("Content-Security-Policy"))
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)
	defer rl.stop()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("1.2.3.4"))
	assert.False(t, rl.allow("1.2.3.4"))
	assert.True(t, rl.allow("5.6.7.8"), "limits are per client")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.allow("1.2.3.4"))
}
