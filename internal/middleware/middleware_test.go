package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	apierrors "wrdspanel/internal/errors"
	"wrdspanel/internal/infrastructure"
	"wrdspanel/internal/shared/testutil"
	api "wrdspanel/pkg/contracts/api/v1"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "generated"},
		{name: "propagated", header: "abc-123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen, trace string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetReqID(r.Context())
				trace = infrastructure.GetTraceID(r.Context())
			}))
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set(RequestIDHeader, tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			require.NotEmpty(t, seen)
			if tt.header != "" {
				assert.Equal(t, tt.header, seen)
			}
			assert.Equal(t, seen, trace)
			assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
		})
	}
}

func TestStructuredLogger(t *testing.T) {
	logger, logs := testutil.NewTestLogger(nil)
	h := RequestID(StructuredLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.Header.Set(RequestIDHeader, "req-1")
	h.ServeHTTP(httptest.NewRecorder(), r)

	rec, ok := logs.Find("request completed")
	require.True(t, ok)
	assert.Equal(t, "req-1", rec.Attrs["trace_id"])
	assert.Equal(t, int64(http.StatusTeapot), rec.Attrs["status"])
	assert.Equal(t, "/healthz", rec.Attrs["path"])
}

func TestRecoverer(t *testing.T) {
	logger, logs := testutil.NewTestLogger(nil)
	h := Recoverer(apierrors.NewErrorHandler(logger, false))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	testutil.AssertLogged(t, logs, slog.LevelError, "panic recovered")
}

func TestRateLimiter(t *testing.T) {
	logger, logs := testutil.NewTestLogger(nil)
	rl := NewRateLimiter(0.5, 2, logger)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		h.ServeHTTP(last, httptest.NewRequest(http.MethodGet, "/api/v1/panel/coverage", nil))
		codes = append(codes, last.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "2", last.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(last.Body).Decode(&body))
	assert.Equal(t, apierrors.TypeRateLimit, body["type"])
	testutil.AssertLogged(t, logs, slog.LevelWarn, "rate limit exceeded")
}

func TestOTelMiddleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewOTelMiddleware(&infrastructure.OTelProviders{Meter: mp.Meter("test")})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(m.Handler)
	r.Get("/api/v1/pipeline/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/pipeline/runs/abc", nil))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			if md.Name != "http_requests_total" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			require.Len(t, sum.DataPoints, 1)
			route, _ := sum.DataPoints[0].Attributes.Value("route")
			assert.Equal(t, "/api/v1/pipeline/runs/{id}", route.AsString())
			status, _ := sum.DataPoints[0].Attributes.Value("status_code")
			assert.Equal(t, int64(http.StatusNotFound), status.AsInt64())
		}
	}
	assert.True(t, found["http_requests_total"])
	assert.True(t, found["http_request_duration_seconds"])
}

func TestBinderDecodeJSON(t *testing.T) {
	b := NewBinder()
	tests := []struct {
		name     string
		body     string
		ctype    string
		wantErr  string
		wantStep []string
	}{
		{name: "empty body"},
		{name: "steps", body: `{"refresh":true,"steps":["merge","diagnostics"]}`, wantStep: []string{"merge", "diagnostics"}},
		{name: "unknown step", body: `{"steps":["scrape"]}`, wantErr: apierrors.CodeValidationFailed},
		{name: "unknown field", body: `{"force":true}`, wantErr: apierrors.CodeInvalidRequest},
		{name: "malformed", body: `{"steps":`, wantErr: apierrors.CodeInvalidRequest},
		{name: "wrong content type", body: `steps=merge`, ctype: "application/x-www-form-urlencoded", wantErr: apierrors.CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/runs", strings.NewReader(tt.body))
			if tt.ctype != "" {
				r.Header.Set("Content-Type", tt.ctype)
			}
			var req api.StartRunRequest
			err := b.DecodeJSON(r, &req)
			if tt.wantErr != "" {
				var apiErr *apierrors.APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, tt.wantErr, apiErr.ErrorCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStep, req.Steps)
		})
	}
}

func TestBinderBindQuery(t *testing.T) {
	b := NewBinder()

	q := api.DiagnosticsQuery{UnitID: "gvkey", TimeID: "year_quarter"}
	r := httptest.NewRequest(http.MethodGet, "/x?threshold=0.4&unit_id=permno&extra=1", nil)
	require.NoError(t, b.BindQuery(r, &q))
	assert.Equal(t, "permno", q.UnitID)
	assert.Equal(t, "year_quarter", q.TimeID)
	require.NotNil(t, q.Threshold)
	assert.Equal(t, 0.4, *q.Threshold)

	unset := api.DiagnosticsQuery{}
	require.NoError(t, b.BindQuery(httptest.NewRequest(http.MethodGet, "/x?unit_id=gvkey&time_id=year_quarter", nil), &unset))
	assert.Nil(t, unset.Threshold)

	zero := api.DiagnosticsQuery{}
	require.NoError(t, b.BindQuery(httptest.NewRequest(http.MethodGet, "/x?unit_id=gvkey&time_id=year_quarter&threshold=0", nil), &zero))
	require.NotNil(t, zero.Threshold)
	assert.Zero(t, *zero.Threshold)

	err := b.BindQuery(httptest.NewRequest(http.MethodGet, "/x?threshold=1.5", nil), &q)
	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	details := apiErr.Details.(apierrors.ValidationErrors)
	require.Len(t, details.Errors, 1)
	assert.Equal(t, "threshold", details.Errors[0].Field)

	err = b.BindQuery(httptest.NewRequest(http.MethodGet, "/x?threshold=abc", nil), &q)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierrors.CodeInvalidRequest, apiErr.ErrorCode)
}
