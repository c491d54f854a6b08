package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wrdspanel/internal/infrastructure"
	"wrdspanel/internal/services"
	"wrdspanel/internal/shared/testutil"
	api "wrdspanel/pkg/contracts/api/v1"
)

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) ProblemDetails {
	t.Helper()
	var p ProblemDetails
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	return p
}

func TestErrorHandler_HandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
		wantCode   string
	}{
		{
			name:       "context deadline exceeded",
			err:        context.DeadlineExceeded,
			wantStatus: http.StatusGatewayTimeout,
			wantType:   TypeTimeout,
		},
		{
			name:       "api error",
			err:        InvalidRequest(fmt.Errorf("unexpected EOF")),
			wantStatus: http.StatusBadRequest,
			wantType:   TypeValidation,
			wantCode:   CodeInvalidRequest,
		},
		{
			name:       "run already in progress",
			err:        fmt.Errorf("%w: run-1", services.ErrRunInProgress),
			wantStatus: http.StatusConflict,
			wantType:   TypeRunInProgress,
			wantCode:   CodeRunInProgress,
		},
		{
			name:       "unknown run",
			err:        fmt.Errorf("%w: nope", services.ErrRunNotFound),
			wantStatus: http.StatusNotFound,
			wantType:   TypeRunNotFound,
			wantCode:   CodeRunNotFound,
		},
		{
			name:       "panel not built",
			err:        services.ErrPanelNotFound,
			wantStatus: http.StatusNotFound,
			wantType:   TypePanelNotFound,
			wantCode:   CodePanelNotFound,
		},
		{
			name:       "invalid input",
			err:        fmt.Errorf("%w: unit column missing", services.ErrInvalidInput),
			wantStatus: http.StatusBadRequest,
			wantType:   TypeValidation,
			wantCode:   CodeValidationFailed,
		},
		{
			name:       "shutting down",
			err:        services.ErrShuttingDown,
			wantStatus: http.StatusServiceUnavailable,
			wantType:   TypeServiceDown,
			wantCode:   CodeUnavailable,
		},
		{
			name:       "anything else",
			err:        fmt.Errorf("disk on fire"),
			wantStatus: http.StatusInternalServerError,
			wantType:   TypeInternal,
			wantCode:   CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := testutil.NewTestLogger(t)
			handler := NewErrorHandler(logger, false)

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/api/v1/pipeline/runs", nil)
			r = r.WithContext(infrastructure.WithTraceID(r.Context(), "trace-123"))

			handler.HandleError(w, r, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			p := decodeProblem(t, w)
			assert.Equal(t, tt.wantType, p.Type)
			assert.Equal(t, tt.wantStatus, p.Status)
			assert.Equal(t, "/api/v1/pipeline/runs", p.Instance)
			assert.Equal(t, "trace-123", p.Extensions["trace_id"])
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, p.Extensions["error_code"])
			}
			_, ok := logs.Find("request failed")
			assert.True(t, ok)
		})
	}
}

func TestErrorHandler_NilError(t *testing.T) {
	handler := NewErrorHandler(nil, false)
	w := httptest.NewRecorder()
	handler.HandleError(w, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.Zero(t, w.Body.Len())
}

func ptr[T any](v T) *T { return &v }

func TestErrorHandler_ValidationErrors(t *testing.T) {
	handler := NewErrorHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), false)
	err := validator.New().Struct(api.DiagnosticsQuery{Threshold: ptr(2.0)})
	require.Error(t, err)

	w := httptest.NewRecorder()
	handler.HandleError(w, httptest.NewRequest(http.MethodGet, "/api/v1/panel/diagnostics", nil), err)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	p := decodeProblem(t, w)
	assert.Equal(t, TypeValidation, p.Type)
	details, ok := p.Extensions["details"].(map[string]any)
	require.True(t, ok)
	fields, ok := details["errors"].([]any)
	require.True(t, ok)
	assert.Len(t, fields, 3)
}

func TestFieldErrors(t *testing.T) {
	err := validator.New().Struct(api.CoverageQuery{Format: "pdf"})
	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)

	got := FieldErrors(verrs)
	require.Len(t, got, 1)
	assert.Equal(t, "Format", got[0].Field)
	assert.Equal(t, "Format must be one of: json latex", got[0].Message)
}

func TestErrorHandler_Fallbacks(t *testing.T) {
	handler := NewErrorHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), true)

	w := httptest.NewRecorder()
	handler.NotFound(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, TypeNotFound, decodeProblem(t, w).Type)

	w = httptest.NewRecorder()
	handler.MethodNotAllowed(w, httptest.NewRequest(http.MethodDelete, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Contains(t, decodeProblem(t, w).Detail, "DELETE")

	w = httptest.NewRecorder()
	handler.HandlePanic(w, httptest.NewRequest(http.MethodGet, "/", nil), "boom")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	p := decodeProblem(t, w)
	assert.Equal(t, "boom", p.Extensions["panic"])
	assert.NotEmpty(t, p.Extensions["stack"])
}

func TestProblemDetailsJSON(t *testing.T) {
	p := NewProblemDetails(http.StatusConflict, TypeConflict, "Conflict", "busy", "/x").
		WithExtension("retry_after", 5)

	b, err := json.Marshal(p)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, float64(409), raw["status"])
	assert.Equal(t, float64(5), raw["retry_after"])

	var back ProblemDetails
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, "busy", back.Detail)
	assert.Equal(t, float64(5), back.Extensions["retry_after"])
}
