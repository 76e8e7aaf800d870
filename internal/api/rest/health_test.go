package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
)

func TestHealthService_Liveness(t *testing.T) {
	svc := NewHealthService(zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	svc.livenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealthService_ReadinessAllHealthy(t *testing.T) {
	svc := NewHealthService(zaptest.NewLogger(t))
	svc.Register(CheckerFunc{CheckerName: "postgres", Fn: func(context.Context) error { return nil }})
	svc.Register(CheckerFunc{CheckerName: "redis", Fn: func(context.Context) error { return nil }})

	rec := httptest.NewRecorder()
	svc.readinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ready"`)
	assert.Contains(t, rec.Body.String(), `"postgres":"ok"`)
}

func TestHealthService_ReadinessDegraded(t *testing.T) {
	svc := NewHealthService(zaptest.NewLogger(t))
	svc.Register(CheckerFunc{CheckerName: "postgres", Fn: func(context.Context) error { return nil }})
	svc.Register(CheckerFunc{CheckerName: "redis", Fn: func(context.Context) error {
		return errors.NewExternalError("redis", "connection refused")
	}})

	rec := httptest.NewRecorder()
	svc.readinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	assert.Contains(t, rec.Body.String(), `"postgres":"ok"`)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
