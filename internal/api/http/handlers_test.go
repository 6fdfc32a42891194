package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	aggregation "energy-dashboard/internal/aggregation/domain"
	"energy-dashboard/internal/auth"
	hierarchy "energy-dashboard/internal/hierarchy/domain"
	realtime "energy-dashboard/internal/realtime/domain"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{aggregation.ErrInvalidTimeWindow, http.StatusBadRequest, realtime.CodeValidation},
		{fmt.Errorf("lookup: %w", hierarchy.ErrNotFound), http.StatusNotFound, realtime.CodeNotFound},
		{auth.ErrUnauthorized, http.StatusUnauthorized, realtime.CodeUnauthorized},
		{auth.ErrForbidden, http.StatusForbidden, realtime.CodeAccessDenied},
		{fmt.Errorf("%w: store", aggregation.ErrAggregation), http.StatusBadGateway, realtime.CodeAggregation},
		{realtime.ErrRoomFull, http.StatusServiceUnavailable, realtime.CodeCapacity},
		{errors.New("boom"), http.StatusInternalServerError, realtime.CodeInternal},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		WriteError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())

		var body ErrorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, tc.code, body.Error.Code)
		require.NotEmpty(t, body.Error.Message)
	}
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("pq: password authentication failed"))

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "internal error", body.Error.Message)
}

func TestWriteErrorHidesStoreFailure(t *testing.T) {
	key := aggregation.Key{Level: hierarchy.LevelPlant, EntityID: "P1", TimeWindow: aggregation.Window1h}
	rec := httptest.NewRecorder()
	WriteError(rec, &aggregation.ComputeError{Key: key, Err: errors.New("pq: relation equipment_readings does not exist")})

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, realtime.CodeAggregation, body.Error.Code)
	require.Equal(t, "aggregation failed for plant:P1:1h", body.Error.Message)
	require.NotContains(t, rec.Body.String(), "pq:")
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	started := time.Now().Add(-time.Minute)

	rec := httptest.NewRecorder()
	NewHealthHandler(nil, started).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	down := pingFunc(func(context.Context) error { return errors.New("refused") })
	rec = httptest.NewRecorder()
	NewHealthHandler(down, started).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "degraded")

	rec = httptest.NewRecorder()
	NewHealthHandler(nil, started).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAccessLogRecordsStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	handler := AccessLog(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/aggregation/dashboard", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, http.StatusTeapot, entry.Data["status"])
	require.Equal(t, "/api/v1/aggregation/dashboard", entry.Data["path"])
}
