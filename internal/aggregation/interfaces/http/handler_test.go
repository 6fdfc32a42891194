package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	aggapp "energy-dashboard/internal/aggregation/application"
	aggregation "energy-dashboard/internal/aggregation/domain"
	cachememory "energy-dashboard/internal/aggregation/infrastructure/memory"
	"energy-dashboard/internal/audit"
	"energy-dashboard/internal/auth"
	hierarchy "energy-dashboard/internal/hierarchy/domain"
	hierarchymemory "energy-dashboard/internal/hierarchy/infrastructure/memory"
	"energy-dashboard/internal/telemetry/domain"
	telemetrymemory "energy-dashboard/internal/telemetry/infrastructure/memory"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) Log(_ context.Context, entry audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func newHandler(t *testing.T, cache aggregation.Cache) (*Handler, *recordingAudit) {
	t.Helper()
	dir, err := hierarchymemory.NewDirectory(hierarchymemory.Seed{
		States: []hierarchy.State{{ID: "S1", Name: "North"}, {ID: "S2", Name: "South"}},
		Plants: []hierarchy.Plant{{ID: "P1", StateID: "S1"}, {ID: "P2", StateID: "S2"}},
		Equipment: []hierarchy.Equipment{
			{ID: "E1", PlantID: "P1"},
			{ID: "E2", PlantID: "P1"},
			{ID: "E3", PlantID: "P1"},
			{ID: "E4", PlantID: "P2"},
		},
	})
	require.NoError(t, err)

	store := telemetrymemory.NewReadingStore()
	store.Append(
		telemetry.Reading{EquipmentID: "E1", PlantID: "P1", At: testNow.Add(-10 * time.Minute), Electrical: telemetry.Electrical{ActivePowerKW: 100}},
		telemetry.Reading{EquipmentID: "E2", PlantID: "P1", At: testNow.Add(-20 * time.Minute), Electrical: telemetry.Electrical{ActivePowerKW: 150}},
		telemetry.Reading{EquipmentID: "E3", PlantID: "P1", At: testNow.Add(-30 * time.Minute), Electrical: telemetry.Electrical{ActivePowerKW: 200}, Status: "fault"},
	)

	engine, err := aggapp.NewEngine(dir, store, aggapp.WithEngineClock(clockwork.NewFakeClockAt(testNow)))
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()
	service, err := aggapp.NewService(engine, dir, cache, time.Minute, logger)
	require.NoError(t, err)
	guard, err := auth.NewGuard(dir)
	require.NoError(t, err)

	log := &recordingAudit{}
	handler, err := NewHandler(service, guard, logger, WithAudit(log), WithDefaultWindow(aggregation.Window1h))
	require.NoError(t, err)
	return handler, log
}

func request(method, target string, scope *auth.Scope) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if scope == nil {
		return req
	}
	identity := auth.Identity{Subject: "tester", Role: auth.RoleAdmin, Scope: *scope}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestGetPlantResult(t *testing.T) {
	h, _ := newHandler(t, nil)
	north := &auth.Scope{States: []string{"S1"}}

	rec := serve(h, request(http.MethodGet, "/api/v1/aggregation/plant/P1?timeWindow=1h", north))
	require.Equal(t, http.StatusOK, rec.Code)

	var result aggregation.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, 450.0, result.Electrical.ActivePower)
	require.Equal(t, 3, result.DataPoints)
	require.Equal(t, 3, result.Equipment.Total)
	require.Equal(t, 1, result.Equipment.Fault)
	require.Equal(t, "P1", *result.EntityID)
}

func TestGetErrors(t *testing.T) {
	h, _ := newHandler(t, nil)
	north := &auth.Scope{States: []string{"S1"}}
	all := &auth.Scope{All: true}

	cases := []struct {
		name   string
		target string
		scope  *auth.Scope
		status int
		code   string
	}{
		{"out of scope", "/api/v1/aggregation/plant/P2", north, http.StatusForbidden, "access_denied"},
		{"sector needs all", "/api/v1/aggregation/sector", north, http.StatusForbidden, "access_denied"},
		{"unknown entity", "/api/v1/aggregation/plant/P9", all, http.StatusNotFound, "not_found"},
		{"bad window", "/api/v1/aggregation/plant/P1?timeWindow=2h", all, http.StatusBadRequest, "validation"},
		{"bad level", "/api/v1/aggregation/region/R1", all, http.StatusBadRequest, "validation"},
		{"missing id", "/api/v1/aggregation/plant", all, http.StatusBadRequest, "validation"},
		{"no identity", "/api/v1/aggregation/plant/P1", nil, http.StatusUnauthorized, "unauthorized"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(h, request(http.MethodGet, tc.target, tc.scope))
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, tc.code, errorCode(t, rec))
		})
	}
}

func TestGetSector(t *testing.T) {
	h, _ := newHandler(t, nil)

	for _, target := range []string{"/api/v1/aggregation/sector", "/api/v1/aggregation/sector/all"} {
		rec := serve(h, request(http.MethodGet, target+"?timeWindow=24h", &auth.Scope{All: true}))
		require.Equal(t, http.StatusOK, rec.Code)
		var result aggregation.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		require.Nil(t, result.EntityID)
		require.Equal(t, 450.0, result.Electrical.ActivePower)
	}
}

func TestHierarchyHidesUncoveredAncestors(t *testing.T) {
	h, _ := newHandler(t, nil)

	rec := serve(h, request(http.MethodGet, "/api/v1/aggregation/hierarchy/equipment/E2", &auth.Scope{Plants: []string{"P1"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Levels []aggregation.Result `json:"levels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Levels, 2)
	require.Equal(t, hierarchy.LevelEquipment, body.Levels[0].Level)
	require.Equal(t, hierarchy.LevelPlant, body.Levels[1].Level)

	rec = serve(h, request(http.MethodGet, "/api/v1/aggregation/hierarchy/equipment/E2", &auth.Scope{All: true}))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Levels, 4)
}

func TestDashboardIsScoped(t *testing.T) {
	h, _ := newHandler(t, nil)

	rec := serve(h, request(http.MethodGet, "/api/v1/aggregation/dashboard?timeWindow=24h", &auth.Scope{States: []string{"S2"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	var dashboard aggapp.Dashboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dashboard))
	require.Nil(t, dashboard.Sector)
	require.Len(t, dashboard.States, 1)
	require.Zero(t, dashboard.Electrical.ActivePower)

	rec = serve(h, request(http.MethodGet, "/api/v1/aggregation/dashboard?timeWindow=24h", &auth.Scope{All: true}))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dashboard))
	require.NotNil(t, dashboard.Sector)
	require.Len(t, dashboard.States, 2)
	require.Equal(t, 450.0, dashboard.Electrical.ActivePower)
	require.Equal(t, 3, dashboard.Equipment.Total)
}

func TestDashboardExports(t *testing.T) {
	h, _ := newHandler(t, nil)
	all := &auth.Scope{All: true}

	rec := serve(h, request(http.MethodGet, "/api/v1/aggregation/dashboard/export.xlsx", all))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	book, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer book.Close()
	name, err := book.GetCellValue("states", "B2")
	require.NoError(t, err)
	require.Equal(t, "North", name)

	rec = serve(h, request(http.MethodGet, "/api/v1/aggregation/dashboard/export.pdf", all))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))

	rec = serve(h, request(http.MethodGet, "/api/v1/aggregation/dashboard/export.csv", all))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCacheStatsAndInvalidate(t *testing.T) {
	cache := cachememory.NewCache(time.Minute, 0)
	defer cache.Close()
	h, log := newHandler(t, cache)
	all := &auth.Scope{All: true}

	require.Equal(t, http.StatusOK, serve(h, request(http.MethodGet, "/api/v1/aggregation/plant/P1", all)).Code)
	require.Equal(t, http.StatusOK, serve(h, request(http.MethodGet, "/api/v1/aggregation/plant/P1?timeWindow=15m", all)).Code)
	require.Equal(t, http.StatusOK, serve(h, request(http.MethodGet, "/api/v1/aggregation/state/S1", all)).Code)

	rec := serve(h, request(http.MethodGet, "/api/v1/aggregation/cache/stats", all))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats aggregation.CacheStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.True(t, stats.Enabled)
	require.Equal(t, 3, stats.Keys)

	rec = serve(h, request(http.MethodDelete, "/api/v1/aggregation/cache/plant/P1?timeWindow=15m", all))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"removed":1}`, rec.Body.String())

	rec = serve(h, request(http.MethodDelete, "/api/v1/aggregation/cache", all))
	require.JSONEq(t, `{"removed":2}`, rec.Body.String())

	require.Len(t, log.entries, 2)
	require.Equal(t, audit.ActionCacheInvalidate, log.entries[0].Action)
	require.Equal(t, "plant", log.entries[0].Level)
	require.Equal(t, "P1", log.entries[0].EntityID)

	rec = serve(h, request(http.MethodDelete, "/api/v1/aggregation/cache/region", all))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(h, request(http.MethodPost, "/api/v1/aggregation/cache", all))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCacheStatsDisabled(t *testing.T) {
	h, _ := newHandler(t, cachememory.DisabledCache{})
	rec := serve(h, request(http.MethodGet, "/api/v1/aggregation/cache/stats", &auth.Scope{All: true}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"enabled":false}`, rec.Body.String())
}

type brokenStore struct{}

func (brokenStore) QueryReadings(context.Context, []string, time.Time, time.Time) ([]telemetry.Reading, error) {
	return nil, errors.New("pq: relation \"equipment_readings\" does not exist")
}

func TestStoreFailureHidesDriverText(t *testing.T) {
	dir, err := hierarchymemory.NewDirectory(hierarchymemory.Seed{
		States:    []hierarchy.State{{ID: "S1"}},
		Plants:    []hierarchy.Plant{{ID: "P1", StateID: "S1"}},
		Equipment: []hierarchy.Equipment{{ID: "E1", PlantID: "P1"}},
	})
	require.NoError(t, err)
	engine, err := aggapp.NewEngine(dir, brokenStore{}, aggapp.WithEngineClock(clockwork.NewFakeClockAt(testNow)))
	require.NoError(t, err)
	logger, hook := test.NewNullLogger()
	service, err := aggapp.NewService(engine, dir, nil, time.Minute, logger)
	require.NoError(t, err)
	guard, err := auth.NewGuard(dir)
	require.NoError(t, err)
	h, err := NewHandler(service, guard, logger)
	require.NoError(t, err)

	all := auth.Unrestricted()
	rec := serve(h, request(http.MethodGet, "/api/v1/aggregation/plant/P1?timeWindow=1h", &all))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "aggregation", errorCode(t, rec))
	require.Contains(t, rec.Body.String(), "plant:P1:1h")
	require.NotContains(t, rec.Body.String(), "equipment_readings")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, "aggregation failed", entry.Message)
	require.Contains(t, entry.Data["error"].(error).Error(), "equipment_readings")
}
