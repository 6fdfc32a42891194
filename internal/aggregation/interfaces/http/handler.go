package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	aggapp "energy-dashboard/internal/aggregation/application"
	aggregation "energy-dashboard/internal/aggregation/domain"
	apihttp "energy-dashboard/internal/api/http"
	"energy-dashboard/internal/audit"
	"energy-dashboard/internal/auth"
	hierarchy "energy-dashboard/internal/hierarchy/domain"
)

const prefix = "/api/v1/aggregation/"

// ScopeGuard checks that a scope covers an entity.
type ScopeGuard interface {
	Authorize(ctx context.Context, scope auth.Scope, level hierarchy.Level, entityID string) error
}

// Handler serves the aggregation query surface:
//
//	GET    /api/v1/aggregation/{level}/{entityId}?timeWindow=
//	GET    /api/v1/aggregation/hierarchy/{level}/{entityId}?timeWindow=
//	GET    /api/v1/aggregation/dashboard?timeWindow=
//	GET    /api/v1/aggregation/dashboard/export.xlsx|export.pdf?timeWindow=
//	GET    /api/v1/aggregation/cache/stats
//	DELETE /api/v1/aggregation/cache[/{level}[/{entityId}]]?timeWindow=
type Handler struct {
	service       *aggapp.Service
	guard         ScopeGuard
	audit         audit.Logger
	defaultWindow aggregation.TimeWindow
	logger        logrus.FieldLogger
}

// Option configures the handler.
type Option func(*Handler)

// WithDefaultWindow sets the window used when timeWindow is omitted.
func WithDefaultWindow(window aggregation.TimeWindow) Option {
	return func(h *Handler) {
		if window != "" {
			h.defaultWindow = window
		}
	}
}

// WithAudit records cache invalidations.
func WithAudit(logger audit.Logger) Option {
	return func(h *Handler) {
		h.audit = logger
	}
}

// NewHandler constructs the aggregation handler.
func NewHandler(service *aggapp.Service, guard ScopeGuard, logger logrus.FieldLogger, opts ...Option) (*Handler, error) {
	if service == nil {
		return nil, errors.New("aggregation handler: nil service")
	}
	if guard == nil {
		return nil, errors.New("aggregation handler: nil guard")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &Handler{
		service:       service,
		guard:         guard,
		defaultWindow: aggregation.Window1h,
		logger:        logger.WithField("component", "aggregation-http"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP dispatches on the path below the prefix.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, strings.TrimSuffix(prefix, "/")), "/")
	parts := strings.Split(path, "/")
	if path == "" {
		apihttp.WriteErrorCode(w, http.StatusNotFound, "not_found", "unknown aggregation route")
		return
	}

	switch parts[0] {
	case "cache":
		if len(parts) == 2 && parts[1] == "stats" {
			h.handleCacheStats(w, r)
			return
		}
		h.handleInvalidate(w, r, parts[1:])
	case "dashboard":
		switch {
		case len(parts) == 1:
			h.handleDashboard(w, r)
		case len(parts) == 2 && parts[1] == "export.xlsx":
			h.handleExport(w, r, formatXLSX)
		case len(parts) == 2 && parts[1] == "export.pdf":
			h.handleExport(w, r, formatPDF)
		default:
			apihttp.WriteErrorCode(w, http.StatusNotFound, "not_found", "unknown dashboard route")
		}
	case "hierarchy":
		if len(parts) != 3 {
			apihttp.WriteError(w, fmt.Errorf("%w: expected /hierarchy/{level}/{entityId}", aggregation.ErrValidation))
			return
		}
		h.handleHierarchy(w, r, parts[1], parts[2])
	default:
		if len(parts) > 2 {
			apihttp.WriteErrorCode(w, http.StatusNotFound, "not_found", "unknown aggregation route")
			return
		}
		entityID := ""
		if len(parts) == 2 {
			entityID = parts[1]
		}
		h.handleResult(w, r, parts[0], entityID)
	}
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request, level, entityID string) {
	if r.Method != http.MethodGet {
		apihttp.MethodNotAllowed(w, http.MethodGet)
		return
	}
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	key, err := aggregation.NewKey(level, entityID, h.window(r))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if err := h.guard.Authorize(r.Context(), identity.Scope, key.Level, key.EntityID); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	result, err := h.service.Get(r.Context(), key)
	if err != nil {
		h.logFailure(err, key.String())
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, result)
}

// handleHierarchy returns the entity and the ancestors the caller may see.
func (h *Handler) handleHierarchy(w http.ResponseWriter, r *http.Request, levelValue, entityID string) {
	if r.Method != http.MethodGet {
		apihttp.MethodNotAllowed(w, http.MethodGet)
		return
	}
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	level, err := aggregation.ParseLevel(levelValue)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	window, err := aggregation.ParseTimeWindow(h.window(r))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if level == hierarchy.LevelSector {
		entityID = ""
	}
	if err := h.guard.Authorize(r.Context(), identity.Scope, level, entityID); err != nil {
		apihttp.WriteError(w, err)
		return
	}

	results, err := h.service.Hierarchy(r.Context(), level, entityID, window)
	if err != nil {
		h.logFailure(err, levelValue+":"+entityID)
		apihttp.WriteError(w, err)
		return
	}
	visible := make([]aggregation.Result, 0, len(results))
	for _, result := range results {
		id := result.ID()
		if result.Level == hierarchy.LevelSector {
			id = ""
		}
		if err := h.guard.Authorize(r.Context(), identity.Scope, result.Level, id); err != nil {
			continue
		}
		visible = append(visible, result)
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{
		"level":      level,
		"entityId":   entityID,
		"timeWindow": window,
		"levels":     visible,
	})
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		apihttp.MethodNotAllowed(w, http.MethodGet)
		return
	}
	dashboard, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, dashboard)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) (aggapp.Dashboard, bool) {
	identity, ok := h.identity(w, r)
	if !ok {
		return aggapp.Dashboard{}, false
	}
	window, err := aggregation.ParseTimeWindow(h.window(r))
	if err != nil {
		apihttp.WriteError(w, err)
		return aggapp.Dashboard{}, false
	}
	scope := identity.Scope
	dashboard, err := h.service.Dashboard(r.Context(), window, aggapp.DashboardFilter{
		IncludeSector: scope.All,
		State:         scope.CoversState,
	})
	if err != nil {
		h.logFailure(err, "dashboard:"+string(window))
		apihttp.WriteError(w, err)
		return aggapp.Dashboard{}, false
	}
	return dashboard, true
}

func (h *Handler) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		apihttp.MethodNotAllowed(w, http.MethodGet)
		return
	}
	stats := h.service.CacheStats(r.Context())
	if !stats.Enabled {
		apihttp.WriteJSON(w, http.StatusOK, map[string]bool{"enabled": false})
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleInvalidate(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodDelete {
		apihttp.MethodNotAllowed(w, http.MethodDelete)
		return
	}
	if len(parts) > 2 {
		apihttp.WriteError(w, fmt.Errorf("%w: expected /cache[/{level}[/{entityId}]]", aggregation.ErrValidation))
		return
	}

	var filter aggregation.CacheFilter
	if len(parts) >= 1 && parts[0] != "" {
		level, err := aggregation.ParseLevel(parts[0])
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		filter.Level = level
	}
	if len(parts) == 2 && filter.Level != hierarchy.LevelSector {
		filter.EntityID = parts[1]
	}
	if value := r.URL.Query().Get("timeWindow"); value != "" {
		window, err := aggregation.ParseTimeWindow(value)
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		filter.TimeWindow = window
	}

	removed := h.service.Invalidate(r.Context(), filter)
	if h.audit != nil {
		entry := audit.FromRequest(r, audit.ActionCacheInvalidate, map[string]any{
			"removed":    removed,
			"timeWindow": filter.TimeWindow,
		})
		entry.Level = string(filter.Level)
		entry.EntityID = filter.EntityID
		if err := h.audit.Log(r.Context(), entry); err != nil {
			h.logger.WithError(err).Warn("audit log failed")
		}
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		apihttp.WriteError(w, auth.ErrUnauthorized)
		return auth.Identity{}, false
	}
	return identity, true
}

func (h *Handler) window(r *http.Request) string {
	if value := r.URL.Query().Get("timeWindow"); value != "" {
		return value
	}
	return string(h.defaultWindow)
}

func (h *Handler) logFailure(err error, target string) {
	if errors.Is(err, aggregation.ErrAggregation) {
		h.logger.WithError(err).WithField("target", target).Warn("aggregation failed")
	}
}
