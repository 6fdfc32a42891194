package application

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	aggregation "energy-dashboard/internal/aggregation/domain"
	hierarchy "energy-dashboard/internal/hierarchy/domain"
	"energy-dashboard/internal/observability/metrics"
)

// Service answers aggregation requests through the cache. It is shared by
// the query handlers and the broadcaster.
type Service struct {
	engine    *Engine
	directory hierarchy.Directory
	cache     aggregation.Cache
	ttl       time.Duration
	logger    logrus.FieldLogger
	flight    singleflight.Group
}

// NewService constructs the service. A nil cache disables caching.
func NewService(engine *Engine, directory hierarchy.Directory, cache aggregation.Cache, ttl time.Duration, logger logrus.FieldLogger) (*Service, error) {
	if engine == nil {
		return nil, errors.New("aggregation service: nil engine")
	}
	if directory == nil {
		return nil, errors.New("aggregation service: nil directory")
	}
	if cache == nil {
		cache = noCache{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		engine:    engine,
		directory: directory,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.WithField("component", "aggregation"),
	}, nil
}

// Get returns the result for key, from the cache when fresh. Cache failures
// are logged and treated as a miss. Concurrent misses for the same key share
// one computation, which a departing caller does not cancel.
func (s *Service) Get(ctx context.Context, key aggregation.Key) (aggregation.Result, error) {
	if s.cache.Enabled() {
		cached, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			metrics.IncCacheLookup(metrics.CacheError)
			metrics.IncCacheError("get")
			s.logger.WithError(err).WithField("key", key.String()).Warn("cache get failed, recomputing")
		case ok:
			metrics.IncCacheLookup(metrics.CacheHit)
			return cached, nil
		default:
			metrics.IncCacheLookup(metrics.CacheMiss)
		}
	}

	// The shared computation outlives any single caller; the engine's query
	// timeout bounds it. Each caller stops waiting when its own ctx ends.
	shared := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(key.String(), func() (interface{}, error) {
		result, err := s.engine.Compute(shared, key)
		if err != nil {
			return nil, err
		}
		if s.cache.Enabled() {
			if err := s.cache.Set(shared, key, result, s.ttl); err != nil {
				metrics.IncCacheError("set")
				s.logger.WithError(err).WithField("key", key.String()).Warn("cache set failed")
			}
		}
		return result, nil
	})
	select {
	case <-ctx.Done():
		return aggregation.Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return aggregation.Result{}, res.Err
		}
		return res.Val.(aggregation.Result), nil
	}
}

// Hierarchy returns the result at the requested level followed by every
// ancestor up to the sector. Each level is computed from raw readings.
func (s *Service) Hierarchy(ctx context.Context, level hierarchy.Level, entityID string, window aggregation.TimeWindow) ([]aggregation.Result, error) {
	if !level.IsValid() {
		return nil, aggregation.ErrInvalidLevel
	}
	var lineage hierarchy.Lineage
	if level != hierarchy.LevelSector {
		var err error
		lineage, err = s.directory.Lineage(ctx, level, entityID)
		if err != nil {
			return nil, err
		}
	}

	var out []aggregation.Result
	for current, ok := level, true; ok; current, ok = current.Parent() {
		id, _ := lineage.IDAt(current)
		result, err := s.Get(ctx, aggregation.Key{Level: current, EntityID: id, TimeWindow: window})
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, nil
}

// Dashboard is the flattened summary served to dashboards.
type Dashboard struct {
	TimeWindow  aggregation.TimeWindow         `json:"timeWindow"`
	Sector      *aggregation.Result            `json:"sector,omitempty"`
	States      []StateSummary                 `json:"states"`
	Equipment   aggregation.EquipmentSummary   `json:"equipment"`
	Electrical  aggregation.ElectricalSummary  `json:"electrical"`
	Performance aggregation.PerformanceSummary `json:"performance"`
	GeneratedAt time.Time                      `json:"generatedAt"`
}

// StateSummary is one state row of the dashboard.
type StateSummary struct {
	State  hierarchy.State    `json:"state"`
	Result aggregation.Result `json:"result"`
}

// DashboardFilter restricts the dashboard to what a caller may view.
type DashboardFilter struct {
	IncludeSector bool
	State         func(stateID string) bool
}

// Dashboard combines sector totals with a per-state breakdown. Without the
// sector, the totals are the sum of the visible states.
func (s *Service) Dashboard(ctx context.Context, window aggregation.TimeWindow, filter DashboardFilter) (Dashboard, error) {
	if window.Duration() <= 0 {
		return Dashboard{}, aggregation.ErrInvalidTimeWindow
	}
	states, err := s.directory.States(ctx)
	if err != nil {
		return Dashboard{}, err
	}

	view := Dashboard{TimeWindow: window, States: []StateSummary{}, GeneratedAt: s.engine.clock.Now().UTC()}
	var efficiency, availability float64
	points := 0
	for _, state := range states {
		if filter.State != nil && !filter.State(state.ID) {
			continue
		}
		result, err := s.Get(ctx, aggregation.Key{Level: hierarchy.LevelState, EntityID: state.ID, TimeWindow: window})
		if err != nil {
			return Dashboard{}, err
		}
		view.States = append(view.States, StateSummary{State: state, Result: result})
		view.Electrical.ActivePower += result.Electrical.ActivePower
		view.Electrical.ReactivePower += result.Electrical.ReactivePower
		view.Electrical.TotalEnergy += result.Electrical.TotalEnergy
		view.Equipment.Total += result.Equipment.Total
		view.Equipment.Operational += result.Equipment.Operational
		view.Equipment.Maintenance += result.Equipment.Maintenance
		view.Equipment.Fault += result.Equipment.Fault
		efficiency += result.Performance.AvgEfficiency * float64(result.DataPoints)
		availability += result.Performance.AvgAvailability * float64(result.DataPoints)
		points += result.DataPoints
	}
	if points > 0 {
		view.Performance.AvgEfficiency = efficiency / float64(points)
		view.Performance.AvgAvailability = availability / float64(points)
	}

	if filter.IncludeSector {
		sector, err := s.Get(ctx, aggregation.Key{Level: hierarchy.LevelSector, TimeWindow: window})
		if err != nil {
			return Dashboard{}, err
		}
		view.Sector = &sector
		view.Electrical = sector.Electrical
		view.Performance = sector.Performance
		view.Equipment = sector.Equipment
	}
	return view, nil
}

// Invalidate clears cache entries selected by filter. Errors are demoted.
func (s *Service) Invalidate(ctx context.Context, filter aggregation.CacheFilter) int {
	removed, err := s.cache.Invalidate(ctx, filter)
	if err != nil {
		metrics.IncCacheError("invalidate")
		s.logger.WithError(err).Warn("cache invalidate failed")
		return 0
	}
	s.logger.WithFields(logrus.Fields{
		"level":      filter.Level,
		"entityId":   filter.EntityID,
		"timeWindow": filter.TimeWindow,
		"removed":    removed,
	}).Info("cache invalidated")
	return removed
}

// CacheStats reports cache statistics. Errors yield an empty report.
func (s *Service) CacheStats(ctx context.Context) aggregation.CacheStats {
	if !s.cache.Enabled() {
		return aggregation.CacheStats{Enabled: false}
	}
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		metrics.IncCacheError("stats")
		s.logger.WithError(err).Warn("cache stats failed")
		return aggregation.CacheStats{Enabled: true}
	}
	return stats
}

type noCache struct{}

func (noCache) Enabled() bool { return false }

func (noCache) Get(context.Context, aggregation.Key) (aggregation.Result, bool, error) {
	return aggregation.Result{}, false, nil
}

func (noCache) Set(context.Context, aggregation.Key, aggregation.Result, time.Duration) error {
	return nil
}

func (noCache) Invalidate(context.Context, aggregation.CacheFilter) (int, error) { return 0, nil }

func (noCache) Stats(context.Context) (aggregation.CacheStats, error) {
	return aggregation.CacheStats{}, nil
}
