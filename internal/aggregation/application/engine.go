package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	aggregation "energy-dashboard/internal/aggregation/domain"
	hierarchy "energy-dashboard/internal/hierarchy/domain"
	"energy-dashboard/internal/observability/metrics"
	"energy-dashboard/internal/telemetry/domain"
)

const defaultQueryTimeout = 10 * time.Second

// Engine computes aggregation results from raw readings.
type Engine struct {
	directory    hierarchy.Directory
	readings     telemetry.ReadingQuery
	clock        clockwork.Clock
	queryTimeout time.Duration
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithEngineClock overrides the clock used for window bounds.
func WithEngineClock(clock clockwork.Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithQueryTimeout bounds every reading query.
func WithQueryTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) {
		if timeout > 0 {
			e.queryTimeout = timeout
		}
	}
}

// NewEngine constructs an engine.
func NewEngine(directory hierarchy.Directory, readings telemetry.ReadingQuery, opts ...EngineOption) (*Engine, error) {
	if directory == nil {
		return nil, errors.New("aggregation engine: nil directory")
	}
	if readings == nil {
		return nil, errors.New("aggregation engine: nil reading query")
	}
	engine := &Engine{
		directory:    directory,
		readings:     readings,
		clock:        clockwork.NewRealClock(),
		queryTimeout: defaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// Compute resolves the equipment set of the key, reads its readings over
// [now-window, now] and folds them. It never reuses child results.
func (e *Engine) Compute(ctx context.Context, key aggregation.Key) (aggregation.Result, error) {
	start := time.Now()
	result, err := e.compute(ctx, key)
	metrics.ObserveAggregation(string(key.Level), outcome(err), time.Since(start))
	return result, err
}

func (e *Engine) compute(ctx context.Context, key aggregation.Key) (aggregation.Result, error) {
	if !key.Level.IsValid() {
		return aggregation.Result{}, aggregation.ErrInvalidLevel
	}
	if key.TimeWindow.Duration() <= 0 {
		return aggregation.Result{}, aggregation.ErrInvalidTimeWindow
	}

	equipment, err := e.directory.EquipmentUnder(ctx, key.Level, key.EntityID)
	if err != nil {
		if errors.Is(err, hierarchy.ErrNotFound) {
			return aggregation.Result{}, err
		}
		return aggregation.Result{}, &aggregation.ComputeError{Key: key, Err: fmt.Errorf("resolve equipment: %w", err)}
	}

	now := e.clock.Now().UTC()
	if len(equipment) == 0 {
		return aggregation.Fold(key, nil, nil, now), nil
	}

	ids := make([]string, 0, len(equipment))
	fallback := make(map[string]hierarchy.Status, len(equipment))
	for _, eq := range equipment {
		ids = append(ids, eq.ID)
		fallback[eq.ID] = eq.Status
	}

	from, to := key.TimeWindow.Range(now)
	queryCtx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()
	readings, err := e.readings.QueryReadings(queryCtx, ids, from, to)
	if err != nil {
		return aggregation.Result{}, &aggregation.ComputeError{Key: key, Err: err}
	}
	return aggregation.Fold(key, readings, fallback, now), nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.ResultTimeout
	default:
		return metrics.ResultError
	}
}
