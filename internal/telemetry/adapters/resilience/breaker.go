package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"energy-dashboard/internal/telemetry/domain"
)

var (
	// ErrBreakerOpen is returned while the reading store is considered unavailable.
	ErrBreakerOpen = errors.New("telemetry: reading store circuit open")
)

const (
	defaultFailures = 5
	defaultOpenFor  = 30 * time.Second
)

// Settings configures the breaker around a reading store.
type Settings struct {
	Name     string
	Failures int
	OpenFor  time.Duration
	Interval time.Duration
}

// BreakerQuery wraps a reading query with a circuit breaker so a failing
// store fails fast instead of consuming every room's timeout budget.
type BreakerQuery struct {
	next telemetry.ReadingQuery
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerQuery constructs the wrapper.
func NewBreakerQuery(next telemetry.ReadingQuery, settings Settings, logger logrus.FieldLogger) (*BreakerQuery, error) {
	if next == nil {
		return nil, errors.New("breaker query: nil reading query")
	}
	if settings.Name == "" {
		settings.Name = "reading-store"
	}
	if settings.Failures <= 0 {
		settings.Failures = defaultFailures
	}
	if settings.OpenFor <= 0 {
		settings.OpenFor = defaultOpenFor
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	failures := uint32(settings.Failures)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     settings.Name,
		Interval: settings.Interval,
		Timeout:  settings.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// Callers cancelling their own context says nothing about the store.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("reading store breaker state changed")
		},
	})
	return &BreakerQuery{next: next, cb: cb}, nil
}

// QueryReadings forwards to the wrapped store unless the breaker is open.
func (q *BreakerQuery) QueryReadings(ctx context.Context, equipmentIDs []string, from, to time.Time) ([]telemetry.Reading, error) {
	res, err := q.cb.Execute(func() (interface{}, error) {
		return q.next.QueryReadings(ctx, equipmentIDs, from, to)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrBreakerOpen
		}
		return nil, err
	}
	readings, _ := res.([]telemetry.Reading)
	return readings, nil
}

// State reports the breaker state name.
func (q *BreakerQuery) State() string {
	return q.cb.State().String()
}
