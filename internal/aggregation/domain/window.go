package aggregation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	hierarchy "energy-dashboard/internal/hierarchy/domain"
)

var (
	// ErrValidation marks every request validation failure.
	ErrValidation = errors.New("aggregation: validation failed")
	// ErrInvalidLevel is returned for an unknown hierarchy level.
	ErrInvalidLevel = fmt.Errorf("%w: unsupported level", ErrValidation)
	// ErrInvalidTimeWindow is returned for an unknown time window.
	ErrInvalidTimeWindow = fmt.Errorf("%w: unsupported time window", ErrValidation)
	// ErrAggregation is returned when the underlying reading query fails.
	ErrAggregation = errors.New("aggregation: reading query failed")
)

// ComputeError wraps a store or directory failure while computing Key.
// It matches ErrAggregation with errors.Is; Error includes the cause, so
// only Key and the category belong in client responses.
type ComputeError struct {
	Key Key
	Err error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrAggregation, e.Key, e.Err)
}

func (e *ComputeError) Unwrap() []error { return []error{ErrAggregation, e.Err} }

// TimeWindow is a fixed-duration lookback.
type TimeWindow string

const (
	Window15m TimeWindow = "15m"
	Window1h  TimeWindow = "1h"
	Window24h TimeWindow = "24h"
	Window7d  TimeWindow = "7d"
)

var windowDurations = map[TimeWindow]time.Duration{
	Window15m: 15 * time.Minute,
	Window1h:  time.Hour,
	Window24h: 24 * time.Hour,
	Window7d:  7 * 24 * time.Hour,
}

// Windows lists the supported windows, shortest first.
func Windows() []TimeWindow {
	return []TimeWindow{Window15m, Window1h, Window24h, Window7d}
}

// ParseTimeWindow validates a window string. Values are never coerced.
func ParseTimeWindow(value string) (TimeWindow, error) {
	window := TimeWindow(strings.TrimSpace(value))
	if _, ok := windowDurations[window]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeWindow, value)
	}
	return window, nil
}

// Duration returns the lookback length, zero for unknown windows.
func (w TimeWindow) Duration() time.Duration {
	return windowDurations[w]
}

// Range returns [now-duration, now].
func (w TimeWindow) Range(now time.Time) (time.Time, time.Time) {
	return now.Add(-w.Duration()), now
}

// ParseLevel validates a level string against the hierarchy levels.
func ParseLevel(value string) (hierarchy.Level, error) {
	level, err := hierarchy.ParseLevel(value)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, value)
	}
	return level, nil
}

// Key identifies one (level, entity, window) aggregation. It doubles as the
// cache key and the broadcast room key.
type Key struct {
	Level      hierarchy.Level
	EntityID   string
	TimeWindow TimeWindow
}

// NewKey validates and normalizes the parts of a key. Sector keys drop the entity id.
func NewKey(level, entityID, window string) (Key, error) {
	parsedLevel, err := ParseLevel(level)
	if err != nil {
		return Key{}, err
	}
	parsedWindow, err := ParseTimeWindow(window)
	if err != nil {
		return Key{}, err
	}
	key := Key{Level: parsedLevel, EntityID: strings.TrimSpace(entityID), TimeWindow: parsedWindow}
	if key.Level == hierarchy.LevelSector {
		key.EntityID = ""
	} else if key.EntityID == "" || key.EntityID == hierarchy.SectorID {
		return Key{}, fmt.Errorf("%w: entity id is required for level %s", ErrValidation, key.Level)
	} else if strings.Contains(key.EntityID, ":") {
		return Key{}, fmt.Errorf("%w: entity id may not contain ':'", ErrValidation)
	}
	return key, nil
}

// String renders "<level>:<entityId|all>:<window>".
func (k Key) String() string {
	entity := k.EntityID
	if k.Level == hierarchy.LevelSector || entity == "" {
		entity = hierarchy.SectorID
	}
	return string(k.Level) + ":" + entity + ":" + string(k.TimeWindow)
}

