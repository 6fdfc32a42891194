package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"energy-dashboard/internal/telemetry/domain"
)

// ReadingStore is an in-memory append-only reading store.
type ReadingStore struct {
	mu          sync.RWMutex
	byEquipment map[string][]telemetry.Reading
}

// NewReadingStore constructs an empty store.
func NewReadingStore() *ReadingStore {
	return &ReadingStore{byEquipment: make(map[string][]telemetry.Reading)}
}

// Append adds readings. Each equipment series is kept sorted by time.
func (s *ReadingStore) Append(readings ...telemetry.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	touched := make(map[string]struct{})
	for _, r := range readings {
		s.byEquipment[r.EquipmentID] = append(s.byEquipment[r.EquipmentID], r)
		touched[r.EquipmentID] = struct{}{}
	}
	for id := range touched {
		series := s.byEquipment[id]
		sort.SliceStable(series, func(i, j int) bool { return series[i].At.Before(series[j].At) })
	}
}

// QueryReadings returns readings of the equipment set within [from, to], oldest first.
func (s *ReadingStore) QueryReadings(ctx context.Context, equipmentIDs []string, from, to time.Time) ([]telemetry.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []telemetry.Reading
	for _, id := range equipmentIDs {
		for _, r := range s.byEquipment[id] {
			if r.At.Before(from) || r.At.After(to) {
				continue
			}
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}
