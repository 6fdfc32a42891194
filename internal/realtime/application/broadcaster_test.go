package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	aggregation "energy-dashboard/internal/aggregation/domain"
	"energy-dashboard/internal/auth"
	"energy-dashboard/internal/observability/metrics"
	realtime "energy-dashboard/internal/realtime/domain"
)

type stubSource struct {
	mu      sync.Mutex
	calls   map[aggregation.Key]int
	failing map[aggregation.Key]error

	// hang blocks Get for the key until released, ignoring the context.
	hang map[aggregation.Key]chan struct{}
}

func newStubSource() *stubSource {
	return &stubSource{
		calls:   make(map[aggregation.Key]int),
		failing: make(map[aggregation.Key]error),
		hang:    make(map[aggregation.Key]chan struct{}),
	}
}

func (s *stubSource) Get(_ context.Context, key aggregation.Key) (aggregation.Result, error) {
	s.mu.Lock()
	s.calls[key]++
	err := s.failing[key]
	release := s.hang[key]
	s.mu.Unlock()
	if release != nil {
		<-release
	}
	if err != nil {
		return aggregation.Result{}, err
	}
	id := key.EntityID
	return aggregation.Result{Level: key.Level, EntityID: &id, TimeWindow: key.TimeWindow, DataPoints: 1}, nil
}

func (s *stubSource) callsFor(key aggregation.Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func newBroadcaster(t *testing.T, rooms *RoomManager, source realtime.ResultSource, cfg BroadcasterConfig) *Broadcaster {
	t.Helper()
	logger, _ := test.NewNullLogger()
	broadcaster, err := NewBroadcaster(rooms, source, cfg, logger)
	require.NoError(t, err)
	return broadcaster
}

func subscribed(t *testing.T, rooms *RoomManager, id string, keys ...aggregation.Key) (*Session, *recordingSink) {
	t.Helper()
	session, sink := newSession(id, auth.Unrestricted())
	require.NoError(t, rooms.Register(session))
	for _, key := range keys {
		require.NoError(t, rooms.Subscribe(context.Background(), session, key))
	}
	return session, sink
}

func TestBroadcastPushesOncePerCycle(t *testing.T) {
	rooms, err := NewRoomManager(newGuard(t), 0)
	require.NoError(t, err)
	source := newStubSource()
	broadcaster := newBroadcaster(t, rooms, source, BroadcasterConfig{})

	_, a := subscribed(t, rooms, "a", plantKey("P1"))
	_, b := subscribed(t, rooms, "b", plantKey("P1"), plantKey("P2"))

	report := broadcaster.Tick(context.Background())
	require.Equal(t, 2, report.Rooms)
	require.Zero(t, report.Failed)
	require.Equal(t, 3, report.Delivered)

	require.Len(t, a.ofType(realtime.TypeBroadcast), 1)
	require.Len(t, b.ofType(realtime.TypeBroadcast), 2)
	require.Equal(t, 1, source.callsFor(plantKey("P1")))
	require.Equal(t, plantKey("P1").String(), a.ofType(realtime.TypeBroadcast)[0].Room)
}

func TestBroadcastSkipsLeftSessions(t *testing.T) {
	rooms, err := NewRoomManager(newGuard(t), 0)
	require.NoError(t, err)
	source := newStubSource()
	broadcaster := newBroadcaster(t, rooms, source, BroadcasterConfig{})

	left, leftSink := subscribed(t, rooms, "left", plantKey("P1"))
	gone, goneSink := subscribed(t, rooms, "gone", plantKey("P2"))

	require.NoError(t, rooms.Unsubscribe(left, plantKey("P1")))
	rooms.Disconnect(gone)

	report := broadcaster.Tick(context.Background())
	require.Zero(t, report.Rooms)
	require.Empty(t, leftSink.ofType(realtime.TypeBroadcast))
	require.Empty(t, goneSink.ofType(realtime.TypeBroadcast))
	require.Zero(t, source.callsFor(plantKey("P1")))
}

func TestBroadcastFailingRoomDoesNotBlockOthers(t *testing.T) {
	rooms, err := NewRoomManager(newGuard(t), 0)
	require.NoError(t, err)
	source := newStubSource()
	source.failing[plantKey("P1")] = errors.New("store unavailable")
	broadcaster := newBroadcaster(t, rooms, source, BroadcasterConfig{Workers: 1})

	_, bad := subscribed(t, rooms, "bad", plantKey("P1"))
	_, good := subscribed(t, rooms, "good", plantKey("P2"))

	report := broadcaster.Tick(context.Background())
	require.Equal(t, 2, report.Rooms)
	require.Equal(t, 1, report.Failed)
	require.Empty(t, bad.ofType(realtime.TypeBroadcast))
	require.Len(t, good.ofType(realtime.TypeBroadcast), 1)
}

func TestBroadcastRoomTimeout(t *testing.T) {
	rooms, err := NewRoomManager(newGuard(t), 0)
	require.NoError(t, err)
	source := newStubSource()
	release := make(chan struct{})
	defer close(release)
	source.hang[plantKey("P1")] = release
	broadcaster := newBroadcaster(t, rooms, source, BroadcasterConfig{RoomTimeout: 20 * time.Millisecond})

	_, slow := subscribed(t, rooms, "slow", plantKey("P1"))
	_, fast := subscribed(t, rooms, "fast", plantKey("P2"))

	start := time.Now()
	report := broadcaster.Tick(context.Background())
	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, 1, report.Failed)
	require.Empty(t, slow.ofType(realtime.TypeBroadcast))
	require.Len(t, fast.ofType(realtime.TypeBroadcast), 1)
}

func TestTriggerDoesNotShiftSchedule(t *testing.T) {
	rooms, err := NewRoomManager(newGuard(t), 0)
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()
	broadcaster := newBroadcaster(t, rooms, newStubSource(), BroadcasterConfig{Interval: 30 * time.Second, Clock: clock})
	_, sink := subscribed(t, rooms, "a", plantKey("P1"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, broadcaster.Start(ctx))
	defer broadcaster.Stop()
	require.Error(t, broadcaster.Start(ctx))
	require.True(t, broadcaster.Running())
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(20 * time.Second)
	report := broadcaster.Trigger(ctx)
	require.Equal(t, metrics.TriggerManual, report.Trigger)
	require.Len(t, sink.ofType(realtime.TypeBroadcast), 1)

	// The scheduled tick still fires 30s after start, not 30s after the trigger.
	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		return len(sink.ofType(realtime.TypeBroadcast)) == 2
	}, time.Second, 5*time.Millisecond)

	clock.Advance(29 * time.Second)
	require.Never(t, func() bool {
		return len(sink.ofType(realtime.TypeBroadcast)) > 2
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestStopEndsLoop(t *testing.T) {
	rooms, err := NewRoomManager(newGuard(t), 0)
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()
	broadcaster := newBroadcaster(t, rooms, newStubSource(), BroadcasterConfig{Interval: time.Second, Clock: clock})

	require.NoError(t, broadcaster.Start(context.Background()))
	broadcaster.Stop()
	broadcaster.Stop()
	require.False(t, broadcaster.Running())
	require.NoError(t, broadcaster.Start(context.Background()))
	broadcaster.Stop()
}

// gaugedSource records the peak number of concurrent Get calls.
type gaugedSource struct {
	*stubSource
	hold     time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *gaugedSource) Get(ctx context.Context, key aggregation.Key) (aggregation.Result, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(s.hold)
	return s.stubSource.Get(ctx, key)
}

func TestBroadcastFanOutIsBoundedByWorkers(t *testing.T) {
	rooms, err := NewRoomManager(newGuard(t), 0)
	require.NoError(t, err)
	source := &gaugedSource{stubSource: newStubSource(), hold: 20 * time.Millisecond}
	broadcaster := newBroadcaster(t, rooms, source, BroadcasterConfig{Workers: 2, RoomTimeout: time.Second})

	var keys []aggregation.Key
	for _, plant := range []string{"P1", "P2"} {
		for _, window := range []aggregation.TimeWindow{aggregation.Window15m, aggregation.Window1h, aggregation.Window24h, aggregation.Window7d} {
			key := plantKey(plant)
			key.TimeWindow = window
			keys = append(keys, key)
		}
	}
	_, sink := subscribed(t, rooms, "wide", keys...)

	report := broadcaster.Tick(context.Background())
	require.Equal(t, len(keys), report.Rooms)
	require.Zero(t, report.Failed)
	require.Equal(t, len(keys), report.Delivered)
	require.LessOrEqual(t, source.peak.Load(), int32(2))
	require.Len(t, sink.ofType(realtime.TypeBroadcast), len(keys))
	for _, key := range keys {
		require.Equal(t, 1, source.callsFor(key), key.String())
	}
}
