package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	aggregation "energy-dashboard/internal/aggregation/domain"
	"energy-dashboard/internal/observability/metrics"
	realtime "energy-dashboard/internal/realtime/domain"
)

const (
	defaultBroadcastInterval = 30 * time.Second
	defaultRoomTimeout       = 10 * time.Second
	defaultWorkers           = 4
)

// BroadcasterConfig configures the broadcast loop.
type BroadcasterConfig struct {
	Interval    time.Duration
	RoomTimeout time.Duration
	Workers     int
	Clock       clockwork.Clock
}

// CycleReport summarizes one broadcast cycle.
type CycleReport struct {
	Trigger   string        `json:"trigger"`
	Rooms     int           `json:"rooms"`
	Failed    int           `json:"failed"`
	Delivered int           `json:"delivered"`
	Duration  time.Duration `json:"-"`
}

// Broadcaster periodically pushes each active room's result to its members.
type Broadcaster struct {
	rooms  *RoomManager
	source realtime.ResultSource
	logger logrus.FieldLogger

	interval    time.Duration
	roomTimeout time.Duration
	workers     int
	clock       clockwork.Clock

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
}

// NewBroadcaster constructs a broadcaster. It does not start the loop.
func NewBroadcaster(rooms *RoomManager, source realtime.ResultSource, cfg BroadcasterConfig, logger logrus.FieldLogger) (*Broadcaster, error) {
	if rooms == nil {
		return nil, errors.New("broadcaster: nil room manager")
	}
	if source == nil {
		return nil, errors.New("broadcaster: nil result source")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultBroadcastInterval
	}
	if cfg.RoomTimeout <= 0 {
		cfg.RoomTimeout = defaultRoomTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Broadcaster{
		rooms:       rooms,
		source:      source,
		logger:      logger.WithField("component", "broadcaster"),
		interval:    cfg.Interval,
		roomTimeout: cfg.RoomTimeout,
		workers:     cfg.Workers,
		clock:       cfg.Clock,
	}, nil
}

// Interval returns the configured tick interval.
func (b *Broadcaster) Interval() time.Duration {
	return b.interval
}

// Running reports whether the loop is active.
func (b *Broadcaster) Running() bool {
	return b.running.Load()
}

// Start launches the ticker loop. It returns an error if already running.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return errors.New("broadcaster: already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running.Store(true)

	ticker := b.clock.NewTicker(b.interval)
	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		defer b.running.Store(false)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.Chan():
				b.Tick(loopCtx)
			}
		}
	}(b.done)

	b.logger.WithFields(logrus.Fields{
		"interval": b.interval.String(),
		"workers":  b.workers,
	}).Info("broadcaster started")
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	b.logger.Info("broadcaster stopped")
}

// Tick runs one scheduled cycle.
func (b *Broadcaster) Tick(ctx context.Context) CycleReport {
	return b.cycle(ctx, metrics.TriggerTimer)
}

// Trigger runs one cycle immediately. The ticker is not touched, so the
// next scheduled tick fires when it would have anyway.
func (b *Broadcaster) Trigger(ctx context.Context) CycleReport {
	return b.cycle(ctx, metrics.TriggerManual)
}

func (b *Broadcaster) cycle(ctx context.Context, trigger string) CycleReport {
	start := time.Now()
	rooms := b.rooms.ActiveRooms()
	metrics.SetActiveRooms(len(rooms))
	report := CycleReport{Trigger: trigger, Rooms: len(rooms)}

	var failed, delivered atomic.Int64
	var group errgroup.Group
	group.SetLimit(b.workers)
	for _, key := range rooms {
		group.Go(func() error {
			n, err := b.pushRoom(ctx, key)
			if err != nil {
				failed.Add(1)
				result := metrics.ResultError
				if errors.Is(err, context.DeadlineExceeded) {
					result = metrics.ResultTimeout
				}
				metrics.IncBroadcastRoom(result)
				b.logger.WithError(err).WithField("room", key.String()).Warn("room broadcast failed")
				return nil
			}
			metrics.IncBroadcastRoom(metrics.ResultSuccess)
			delivered.Add(int64(n))
			return nil
		})
	}
	_ = group.Wait()

	report.Failed = int(failed.Load())
	report.Delivered = int(delivered.Load())
	report.Duration = time.Since(start)
	metrics.ObserveBroadcastCycle(trigger, report.Duration)
	if report.Rooms > 0 {
		b.logger.WithFields(logrus.Fields{
			"trigger":   trigger,
			"rooms":     report.Rooms,
			"failed":    report.Failed,
			"delivered": report.Delivered,
			"duration":  report.Duration.String(),
		}).Debug("broadcast cycle finished")
	}
	return report
}

// pushRoom computes the room's result under the per-room timeout and sends
// it to the members present once the result is ready. A source that ignores
// its context still releases the worker at the deadline.
func (b *Broadcaster) pushRoom(ctx context.Context, key aggregation.Key) (int, error) {
	roomCtx, cancel := context.WithTimeout(ctx, b.roomTimeout)
	defer cancel()

	type computed struct {
		result aggregation.Result
		err    error
	}
	ch := make(chan computed, 1)
	go func() {
		result, err := b.source.Get(roomCtx, key)
		ch <- computed{result: result, err: err}
	}()

	var out computed
	select {
	case out = <-ch:
	case <-roomCtx.Done():
		return 0, roomCtx.Err()
	}
	if out.err != nil {
		return 0, out.err
	}
	msg := realtime.Message{
		Type:      realtime.TypeBroadcast,
		Room:      key.String(),
		Data:      out.result,
		Timestamp: b.clock.Now().UTC(),
	}
	sent := 0
	for _, session := range b.rooms.Members(key) {
		if session.Send(msg) {
			sent++
		}
	}
	return sent, nil
}
