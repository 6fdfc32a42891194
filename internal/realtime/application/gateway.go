package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	aggregation "energy-dashboard/internal/aggregation/domain"
	"energy-dashboard/internal/auth"
	"energy-dashboard/internal/observability/metrics"
	realtime "energy-dashboard/internal/realtime/domain"
)

// TokenAuthenticator verifies bearer tokens.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
}

// GatewayConfig configures the gateway.
type GatewayConfig struct {
	BroadcastInterval time.Duration
	DefaultWindow     aggregation.TimeWindow
	Clock             clockwork.Clock
}

// Gateway drives the lifecycle of real-time sessions:
// connecting, authenticated, subscribed, disconnected.
type Gateway struct {
	authenticator TokenAuthenticator
	rooms         *RoomManager
	source        realtime.ResultSource
	logger        logrus.FieldLogger

	interval      time.Duration
	defaultWindow aggregation.TimeWindow
	clock         clockwork.Clock
	newID         func() string
}

// NewGateway constructs a gateway.
func NewGateway(authenticator TokenAuthenticator, rooms *RoomManager, source realtime.ResultSource, cfg GatewayConfig, logger logrus.FieldLogger) (*Gateway, error) {
	if authenticator == nil {
		return nil, errors.New("gateway: nil authenticator")
	}
	if rooms == nil {
		return nil, errors.New("gateway: nil room manager")
	}
	if source == nil {
		return nil, errors.New("gateway: nil result source")
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = defaultBroadcastInterval
	}
	if cfg.DefaultWindow == "" {
		cfg.DefaultWindow = aggregation.Window1h
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Gateway{
		authenticator: authenticator,
		rooms:         rooms,
		source:        source,
		logger:        logger.WithField("component", "gateway"),
		interval:      cfg.BroadcastInterval,
		defaultWindow: cfg.DefaultWindow,
		clock:         cfg.Clock,
		newID:         uuid.NewString,
	}, nil
}

// Authenticate validates a token before any session exists. Failures wrap
// auth.ErrUnauthorized and leave existing sessions untouched.
func (g *Gateway) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	identity, err := g.authenticator.Authenticate(ctx, token)
	if err != nil {
		metrics.IncAuthFailure("ws")
		if !errors.Is(err, auth.ErrUnauthorized) {
			err = errors.Join(auth.ErrUnauthorized, err)
		}
		return auth.Identity{}, err
	}
	return identity, nil
}

// Open creates the session for an authenticated identity, sends the welcome
// frame and joins the default room derived from the scope.
func (g *Gateway) Open(ctx context.Context, identity auth.Identity, sink realtime.Sink) (*Session, error) {
	if sink == nil {
		return nil, errors.New("gateway: nil sink")
	}
	session := &Session{
		ID:          g.newID(),
		Identity:    identity,
		ConnectedAt: g.clock.Now().UTC(),
		sink:        sink,
	}
	if err := g.rooms.Register(session); err != nil {
		return nil, err
	}
	logger := g.logger.WithFields(logrus.Fields{"client": session.ID, "subject": identity.Subject})
	logger.Info("client connected")

	session.Send(realtime.Message{
		Type: realtime.TypeWelcome,
		Welcome: &realtime.Welcome{
			ClientID:          session.ID,
			Scope:             identity.Scope,
			BroadcastInterval: g.interval.String(),
			IntervalSeconds:   g.interval.Seconds(),
		},
		Timestamp: g.clock.Now().UTC(),
	})

	if level, entityID, ok := identity.Scope.Default(); ok {
		key := aggregation.Key{Level: level, EntityID: entityID, TimeWindow: g.defaultWindow}
		if err := g.subscribe(ctx, session, key); err != nil {
			logger.WithError(err).Warn("default subscription failed")
		}
	}
	return session, nil
}

// Connect authenticates and opens a session in one step.
func (g *Gateway) Connect(ctx context.Context, token string, sink realtime.Sink) (*Session, error) {
	identity, err := g.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	return g.Open(ctx, identity, sink)
}

// HandleCommand applies one client command. Errors are reported to the
// client as error frames and returned for logging.
func (g *Gateway) HandleCommand(ctx context.Context, session *Session, cmd realtime.Command) error {
	switch cmd.Action {
	case realtime.ActionPing:
		session.Send(realtime.Message{Type: realtime.TypePong, Timestamp: g.clock.Now().UTC()})
		return nil
	case realtime.ActionSubscribe, realtime.ActionUnsubscribe:
	default:
		return g.fail(session, "", errors.Join(aggregation.ErrValidation, errors.New("unknown action "+cmd.Action)))
	}

	window := cmd.TimeWindow
	if window == "" {
		window = string(g.defaultWindow)
	}
	key, err := aggregation.NewKey(cmd.Level, cmd.EntityID, window)
	if err != nil {
		return g.fail(session, "", err)
	}

	if cmd.Action == realtime.ActionUnsubscribe {
		if err := g.rooms.Unsubscribe(session, key); err != nil {
			return g.fail(session, key.String(), err)
		}
		session.Send(realtime.Message{Type: realtime.TypeUnsubscribed, Room: key.String(), Timestamp: g.clock.Now().UTC()})
		return nil
	}
	return g.subscribe(ctx, session, key)
}

// Disconnect removes the session from every room and closes its sink.
func (g *Gateway) Disconnect(session *Session) {
	if session == nil {
		return
	}
	g.rooms.Disconnect(session)
	session.sink.Close()
	g.logger.WithField("client", session.ID).Info("client disconnected")
}

// SendTest delivers an arbitrary test payload to every connected client and
// returns how many accepted it.
func (g *Gateway) SendTest(payload any) int {
	msg := realtime.Message{Type: realtime.TypeTest, Data: payload, Timestamp: g.clock.Now().UTC()}
	sent := 0
	for _, session := range g.rooms.Sessions() {
		if session.Send(msg) {
			sent++
		}
	}
	return sent
}

// Stats exposes room membership.
func (g *Gateway) Stats() RoomStats {
	return g.rooms.Stats()
}

// CloseAll disconnects every session. Used at shutdown.
func (g *Gateway) CloseAll() {
	for _, session := range g.rooms.Sessions() {
		g.Disconnect(session)
	}
}

func (g *Gateway) subscribe(ctx context.Context, session *Session, key aggregation.Key) error {
	if err := g.rooms.Subscribe(ctx, session, key); err != nil {
		return g.fail(session, key.String(), err)
	}
	session.Send(realtime.Message{Type: realtime.TypeSubscribed, Room: key.String(), Timestamp: g.clock.Now().UTC()})

	result, err := g.source.Get(ctx, key)
	if err != nil {
		return g.fail(session, key.String(), err)
	}
	session.Send(realtime.Message{
		Type:      realtime.TypeInitial,
		Room:      key.String(),
		Data:      result,
		Timestamp: g.clock.Now().UTC(),
	})
	return nil
}

func (g *Gateway) fail(session *Session, room string, err error) error {
	msg := realtime.ErrorMessage(err, g.clock.Now().UTC())
	msg.Room = room
	session.Send(msg)
	return err
}
