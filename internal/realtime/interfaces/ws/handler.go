package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	aggregation "energy-dashboard/internal/aggregation/domain"
	apihttp "energy-dashboard/internal/api/http"
	"energy-dashboard/internal/auth"
	realtimeapp "energy-dashboard/internal/realtime/application"
	realtime "energy-dashboard/internal/realtime/domain"
)

const (
	defaultSendBuffer   = 64
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	maxCommandSize      = 4096
)

// Config configures the WebSocket endpoint.
type Config struct {
	// AllowedOrigins lists accepted Origin headers. "*" accepts any origin;
	// empty falls back to the same-host check.
	AllowedOrigins []string
	SendBuffer     int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

// Handler serves GET /ws.
type Handler struct {
	gateway  *realtimeapp.Gateway
	upgrader websocket.Upgrader
	cfg      Config
	logger   logrus.FieldLogger
}

// NewHandler constructs the WebSocket handler.
func NewHandler(gateway *realtimeapp.Gateway, cfg Config, logger logrus.FieldLogger) (*Handler, error) {
	if gateway == nil {
		return nil, errors.New("ws handler: nil gateway")
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &Handler{
		gateway: gateway,
		cfg:     cfg,
		logger:  logger.WithField("component", "ws"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h, nil
}

// ServeHTTP authenticates before upgrading, so a bad token gets a plain
// 401 and never reaches the room manager.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		apihttp.MethodNotAllowed(w, http.MethodGet)
		return
	}
	token := auth.ExtractBearer(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	identity, err := h.gateway.Authenticate(r.Context(), token)
	if err != nil {
		h.logger.WithField("remote", r.RemoteAddr).Info("websocket authentication failed")
		apihttp.WriteErrorCode(w, http.StatusUnauthorized, realtime.CodeUnauthorized, "missing or invalid bearer token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"remote": r.RemoteAddr,
			"origin": r.Header.Get("Origin"),
		}).Warn("websocket upgrade failed")
		return
	}

	// The session outlives the handshake request.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	logger := h.logger.WithFields(logrus.Fields{"remote": r.RemoteAddr, "subject": identity.Subject})
	out := newClient(conn, h.cfg.SendBuffer, h.cfg.PingInterval, h.cfg.WriteTimeout, logger)
	go out.writePump()

	session, err := h.gateway.Open(ctx, identity, out)
	if err != nil {
		logger.WithError(err).Error("open session")
		out.Close()
		return
	}
	defer h.gateway.Disconnect(session)

	h.readPump(ctx, conn, session, logger)
}

func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, session *realtimeapp.Session, logger logrus.FieldLogger) {
	readTimeout := 2 * h.cfg.PingInterval
	conn.SetReadLimit(maxCommandSize)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.WithError(err).Info("websocket closed unexpectedly")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		var cmd realtime.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			session.Send(realtime.ErrorMessage(fmt.Errorf("%w: malformed command", aggregation.ErrValidation), time.Now().UTC()))
			continue
		}
		if err := h.gateway.HandleCommand(ctx, session, cmd); err != nil {
			logger.WithError(err).WithField("action", cmd.Action).Debug("command rejected")
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.cfg.AllowedOrigins) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
