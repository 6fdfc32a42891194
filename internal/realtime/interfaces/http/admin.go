package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	aggregation "energy-dashboard/internal/aggregation/domain"
	apihttp "energy-dashboard/internal/api/http"
	"energy-dashboard/internal/audit"
	realtimeapp "energy-dashboard/internal/realtime/application"
)

const (
	adminPrefix    = "/api/v1/realtime/"
	maxTestPayload = 64 << 10
)

// AdminHandler serves the realtime administration routes:
//
//	POST /api/v1/realtime/broadcast
//	POST /api/v1/realtime/test
//	GET  /api/v1/realtime/stats
type AdminHandler struct {
	broadcaster *realtimeapp.Broadcaster
	gateway     *realtimeapp.Gateway
	audit       audit.Logger
	logger      logrus.FieldLogger
}

// NewAdminHandler constructs an AdminHandler. auditLog may be nil.
func NewAdminHandler(broadcaster *realtimeapp.Broadcaster, gateway *realtimeapp.Gateway, auditLog audit.Logger, logger logrus.FieldLogger) (*AdminHandler, error) {
	if broadcaster == nil {
		return nil, errors.New("realtime admin: nil broadcaster")
	}
	if gateway == nil {
		return nil, errors.New("realtime admin: nil gateway")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AdminHandler{
		broadcaster: broadcaster,
		gateway:     gateway,
		audit:       auditLog,
		logger:      logger.WithField("component", "realtime-admin"),
	}, nil
}

// ServeHTTP dispatches on the path segment after the prefix.
func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch strings.Trim(strings.TrimPrefix(r.URL.Path, adminPrefix), "/") {
	case "broadcast":
		h.handleBroadcast(w, r)
	case "test":
		h.handleTest(w, r)
	case "stats":
		h.handleStats(w, r)
	default:
		apihttp.WriteErrorCode(w, http.StatusNotFound, "not_found", "unknown realtime route")
	}
}

func (h *AdminHandler) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		apihttp.MethodNotAllowed(w, http.MethodPost)
		return
	}
	report := h.broadcaster.Trigger(r.Context())
	h.record(r, audit.ActionBroadcastTrigger, report)
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "triggered",
		"rooms":     report.Rooms,
		"failed":    report.Failed,
		"delivered": report.Delivered,
		"duration":  report.Duration.String(),
	})
}

func (h *AdminHandler) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		apihttp.MethodNotAllowed(w, http.MethodPost)
		return
	}
	var payload any
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTestPayload))
	if err != nil {
		apihttp.WriteError(w, errors.Join(aggregation.ErrValidation, err))
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			apihttp.WriteError(w, errors.Join(aggregation.ErrValidation, errors.New("test payload must be JSON")))
			return
		}
	} else {
		payload = map[string]string{"message": "test"}
	}

	sent := h.gateway.SendTest(payload)
	h.record(r, audit.ActionTestMessage, map[string]int{"sent": sent})
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{"status": "sent", "clients": sent})
}

func (h *AdminHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		apihttp.MethodNotAllowed(w, http.MethodGet)
		return
	}
	stats := h.gateway.Stats()
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{
		"sessions":          stats.Sessions,
		"rooms":             stats.Rooms,
		"activeRooms":       stats.ActiveRooms,
		"members":           stats.Members,
		"broadcastInterval": h.broadcaster.Interval().String(),
		"running":           h.broadcaster.Running(),
	})
}

func (h *AdminHandler) record(r *http.Request, action string, metadata any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(r.Context(), audit.FromRequest(r, action, metadata)); err != nil {
		h.logger.WithError(err).WithField("action", action).Warn("audit log failed")
	}
}
