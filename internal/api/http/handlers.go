package apihttp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	realtime "energy-dashboard/internal/realtime/domain"
)

// ErrorBody is the JSON error envelope of every endpoint.
type ErrorBody struct {
	Error realtime.ErrorPayload `json:"error"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError classifies err and writes the matching status and envelope.
func WriteError(w http.ResponseWriter, err error) {
	code := realtime.ErrorCode(err)
	WriteJSON(w, StatusFor(code), ErrorBody{Error: realtime.ErrorPayload{Code: code, Message: realtime.PublicMessage(err)}})
}

// WriteErrorCode writes an envelope for errors raised by the transport itself.
func WriteErrorCode(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorBody{Error: realtime.ErrorPayload{Code: code, Message: message}})
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code string) int {
	switch code {
	case realtime.CodeValidation:
		return http.StatusBadRequest
	case realtime.CodeNotFound:
		return http.StatusNotFound
	case realtime.CodeUnauthorized:
		return http.StatusUnauthorized
	case realtime.CodeAccessDenied:
		return http.StatusForbidden
	case realtime.CodeAggregation:
		return http.StatusBadGateway
	case realtime.CodeCapacity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// MethodNotAllowed writes a 405 with the allowed methods.
func MethodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, method := range allowed {
		w.Header().Add("Allow", method)
	}
	WriteErrorCode(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler serves GET /healthz.
type HealthHandler struct {
	db      Pinger
	started time.Time
}

// NewHealthHandler constructs a HealthHandler. db may be nil.
func NewHealthHandler(db Pinger, started time.Time) *HealthHandler {
	return &HealthHandler{db: db, started: started}
}

// ServeHTTP handles GET /healthz.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		MethodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}
	body := map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			body["status"] = "degraded"
			body["database"] = "unreachable"
			WriteJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "ok"
	}
	WriteJSON(w, http.StatusOK, body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps WebSocket upgrades working behind the access log.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("access log: response does not support hijacking")
	}
	return hijacker.Hijack()
}

// AccessLog logs one line per request.
func AccessLog(logger logrus.FieldLogger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
			"remote":   r.RemoteAddr,
		}).Info("http request")
	})
}
