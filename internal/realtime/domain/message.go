package realtime

import (
	"context"
	"errors"
	"time"

	aggregation "energy-dashboard/internal/aggregation/domain"
	"energy-dashboard/internal/auth"
	hierarchy "energy-dashboard/internal/hierarchy/domain"
)

var (
	// ErrRoomFull is returned when a room reached its member cap.
	ErrRoomFull = errors.New("realtime: room is full")
	// ErrSessionClosed is returned for operations on a disconnected session.
	ErrSessionClosed = errors.New("realtime: session closed")
	// ErrNotSubscribed is returned when unsubscribing from a room the session is not in.
	ErrNotSubscribed = errors.New("realtime: not subscribed")
)

// Message types.
const (
	TypeWelcome      = "welcome"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeInitial      = "initial"
	TypeBroadcast    = "broadcast"
	TypeTest         = "test"
	TypePong         = "pong"
	TypeError        = "error"
)

// Client actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// Message is a server to client frame.
type Message struct {
	Type      string        `json:"type"`
	Room      string        `json:"room,omitempty"`
	Data      any           `json:"data,omitempty"`
	Welcome   *Welcome      `json:"welcome,omitempty"`
	Error     *ErrorPayload `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Welcome is sent once a connection is authenticated.
type Welcome struct {
	ClientID          string     `json:"clientId"`
	Scope             auth.Scope `json:"scope"`
	BroadcastInterval string     `json:"broadcastInterval"`
	IntervalSeconds   float64    `json:"intervalSeconds"`
}

// ErrorPayload carries a client-visible error.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Command is a client to server frame.
type Command struct {
	Action     string `json:"action"`
	Level      string `json:"level,omitempty"`
	EntityID   string `json:"entityId,omitempty"`
	TimeWindow string `json:"timeWindow,omitempty"`
}

// Sink delivers messages to one connected client. Send must not block; it
// reports false when the message was dropped.
type Sink interface {
	Send(msg Message) bool
	Close()
}

// ResultSource supplies aggregation results for rooms.
type ResultSource interface {
	Get(ctx context.Context, key aggregation.Key) (aggregation.Result, error)
}

// Authorizer checks that a scope covers an entity.
type Authorizer interface {
	Authorize(ctx context.Context, scope auth.Scope, level hierarchy.Level, entityID string) error
}

// Error codes shared by the HTTP and WebSocket surfaces.
const (
	CodeValidation   = "validation"
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeAccessDenied = "access_denied"
	CodeAggregation  = "aggregation"
	CodeCapacity     = "capacity"
	CodeInternal     = "internal"
)

// ErrorCode classifies an error into a client-visible code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, aggregation.ErrValidation), errors.Is(err, hierarchy.ErrInvalidLevel), errors.Is(err, ErrNotSubscribed):
		return CodeValidation
	case errors.Is(err, hierarchy.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		return CodeUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return CodeAccessDenied
	case errors.Is(err, aggregation.ErrAggregation):
		return CodeAggregation
	case errors.Is(err, ErrRoomFull):
		return CodeCapacity
	default:
		return CodeInternal
	}
}

// PublicMessage returns the client-visible text of err. Internal errors
// and store failures are reduced to their category; the full error is for
// logs only.
func PublicMessage(err error) string {
	switch ErrorCode(err) {
	case CodeInternal:
		return "internal error"
	case CodeAggregation:
		var computeErr *aggregation.ComputeError
		if errors.As(err, &computeErr) {
			return "aggregation failed for " + computeErr.Key.String()
		}
		return "aggregation failed"
	default:
		return err.Error()
	}
}

// ErrorMessage builds an error frame.
func ErrorMessage(err error, now time.Time) Message {
	return Message{
		Type:      TypeError,
		Error:     &ErrorPayload{Code: ErrorCode(err), Message: PublicMessage(err)},
		Timestamp: now,
	}
}
