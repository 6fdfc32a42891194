package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"energy-dashboard/internal/auth"
)

// Audited actions.
const (
	ActionCacheInvalidate  = "cache.invalidate"
	ActionBroadcastTrigger = "realtime.broadcast"
	ActionTestMessage      = "realtime.test"
)

// Entry represents an audit log entry for an administrative action.
type Entry struct {
	ID            string
	Actor         string
	Role          string
	Action        string
	Level         string
	EntityID      string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FromRequest fills actor and client fields from an authenticated request.
func FromRequest(r *http.Request, action string, metadata any) Entry {
	entry := Entry{Action: action}
	if r == nil {
		return entry
	}
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		entry.Actor = identity.Subject
		entry.Role = string(identity.Role)
	}
	entry.IP = clientIP(r)
	entry.UserAgent = r.UserAgent()
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = raw
		}
	}
	return entry
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// LogLogger writes audit entries to the structured log. It is used when no
// database is configured.
type LogLogger struct {
	logger logrus.FieldLogger
}

// NewLogLogger constructs a log-backed audit logger.
func NewLogLogger(logger logrus.FieldLogger) *LogLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogLogger{logger: logger.WithField("component", "audit")}
}

// Log implements Logger.
func (l *LogLogger) Log(_ context.Context, entry Entry) error {
	entry = complete(entry)
	l.logger.WithFields(logrus.Fields{
		"audit_id":  entry.ID,
		"actor":     entry.Actor,
		"role":      entry.Role,
		"action":    entry.Action,
		"level":     entry.Level,
		"entity_id": entry.EntityID,
		"metadata":  string(entry.Metadata),
		"ip":        entry.IP,
	}).Info("audit")
	return nil
}

func complete(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}
	return entry
}
