// Package notify carries operator-facing notices out of the session: countdowns,
// queued deliveries and failures that must not be silently discarded.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind classifies a notice
type Kind string

const (
	KindConfirming     Kind = "confirming"
	KindCancelled      Kind = "cancelled"
	KindCaptured       Kind = "captured"
	KindCaptureFailed  Kind = "capture_failed"
	KindPersistFailed  Kind = "persist_failed"
	KindQueued         Kind = "queued"
	KindDelivered      Kind = "delivered"
	KindDispatchFailed Kind = "dispatch_failed"
)

// Notice is a single operator-facing message
type Notice struct {
	Kind     Kind      `json:"kind"`
	EventID  string    `json:"eventId,omitempty"`
	ItemKind string    `json:"itemKind,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Notifier receives notices. Implementations must not block.
type Notifier interface {
	Notify(n Notice)
}

// LogNotifier logs every notice and keeps the most recent ones for status displays
type LogNotifier struct {
	logger *zap.Logger
	limit  int
	mu     sync.RWMutex
	recent []Notice
}

// NewLogNotifier creates a notifier retaining up to limit notices
func NewLogNotifier(limit int, logger *zap.Logger) *LogNotifier {
	if limit <= 0 {
		limit = 50
	}
	return &LogNotifier{
		logger: logger,
		limit:  limit,
	}
}

// Notify implements Notifier
func (n *LogNotifier) Notify(notice Notice) {
	if notice.At.IsZero() {
		notice.At = time.Now()
	}

	fields := []zap.Field{
		zap.String("kind", string(notice.Kind)),
		zap.String("event_id", notice.EventID),
	}
	if notice.ItemKind != "" {
		fields = append(fields, zap.String("item_kind", notice.ItemKind))
	}
	switch notice.Kind {
	case KindCaptureFailed, KindPersistFailed, KindDispatchFailed:
		n.logger.Error(notice.Message, fields...)
	default:
		n.logger.Info(notice.Message, fields...)
	}

	n.mu.Lock()
	n.recent = append(n.recent, notice)
	if len(n.recent) > n.limit {
		n.recent = n.recent[len(n.recent)-n.limit:]
	}
	n.mu.Unlock()
}

// Recent returns retained notices, oldest first
func (n *LogNotifier) Recent() []Notice {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Notice, len(n.recent))
	copy(out, n.recent)
	return out
}
