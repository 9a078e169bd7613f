package audit

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/fedex-dca/control-tower/internal/auth"
	"github.com/fedex-dca/control-tower/internal/shared/logging"
	"github.com/fedex-dca/control-tower/internal/shared/metrics"
)

// Recorder is the write interface services depend on.
type Recorder interface {
	Append(ctx context.Context, entry *Entry) error
}

// Logger is the audit facade used across the governance services. Most writes
// are best-effort: a failed audit append is logged and the request proceeds.
// Denial records are the exception; MustRecord propagates the failure so a
// governance denial is never silently unrecorded.
type Logger struct {
	recorder Recorder
}

// NewLogger creates the audit facade. A nil recorder yields a no-op logger,
// used by tests that do not assert on audit output.
func NewLogger(recorder Recorder) *Logger {
	return &Logger{recorder: recorder}
}

// LogUserAction records an action performed by a human actor.
func (l *Logger) LogUserAction(ctx context.Context, actor auth.Actor, action, resourceType, resourceID string, details map[string]any) {
	entry := NewEntry(ActorTypeHuman, actor.ActorID(), action, resourceType, resourceID, details)
	entry.ActorEmail = actor.Email
	l.record(ctx, entry)
}

// LogSystemAction records an action performed by a service identity.
func (l *Logger) LogSystemAction(ctx context.Context, serviceName, action, resourceType, resourceID string, details map[string]any) {
	entry := NewEntry(ActorTypeSystem, serviceName, action, resourceType, resourceID, details)
	entry.ServiceName = serviceName
	l.record(ctx, entry)
}

// MustRecord records an entry and returns the append error instead of
// swallowing it. Used for governance denials, where losing the record is
// worse than failing the request.
func (l *Logger) MustRecord(ctx context.Context, entry *Entry) error {
	if l.recorder == nil {
		return nil
	}
	if err := l.recorder.Append(ctx, entry); err != nil {
		return err
	}
	metrics.AuditEntryWritten()
	return nil
}

// DenialEntry builds the audit entry for a denied operation.
func DenialEntry(actor auth.Actor, action, resourceType, resourceID, reasonCode string) *Entry {
	actorType := ActorTypeHuman
	if actor.IsSystem() {
		actorType = ActorTypeSystem
	}
	entry := NewEntry(actorType, actor.ActorID(), action, resourceType, resourceID, map[string]any{
		"denied": true,
		"reason": reasonCode,
	})
	entry.ActorEmail = actor.Email
	if actor.IsSystem() {
		entry.ServiceName = actor.ServiceName
	}
	return entry
}

func (l *Logger) record(ctx context.Context, entry *Entry) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.Append(ctx, entry); err != nil {
		logging.WithComponent("audit").WithFields(logrus.Fields{
			"action":        entry.Action,
			"resource_type": entry.ResourceType,
			"resource_id":   entry.ResourceID,
		}).WithError(err).Error("audit append failed")
		return
	}
	metrics.AuditEntryWritten()
}
