// internal/notify/log_notifier.go
package notify

import (
	"context"

	"gacp-engine/internal/common/logger"
)

// LogNotifier writes events to the structured log. Used when no event bus is
// configured and in tests.
type LogNotifier struct {
	log logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Publish(_ context.Context, event Event) error {
	n.log.Info("workflow event", map[string]interface{}{
		"type":          event.Type,
		"applicationId": event.ApplicationID,
		"data":          event.Data,
	})
	return nil
}
