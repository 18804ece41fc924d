package notify

import (
	"context"
	"log/slog"
)

// Log writes messages to a logger instead of a chat channel.
type Log struct {
	log *slog.Logger
}

// NewLog creates a Log notifier.
func NewLog(log *slog.Logger) *Log {
	return &Log{log: log}
}

// Send logs msg at info level.
func (l *Log) Send(_ context.Context, msg Message) error {
	l.log.Info("notification", "username", msg.Username, "text", msg.Text)
	return nil
}
