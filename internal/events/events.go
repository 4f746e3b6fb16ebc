// Package events publishes export lifecycle events so that other services
// can react when an artifact becomes available, fails or is released.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Type names an export lifecycle event.
type Type string

const (
	ExportRequested     Type = "export.requested"
	ExportReady         Type = "export.ready"
	ExportFailed        Type = "export.failed"
	ReservationReleased Type = "reservation.released"
)

// Event is one lifecycle notification. Empty fields are omitted on the wire.
type Event struct {
	Type          Type
	ReservationID string
	FormID        string
	FormVersionID string
	FileID        string
	Owner         string
	Error         string
	At            time.Time
}

// Values flattens e into stream fields.
func (e Event) Values() map[string]interface{} {
	v := map[string]interface{}{
		"type":           string(e.Type),
		"reservation_id": e.ReservationID,
		"at":             e.At.UTC().Format(time.RFC3339Nano),
	}
	optional := map[string]string{
		"form_id":         e.FormID,
		"form_version_id": e.FormVersionID,
		"file_id":         e.FileID,
		"owner":           e.Owner,
		"error":           e.Error,
	}
	for k, s := range optional {
		if s != "" {
			v[k] = s
		}
	}
	return v
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Log writes events to the structured log. It is the publisher used when
// no event stream is configured.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a publisher writing to logger, or the default logger when
// logger is nil.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Publish(ctx context.Context, e Event) error {
	args := make([]any, 0, 16)
	for k, v := range e.Values() {
		if k == "type" {
			continue
		}
		args = append(args, k, v)
	}
	l.logger.InfoContext(ctx, string(e.Type), args...)
	return nil
}
