package accounting

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// LogSink writes entries as JSON lines through a dedicated logrus logger.
type LogSink struct {
	logger *logrus.Logger
	closer io.Closer
}

// NewLogSink writes entries to w.
func NewLogSink(w io.Writer) *LogSink {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "event",
		},
	})
	return &LogSink{logger: l}
}

// OpenLogSink appends to the file at path; "-" writes to stdout.
func OpenLogSink(path string) (*LogSink, error) {
	if path == "" || path == "-" {
		return NewLogSink(os.Stdout), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open accounting log: %w", err)
	}
	s := NewLogSink(f)
	s.closer = f
	return s, nil
}

// Append writes one line.
func (s *LogSink) Append(_ context.Context, e Entry) error {
	fields := logrus.Fields{
		"ticket":          e.Ticket,
		"request":         e.Kind,
		"success":         e.Success,
		"execution_start": e.ExecutionStart,
		"execution_time":  e.ExecutionTime,
	}
	if e.Comment != "" {
		fields["comment"] = e.Comment
	}
	if e.Rows != nil {
		fields["rows"] = *e.Rows
	}
	s.logger.WithFields(fields).Info("completed")
	return nil
}

// Close closes the underlying file, if any.
func (s *LogSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
