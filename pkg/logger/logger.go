// Package logger provides context-aware structured logging on top of
// logrus. Components pull their logger from the context with G(ctx) so
// per-invocation fields travel with the request.
package logger

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// G is a convenience alias for GetLogger.
	G = GetLogger
	// L is the global fallback entry used when the context carries no logger.
	L = logrus.NewEntry(newLogger())
)

type loggerKey struct{}

// WithLogger attaches an entry to the context, making it retrievable via GetLogger.
func WithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	e := entry.WithContext(ctx)
	return context.WithValue(ctx, loggerKey{}, e)
}

// GetLogger returns the entry stored in the context, or the global entry L
// with the context attached when none is stored.
func GetLogger(ctx context.Context) *logrus.Entry {
	entry := ctx.Value(loggerKey{})
	if entry == nil {
		return L.WithContext(ctx)
	}
	return entry.(*logrus.Entry)
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	applyFormat(l, "fmt")
	return l
}

func applyFormat(l *logrus.Logger, format string) {
	switch format {
	case "json":
		l.Formatter = &logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "logLevel",
				logrus.FieldKeyMsg:   "message",
			},
			TimestampFormat: time.RFC3339Nano,
		}
	case "text", "fmt":
		fallthrough
	default:
		l.Formatter = &logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
			FullTimestamp:   true,
		}
	}
}

// SetLogLevel sets the level of the global logger.
func SetLogLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	L.Logger.SetLevel(parsed)
	return nil
}

// SetLogFormat sets the output format ("json", "text" or "fmt") of the global logger.
func SetLogFormat(format string) {
	applyFormat(L.Logger, format)
}

// SetLogOutput redirects the global logger's output.
func SetLogOutput(w io.Writer) {
	L.Logger.SetOutput(w)
}
