package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	l := newLogger()

	require.NotNil(t, l)
	formatter, ok := l.Formatter.(*logrus.TextFormatter)
	require.True(t, ok)
	assert.Equal(t, time.RFC3339Nano, formatter.TimestampFormat)
	assert.True(t, formatter.FullTimestamp)
}

func TestGetLogger_FallsBackToGlobal(t *testing.T) {
	entry := G(context.Background())

	require.NotNil(t, entry)
	assert.Equal(t, L.Logger, entry.Logger)
}

func TestWithLogger_RoundTrip(t *testing.T) {
	custom := logrus.NewEntry(logrus.New()).WithField("invocation_id", "abc")
	ctx := WithLogger(context.Background(), custom)

	got := G(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "abc", got.Data["invocation_id"])
}

func TestWithLogger_FieldsAccumulate(t *testing.T) {
	ctx := WithLogger(context.Background(), logrus.NewEntry(logrus.New()).WithField("component", "matcher"))
	ctx = WithLogger(ctx, G(ctx).WithField("definition", "commit-message"))

	got := G(ctx)
	assert.Equal(t, "matcher", got.Data["component"])
	assert.Equal(t, "commit-message", got.Data["definition"])
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	applyFormat(l, "json")

	ctx := WithLogger(context.Background(), logrus.NewEntry(l))
	G(ctx).Info("catalog swapped")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "catalog swapped", entry["message"])
	assert.Equal(t, "info", entry["logLevel"])

	ts, ok := entry["timestamp"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339Nano, ts)
	assert.NoError(t, err)
}

func TestSetLogLevel(t *testing.T) {
	require.NoError(t, SetLogLevel("debug"))
	assert.Equal(t, logrus.DebugLevel, L.Logger.GetLevel())

	require.NoError(t, SetLogLevel("info"))
	assert.Equal(t, logrus.InfoLevel, L.Logger.GetLevel())

	assert.Error(t, SetLogLevel("shouting"))
}

func TestSetLogFormat_UnknownFallsBackToText(t *testing.T) {
	l := logrus.New()
	applyFormat(l, "carrier-pigeon")
	assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)
}
