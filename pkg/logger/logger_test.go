package logger

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"imgrelay/pkg/config"
)

func newBufferLogger(buf *bytes.Buffer) *zerologLogger {
	zlog := zerolog.New(buf).With().Timestamp().Logger()
	return &zerologLogger{
		logger: &zlog,
		fields: make(map[string]interface{}),
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{name: "console info", cfg: &config.LoggingConfig{Level: "info"}},
		{name: "json debug", cfg: &config.LoggingConfig{Level: "debug", Format: "json"}},
		{name: "invalid level", cfg: &config.LoggingConfig{Level: "loud"}, wantErr: true},
		{name: "file output", cfg: &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "imgrelay.log")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestFieldChaining(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	l.WithField("url", "https://img.example/a.png").
		WithFields(map[string]interface{}{"attempts": 3, "ok": true}).
		Info("fetched")

	out := buf.String()
	assert.Contains(t, out, "fetched")
	assert.Contains(t, out, `"url":"https://img.example/a.png"`)
	assert.Contains(t, out, `"attempts":3`)
	assert.Contains(t, out, `"ok":true`)
}

func TestWithFieldsDoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	_ = l.WithField("child", "yes")
	l.Info("parent")

	assert.NotContains(t, buf.String(), "child")
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	assert.Same(t, l, l.WithError(nil))

	l.WithError(errors.New("upstream closed")).Error("fetch failed")
	assert.Contains(t, buf.String(), "upstream closed")
}

func TestFieldTypes(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	l.InfoWithFields("typed", map[string]interface{}{
		"int64":    int64(7),
		"float":    1.5,
		"duration": 2 * time.Second,
		"strings":  []string{"a", "b"},
		"custom":   struct{ Name string }{Name: "x"},
	})

	out := buf.String()
	assert.Contains(t, out, `"int64":7`)
	assert.Contains(t, out, `"strings":["a","b"]`)
}

func TestLogRequestLevels(t *testing.T) {
	tl := NewTestLogger()

	LogRequest(tl, "GET", "/api/image", 200, time.Millisecond)
	LogRequest(tl, "POST", "/api/zip", 400, time.Millisecond)
	LogRequest(tl, "POST", "/api/zip", 500, time.Millisecond)

	assert.Len(t, tl.GetMessagesByLevel("INFO"), 1)
	assert.Len(t, tl.GetMessagesByLevel("WARN"), 1)
	assert.Len(t, tl.GetMessagesByLevel("ERROR"), 1)
}

func TestTestLoggerSharesStoreWithChildren(t *testing.T) {
	tl := NewTestLogger()

	tl.WithField("component", "archive").WithError(errors.New("boom")).Warn("entry failed")

	msgs := tl.GetMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "archive", msgs[0].Fields["component"])
	assert.Equal(t, "boom", msgs[0].Fields["error"])
	assert.True(t, tl.HasMessage("entry failed"))
}
