package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var records []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		record := map[string]interface{}{}
		require.NoError(t, json.Unmarshal(line, &record))
		records = append(records, record)
	}
	return records
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelWarn, Format: "json", Output: &buf})
	ctx := context.Background()

	logger.Debug(ctx, "debug")
	logger.Info(ctx, "info")
	logger.Warn(ctx, nil, "warn")
	logger.Error(ctx, errors.New("boom"), "error")

	records := decodeLines(t, &buf)
	require.Len(t, records, 2)
	assert.Equal(t, "warn", records[0]["msg"])
	assert.Equal(t, "error", records[1]["msg"])
	assert.Equal(t, "boom", records[1]["error"])
}

func TestLoggerFieldsAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelDebug, Format: "json", Output: &buf})

	scoped := logger.WithComponent("rules").With("path", "doc.md")
	scoped.Info(context.Background(), "matched", "count", 2)

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	assert.Equal(t, "rules", records[0]["component"])
	assert.Equal(t, "doc.md", records[0]["path"])
	assert.Equal(t, float64(2), records[0]["count"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPerfLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelInfo, Format: "json", Output: &buf})
	ctx := context.Background()

	StartOperation(logger, "build").End(ctx, "label", "pandoc: pdf")
	StartOperation(logger, "build").EndWithError(ctx, errors.New("exit 1"))

	records := decodeLines(t, &buf)
	require.Len(t, records, 2)
	assert.Equal(t, "build", records[0]["operation"])
	assert.Equal(t, "pandoc: pdf", records[0]["label"])
	assert.Contains(t, records[0], "duration_ms")
	assert.Equal(t, "exit 1", records[1]["error"])
}

func TestNopLogger(t *testing.T) {
	logger := NewNop()
	logger.Error(context.Background(), errors.New("ignored"), "ignored")
	assert.Equal(t, "UNKNOWN", (LevelError + 1).String())
}
