package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "info", config.Level)
	assert.Equal(t, "console", config.Format)
	assert.Equal(t, "stdout", config.Output)
	assert.Equal(t, time.RFC3339, config.TimeFormat)
	assert.True(t, config.Caller)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:    "nil config uses default",
			config:  nil,
			wantErr: false,
		},
		{
			name: "valid config",
			config: &Config{
				Level:  "debug",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "stderr output",
			config: &Config{
				Level:  "info",
				Format: "json",
				Output: "stderr",
			},
			wantErr: false,
		},
		{
			name: "invalid log level",
			config: &Config{
				Level:  "invalid",
				Format: "console",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name: "invalid format",
			config: &Config{
				Level:  "info",
				Format: "invalid",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name: "invalid output",
			config: &Config{
				Level:  "info",
				Format: "json",
				Output: "/var/log/app.log",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				require.NotNil(t, logger)

				if tt.config == nil {
					assert.Equal(t, "info", logger.config.Level)
				} else {
					assert.Equal(t, tt.config.Level, logger.config.Level)
				}
			}
		})
	}
}

func TestLogger_LogLevels(t *testing.T) {
	// 使用内存缓冲区捕获日志输出
	var buf bytes.Buffer

	testLogger := &Logger{
		logger: zerolog.New(&buf).With().Timestamp().Logger(),
		config: &Config{Level: "debug", Format: "json"},
	}

	testLogger.Debug("debug message")
	testLogger.Info("info message")
	testLogger.Warn("warn message")
	testLogger.Error("error message")

	output := buf.String()
	assert.NotEmpty(t, output)
	assert.Contains(t, output, "debug message")
	assert.Contains(t, output, "info message")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")

	// 每行都是合法JSON且携带必要字段
	for i, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		var logEntry map[string]interface{}
		err := json.Unmarshal([]byte(line), &logEntry)
		assert.NoError(t, err, "Line %d should be valid JSON: %s", i, line)

		assert.Contains(t, logEntry, "time")
		assert.Contains(t, logEntry, "level")
		assert.Contains(t, logEntry, "message")
	}
}

func TestLogger_SetLevel(t *testing.T) {
	logger, err := New(&Config{
		Level:  "info",
		Format: "console",
		Output: "stdout",
	})
	require.NoError(t, err)

	err = logger.SetLevel("debug")
	assert.NoError(t, err)
	assert.Equal(t, "debug", logger.GetLevel())

	// 无效级别不改变当前级别
	err = logger.SetLevel("invalid")
	assert.Error(t, err)
	assert.Equal(t, "debug", logger.GetLevel())
}

func TestLogger_ErrorWithErr(t *testing.T) {
	var buf bytes.Buffer

	testLogger := &Logger{
		logger: zerolog.New(&buf).With().Timestamp().Logger(),
		config: &Config{Level: "error", Format: "json"},
	}

	testLogger.ErrorWithErr(assert.AnError, "operation failed")

	var logEntry map[string]interface{}
	err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "operation failed", logEntry["message"])
	assert.Equal(t, "error", logEntry["level"])
	assert.Contains(t, logEntry, "error")
}

func TestLogger_AsyncClose(t *testing.T) {
	logger, err := New(&Config{
		Level:  "info",
		Format: "json",
		Output: "stdout",
		Async:  true,
	})
	require.NoError(t, err)

	logger.Info("buffered message")
	assert.NoError(t, logger.Close())
}

func TestLogger_CloseWithoutAsync(t *testing.T) {
	logger, err := New(&Config{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	})
	require.NoError(t, err)
	assert.NoError(t, logger.Close())
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	require.NotNil(t, logger)

	// 不产生输出也不panic
	logger.Infof("dropped %s", "message")
	logger.ErrorWithErr(assert.AnError, "dropped")
	assert.NoError(t, logger.Close())
}
