package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

// Logger 结构化日志器，封装zerolog
// 各组件通过注入*Logger输出日志，不依赖全局状态
type Logger struct {
	logger zerolog.Logger
	config *Config
	async  *diode.Writer
}

// Config 日志配置
type Config struct {
	Level      string `json:"level"`       // 日志级别: debug, info, warn, error
	Format     string `json:"format"`      // 输出格式: console, json
	Output     string `json:"output"`      // 输出目标: stdout, stderr
	TimeFormat string `json:"time_format"` // 时间格式，默认RFC3339
	Caller     bool   `json:"caller"`      // 是否显示调用者信息
	Async      bool   `json:"async"`       // 高吞吐场景下经diode异步写出
}

// DefaultConfig 默认日志配置
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
		Caller:     true,
	}
}

// New 创建日志器
func New(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.TimeFormat == "" {
		config.TimeFormat = time.RFC3339
	}

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}

	l := &Logger{config: config}
	output, err := l.buildOutput()
	if err != nil {
		return nil, err
	}

	zerolog.TimeFieldFormat = config.TimeFormat

	var base zerolog.Logger
	switch strings.ToLower(config.Format) {
	case "console":
		base = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: config.TimeFormat,
		})
	case "json":
		base = zerolog.New(output)
	default:
		return nil, fmt.Errorf("unsupported log format: %s", config.Format)
	}

	ctx := base.With().Timestamp()
	if config.Caller {
		ctx = ctx.Caller()
	}
	l.logger = ctx.Logger().Level(level)
	return l, nil
}

// buildOutput 选择输出目标，按需包装diode异步writer
func (l *Logger) buildOutput() (io.Writer, error) {
	var out io.Writer
	switch strings.ToLower(l.config.Output) {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		return nil, fmt.Errorf("unsupported log output: %s", l.config.Output)
	}

	if l.config.Async {
		writer := diode.NewWriter(out, 1000, 10*time.Millisecond, func(missed int) {
			fmt.Fprintf(os.Stderr, "logger dropped %d messages\n", missed)
		})
		l.async = &writer
		out = &writer
	}
	return out, nil
}

// NewNop 创建丢弃所有输出的日志器，用于测试
func NewNop() *Logger {
	return &Logger{
		logger: zerolog.Nop(),
		config: DefaultConfig(),
	}
}

// Debug 调试日志
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Debugf 格式化调试日志
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

// Info 信息日志
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Infof 格式化信息日志
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

// Warn 警告日志
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Warnf 格式化警告日志
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

// Error 错误日志
func (l *Logger) Error(msg string) {
	l.logger.Error().Msg(msg)
}

// Errorf 格式化错误日志
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

// ErrorWithErr 带错误对象的错误日志
func (l *Logger) ErrorWithErr(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal 致命错误日志
func (l *Logger) Fatal(msg string) {
	l.logger.Fatal().Msg(msg)
}

// Fatalf 格式化致命错误日志
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.logger.Fatal().Msgf(format, args...)
}

// SetLevel 动态设置日志级别
func (l *Logger) SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", level, err)
	}

	l.logger = l.logger.Level(lvl)
	l.config.Level = level
	return nil
}

// GetLevel 获取当前日志级别
func (l *Logger) GetLevel() string {
	return l.config.Level
}

// Close 刷新并关闭异步写出器，同步模式下为空操作
func (l *Logger) Close() error {
	if l.async != nil {
		return l.async.Close()
	}
	return nil
}
