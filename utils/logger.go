package utils

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger 简单日志封装（zerolog 后端）
type Logger struct {
	zl zerolog.Logger
}

// Info 信息日志
func (l *Logger) Info(msg string, args ...interface{}) {
	l.zl.Info().Msgf(msg, args...)
}

// Warn 警告日志
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.zl.Warn().Msgf(msg, args...)
}

// Error 错误日志
func (l *Logger) Error(msg string, args ...interface{}) {
	l.zl.Error().Msgf(msg, args...)
}

var DefaultLogger = &Logger{
	zl: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger(),
}
