// Package logging builds the scraper's zap logger.
package logging

import (
	"errors"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Name is the root logger name; components extend it with Named.
const Name = "webscraper"

// New builds the process logger. Logs go to stderr so stdout carries only the
// run summary.
func New(development bool) (*zap.Logger, error) {
	return NewWithSink(development, zapcore.Lock(os.Stderr))
}

// NewWithSink builds the logger New would, writing to sink instead of stderr.
// Development logs are colored console lines at debug level; production logs
// are JSON at info level.
func NewWithSink(development bool, sink zapcore.WriteSyncer) (*zap.Logger, error) {
	if sink == nil {
		return nil, errors.New("logging: nil sink")
	}

	var (
		encCfg zapcore.EncoderConfig
		enc    zapcore.Encoder
		level  zapcore.Level
		opts   []zap.Option
	)
	if development {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
		level = zapcore.DebugLevel
		opts = []zap.Option{zap.Development(), zap.AddCaller(), zap.AddStacktrace(zapcore.WarnLevel)}
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		enc = zapcore.NewJSONEncoder(encCfg)
		level = zapcore.InfoLevel
		opts = []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	}
	core := zapcore.NewCore(enc, sink, zap.NewAtomicLevelAt(level))
	return zap.New(core, opts...).Named(Name), nil
}
