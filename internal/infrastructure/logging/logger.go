// Package logging implements ports.Logger using charmbracelet/log, grounded
// on the teacher's internal/infrastructure/logging.Logger adapter.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	cblog "github.com/charmbracelet/log"

	"github.com/shipwrightrun/shipwright/internal/ports"
)

// Options configures the charmbracelet/log adapter.
type Options struct {
	Writer     io.Writer
	Level      string
	TimeFormat string
	Component  string
}

// Logger implements ports.Logger.
type Logger struct {
	logger *cblog.Logger
	fields []interface{}
}

// New creates a Logger adapter with the supplied options.
func New(opts Options) (*Logger, error) {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stdout
	}

	level := cblog.InfoLevel
	if opts.Level != "" {
		parsed, err := cblog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	base := cblog.NewWithOptions(writer, cblog.Options{
		Level:           level,
		TimeFormat:      opts.TimeFormat,
		ReportTimestamp: true,
	})

	var fields []interface{}
	if opts.Component != "" {
		fields = append(fields, "component", opts.Component)
	}

	return &Logger{logger: base, fields: fields}, nil
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(cblog.DebugLevel, msg, fields...) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.log(cblog.InfoLevel, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.log(cblog.WarnLevel, msg, fields...) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(cblog.ErrorLevel, msg, fields...) }

// With returns a child logger carrying additional persistent fields.
func (l *Logger) With(fields ...interface{}) ports.Logger {
	return &Logger{logger: l.logger, fields: append(append([]interface{}{}, l.fields...), fields...)}
}

func (l *Logger) log(level cblog.Level, msg string, fields ...interface{}) {
	if l == nil || l.logger == nil {
		return
	}
	all := append(append([]interface{}{}, l.fields...), fields...)
	switch level {
	case cblog.DebugLevel:
		l.logger.Debug(msg, all...)
	case cblog.WarnLevel:
		l.logger.Warn(msg, all...)
	case cblog.ErrorLevel:
		l.logger.Error(msg, all...)
	default:
		l.logger.Info(msg, all...)
	}
}

var _ ports.Logger = (*Logger)(nil)
