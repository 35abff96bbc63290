package gologger

import (
	"context"
	"log/slog"
	"os"

	glog "github.com/goliatone/go-logger/glog"
)

const levelTrace = slog.Level(-8)

// SlogLogger satisfies glog.Logger on top of a slog handler. Fatal logs at
// error level and exits the process.
type SlogLogger struct {
	logger *slog.Logger
	ctx    context.Context
	exit   func(int)
}

func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger, ctx: context.Background(), exit: os.Exit}
}

func (l *SlogLogger) Trace(msg string, args ...any) { l.log(levelTrace, msg, args...) }
func (l *SlogLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *SlogLogger) Fatal(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
	l.exit(1)
}

func (l *SlogLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		return l
	}
	next := *l
	next.ctx = ctx
	return &next
}

// WithFields attaches fields to every later record.
func (l *SlogLogger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	args := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		args = append(args, key, value)
	}
	next := *l
	next.logger = l.logger.With(args...)
	return &next
}

func (l *SlogLogger) log(level slog.Level, msg string, args ...any) {
	l.logger.Log(l.ctx, level, msg, args...)
}

// SlogProvider names child loggers with a "logger" attribute.
type SlogProvider struct {
	root *SlogLogger
}

func NewSlogProvider(logger *slog.Logger) *SlogProvider {
	return &SlogProvider{root: NewSlogLogger(logger)}
}

func (p *SlogProvider) GetLogger(name string) glog.Logger {
	if name == "" {
		return p.root
	}
	next := *p.root
	next.logger = p.root.logger.With("logger", name)
	return &next
}

var (
	_ glog.Logger         = (*SlogLogger)(nil)
	_ glog.FieldsLogger   = (*SlogLogger)(nil)
	_ glog.LoggerProvider = (*SlogProvider)(nil)
)
