package gologger

import (
	"context"
	"sort"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// ZapLogger exposes a zap logger through the glog contracts. Key/value
// arguments become structured zap fields.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{sugar: logger.Sugar()}
}

// NewProductionLogger builds a JSON zap logger at the named level. Unknown
// levels fall back to info.
func NewProductionLogger(level string) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	parsed, err := zapcore.ParseLevel(strings.TrimSpace(strings.ToLower(level)))
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(logger), nil
}

func (l *ZapLogger) must() *zap.SugaredLogger {
	if l == nil || l.sugar == nil {
		return zap.NewNop().Sugar()
	}
	return l.sugar
}

func (l *ZapLogger) Trace(msg string, args ...any) { l.must().Debugw(msg, args...) }
func (l *ZapLogger) Debug(msg string, args ...any) { l.must().Debugw(msg, args...) }
func (l *ZapLogger) Info(msg string, args ...any)  { l.must().Infow(msg, args...) }
func (l *ZapLogger) Warn(msg string, args ...any)  { l.must().Warnw(msg, args...) }
func (l *ZapLogger) Error(msg string, args ...any) { l.must().Errorw(msg, args...) }
func (l *ZapLogger) Fatal(msg string, args ...any) { l.must().Fatalw(msg, args...) }

func (l *ZapLogger) WithContext(context.Context) glog.Logger {
	return l
}

// WithFields returns a child logger carrying fields on every entry.
func (l *ZapLogger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return &ZapLogger{sugar: l.must().With(args...)}
}

func (l *ZapLogger) Sync() error {
	return l.must().Sync()
}

// Provider hands out named children of one zap logger.
type Provider struct {
	logger *ZapLogger
}

func NewProvider(logger *ZapLogger) *Provider {
	if logger == nil {
		logger = NewZapLogger(nil)
	}
	return &Provider{logger: logger}
}

func (p *Provider) GetLogger(name string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return p.logger
	}
	return &ZapLogger{sugar: p.logger.must().Named(name)}
}

var (
	_ glog.Logger         = (*ZapLogger)(nil)
	_ glog.FieldsLogger   = (*ZapLogger)(nil)
	_ glog.LoggerProvider = (*Provider)(nil)
)
