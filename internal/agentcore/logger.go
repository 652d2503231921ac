package agentcore

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogField is a single structured logging attribute.
type LogField struct {
	Key   string
	Value any
}

// Field builds a LogField from a key/value pair.
func Field(key string, value any) LogField {
	return LogField{Key: key, Value: value}
}

func (f LogField) zap() zap.Field {
	return zap.Any(f.Key, f.Value)
}

type traceIDKey struct{}

// WithTraceID attaches a correlation id to ctx for structured log output.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func traceIDFrom(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(traceIDKey{}).(string)
	return id, ok && id != ""
}

// Logger is the structured logging surface the runtime depends on. Hosts may
// supply their own implementation; NewZapLogger and NoOpLogger cover the
// common cases.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...LogField)
	Info(ctx context.Context, msg string, fields ...LogField)
	Warn(ctx context.Context, msg string, fields ...LogField)
	Error(ctx context.Context, msg string, err error, fields ...LogField)
	WithFields(fields ...LogField) Logger
}

// NoOpLogger discards every log entry. It is the default when a host does
// not configure a Logger.
type NoOpLogger struct{}

func (NoOpLogger) Debug(context.Context, string, ...LogField)          {}
func (NoOpLogger) Info(context.Context, string, ...LogField)           {}
func (NoOpLogger) Warn(context.Context, string, ...LogField)           {}
func (NoOpLogger) Error(context.Context, string, error, ...LogField)   {}
func (n NoOpLogger) WithFields(...LogField) Logger                     { return n }

// ZapLogger adapts a *zap.Logger to the Logger interface, stamping a trace
// id field from the context when present.
type ZapLogger struct {
	base   *zap.Logger
	static []LogField
}

// NewZapLogger builds a ZapLogger writing JSON lines at minLevel to ws (one
// or more zapcore.WriteSyncers, typically a file or os.Stdout).
func NewZapLogger(minLevel zapcore.Level, ws ...zapcore.WriteSyncer) *ZapLogger {
	if len(ws) == 0 {
		ws = []zapcore.WriteSyncer{zapcore.AddSync(nopWriter{})}
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.NewMultiWriteSyncer(ws...), minLevel)
	return &ZapLogger{base: zap.New(core)}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func (l *ZapLogger) fieldsFor(ctx context.Context, extra []LogField) []zap.Field {
	out := make([]zap.Field, 0, len(l.static)+len(extra)+1)
	for _, f := range l.static {
		out = append(out, f.zap())
	}
	for _, f := range extra {
		out = append(out, f.zap())
	}
	if id, ok := traceIDFrom(ctx); ok {
		out = append(out, zap.String("trace_id", id))
	}
	return out
}

func (l *ZapLogger) Debug(ctx context.Context, msg string, fields ...LogField) {
	l.base.Debug(msg, l.fieldsFor(ctx, fields)...)
}

func (l *ZapLogger) Info(ctx context.Context, msg string, fields ...LogField) {
	l.base.Info(msg, l.fieldsFor(ctx, fields)...)
}

func (l *ZapLogger) Warn(ctx context.Context, msg string, fields ...LogField) {
	l.base.Warn(msg, l.fieldsFor(ctx, fields)...)
}

func (l *ZapLogger) Error(ctx context.Context, msg string, err error, fields ...LogField) {
	zfields := l.fieldsFor(ctx, fields)
	if err != nil {
		zfields = append(zfields, zap.Error(err))
	}
	l.base.Error(msg, zfields...)
}

func (l *ZapLogger) WithFields(fields ...LogField) Logger {
	combined := make([]LogField, 0, len(l.static)+len(fields))
	combined = append(combined, l.static...)
	combined = append(combined, fields...)
	return &ZapLogger{base: l.base, static: combined}
}

// ParseLogLevel maps the runtime's "DEBUG"/"INFO"/"WARN"/"ERROR" knob to a
// zapcore.Level, defaulting to Info for unrecognized values.
func ParseLogLevel(value string) zapcore.Level {
	switch value {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
