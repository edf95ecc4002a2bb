package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap with a key/value API used across services and middleware.
type Logger struct {
	zap   *zap.Logger
	sugar *zap.SugaredLogger
}

// New creates a logger for the given level and environment.
// Development builds a colored console encoder, everything else emits JSON.
func New(level, environment string) *Logger {
	zapLevel := parseLevel(level)

	var encoderCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder
	if environment == "development" || environment == "test" {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "timestamp"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zapLevel)
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).With(
		zap.String("service", "piogold-ico"),
		zap.String("environment", environment),
	)

	return &Logger{zap: z, sugar: z.Sugar()}
}

// NewFromZap wraps an existing zap logger.
func NewFromZap(z *zap.Logger) *Logger {
	return &Logger{zap: z, sugar: z.Sugar()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewFromZap(zap.NewNop())
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Zap exposes the underlying structured logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zap.WithOptions(zap.AddCallerSkip(-1))
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.sugar.Fatalw(msg, keysAndValues...)
}

// With returns a child logger carrying the given fields.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	sugar := l.sugar.With(keysAndValues...)
	return &Logger{zap: sugar.Desugar(), sugar: sugar}
}

// ForRequest returns a request-scoped logger.
func (l *Logger) ForRequest(requestID, method, path string) *zap.SugaredLogger {
	return l.sugar.With(
		"request_id", requestID,
		"method", method,
		"path", path,
	)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}
