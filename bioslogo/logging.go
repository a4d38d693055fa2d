package bioslogo

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Everything in this package logs through here. Defaults to a no-op so
// library users (and tests) stay quiet unless they ask otherwise
var logger = zap.NewNop().Sugar()

// Replace the package logger. Passing nil silences logging again
func SetLogger(l *zap.SugaredLogger) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	logger = l
}

// A human-oriented console logger, info level unless verbose
func NewLogger(verbose bool) *zap.SugaredLogger {
	return NewLoggerTo(os.Stderr, verbose)
}

func NewLoggerTo(w io.Writer, verbose bool) *zap.SugaredLogger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "time",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.TimeEncoderOfLayout("15:04:05"),
		EncodeLevel: zapcore.CapitalLevelEncoder,
	}
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(w),
		level,
	)
	return zap.New(core).Sugar()
}
