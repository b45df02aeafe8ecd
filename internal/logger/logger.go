package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// FormatJSON emits one JSON object per line
	FormatJSON = "json"
	// FormatConsole emits human-readable lines
	FormatConsole = "console"
)

// New builds the client logger. Output always goes to stderr so command
// output on stdout stays machine-readable.
func New(format string, debugMode bool) (*zap.Logger, error) {
	switch format {
	case "", FormatConsole:
		return NewDevelopmentLogger(debugMode)
	case FormatJSON:
		return NewProductionLogger(debugMode)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// NewProductionLogger creates a JSON logger
func NewProductionLogger(debugMode bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level(debugMode))
	config.OutputPaths = []string{"stderr"}
	config.Encoding = FormatJSON
	config.EncoderConfig = zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	// interactive client: stack traces only help when debugging
	config.DisableStacktrace = !debugMode

	return config.Build()
}

// NewDevelopmentLogger creates a console logger. Below debug level only
// warnings and errors are shown, keeping the CLI quiet.
func NewDevelopmentLogger(debugMode bool) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	if debugMode {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		config.DisableStacktrace = true
	}
	config.DisableCaller = !debugMode

	return config.Build()
}

// Sync flushes buffered entries. Safe on a nil logger and safe to repeat.
func Sync(logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	return logger.Sync()
}

func level(debugMode bool) zapcore.Level {
	if debugMode {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}
