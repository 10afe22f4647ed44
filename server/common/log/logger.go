package log

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	envLogLevel    = "LOG_LEVEL"
	envLogFormat   = "LOG_FORMAT"
	envLogFilePath = "LOG_FILE_PATH"

	logFormatConsole = "console"
	logFormatJSON    = "json"
)

// Config mirrors the LOG_* environment variables.
type Config struct {
	Level      string
	Format     string
	OutputPath string
}

var (
	mu     sync.RWMutex
	global *zap.Logger
	sugar  *zap.SugaredLogger
)

func init() {
	logger, err := New(configFromEnv())
	if err != nil {
		logger = zap.NewNop()
	}
	Replace(logger)
}

func configFromEnv() Config {
	return Config{
		Level:      os.Getenv(envLogLevel),
		Format:     os.Getenv(envLogFormat),
		OutputPath: os.Getenv(envLogFilePath),
	}
}

// New builds a zap logger from cfg. Unknown levels fall back to info and
// unknown formats to console.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = zapcore.InfoLevel
	}
	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format != logFormatJSON {
		format = logFormatConsole
	}
	output := strings.TrimSpace(cfg.OutputPath)
	if output == "" {
		output = "stdout"
	}

	var encoderConfig zapcore.EncoderConfig
	if format == logFormatConsole {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
	}
	encoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	return zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      format == logFormatConsole,
		Encoding:         format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}.Build(zap.AddCallerSkip(1))
}

// Replace swaps the process logger. Tests use it with zap.NewNop().
func Replace(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	global = logger
	sugar = logger.Sugar()
}

// L returns the structured logger without the printf-style caller skip.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global.WithOptions(zap.AddCallerSkip(-1))
}

func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = global.Sync()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func Debugf(format string, args ...any) {
	current().Debugf(format, args...)
}

func Infof(format string, args ...any) {
	current().Infof(format, args...)
}

func Warnf(format string, args ...any) {
	current().Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	current().Errorf(format, args...)
}

// Exceptionf logs at error level with a stack trace attached.
func Exceptionf(format string, args ...any) {
	current().With(zap.StackSkip("stack", 1)).Errorf(format, args...)
}
