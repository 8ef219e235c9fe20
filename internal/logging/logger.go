package logging

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// LogLevelEnvVar is the environment variable that controls logging verbosity.
// When unset or empty, logging is silent (no zap output).
// Valid values: "debug", "info", "warn", "error"
const LogLevelEnvVar = "GREEHP_LOG_LEVEL"

// maxDumpBytes bounds hex and ASCII dumps; device replies never exceed one datagram
const maxDumpBytes = 1024

// Initialize creates a new logger with the specified level.
// If level is empty, it checks GREEHP_LOG_LEVEL.
// If neither is set, logging is disabled (silent mode).
func Initialize(level string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}

	if level == "" {
		logger = zap.NewNop()
		return nil
	}

	zapLevel, err := ParseLevel(level)
	if err != nil {
		// Unknown level - use info when explicitly set to something
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	built, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = built

	return nil
}

// ParseLevel maps a level name to a zap level
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q (use debug, info, warn or error)", level)
	}
}

// SetLogger replaces the global logger. Tests use it with zaptest/observer.
func SetLogger(l *zap.Logger) {
	logger = l
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger
}

// Named returns a child logger for a component
func Named(component string) *zap.Logger {
	return GetLogger().Named(component)
}

// StdLog adapts a component logger for libraries that want a *log.Logger.
// Every line is written at level.
func StdLog(component string, level zapcore.Level) *log.Logger {
	l, err := zap.NewStdLogAt(Named(component), level)
	if err != nil {
		return zap.NewStdLog(Named(component))
	}
	return l
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

// LogDatagram logs one UDP datagram exchanged with a device.
// The payload is JSON, so it is included verbatim at debug level.
func LogDatagram(remoteAddr string, direction string, data []byte) {
	if !GetLogger().Core().Enabled(zapcore.DebugLevel) {
		return
	}
	Debug("UDP datagram",
		zap.String("remote_addr", remoteAddr),
		zap.String("direction", direction),
		zap.Int("length", len(data)),
		zap.String("content", asciiDump(data)),
	)
}

// LogAttempt logs the outcome of one attempt of a device operation
func LogAttempt(host string, op string, attempt int, maxAttempts int, err error) {
	fields := []zap.Field{
		zap.String("host", host),
		zap.String("op", op),
		zap.Int("attempt", attempt+1),
		zap.Int("max_attempts", maxAttempts),
	}
	if err == nil {
		Debug("Device operation succeeded", fields...)
		return
	}
	Warn("Device operation failed", append(fields, zap.Error(err))...)
}

// LogBackoff logs the delay before the next attempt
func LogBackoff(host string, op string, delay time.Duration) {
	Debug("Backing off before retry",
		zap.String("host", host),
		zap.String("op", op),
		zap.Duration("delay", delay),
	)
}

// LogHTTPRequest logs an HTTP request served by the bridge
func LogHTTPRequest(remoteAddr string, method string, path string, status int, elapsed time.Duration) {
	Info("HTTP request",
		zap.String("remote_addr", remoteAddr),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", status),
		zap.Duration("elapsed", elapsed),
	)
}

// LogRawBytes dumps bytes as hex and ASCII at debug level
func LogRawBytes(label string, data []byte) {
	Debug(label,
		zap.Int("length", len(data)),
		zap.String("hex", hexDump(data)),
		zap.String("ascii", asciiDump(data)),
	)
}

func hexDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if len(data) > maxDumpBytes {
		return hex.EncodeToString(data[:maxDumpBytes]) + "..."
	}
	return hex.EncodeToString(data)
}

func asciiDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if len(data) > maxDumpBytes {
		data = data[:maxDumpBytes]
	}

	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}

// Sync flushes any buffered log entries
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
