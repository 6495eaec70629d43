package packetguard

import (
	"strings"
	"time"

	"github.com/oarkflow/log"
)

// NewLogger builds the structured logger shared by the engine components.
// Pretty output renders colorized console lines; otherwise entries are JSON.
func NewLogger(level string, pretty bool) *log.Logger {
	logger := &log.Logger{
		Level:      parseLogLevel(level),
		TimeField:  "ts",
		TimeFormat: time.RFC3339,
	}
	if pretty {
		logger.Writer = &log.ConsoleWriter{ColorOutput: true}
	}
	return logger
}

func parseLogLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return log.TraceLevel
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// defaultLogger backs components constructed without an explicit logger.
func defaultLogger() *log.Logger {
	return &log.DefaultLogger
}
