package logger

import (
	"strings"

	"github.com/rs/zerolog"
)

// Logger tags every entry with the component that produced it. Fields are
// attached as structured key/value pairs.
type Logger interface {
	Debug(component, message string, fields map[string]interface{})
	Info(component, message string, fields map[string]interface{})
	Warning(component, message string, fields map[string]interface{})
	Error(component string, err error, fields map[string]interface{})
}

// ParseLevel maps a user supplied level name onto zerolog. Unknown names fall
// back to info.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LevelFor picks the CLI level from the debug flag and an optional override.
func LevelFor(debug bool, override string) zerolog.Level {
	if override != "" {
		return ParseLevel(override)
	}
	if debug {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
