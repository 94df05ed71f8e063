// Package logger provides leveled, prefix-tagged logging shared by every
// component, in place of ad-hoc fmt.Println calls.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// instanceID correlates every log line emitted by this process run; a new
// id is generated at each start. Grounded on the device-id pattern of
// generating one UUID at startup and stamping it on every subsequent log
// line.
var instanceID = uuid.New().String()

// InstanceID returns this process's log-correlation id.
func InstanceID() string {
	return instanceID
}

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	DEBUG  LogLevel = iota // verbose per-frame/per-tick detail
	INFO                   // high-level events (link up/down, session installed)
	WARN                   // recoverable protocol/transient-bus conditions
	ERROR                  // local failures that drop a frame or a send
	SYSTEM                 // auth failures and other once-per-incident reports
)

var (
	currentLevel LogLevel = INFO
	mu           sync.RWMutex
)

// SetLevel sets the global log level.
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

// GetLevel returns the current log level.
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// ParseLevel converts a string (DEBUG|INFO|WARN|ERROR|SYSTEM,
// case-insensitive) to a LogLevel, defaulting to INFO on an unrecognized
// name.
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "SYSTEM":
		return SYSTEM
	default:
		return INFO
	}
}

func log(level LogLevel, prefix, format string, args ...interface{}) {
	if level < GetLevel() {
		return
	}

	var levelStr string
	switch level {
	case DEBUG:
		levelStr = "DEBUG"
	case INFO:
		levelStr = "INFO "
	case WARN:
		levelStr = "WARN "
	case ERROR:
		levelStr = "ERROR"
	case SYSTEM:
		levelStr = "SYSTM"
	}

	msg := fmt.Sprintf(format, args...)
	if prefix != "" {
		fmt.Fprintf(os.Stderr, "[%s %s %s] %s\n", instanceID[:8], prefix, levelStr, msg)
	} else {
		fmt.Fprintf(os.Stderr, "[%s %s] %s\n", instanceID[:8], levelStr, msg)
	}
}

// Debug logs a debug message.
func Debug(prefix, format string, args ...interface{}) {
	log(DEBUG, prefix, format, args...)
}

// Info logs an info message.
func Info(prefix, format string, args ...interface{}) {
	log(INFO, prefix, format, args...)
}

// Warn logs a warning message.
func Warn(prefix, format string, args ...interface{}) {
	log(WARN, prefix, format, args...)
}

// Error logs an error message.
func Error(prefix, format string, args ...interface{}) {
	log(ERROR, prefix, format, args...)
}

// System logs a SYSTEM-level message: once-per-incident reports such as
// AuthFail, per §7.
func System(prefix, format string, args ...interface{}) {
	log(SYSTEM, prefix, format, args...)
}

// ToJSON converts any value to a pretty-printed JSON string for logging.
func ToJSON(v interface{}) string {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}
	return string(jsonBytes)
}

// DebugJSON logs a debug message with a JSON representation of v.
func DebugJSON(prefix, label string, v interface{}) {
	if GetLevel() > DEBUG {
		return
	}
	log(DEBUG, prefix, "%s:\n%s", label, ToJSON(v))
}
