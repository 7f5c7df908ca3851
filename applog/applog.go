// Package applog is a leveled wrapper around stdlib log, with an
// optional journald sink selected at setup time. Level ordering:
// error, warn, info, debug, verbose, access.
package applog

import (
	"log"
)

// Level is one of the recognized LOG_LEVEL values.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
	LevelVerbose
	LevelAccess
)

func ParseLevel(s string) Level {
	switch s {
	case "error":
		return LevelError
	case "warn":
		return LevelWarn
	case "debug":
		return LevelDebug
	case "verbose":
		return LevelVerbose
	case "access":
		return LevelAccess
	default:
		return LevelInfo
	}
}

var current = LevelInfo

// Setup configures the process-wide log level and, if requested and
// available, a journald output sink.
func Setup(level string, withJournald bool) {
	current = ParseLevel(level)
	setupJournald(withJournald)
}

func enabled(l Level) bool { return l <= current }

func Errorf(format string, args ...any) {
	if enabled(LevelError) {
		log.Printf("[error] "+format, args...)
	}
}

func Warnf(format string, args ...any) {
	if enabled(LevelWarn) {
		log.Printf("[warn] "+format, args...)
	}
}

func Infof(format string, args ...any) {
	if enabled(LevelInfo) {
		log.Printf("[info] "+format, args...)
	}
}

func Debugf(format string, args ...any) {
	if enabled(LevelDebug) {
		log.Printf("[debug] "+format, args...)
	}
}

func Verbosef(format string, args ...any) {
	if enabled(LevelVerbose) {
		log.Printf("[verbose] "+format, args...)
	}
}

func Accessf(format string, args ...any) {
	if enabled(LevelAccess) {
		log.Printf("[access] "+format, args...)
	}
}
