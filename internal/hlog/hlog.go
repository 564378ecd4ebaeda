// Package hlog is a thin leveled wrapper around the standard logger,
// in the register of the "daemon: message" lines the rest of this
// codebase's ancestry favors over a structured-logging dependency.
package hlog

import (
	"log"
	"os"
)

type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "?"
	}
}

// Logger prints prefixed, leveled lines to an underlying *log.Logger.
type Logger struct {
	prefix string
	out    *log.Logger
}

// New creates a Logger writing to stderr with the given prefix (e.g. "hawck-inputd").
func New(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		out:    log.New(os.Stderr, "", log.Ldate|log.Ltime),
	}
}

func (l *Logger) logf(lvl Level, format string, v ...interface{}) {
	l.out.Printf("%s: [%s] "+format, append([]interface{}{l.prefix, lvl}, v...)...)
}

func (l *Logger) Infof(format string, v ...interface{})     { l.logf(LevelInfo, format, v...) }
func (l *Logger) Warnf(format string, v ...interface{})     { l.logf(LevelWarn, format, v...) }
func (l *Logger) Errorf(format string, v ...interface{})    { l.logf(LevelError, format, v...) }
func (l *Logger) Criticalf(format string, v ...interface{}) { l.logf(LevelCritical, format, v...) }
