// Package tracelog is a thin level-filtered wrapper around the stdlib
// logger, grounded on kcptun's own log.SetFlags(log.LstdFlags |
// log.Lshortfile) / log.Println(...) idiom (client/main.go,
// server/main.go) plus its github.com/fatih/color use for startup
// warnings.
package tracelog

import (
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
)

// Level mirrors n3n's TRACE_ERROR/TRACE_WARNING/TRACE_INFO/TRACE_DEBUG
// levels from spec.md §7.
type Level int

const (
	Error Level = iota
	Warning
	Info
	Debug
)

func (l Level) String() string {
	switch l {
	case Error:
		return "ERROR"
	case Warning:
		return "WARNING"
	case Info:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// Logger filters and formats log lines by level, writing through a
// stdlib *log.Logger the way kcptun redirects log output to a file
// (see client/main.go's "log redirect" block).
type Logger struct {
	level  Level
	logger *log.Logger
}

// New builds a Logger writing to os.Stderr at the given verbosity (a level
// lower than requested is suppressed).
func New(level Level) *Logger {
	l := log.New(os.Stderr, "", log.LstdFlags)
	return &Logger{level: level, logger: l}
}

// SetOutputFile redirects log output the way kcptun's "log" CLI flag
// does, opening for append and keeping the file open for the process
// lifetime.
func (l *Logger) SetOutputFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	l.logger.SetOutput(f)
	return nil
}

func (l *Logger) log(level Level, v ...any) {
	if level > l.level {
		return
	}
	l.logger.Println(append([]any{"[" + level.String() + "]"}, v...)...)
}

func (l *Logger) Errorf(format string, args ...any)   { l.log(Error, fmt.Sprintf(format, args...)) }
func (l *Logger) Warningf(format string, args ...any) { l.log(Warning, fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)    { l.log(Info, fmt.Sprintf(format, args...)) }
func (l *Logger) Debugf(format string, args ...any)   { l.log(Debug, fmt.Sprintf(format, args...)) }

// Warn prints a highlighted startup warning, matching kcptun's own
// color.Red(...) calls for configuration sanity checks (client/main.go's
// QPP/scavenger warnings).
func Warn(format string, args ...any) {
	color.Red(format, args...)
}
