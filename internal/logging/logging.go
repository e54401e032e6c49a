package logging

import (
	"io"
	"os"
	"strings"

	"github.com/labstack/gommon/log"
)

// #region header
const header = `{"time":"${time_rfc3339}","level":"${level}","prefix":"${prefix}"}`

// #endregion header

// #region constructors
// New returns a leveled logger writing JSON-prefixed lines to stderr.
func New(prefix string, level string) *log.Logger {
	return NewWithOutput(prefix, level, os.Stderr)
}

// NewWithOutput is New with an explicit destination.
func NewWithOutput(prefix string, level string, w io.Writer) *log.Logger {
	l := log.New(prefix)
	l.SetOutput(w)
	l.SetHeader(header)
	SetLevel(l, level)
	return l
}

// Discard returns a logger that drops everything.
func Discard(prefix string) *log.Logger {
	l := log.New(prefix)
	l.SetOutput(io.Discard)
	l.SetLevel(log.OFF)
	return l
}

// #endregion constructors

// #region level
// ParseLevel maps a level name to a gommon level. Empty means warn.
func ParseLevel(level string) (log.Lvl, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DEBUG, true
	case "info":
		return log.INFO, true
	case "warn", "warning", "":
		return log.WARN, true
	case "error":
		return log.ERROR, true
	case "off":
		return log.OFF, true
	default:
		return log.WARN, false
	}
}

// SetLevel applies a level by name, falling back to warn on unknown names.
func SetLevel(l *log.Logger, level string) {
	lvl, ok := ParseLevel(level)
	l.SetLevel(lvl)
	if !ok {
		l.Warnf("unknown log level %q, using warn", level)
	}
}

// #endregion level
