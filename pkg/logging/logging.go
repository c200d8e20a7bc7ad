// Package logging builds the zerolog loggers used by every command.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the log encoding.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New returns a logger writing to out at level. Unknown levels fall back to info. Callers pass
// the result down explicitly; the zerolog global logger is left alone.
func New(app, level, format string, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if format != FormatJSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(ParseLevel(level)).With().Timestamp().Str("app", app).Logger()
}

// ParseLevel maps a level name to a zerolog level. "critical" is an alias for fatal severity.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return zerolog.FatalLevel
	case "":
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Critical starts a message at fatal severity without exiting the process. Used for conditions
// that need operator attention but must not abort a run.
func Critical(l *zerolog.Logger) *zerolog.Event {
	return l.WithLevel(zerolog.FatalLevel).Str("severity", "critical")
}
