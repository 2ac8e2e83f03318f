package log

import (
	"strings"

	"github.com/fatih/color"
)

type LogLevel int

const (
	Debug LogLevel = iota
	Info
	Warn
	Error
	Fatal
)

// Parse maps a config level name to a LogLevel; unknown names fall back to Info.
func Parse(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG", "TRACE":
		return Debug
	case "INFO", "":
		return Info
	case "WARN", "WARNING":
		return Warn
	case "ERROR":
		return Error
	case "FATAL":
		return Fatal
	default:
		return Info
	}
}

func (l LogLevel) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	default:
		return "INFO"
	}
}

var levelColors = map[LogLevel]*color.Color{
	Debug: color.New(color.FgHiBlack),
	Warn:  color.New(color.FgYellow),
	Error: color.New(color.FgRed),
	Fatal: color.New(color.FgRed, color.Bold),
}

// Colorize renders line in the colour of l. Info stays plain, and
// color.NoColor disables colouring entirely.
func (l LogLevel) Colorize(line string) string {
	c, ok := levelColors[l]
	if !ok {
		return line
	}
	return c.Sprint(line)
}
