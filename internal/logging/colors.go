package logging

import "github.com/fatih/color"

// level.color() returns the fatih/color formatter used to prefix a log line
// at the given level. Using the library (instead of hand-rolled ANSI escapes)
// means colors are automatically suppressed when stdout/stderr isn't a TTY.
var levelColor = map[Level]*color.Color{
	Error: color.New(color.FgRed, color.Bold),
	Warn:  color.New(color.FgYellow),
	Info:  color.New(color.FgGreen),
	Debug: color.New(color.FgCyan),
}

func (l Level) color() *color.Color {
	if c, ok := levelColor[l]; ok {
		return c
	}
	return color.New(color.FgWhite)
}
