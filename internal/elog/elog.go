// Package elog is the leader-election core's single logging seam.
//
// It generalizes the teacher's shared/logging package (level set, timestamp
// format, color-per-level) onto a *logrus.Logger so call sites attach
// structured fields (term, role, topic, memberID) instead of interpolating
// strings by hand.
package elog

import (
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Fields is a convenience alias so callers don't need to import logrus
// directly just to attach structured fields.
type Fields = logrus.Fields

var std = New()

// New builds a fresh logger with the package's default formatter.
func New() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&colorFormatter{})
	l.SetLevel(logrus.TraceLevel)
	return l
}

// colorFormatter maps each logrus level to the same color the teacher's
// shared/logging package used, so console output reads the same.
type colorFormatter struct{}

const timeFormat = "2006-01-02 15:04:05"

func (colorFormatter) Format(e *logrus.Entry) ([]byte, error) {
	paint := color.New(levelColor(e.Level))
	line := paint.Sprintf("%s %-5s %s", e.Time.Format(timeFormat), levelTag(e.Level), e.Message)

	for k, v := range e.Data {
		line += paint.Sprintf(" %s=%v", k, v)
	}

	return append([]byte(line), '\n'), nil
}

func levelColor(l logrus.Level) color.Attribute {
	switch l {
	case logrus.TraceLevel:
		return color.FgCyan
	case logrus.DebugLevel:
		return color.FgGreen
	case logrus.InfoLevel:
		return color.FgWhite
	case logrus.WarnLevel:
		return color.FgBlue
	default:
		return color.FgRed
	}
}

func levelTag(l logrus.Level) string {
	switch l {
	case logrus.TraceLevel:
		return "TRACE"
	case logrus.DebugLevel:
		return "DEBUG"
	case logrus.InfoLevel:
		return "INFO"
	case logrus.WarnLevel:
		return "WARN"
	default:
		return "ERROR"
	}
}

// Default returns the package-level logger used when a component isn't
// handed its own.
func Default() *logrus.Logger { return std }

// With is shorthand for Default().WithFields.
func With(fields Fields) *logrus.Entry { return std.WithFields(fields) }
