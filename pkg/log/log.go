// Package log centralizes logrus configuration for every subsystem in
// this repository. Each package builds one subsystem-scoped entry with
// New and logs through it.
package log

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

func init() {
	base.SetLevel(logrus.InfoLevel)
	base.SetOutput(os.Stderr)
}

// SetLevel parses and applies a logrus level by name. Callers treat an
// unparsable level as a fatal configuration error at startup.
func SetLevel(level string) error {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	base.SetLevel(l)
	return nil
}

// SetFormat selects "json" or (anything else) text formatting.
func SetFormat(format string) {
	if format == "json" {
		base.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetOutput redirects every subsystem logger's destination.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// New returns a subsystem-scoped logger tagged with a "process" field.
func New(subsystem string) *logrus.Entry {
	return base.WithField("process", subsystem)
}
