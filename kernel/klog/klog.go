// Package klog is the kernel's logging front end. Every component obtains a
// named entry once at package init and logs through it; where the output ends
// up (serial console, framebuffer ring) is decided by whoever calls SetOutput
// during bring-up.
package klog

import (
	"io"

	"github.com/sirupsen/logrus"
)

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})

	return l
}

// Component returns the log entry for the named kernel component.
func Component(name string) *logrus.Entry {
	return logger.WithField("component", name)
}

// SetLevel adjusts the global log verbosity.
func SetLevel(level logrus.Level) {
	logger.SetLevel(level)
}

// SetOutput redirects all kernel log output to the given writer.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}
