// Package logging constructs the process-wide structured logger used by
// target, dm, lva and blockdev. A single *logrus.Logger is built once at
// startup and threaded into each subsystem's constructor, rather than
// referenced as a package-level global, so tests can attach a hook to a
// private instance.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logger writing to stderr at the given level. An empty or
// unrecognized level string falls back to logrus.InfoLevel.
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stderr
	log.Formatter = &logrus.TextFormatter{FullTimestamp: true}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.Level = lvl

	return log
}

// Discard builds a logger that drops everything, for use in tests that
// don't want subsystem logging on stdout/stderr.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stderr
	log.Level = logrus.PanicLevel
	return log
}
