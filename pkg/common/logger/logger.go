package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. It is usable before Init so that packages
// can log from tests without extra setup.
var Log = newLogger(os.Stdout, "info")

// Init configures the process-wide logger from LOG_LEVEL.
func Init() {
	Log = newLogger(os.Stdout, os.Getenv("LOG_LEVEL"))
}

// SetOutput redirects the logger, mostly for tests and CLI use.
func SetOutput(w io.Writer) {
	Log.SetOutput(w)
}

func newLogger(w io.Writer, level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	if level == "" {
		level = "info"
	}
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	l.SetLevel(logLevel)
	return l
}

func WithField(key string, value interface{}) *logrus.Entry {
	return Log.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}

// WithSession scopes log entries to one training session.
func WithSession(sessionID string) *logrus.Entry {
	return Log.WithField("session_id", sessionID)
}
