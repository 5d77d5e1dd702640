// Package logging builds the process logger from configuration.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"exoweb/internal/config"
)

// RFC3339Milli is the timestamp layout used by both formats.
const RFC3339Milli = "2006-01-02T15:04:05.000Z07:00"

// New returns a logger writing to stderr. An unparsable level falls back
// to info with a warning.
func New(cfg config.LogConfig) *logrus.Logger {
	return NewWithOutput(cfg, os.Stderr)
}

// NewWithOutput is New with an explicit destination.
func NewWithOutput(cfg config.LogConfig, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: RFC3339Milli})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: RFC3339Milli})
	}

	levelFlag := cfg.Level
	if levelFlag == "" {
		levelFlag = "info"
	}
	level, err := logrus.ParseLevel(levelFlag)
	if err != nil {
		log.Warnf("could not parse log level '%s', using info", levelFlag)
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
