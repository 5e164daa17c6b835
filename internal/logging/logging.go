// Package logging builds the process logger and the per-instance fields
// attached to every log line of a start attempt.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options configures New.
type Options struct {
	// Level is a logrus level name (trace, debug, info, warn, error).
	Level string

	// Format is "text" or "json".
	Format string

	// Output defaults to os.Stderr.
	Output io.Writer
}

// New builds a logger from opts.
func New(opts Options) (*logrus.Logger, error) {
	logger := logrus.New()

	if opts.Output != nil {
		logger.SetOutput(opts.Output)
	} else {
		logger.SetOutput(os.Stderr)
	}

	level := opts.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}
	logger.SetLevel(lvl)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q (must be text or json)", opts.Format)
	}

	return logger, nil
}

// Ensure returns log, or the standard logger when log is nil.
func Ensure(log logrus.FieldLogger) logrus.FieldLogger {
	if log == nil {
		return logrus.StandardLogger()
	}
	return log
}

// Field names shared across packages.
const (
	FieldInstance = "instance"
	FieldVolume   = "volume_id"
	FieldVIF      = "vif_id"
	FieldDevice   = "device"
)

// ForInstance scopes log to one instance.
func ForInstance(log logrus.FieldLogger, uuid string) logrus.FieldLogger {
	return Ensure(log).WithField(FieldInstance, uuid)
}

// ForVolume scopes log to one volume.
func ForVolume(log logrus.FieldLogger, volumeID string) logrus.FieldLogger {
	return Ensure(log).WithField(FieldVolume, volumeID)
}
