// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Config selects the log level, format and destination
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
	File   string `yaml:"file"`   // empty means stderr
}

const timestampFormat = "2006-01-02 15:04:05.000"

// New creates a logger from cfg. An unknown level falls back to info.
// When cfg.File is set the returned closer must be closed on exit.
func New(cfg Config) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	default:
		return nil, nil, fmt.Errorf("unknown log format: %q (use text or json)", cfg.Format)
	}

	log.SetOutput(os.Stderr)
	if cfg.File == "" {
		return log, nopCloser{}, nil
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
	}
	log.SetOutput(file)
	return log, file, nil
}

// Discard returns a logger that drops everything. Used by tests and by
// the TUI when no log file is configured, so log lines never draw over
// the alternate screen.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// Component returns an entry tagged with the component name
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
