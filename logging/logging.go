// Package logging builds the application logger: text records on stderr and,
// when a file is configured, the same records in a size-rotated log file.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultMaxSizeMB  = 3
	DefaultMaxBackups = 5
)

type Options struct {
	// File is the rotated log file. Empty logs to the console only.
	File       string
	Level      slog.Level
	MaxSizeMB  int
	MaxBackups int
	// Console receives the same records. Nil means os.Stderr.
	Console io.Writer
}

// Logger owns the rotating file, if any.
type Logger struct {
	*slog.Logger
	file *lumberjack.Logger
}

func New(opts Options) *Logger {
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = DefaultMaxSizeMB
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = DefaultMaxBackups
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	l := &Logger{}
	out := console
	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		out = io.MultiWriter(console, l.file)
	}

	l.Logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: opts.Level}))
	return l
}

// Rotate starts a new log file.
func (l *Logger) Rotate() error {
	if l.file == nil {
		return nil
	}
	return l.file.Rotate()
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
