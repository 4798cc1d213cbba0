// Package logging sets up the prefixed standard loggers every component
// writes to, optionally mirrored into a size-rotated log file.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Levels accepted by Options.Level.
const (
	LevelInfo  = "info"
	LevelDebug = "debug"
)

// Rotation limits of the log file.
const (
	MaxSizeMB  = 10
	MaxBackups = 3
	MaxAgeDays = 28
)

// Options configures the log output.
type Options struct {
	// File mirrors every line into a rotated log file when set.
	File string
	// Level is info or debug.
	Level string
	// Stderr receives the console copy of the log. Defaults to os.Stderr.
	Stderr io.Writer
}

// Logging hands out prefixed loggers sharing one output.
type Logging struct {
	out   io.Writer
	file  *lumberjack.Logger
	debug bool
}

// New opens the log output described by opts.
func New(opts Options) (*Logging, error) {
	level := strings.ToLower(opts.Level)
	if level == "" {
		level = LevelInfo
	}
	if level != LevelInfo && level != LevelDebug {
		return nil, fmt.Errorf("unknown log level %q", opts.Level)
	}

	var out io.Writer = os.Stderr
	if opts.Stderr != nil {
		out = opts.Stderr
	}

	l := &Logging{out: out, debug: level == LevelDebug}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    MaxSizeMB,
			MaxBackups: MaxBackups,
			MaxAge:     MaxAgeDays,
			Compress:   true,
		}
		l.out = io.MultiWriter(out, l.file)
	}
	return l, nil
}

// Discard returns a Logging that drops everything.
func Discard() *Logging {
	return &Logging{out: io.Discard}
}

// Logger returns a logger writing with the "[name] " prefix.
func (l *Logging) Logger(name string) *log.Logger {
	return log.New(l.out, "["+name+"] ", log.LstdFlags)
}

// Debug reports whether debug output is enabled.
func (l *Logging) Debug() bool { return l.debug }

// Writer returns the shared output.
func (l *Logging) Writer() io.Writer { return l.out }

// Close flushes and closes the log file, if any.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
