package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger writes JSON log lines to stdout and a rotating file.
type Logger struct {
	*logrus.Logger
	file io.Closer
}

// New creates a logger that writes to <dir>/backfill.log and stdout.
func New(dir, level string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create logs folder failed: %w", err)
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "backfill.log"),
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}

	l := logrus.New()
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	l.SetOutput(io.MultiWriter(file, os.Stdout))
	return &Logger{Logger: l, file: file}, nil
}

// NewWriter creates a logger writing only to w. Used by tests and tools.
func NewWriter(w io.Writer) *Logger {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetOutput(w)
	return &Logger{Logger: l}
}

// NewNop discards everything.
func NewNop() *Logger {
	return NewWriter(io.Discard)
}

// Close flushes and closes the rotating file, if any.
func (l *Logger) Close() {
	if l.file == nil {
		return
	}
	_ = l.file.Close()
}
