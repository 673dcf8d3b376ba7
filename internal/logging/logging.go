// Package logging builds the zerolog logger used by every command: a console
// writer on stderr plus an optional JSON file per day.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

const fileDayLayout = "2006-01-02"

type Options struct {
	Level string
	// Dir enables the JSON file sink when set.
	Dir string
	// Console defaults to os.Stderr.
	Console io.Writer
	Now     func() time.Time
}

// Logger owns the optional log file; Close releases it.
type Logger struct {
	zerolog.Logger
	file *os.File
}

func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        console,
		TimeFormat: time.DateTime,
		NoColor:    !isTerminal(console) || os.Getenv("NO_COLOR") != "",
	}}

	var file *os.File
	if dir := strings.TrimSpace(opts.Dir); dir != "" {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		file, err = openDailyFile(dir, now())
		if err != nil {
			return nil, err
		}
		writers = append(writers, file)
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	if level <= zerolog.DebugLevel {
		logger = logger.With().Caller().Logger()
	}

	return &Logger{Logger: logger, file: file}, nil
}

func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// FileName is the JSON log file written for day.
func FileName(day time.Time) string {
	return "json-" + day.Format(fileDayLayout) + ".log"
}

func ParseLevel(value string) (zerolog.Level, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(value))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse log level %q: %w", value, err)
	}
	return level, nil
}

func openDailyFile(dir string, day time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName(day))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}
