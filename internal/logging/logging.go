package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"
)

// Options selects the log level and destination.
type Options struct {
	Level     string
	Output    string // "stdout" or "file"
	Directory string
	MaxAge    int // days
	Name      string
}

// New builds the process logger. With Output "file" entries go to hourly
// rotated files under Directory; rotated files are gzipped.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if opts.Output != "file" {
		logger.SetOutput(os.Stdout)
		return logger, nopCloser{}, nil
	}

	rl, err := newRotator(opts)
	if err != nil {
		return nil, nil, err
	}
	logger.SetOutput(rl)
	return logger, rl, nil
}

func newRotator(opts Options) (*rotatelogs.RotateLogs, error) {
	dir := opts.Directory
	if dir == "" {
		dir = "./logs"
	}
	name := opts.Name
	if name == "" {
		name = "service.log"
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = 2
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	rl, err := rotatelogs.New(
		filepath.Join(dir, "%Y-%m-%d-%H-"+name),
		rotatelogs.WithLinkName(filepath.Join(dir, name)),
		rotatelogs.WithRotationTime(time.Hour),
		rotatelogs.WithMaxAge(time.Duration(maxAge)*24*time.Hour),
		rotatelogs.WithHandler(rotatelogs.HandlerFunc(func(e rotatelogs.Event) {
			rotated, ok := e.(*rotatelogs.FileRotatedEvent)
			if !ok || rotated.PreviousFile() == "" {
				return
			}
			_ = compress(rotated.PreviousFile())
		})),
	)
	if err != nil {
		return nil, fmt.Errorf("open log rotation: %w", err)
	}
	return rl, nil
}

// compress gzips src next to itself and removes the original.
func compress(src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(src+".gz", os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		_ = gz.Close()
		_ = out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
