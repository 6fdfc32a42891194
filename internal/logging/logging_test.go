package logging

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNewStdoutLevel(t *testing.T) {
	logger, closer, err := New(Options{Level: "DEBUG"})
	require.NoError(t, err)
	defer closer.Close()
	require.Equal(t, logrus.DebugLevel, logger.GetLevel())
	require.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger, _, err = New(Options{Level: "loud"})
	require.NoError(t, err)
	require.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestNewFileOutputWritesJSON(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := New(Options{Level: "info", Output: "file", Directory: dir, MaxAge: 1, Name: "test.log"})
	require.NoError(t, err)

	logger.WithField("component", "test").Info("hello")
	require.NoError(t, closer.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "*-test.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"hello"`)
	require.Contains(t, string(data), `"component":"test"`)
}

func TestCompressReplacesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.log")
	require.NoError(t, os.WriteFile(path, []byte("line one\n"), 0o644))

	require.NoError(t, compress(path))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))

	f, err := os.Open(path + ".gz")
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "line one"))
}
