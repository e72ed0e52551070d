package training

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// TrainingLog is the append-only run log. Every line is synced to disk before
// Logf returns and is mirrored to the console writer.
type TrainingLog struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	console io.Writer
	closed  bool
}

// OpenTrainingLog opens (or creates) path for appending. An empty path keeps
// only the console mirror; a nil console disables mirroring.
func OpenTrainingLog(path string, console io.Writer) (*TrainingLog, error) {
	tl := &TrainingLog{path: path, console: console}
	if path == "" {
		return tl, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open training log %s", path)
	}
	tl.file = f
	return tl, nil
}

// Logf formats one line, appends it with a trailing newline and syncs.
func (tl *TrainingLog) Logf(format string, args ...interface{}) error {
	line := fmt.Sprintf(format, args...) + "\n"

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.closed {
		return errors.Errorf("training log %s is closed", tl.path)
	}
	if tl.file != nil {
		if _, err := io.WriteString(tl.file, line); err != nil {
			return errors.Wrapf(err, "write training log %s", tl.path)
		}
		if err := tl.file.Sync(); err != nil {
			return errors.Wrapf(err, "sync training log %s", tl.path)
		}
	}
	if tl.console != nil {
		if _, err := io.WriteString(tl.console, line); err != nil {
			return errors.Wrap(err, "mirror training log")
		}
	}
	return nil
}

// Path returns the log file path, empty for a console-only log.
func (tl *TrainingLog) Path() string {
	return tl.path
}

// Close closes the file. Calling it more than once is a no-op.
func (tl *TrainingLog) Close() error {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.closed {
		return nil
	}
	tl.closed = true
	if tl.file == nil {
		return nil
	}
	if err := tl.file.Close(); err != nil {
		return errors.Wrapf(err, "close training log %s", tl.path)
	}
	return nil
}
