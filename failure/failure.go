// Package failure defines the error kinds that abort a training run.
//
// Every kind wraps its cause with github.com/pkg/errors so a stack trace is
// attached at the point the failure was first classified. Callers inspect the
// kind with errors.As or with the Is* helpers below.
package failure

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// DataLoadError reports a malformed, unreadable or exhausted batch source.
type DataLoadError struct {
	Op  string
	Err error
}

func (e *DataLoadError) Error() string {
	return fmt.Sprintf("data load: %s: %v", e.Op, e.Err)
}

func (e *DataLoadError) Unwrap() error { return e.Err }

// Cause makes the kind transparent to errors.Cause.
func (e *DataLoadError) Cause() error { return e.Err }

// ComputeError reports a shape mismatch or a non-finite value produced by
// the model or the loss.
type ComputeError struct {
	Op  string
	Err error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("compute: %s: %v", e.Op, e.Err)
}

func (e *ComputeError) Unwrap() error { return e.Err }

func (e *ComputeError) Cause() error { return e.Err }

// CheckpointIOError reports a failure writing or reading a checkpoint.
type CheckpointIOError struct {
	Path string
	Err  error
}

func (e *CheckpointIOError) Error() string {
	return fmt.Sprintf("checkpoint %s: %v", e.Path, e.Err)
}

func (e *CheckpointIOError) Unwrap() error { return e.Err }

func (e *CheckpointIOError) Cause() error { return e.Err }

// DataLoad wraps err as a DataLoadError. A nil err yields nil.
func DataLoad(err error, op string) error {
	if err == nil {
		return nil
	}
	return &DataLoadError{Op: op, Err: errors.WithStack(err)}
}

// DataLoadf builds a DataLoadError from a message.
func DataLoadf(op string, format string, args ...interface{}) error {
	return &DataLoadError{Op: op, Err: errors.Errorf(format, args...)}
}

// Compute wraps err as a ComputeError. A nil err yields nil.
func Compute(err error, op string) error {
	if err == nil {
		return nil
	}
	return &ComputeError{Op: op, Err: errors.WithStack(err)}
}

// Computef builds a ComputeError from a message.
func Computef(op string, format string, args ...interface{}) error {
	return &ComputeError{Op: op, Err: errors.Errorf(format, args...)}
}

// CheckpointIO wraps err as a CheckpointIOError for path. A nil err yields nil.
func CheckpointIO(err error, path string) error {
	if err == nil {
		return nil
	}
	return &CheckpointIOError{Path: path, Err: errors.WithStack(err)}
}

// CheckpointIOf builds a CheckpointIOError from a message.
func CheckpointIOf(path string, format string, args ...interface{}) error {
	return &CheckpointIOError{Path: path, Err: errors.Errorf(format, args...)}
}

// IsDataLoad reports whether err is or wraps a DataLoadError.
func IsDataLoad(err error) bool {
	var target *DataLoadError
	return stderrors.As(err, &target)
}

// IsCompute reports whether err is or wraps a ComputeError.
func IsCompute(err error) bool {
	var target *ComputeError
	return stderrors.As(err, &target)
}

// IsCheckpointIO reports whether err is or wraps a CheckpointIOError.
func IsCheckpointIO(err error) bool {
	var target *CheckpointIOError
	return stderrors.As(err, &target)
}
