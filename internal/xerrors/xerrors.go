// Package xerrors provides structured error classification for the transcode
// pipeline. Every fallible step tags its failures as either permanent (bad
// input data, will never succeed on retry) or transient (infrastructure
// trouble, worth redelivering). The queue uses the tag to decide between
// rescheduling with backoff and failing a message terminally.
package xerrors

import (
	"errors"
	"fmt"
)

// Class partitions pipeline failures for retry decisions.
type Class string

const (
	// ClassPermanent marks errors caused by the input itself: missing
	// records, unsupported media types, unusable probe metadata. Retrying
	// cannot fix them.
	ClassPermanent Class = "permanent"
	// ClassTransient marks infrastructure errors: network I/O, subprocess
	// crashes, resource contention. Redelivery may succeed.
	ClassTransient Class = "transient"
)

// Sentinel errors shared across the pipeline.
var (
	// ErrAssetNotFound indicates the media asset record does not exist.
	ErrAssetNotFound = errors.New("media asset not found")

	// ErrNoVideoStream indicates the probed file contains no video stream.
	ErrNoVideoStream = errors.New("no video stream found")

	// ErrTimeout indicates a subprocess exceeded its deadline.
	ErrTimeout = errors.New("subprocess timed out")
)

// PipelineError wraps an error with its retry classification and the
// operation that produced it.
type PipelineError struct {
	Class Class
	Op    string
	Err   error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Permanent tags err as unretryable. A nil err yields nil.
func Permanent(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Class: ClassPermanent, Op: op, Err: err}
}

// Transient tags err as retryable. A nil err yields nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Class: ClassTransient, Op: op, Err: err}
}

// Permanentf tags a formatted error as unretryable.
func Permanentf(op, format string, args ...interface{}) error {
	return &PipelineError{Class: ClassPermanent, Op: op, Err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err (or any error it wraps) is classified
// permanent. Unclassified errors default to transient: infrastructure is the
// common failure mode, and a wasted retry is cheaper than a stuck asset.
func IsPermanent(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Class == ClassPermanent
	}
	return false
}

// GetClass extracts the classification from an error, defaulting to transient.
func GetClass(err error) Class {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassTransient
}

// GetOp extracts the failing operation name, if the error carries one.
func GetOp(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Op
	}
	return ""
}

// Truncate bounds an error message for persistence. The record store column
// holds operator-facing text, not full stack dumps.
func Truncate(msg string, max int) string {
	if max <= 0 || len(msg) <= max {
		return msg
	}
	return msg[:max]
}
