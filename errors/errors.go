package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Sentinel errors shared across packages. Callers test for them with Is;
// New and Wrapf keep them reachable through the wrapped chain.
var (
	// ErrProtocolViolation: the oracle returned a message shape the loop
	// cannot act on.
	ErrProtocolViolation      = stderrors.New("protocol violation")
	ErrIterationLimitExceeded = stderrors.New("exceeded maximum iterations")
	ErrToolExecution          = stderrors.New("tool execution failed")
	ErrUnknownTool            = stderrors.New("unknown tool")
	ErrProposalNotFound       = stderrors.New("proposal not found")
	ErrChangeRangeNotFound    = stderrors.New("change range not found")
	ErrOracleTransport        = stderrors.New("oracle transport failure")
	ErrUnsupportedFileType    = stderrors.New("unsupported file type")
	ErrSessionBusy            = stderrors.New("a planning loop is already running for this session")
	ErrInstructionNotFound    = stderrors.New("instruction not found")
	ErrSurfaceNotRegistered   = stderrors.New("no document surface registered")
)

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s", file, line, fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s: %w", file, line, fmt.Sprintf(format, a...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }
