// Package errs defines the failure taxonomy shared by every stage of a run.
//
// Each stage wraps the underlying cause in an *Error tagged with a Kind, so the
// command line can report what class of problem stopped the job without parsing
// messages.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure.
type Kind int

const (
	// Configuration covers invalid run parameters.
	Configuration Kind = iota + 1
	// Dataset covers missing, empty or malformed image directories.
	Dataset
	// Filesystem covers output directory and file write failures.
	Filesystem
	// Training covers failures inside the training or inference primitives.
	Training
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "ConfigurationError"
	case Dataset:
		return "DatasetError"
	case Filesystem:
		return "FilesystemError"
	case Training:
		return "TrainingError"
	default:
		return "UnknownError"
	}
}

// Error is a classified failure. Path is optional.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + ": " + e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Err }

// Cause satisfies github.com/pkg/errors.Cause.
func (e *Error) Cause() error { return e.Err }

// Format prints the cause's stack trace with %+v when one was recorded.
func (e *Error) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		fmt.Fprintf(s, "%s: %s", e.Kind, e.Op)
		if e.Path != "" {
			fmt.Fprintf(s, " %s", e.Path)
		}
		if e.Err != nil {
			fmt.Fprintf(s, ": %+v", e.Err)
		}
		return
	}
	fmt.Fprint(s, e.Error())
}

func newError(kind Kind, op, path string, err error) error {
	if err == nil {
		err = errors.New("failed")
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: errors.WithStack(err)}
}

// Config returns a ConfigurationError.
func Config(op string, err error) error {
	return newError(Configuration, op, "", err)
}

// Configf returns a ConfigurationError with a formatted cause.
func Configf(op, format string, args ...interface{}) error {
	return newError(Configuration, op, "", errors.Errorf(format, args...))
}

// Data returns a DatasetError for path.
func Data(op, path string, err error) error {
	return newError(Dataset, op, path, err)
}

// Dataf returns a DatasetError for path with a formatted cause.
func Dataf(op, path, format string, args ...interface{}) error {
	return newError(Dataset, op, path, errors.Errorf(format, args...))
}

// FS returns a FilesystemError for path.
func FS(op, path string, err error) error {
	return newError(Filesystem, op, path, err)
}

// Train returns a TrainingError.
func Train(op string, err error) error {
	return newError(Training, op, "", err)
}

// Trainf returns a TrainingError with a formatted cause.
func Trainf(op, format string, args ...interface{}) error {
	return newError(Training, op, "", errors.Errorf(format, args...))
}

// Is reports whether any error in err's chain is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
