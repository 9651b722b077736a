package engine

import (
	"errors"
	"strings"
)

// Sentinel errors
var (
	// ErrSizeUnknown means the origin did not advertise a content length.
	ErrSizeUnknown = errors.New("cannot determine file size")

	// ErrCorruptResumeRecord means a state file could not be parsed or
	// violates the record invariants. Callers treat it as "no resume
	// available" and may start fresh with the same job id.
	ErrCorruptResumeRecord = errors.New("corrupt resume record")
)

// fatalError marks failures the retry supervisor must not absorb, such as
// local I/O errors. The job aborts on the first one.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

func isFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// friendlyMessage converts technical errors to the short human-readable
// message carried by the error event.
func friendlyMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrSizeUnknown) {
		return "Server did not report a file size; download cannot be segmented."
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such host"):
		return "Server not found. Check the URL is correct."
	case strings.Contains(msg, "connection refused"):
		return "Server is offline or unreachable."
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return "Connection timed out. Try again later."
	case strings.Contains(msg, "certificate"):
		return "SSL certificate error. The server may not be secure."
	default:
		return msg
	}
}
