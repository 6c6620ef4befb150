package status

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

// Control signals travel as errors through a job's message loop. They are
// handled structurally and never logged as failures themselves.
var (
	// ErrTerminate aborts the entire job tree. Every ancestor re-raises it.
	ErrTerminate = errors.New("terminate extraction")
	// ErrRestart re-runs the job that raised it from scratch. Only the
	// immediate caller catches it.
	ErrRestart = errors.New("restart extraction")
)

// StopError is a soft stop: the current job's loop ends, its message (if
// any) is logged, and Code is merged into the job status. Siblings and
// ancestors continue.
type StopError struct {
	Message string
	Code    Status
}

func (e *StopError) Error() string {
	if e.Message == "" {
		return "stop extraction"
	}
	return e.Message
}

// ExitError requests immediate process exit with the given code. It
// propagates uncaught like ErrTerminate; main converts it to os.Exit.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit with code %d", e.Code)
}

// IsControl reports whether err is one of the structural control signals
// that must propagate to the caller unchanged.
func IsControl(err error) bool {
	var exit *ExitError
	return errors.Is(err, ErrTerminate) || errors.Is(err, ErrRestart) || errors.As(err, &exit)
}

// IsStorageFull reports whether err indicates exhausted storage. Such
// errors re-raise immediately instead of being absorbed into the status.
func IsStorageFull(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}

// IsOS reports whether err is an operating system level failure.
func IsOS(err error) bool {
	var pathErr *fs.PathError
	var linkErr *os.LinkError
	var syscallErr *os.SyscallError
	return errors.As(err, &pathErr) || errors.As(err, &linkErr) || errors.As(err, &syscallErr)
}
