package core

import (
	"io/fs"

	"github.com/cockroachdb/errors"
	"github.com/josephlewis42/simplesh/core/shell"
	"golang.org/x/sys/unix"
)

var (
	// ErrNoHistory is returned when !! is used before any command ran.
	ErrNoHistory = errors.New("no commands in history")

	// ErrSyntax marks lines whose operators can't be dispatched.
	ErrSyntax = shell.ErrSyntax

	// ErrChild marks failures that only terminate the command being started.
	ErrChild = errors.New("child failed")

	// ErrFatal marks failures that terminate the interpreter.
	ErrFatal = errors.New("interpreter failed")
)

// Exit statuses reported for commands that never ran.
const (
	StatusFailure     = 1
	StatusSyntax      = 2
	StatusNotRunnable = 126
	StatusNotFound    = 127
)

// classifyStartErr marks an error from process creation. Running out of
// processes or memory can't be recovered from, everything else is local to
// the command.
func classifyStartErr(err error) error {
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ENOMEM) {
		return errors.Mark(err, ErrFatal)
	}
	return errors.Mark(err, ErrChild)
}

// describeChildErr converts a child failure into a message and exit status.
func describeChildErr(err error) (string, int) {
	var pathErr *fs.PathError
	switch {
	case errors.Is(err, ErrNotFound):
		return "command not found", StatusNotFound
	case errors.Is(err, fs.ErrNotExist):
		return "No such file or directory", StatusNotFound
	case errors.Is(err, fs.ErrPermission):
		return "permission denied", StatusNotRunnable
	case errors.Is(err, unix.ENOEXEC):
		return "exec format error", StatusNotRunnable
	case errors.As(err, &pathErr):
		return pathErr.Err.Error(), StatusFailure
	default:
		return err.Error(), StatusFailure
	}
}
