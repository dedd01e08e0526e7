package core

import (
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"
)

// Stream identifies one of a process's standard streams.
type Stream int

const (
	StreamStdin Stream = iota
	StreamStdout
	StreamStderr
)

// ProcessSpec describes a process to create. Argv[0] is the program name.
type ProcessSpec struct {
	Argv []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Wire binds f to the target standard stream, replacing whatever was there.
// Files backed by the OS are handed to the child directly, others are
// copied by the spawner.
func (p *ProcessSpec) Wire(target Stream, f afero.File) {
	switch target {
	case StreamStdin:
		p.Stdin = f
	case StreamStdout:
		p.Stdout = f
	case StreamStderr:
		p.Stderr = f
	}
}

// ExitStatus is the way a child finished.
type ExitStatus struct {
	Code     int
	Exited   bool
	Signaled bool
	Stopped  bool
}

// Success is true if the child exited with status 0.
func (e ExitStatus) Success() bool {
	return e.Exited && e.Code == 0
}

func exitStatusFromState(state *os.ProcessState) ExitStatus {
	if state == nil {
		return ExitStatus{Code: StatusFailure}
	}

	out := ExitStatus{
		Code:   state.ExitCode(),
		Exited: state.Exited(),
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		out.Signaled = ws.Signaled()
		out.Stopped = ws.Stopped()
		if out.Signaled {
			out.Code = 128 + int(ws.Signal())
		}
	}
	return out
}

// ChildHandle is a started process.
type ChildHandle interface {
	// Pid returns the OS process ID.
	Pid() int
	// Wait blocks until the child finishes and releases its resources. It
	// must be called exactly once.
	Wait() (ExitStatus, error)
}

// Spawner creates processes.
type Spawner interface {
	Spawn(spec ProcessSpec) (ChildHandle, error)
}

// ExecSpawner starts real OS processes, resolving programs through Fs using
// the PATH returned by Getenv.
type ExecSpawner struct {
	Fs     afero.Fs
	Getenv func(key string) string
}

var _ Spawner = (*ExecSpawner)(nil)

// NewExecSpawner creates a spawner for the host OS.
func NewExecSpawner() *ExecSpawner {
	return &ExecSpawner{
		Fs:     afero.NewOsFs(),
		Getenv: os.Getenv,
	}
}

// Spawn resolves and starts the program. Resolution failures are marked
// ErrChild, start failures are classified by classifyStartErr.
func (s *ExecSpawner) Spawn(spec ProcessSpec) (ChildHandle, error) {
	if len(spec.Argv) == 0 {
		return nil, errors.Mark(errors.New("empty command"), ErrSyntax)
	}

	path, err := LookPath(s.Fs, s.Getenv("PATH"), spec.Argv[0])
	if err != nil {
		return nil, errors.Mark(err, ErrChild)
	}

	cmd := &exec.Cmd{
		Path:   path,
		Args:   spec.Argv,
		Stdin:  spec.Stdin,
		Stdout: spec.Stdout,
		Stderr: spec.Stderr,
	}
	if err := cmd.Start(); err != nil {
		return nil, classifyStartErr(err)
	}

	return &execChild{cmd: cmd}, nil
}

type execChild struct {
	cmd *exec.Cmd
}

func (c *execChild) Pid() int {
	return c.cmd.Process.Pid
}

func (c *execChild) Wait() (ExitStatus, error) {
	err := c.cmd.Wait()

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// The process finished but copying one of its streams failed.
		return exitStatusFromState(c.cmd.ProcessState), err
	}
	return exitStatusFromState(c.cmd.ProcessState), nil
}
