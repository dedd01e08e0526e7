package core

import (
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/josephlewis42/simplesh/core/config"
	"github.com/josephlewis42/simplesh/core/logger"
	"github.com/josephlewis42/simplesh/core/shell"
	"github.com/spf13/afero"
	"golang.org/x/term"
)

// InterpreterAttr holds the collaborators of an Interpreter. Nil fields other
// than Stdin get defaults backed by the host OS.
type InterpreterAttr struct {
	// Stdin is inherited by children, nil connects them to the null device.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Fs is used to open redirection targets.
	Fs afero.Fs
	// Spawner creates child processes.
	Spawner Spawner
	// Events receives structured events.
	Events *logger.SessionLogger
	// Log receives operational messages.
	Log *log.Logger
}

// Interpreter dispatches command lines to child processes. It is meant to be
// driven by a single read loop.
type Interpreter struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	config  *config.Configuration
	fs      afero.Fs
	spawner Spawner
	events  *logger.SessionLogger
	log     *log.Logger
	diag    *color.Color

	history History
	lastRet int

	background sync.WaitGroup
}

// NewInterpreter creates an interpreter using the given configuration.
func NewInterpreter(cfg *config.Configuration, attr *InterpreterAttr) *Interpreter {
	if attr == nil {
		attr = &InterpreterAttr{}
	}

	in := &Interpreter{
		stdin:   attr.Stdin,
		stdout:  attr.Stdout,
		stderr:  attr.Stderr,
		config:  cfg,
		fs:      attr.Fs,
		spawner: attr.Spawner,
		events:  attr.Events,
		log:     attr.Log,
		diag:    color.New(color.FgRed),
	}

	if in.stdout == nil {
		in.stdout = os.Stdout
	}
	if in.stderr == nil {
		in.stderr = os.Stderr
	}
	if in.fs == nil {
		in.fs = afero.NewOsFs()
	}
	if in.spawner == nil {
		in.spawner = &ExecSpawner{Fs: in.fs, Getenv: os.Getenv}
	}
	if in.events == nil {
		in.events = logger.NewNopLogger().Sessionless()
	}
	if in.log == nil {
		in.log = log.New(ioutil.Discard, "", 0)
	}

	switch cfg.Color {
	case config.ColorAlways:
		in.diag.EnableColor()
	case config.ColorNever:
		in.diag.DisableColor()
	default:
		if isTerminal(in.stderr) {
			in.diag.EnableColor()
		} else {
			in.diag.DisableColor()
		}
	}

	return in
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// LastStatus returns the exit status of the last foreground command.
func (in *Interpreter) LastStatus() int {
	return in.lastRet
}

// History returns the interpreter's history store.
func (in *Interpreter) History() *History {
	return &in.history
}

// WaitBackground blocks until every background child has been reaped.
func (in *Interpreter) WaitBackground() {
	in.background.Wait()
}

func (in *Interpreter) diagnose(format string, a ...interface{}) {
	in.diag.Fprintf(in.stderr, format+"\n", a...)
}

func (in *Interpreter) record(event logger.LogType) {
	if err := in.events.Record(event); err != nil {
		in.log.Printf("recording event: %v", err)
	}
}

func (in *Interpreter) tokenize(line string) (shell.Line, error) {
	if in.config.QuoteAware {
		return shell.TokenizeQuoted(line)
	}
	return shell.NewLine(shell.Tokenize(line)), nil
}

// Dispatch runs a single command line. Failures of the command itself are
// reported on the error stream and reflected in LastStatus, only failures
// that should terminate the interpreter are returned.
func (in *Interpreter) Dispatch(line string) error {
	if line == "" {
		return nil
	}

	parsed, err := in.tokenize(line)
	if err != nil {
		in.history.Record(line)
		in.syntaxError(line, err)
		return nil
	}
	if len(parsed.Tokens) == 0 {
		return nil
	}

	shape := parsed.Shape()
	if shape.Kind == shell.HistoryReplay {
		return in.replay()
	}

	in.history.Record(line)
	return in.dispatchShape(line, parsed, shape)
}

func (in *Interpreter) replay() error {
	line, err := in.history.Last()
	if err != nil {
		in.diagnose("No commands in history.")
		in.lastRet = StatusFailure
		return nil
	}

	parsed, err := in.tokenize(line)
	if err != nil {
		in.syntaxError(line, err)
		return nil
	}

	shape := parsed.Shape()
	if shape.Kind == shell.HistoryReplay || len(parsed.Tokens) == 0 {
		in.diagnose("!!: can't replay %q", line)
		in.lastRet = StatusFailure
		return nil
	}

	in.record(&logger.HistoryReplay{Line: line})
	if in.config.HistoryBanner {
		fmt.Fprintln(in.stdout, line)
	}

	return in.dispatchShape(line, parsed, shape)
}

func (in *Interpreter) dispatchShape(line string, parsed shell.Line, shape shell.Shape) error {
	parsed, background := parsed.ExtractBackground()

	switch shape.Kind {
	case shell.Redirect:
		return in.runRedirect(line, parsed, shape, background)
	case shell.Pipe:
		return in.runPipe(line, parsed, shape, background)
	default:
		return in.runNormal(parsed.Tokens, shape, background)
	}
}

func (in *Interpreter) syntaxError(line string, err error) {
	in.diagnose("syntax error: %v", err)
	in.record(&logger.InvalidInvocation{Line: line, Error: err.Error()})
	in.lastRet = StatusSyntax
}

func (in *Interpreter) newSpec(argv []string) ProcessSpec {
	return ProcessSpec{
		Argv:   argv,
		Stdin:  in.stdin,
		Stdout: in.stdout,
		Stderr: in.stderr,
	}
}

// spawn flushes buffered output so it can't be duplicated or reordered by
// the child and starts the process.
func (in *Interpreter) spawn(spec ProcessSpec, shape shell.Shape, background bool) (ChildHandle, error) {
	if flusher, ok := in.stdout.(interface{ Flush() error }); ok {
		if err := flusher.Flush(); err != nil {
			in.log.Printf("flushing output: %v", err)
		}
	}

	in.record(&logger.RunCommand{
		Command:    spec.Argv,
		Shape:      shape.String(),
		Background: background,
	})

	return in.spawner.Spawn(spec)
}

// spawnFailed reports a failed spawn. Interpreter fatal errors are returned.
func (in *Interpreter) spawnFailed(argv []string, err error) error {
	if errors.Is(err, ErrFatal) {
		in.diagnose("fork: %v", err)
		in.record(&logger.Fatal{Error: err.Error()})
		return errors.Wrapf(err, "starting %q", argv[0])
	}
	if errors.Is(err, ErrSyntax) {
		in.syntaxError(strings.Join(argv, " "), err)
		return nil
	}

	msg, status := describeChildErr(err)
	in.diagnose("%s: %s", argv[0], msg)
	in.record(&logger.UnknownCommand{Command: argv, ErrorMessage: err.Error()})
	in.lastRet = status
	return nil
}

// wait blocks on a foreground child and records its status.
func (in *Interpreter) wait(argv []string, child ChildHandle) ExitStatus {
	status, err := child.Wait()
	if err != nil {
		in.log.Printf("waiting for %q: %v", argv[0], err)
	}
	in.record(&logger.ChildExit{Command: argv, ExitCode: status.Code})
	return status
}

// reap collects a child without blocking the caller, closers are closed
// once it's gone.
func (in *Interpreter) reap(argv []string, child ChildHandle, closers ...io.Closer) {
	in.background.Add(1)
	go func() {
		defer in.background.Done()

		status, err := child.Wait()
		closeAll(closers)
		if err != nil {
			in.log.Printf("waiting for background %q: %v", argv[0], err)
		}
		in.record(&logger.ChildExit{Command: argv, ExitCode: status.Code, Background: true})
	}()
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}

func (in *Interpreter) runNormal(tokens []string, shape shell.Shape, background bool) error {
	spec := in.newSpec(tokens)

	child, err := in.spawn(spec, shape, background)
	if err != nil {
		return in.spawnFailed(spec.Argv, err)
	}

	if background {
		in.reap(spec.Argv, child)
		in.lastRet = 0
		return nil
	}

	in.lastRet = in.wait(spec.Argv, child).Code
	return nil
}

func (in *Interpreter) runRedirect(line string, parsed shell.Line, shape shell.Shape, background bool) error {
	redir, err := parsed.Redirect()
	if err != nil {
		in.syntaxError(line, err)
		return nil
	}

	var (
		file   afero.File
		target Stream
	)
	switch redir.Direction {
	case shell.In:
		target = StreamStdin
		file, err = in.fs.Open(redir.Path)
	default:
		target = StreamStdout
		file, err = in.fs.OpenFile(redir.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	}
	if err != nil {
		msg, _ := describeChildErr(err)
		in.diagnose("%s: %s", redir.Path, msg)
		in.record(&logger.InvalidInvocation{Line: line, Error: err.Error()})
		in.lastRet = StatusFailure
		return nil
	}

	spec := in.newSpec(redir.Argv)
	spec.Wire(target, file)

	child, err := in.spawn(spec, shape, background)
	if err != nil {
		file.Close()
		return in.spawnFailed(spec.Argv, err)
	}

	// The file stays open in the parent until the child is reaped because
	// files that aren't backed by the OS are copied by the spawner.
	if background {
		in.reap(spec.Argv, child, file)
		in.lastRet = 0
		return nil
	}

	in.lastRet = in.wait(spec.Argv, child).Code
	file.Close()
	return nil
}

func (in *Interpreter) runPipe(line string, parsed shell.Line, shape shell.Shape, background bool) error {
	pipe, err := parsed.Pipe()
	if err != nil {
		in.syntaxError(line, err)
		return nil
	}

	r, w, err := os.Pipe()
	if err != nil {
		in.diagnose("pipe: %v", err)
		in.lastRet = StatusFailure
		return nil
	}

	left := in.newSpec(pipe.Left)
	left.Wire(StreamStdout, w)
	right := in.newSpec(pipe.Right)
	right.Wire(StreamStdin, r)

	leftChild, leftErr := in.spawn(left, shape, background)
	// The child has its own copy of the write end, the reader only sees EOF
	// once every copy is closed.
	w.Close()
	if leftErr != nil {
		if errors.Is(leftErr, ErrFatal) {
			r.Close()
			return in.spawnFailed(left.Argv, leftErr)
		}
		// The right stage still runs and reads EOF.
		in.spawnFailed(left.Argv, leftErr)
		leftChild = nil
	}

	rightChild, err := in.spawn(right, shape, background)
	r.Close()
	if err != nil {
		// The left stage gets EPIPE once nothing reads from it.
		if leftChild != nil {
			if background {
				in.reap(left.Argv, leftChild)
			} else {
				in.wait(left.Argv, leftChild)
			}
		}
		return in.spawnFailed(right.Argv, err)
	}

	switch {
	case background:
		if leftChild != nil {
			in.reap(left.Argv, leftChild)
		}
		in.reap(right.Argv, rightChild)
		in.lastRet = 0
	case in.config.PipeWait == config.PipeWaitFirst:
		if leftChild != nil {
			in.lastRet = in.wait(left.Argv, leftChild).Code
		}
		in.reap(right.Argv, rightChild)
	default:
		if leftChild != nil {
			in.wait(left.Argv, leftChild)
		}
		in.lastRet = in.wait(right.Argv, rightChild).Code
	}
	return nil
}
