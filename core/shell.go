package core

import (
	"bufio"
	"io"
	"io/ioutil"
	"log"
	"sync"
	"unicode/utf8"

	"github.com/abiosoft/readline"
	"github.com/josephlewis42/simplesh/core/config"
	"github.com/josephlewis42/simplesh/core/shell"
)

// LineReader supplies command lines without their trailing newline. It
// returns io.EOF when input is exhausted.
type LineReader interface {
	Readline() (string, error)
}

// Shell is the read loop in front of an Interpreter.
type Shell struct {
	Interpreter *Interpreter
	Reader      LineReader

	config *config.Configuration
	log    *log.Logger
	// gate holds the line editor's input while commands run, nil for
	// non-interactive shells.
	gate *gatedReader
}

// NewShell creates a shell that reads from stdin. Interactive shells get a
// line editor and prompt, others read plain lines.
func NewShell(interp *Interpreter, cfg *config.Configuration, stdin io.ReadCloser, stdout, stderr io.Writer, interactive bool, logger *log.Logger) (*Shell, error) {
	if logger == nil {
		logger = log.New(ioutil.Discard, "", 0)
	}

	var (
		reader LineReader
		gate   *gatedReader
	)
	if interactive {
		// Children read the same stdin, the editor may only read while it's
		// waiting for a line.
		gate = newGatedReader(stdin)
		rlConfig := &readline.Config{
			Prompt: cfg.Prompt,
			Stdin:  readline.NewCancelableStdin(gate),
			Stdout: stdout,
			Stderr: stderr,
		}

		if err := rlConfig.Init(); err != nil {
			return nil, err
		}

		instance, err := readline.NewEx(rlConfig)
		if err != nil {
			return nil, err
		}
		reader = instance
	} else {
		reader = NewScannerReader(stdin)
	}

	return &Shell{
		Interpreter: interp,
		Reader:      reader,
		config:      cfg,
		log:         logger,
		gate:        gate,
	}, nil
}

// Run reads and dispatches lines until input ends, an exit command is read
// or the interpreter hits a fatal error.
func (s *Shell) Run() error {
	for {
		s.gate.Open()
		line, err := s.Reader.Readline()
		s.gate.Shut()

		switch {
		case err == io.EOF:
			return nil // Input closed, quit.

		case err == readline.ErrInterrupt:
			// Interrupt clears line.
			continue

		case err != nil:
			s.log.Printf("Error readline: %v", err)
			return err
		}

		line = truncateLine(line, s.config.MaxLineLength)
		if isExit(line) {
			return nil
		}

		if err := s.Interpreter.Dispatch(line); err != nil {
			return err
		}
	}
}

// Close releases the line reader.
func (s *Shell) Close() error {
	s.gate.Close()
	if closer, ok := s.Reader.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// truncateLine cuts line to at most max bytes without splitting a rune.
func truncateLine(line string, max int) string {
	if max <= 0 || len(line) <= max {
		return line
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	return line[:cut]
}

func isExit(line string) bool {
	tokens := shell.Tokenize(line)
	return len(tokens) > 0 && tokens[0] == ExitCommand
}

// ScannerReader reads newline delimited lines from a non-interactive source.
type ScannerReader struct {
	scanner *bufio.Scanner
}

var _ LineReader = (*ScannerReader)(nil)

// NewScannerReader creates a LineReader over r.
func NewScannerReader(r io.Reader) *ScannerReader {
	return &ScannerReader{scanner: bufio.NewScanner(r)}
}

// Readline returns the next line with its trailing newline and carriage
// return removed.
func (s *ScannerReader) Readline() (string, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	line := s.scanner.Text()
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, nil
}

// gatedReader passes reads through to r only while it is open. It shuts
// itself after returning a line ending so a reader that keeps reading ahead
// can't take input meant for the next child.
type gatedReader struct {
	r io.Reader

	mu     sync.Mutex
	cond   *sync.Cond
	open   bool
	closed bool
}

func newGatedReader(r io.Reader) *gatedReader {
	g := &gatedReader{r: r}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Read blocks until the gate is open. It returns io.EOF once closed.
func (g *gatedReader) Read(p []byte) (int, error) {
	g.mu.Lock()
	for !g.open && !g.closed {
		g.cond.Wait()
	}
	closed := g.closed
	g.mu.Unlock()

	if closed {
		return 0, io.EOF
	}

	n, err := g.r.Read(p)
	for _, b := range p[:n] {
		if b == '\r' || b == '\n' {
			g.Shut()
			break
		}
	}
	return n, err
}

// Open lets reads through. It's a no-op on a nil gate.
func (g *gatedReader) Open() {
	g.set(func() { g.open = true })
}

// Shut blocks subsequent reads until the next Open.
func (g *gatedReader) Shut() {
	g.set(func() { g.open = false })
}

// Close releases blocked readers with io.EOF.
func (g *gatedReader) Close() {
	g.set(func() { g.closed = true })
}

func (g *gatedReader) set(update func()) {
	if g == nil {
		return
	}
	g.mu.Lock()
	update()
	g.mu.Unlock()
	g.cond.Broadcast()
}
