package core

import (
	"errors"
	"io"
	"io/ioutil"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/abiosoft/readline"
	"github.com/josephlewis42/simplesh/core/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type scriptedRead struct {
	line string
	err  error
}

type scriptedReader struct {
	reads []scriptedRead
}

func (s *scriptedReader) Readline() (string, error) {
	if len(s.reads) == 0 {
		return "", io.EOF
	}
	next := s.reads[0]
	s.reads = s.reads[1:]
	return next.line, next.err
}

func lines(in ...string) []scriptedRead {
	var out []scriptedRead
	for _, line := range in {
		out = append(out, scriptedRead{line: line})
	}
	return out
}

func newTestShell(t *testing.T, spawner Spawner, reads []scriptedRead, modify func(cfg *config.Configuration)) *Shell {
	t.Helper()

	ti := newTestInterpreter(t, spawner, modify)
	sh, err := NewShell(ti.Interpreter, ti.config, ioutil.NopCloser(strings.NewReader("")), ti.stdout, ti.stderr, false, nil)
	require.NoError(t, err)
	sh.Reader = &scriptedReader{reads: reads}
	return sh
}

func TestShellRun(t *testing.T) {
	cases := map[string]struct {
		reads []scriptedRead
		want  [][]string
	}{
		"eof": {
			reads: lines("echo one", "echo two"),
			want:  [][]string{{"echo", "one"}, {"echo", "two"}},
		},
		"exit": {
			reads: lines("echo one", "exit", "echo two"),
			want:  [][]string{{"echo", "one"}},
		},
		"exit with status": {
			reads: lines("exit 3", "echo two"),
		},
		"interrupt clears line": {
			reads: []scriptedRead{{err: readline.ErrInterrupt}, {line: "echo one"}},
			want:  [][]string{{"echo", "one"}},
		},
		"blank lines": {
			reads: lines("", "   ", "echo one"),
			want:  [][]string{{"echo", "one"}},
		},
	}

	for tn, tc := range cases {
		t.Run(tn, func(t *testing.T) {
			spawner := &fakeSpawner{}
			sh := newTestShell(t, spawner, tc.reads, nil)

			assert.NoError(t, sh.Run())
			assert.Equal(t, tc.want, spawner.Argvs())
		})
	}
}

func TestShellRunReadError(t *testing.T) {
	readErr := errors.New("terminal went away")
	spawner := &fakeSpawner{}
	sh := newTestShell(t, spawner, []scriptedRead{{err: readErr}, {line: "echo one"}}, nil)

	assert.ErrorIs(t, sh.Run(), readErr)
	assert.Empty(t, spawner.Argvs())
}

func TestShellRunFatal(t *testing.T) {
	spawner := &fakeSpawner{
		errs: map[string]error{"echo": classifyStartErr(&os.SyscallError{Syscall: "fork", Err: unix.ENOMEM})},
	}
	sh := newTestShell(t, spawner, lines("echo one", "ls"), nil)

	assert.Error(t, sh.Run())
	assert.Equal(t, [][]string{{"echo", "one"}}, spawner.Argvs())
}

func TestShellTruncatesLongLines(t *testing.T) {
	spawner := &fakeSpawner{}
	sh := newTestShell(t, spawner, lines("echo 0123456789abcdef"), func(cfg *config.Configuration) {
		cfg.MaxLineLength = 10
	})

	assert.NoError(t, sh.Run())
	assert.Equal(t, [][]string{{"echo", "01234"}}, spawner.Argvs())

	last, err := sh.Interpreter.History().Last()
	assert.NoError(t, err)
	assert.Equal(t, "echo 01234", last)
}

func TestTruncateLine(t *testing.T) {
	cases := map[string]struct {
		line string
		max  int
		want string
	}{
		"short":          {"ls", 10, "ls"},
		"exact":          {"echo 01234", 10, "echo 01234"},
		"ascii":          {"echo 0123456789", 10, "echo 01234"},
		"no limit":       {"echo 0123456789", 0, "echo 0123456789"},
		"rune boundary":  {"echo héllo", 7, "echo h"},
		"after rune":     {"echo héllo", 8, "echo hé"},
		"wide runes":     {"日本語", 4, "日"},
		"first rune cut": {"日本語", 2, ""},
	}

	for tn, tc := range cases {
		t.Run(tn, func(t *testing.T) {
			got := truncateLine(tc.line, tc.max)
			assert.Equal(t, tc.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestIsExit(t *testing.T) {
	cases := map[string]bool{
		"exit":      true,
		"exit 1":    true,
		"  exit  ":  true,
		"exiting":   false,
		"echo exit": false,
		"":          false,
	}

	for line, want := range cases {
		t.Run(line, func(t *testing.T) {
			assert.Equal(t, want, isExit(line))
		})
	}
}

func TestScannerReader(t *testing.T) {
	reader := NewScannerReader(strings.NewReader("ls -l\r\necho hi\n\nwc"))

	var got []string
	for {
		line, err := reader.Readline()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, line)
	}

	assert.Equal(t, []string{"ls -l", "echo hi", "", "wc"}, got)
}

func TestNewShellNonInteractive(t *testing.T) {
	spawner := &fakeSpawner{}
	ti := newTestInterpreter(t, spawner, nil)

	stdin := ioutil.NopCloser(strings.NewReader("echo one\necho two | wc\nexit\necho three\n"))
	sh, err := NewShell(ti.Interpreter, ti.config, stdin, ti.stdout, ti.stderr, false, nil)
	require.NoError(t, err)
	defer sh.Close()

	assert.IsType(t, &ScannerReader{}, sh.Reader)
	assert.NoError(t, sh.Run())
	assert.Equal(t, [][]string{{"echo", "one"}, {"echo", "two"}, {"wc"}}, spawner.Argvs())
}

// chunkReader returns at most one chunk per Read.
type chunkReader struct {
	mu     sync.Mutex
	chunks []string
	reads  int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reads++
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	if c.chunks[0] = c.chunks[0][n:]; c.chunks[0] == "" {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func (c *chunkReader) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

func (c *chunkReader) Remaining() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.chunks...)
}

func TestGatedReader(t *testing.T) {
	src := &chunkReader{chunks: []string{"ls\r", "child input\n"}}
	gate := newGatedReader(src)

	done := make(chan string)
	read := func() {
		buf := make([]byte, 64)
		n, _ := gate.Read(buf)
		done <- string(buf[:n])
	}

	go read()
	select {
	case got := <-done:
		t.Fatalf("read %q before the gate opened", got)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, src.Reads())

	gate.Open()
	assert.Equal(t, "ls\r", <-done)

	// The line ending shut the gate again.
	go read()
	select {
	case got := <-done:
		t.Fatalf("read %q after a line ending", got)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, src.Reads())
	assert.Equal(t, []string{"child input\n"}, src.Remaining())

	gate.Close()
	assert.Equal(t, "", <-done)
}

func TestGatedReaderPartialLine(t *testing.T) {
	src := &chunkReader{chunks: []string{"ec", "ho\n"}}
	gate := newGatedReader(src)
	gate.Open()

	buf := make([]byte, 64)
	n, err := gate.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ec", string(buf[:n]))

	// No line ending yet, the gate stays open.
	n, err = gate.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ho\n", string(buf[:n]))
}

func TestNilGate(t *testing.T) {
	var gate *gatedReader
	gate.Open()
	gate.Shut()
	gate.Close()
}

// aheadReader keeps a read pending on r between lines like a line editor.
type aheadReader struct {
	lines chan string
}

func newAheadReader(r io.Reader) *aheadReader {
	a := &aheadReader{lines: make(chan string)}
	go func() {
		defer close(a.lines)
		buf := make([]byte, 64)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				a.lines <- strings.TrimRight(string(buf[:n]), "\r\n")
			}
			if err != nil {
				return
			}
		}
	}()
	return a
}

func (a *aheadReader) Readline() (string, error) {
	line, ok := <-a.lines
	if !ok {
		return "", io.EOF
	}
	return line, nil
}

func TestShellLeavesInputToChildren(t *testing.T) {
	src := &chunkReader{chunks: []string{"wc -l\n", "child input\n", "exit\n"}}

	var remaining [][]string
	spawner := &fakeSpawner{}
	sh := newTestShell(t, spawner, nil, nil)
	sh.gate = newGatedReader(src)
	sh.Reader = newAheadReader(sh.gate)
	defer sh.Close()

	spawner.onSpawn = func(spec ProcessSpec) {
		// Give the editor's pending read a chance to run.
		time.Sleep(20 * time.Millisecond)
		remaining = append(remaining, src.Remaining())
	}

	assert.NoError(t, sh.Run())
	assert.Equal(t, [][]string{{"wc", "-l"}, {"child", "input"}}, spawner.Argvs())
	assert.Equal(t, [][]string{{"child input\n", "exit\n"}, {"exit\n"}}, remaining)
}
