// Package shell turns a command line into tokens and decides how it should be
// dispatched.
package shell

/**
The grammar understood by the interpreter is deliberately small:

1. A line is split into tokens on runs of the space character. Tabs are part
of a token.

2. The tokens are scanned for the operator tokens !!, >, < and |. Operators are
only recognized as whole tokens, "a>b" is a plain argument.

3. A trailing & token (on a line with at least two tokens) runs the command in
the background.

4. A line has at most one redirection or one pipe. The first operator wins.

5. In quote-aware mode, tokens with quoted or escaped characters are plain
arguments even if they spell an operator.
**/

import (
	"strings"
	"unicode"

	"github.com/anmitsu/go-shlex"
	"github.com/cockroachdb/errors"
)

// Operator tokens.
const (
	OpHistory    = "!!"
	OpRedirOut   = ">"
	OpRedirIn    = "<"
	OpPipe       = "|"
	OpBackground = "&"
)

// ErrSyntax is returned when the operators on a line can't be executed.
var ErrSyntax = errors.New("syntax error")

// Tokenize splits a line on runs of spaces. The input string is not modified
// and the returned tokens never share state with previous calls.
func Tokenize(line string) []string {
	return strings.FieldsFunc(line, func(r rune) bool {
		return r == ' '
	})
}

// TokenizeQuoted splits a line using POSIX quoting rules. Tokens that
// contain quoted or escaped characters are literal, so "|" is an argument
// rather than a pipe.
func TokenizeQuoted(line string) (Line, error) {
	tokens, err := shlex.Split(line, true)
	if err != nil {
		return Line{}, errors.Mark(errors.Wrap(err, "unterminated quote"), ErrSyntax)
	}

	literal, ok := literalTokens(line, len(tokens))
	if !ok {
		return Line{}, errors.Mark(errors.Newf("can't split %q into words", line), ErrSyntax)
	}
	return Line{Tokens: tokens, literal: literal}, nil
}

type word struct {
	text   string
	quoted bool
}

// splitWords splits a line into POSIX words, recording which ones had
// quoted or escaped characters.
func splitWords(line string) []word {
	var (
		words   []word
		cur     strings.Builder
		inWord  bool
		quoted  bool
		escaped bool
		quote   rune
	)

	flush := func() {
		if inWord {
			words = append(words, word{text: cur.String(), quoted: quoted})
		}
		cur.Reset()
		inWord, quoted = false, false
	}

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escaped = true
			default:
				cur.WriteRune(r)
			}
		case r == '\\':
			inWord, quoted, escaped = true, true, true
		case r == '\'' || r == '"':
			inWord, quoted, quote = true, true, r
		case unicode.IsSpace(r):
			flush()
		default:
			inWord = true
			cur.WriteRune(r)
		}
	}
	flush()

	return words
}

// literalTokens lines the words of line up with the n tokens produced by
// shlex.
func literalTokens(line string, n int) ([]bool, bool) {
	words := splitWords(line)
	if len(words) != n {
		// Empty quoted words may have been dropped.
		var kept []word
		for _, w := range words {
			if w.text != "" {
				kept = append(kept, w)
			}
		}
		words = kept
	}
	if len(words) != n {
		return nil, false
	}

	literal := make([]bool, n)
	for i, w := range words {
		literal[i] = w.quoted
	}
	return literal, true
}

// Line is a tokenized command line. Literal tokens never act as operators.
type Line struct {
	Tokens []string

	// literal is nil or the same length as Tokens.
	literal []bool
}

// NewLine wraps tokens that have no quoting information, every operator
// token counts.
func NewLine(tokens []string) Line {
	return Line{Tokens: tokens}
}

// Literal reports whether token i came from quoted text.
func (l Line) Literal(i int) bool {
	return l.literal != nil && l.literal[i]
}

func (l Line) isOp(i int) bool {
	if l.Literal(i) {
		return false
	}
	switch l.Tokens[i] {
	case OpHistory, OpRedirOut, OpRedirIn, OpPipe, OpBackground:
		return true
	}
	return false
}

// slice returns tokens [from, to) without sharing capacity past to.
func (l Line) slice(from, to int) Line {
	out := Line{Tokens: l.Tokens[from:to:to]}
	if l.literal != nil {
		out.literal = l.literal[from:to:to]
	}
	return out
}

// Kind is the dispatch strategy for a line.
type Kind int

const (
	Normal Kind = iota
	HistoryReplay
	Redirect
	Pipe
)

func (k Kind) String() string {
	switch k {
	case Normal:
		return "normal"
	case HistoryReplay:
		return "history"
	case Redirect:
		return "redirect"
	case Pipe:
		return "pipe"
	default:
		return "unknown"
	}
}

// Direction of a redirection.
type Direction int

const (
	Out Direction = iota
	In
)

func (d Direction) String() string {
	if d == In {
		return OpRedirIn
	}
	return OpRedirOut
}

// Shape is the classified form of a token sequence. Direction is only
// meaningful when Kind is Redirect.
type Shape struct {
	Kind      Kind
	Direction Direction
}

func (s Shape) String() string {
	if s.Kind == Redirect {
		return s.Kind.String() + s.Direction.String()
	}
	return s.Kind.String()
}

// Classify scans the tokens and returns the shape of the command. A !! token
// anywhere wins, otherwise the leftmost of >, < and | decides.
func Classify(tokens []string) Shape {
	return NewLine(tokens).Shape()
}

// Shape classifies the line like Classify, skipping literal tokens.
func (l Line) Shape() Shape {
	for i, tok := range l.Tokens {
		if tok == OpHistory && l.isOp(i) {
			return Shape{Kind: HistoryReplay}
		}
	}

	for i, tok := range l.Tokens {
		if !l.isOp(i) {
			continue
		}
		switch tok {
		case OpRedirOut:
			return Shape{Kind: Redirect, Direction: Out}
		case OpRedirIn:
			return Shape{Kind: Redirect, Direction: In}
		case OpPipe:
			return Shape{Kind: Pipe}
		}
	}

	return Shape{Kind: Normal}
}

// ExtractBackground strips a trailing & and reports whether it was present.
// A lone & is left alone and treated as a command name.
func ExtractBackground(tokens []string) ([]string, bool) {
	line, background := NewLine(tokens).ExtractBackground()
	return line.Tokens, background
}

// ExtractBackground strips a trailing unquoted &.
func (l Line) ExtractBackground() (Line, bool) {
	last := len(l.Tokens) - 1
	if last > 0 && l.Tokens[last] == OpBackground && l.isOp(last) {
		return l.slice(0, last), true
	}
	return l, false
}

// RedirectSpec is a command with one of its standard streams bound to a file.
type RedirectSpec struct {
	Argv      []string
	Direction Direction
	Path      string
}

// ParseRedirect partitions tokens at the first > or < token. Tokens after the
// target path are ignored.
func ParseRedirect(tokens []string) (RedirectSpec, error) {
	return NewLine(tokens).Redirect()
}

// Redirect partitions the line at its first unquoted > or <.
func (l Line) Redirect() (RedirectSpec, error) {
	for i, tok := range l.Tokens {
		if !l.isOp(i) {
			continue
		}

		var dir Direction
		switch tok {
		case OpRedirOut:
			dir = Out
		case OpRedirIn:
			dir = In
		default:
			continue
		}

		switch {
		case i == 0:
			return RedirectSpec{}, errors.Mark(errors.Newf("missing command before %q", tok), ErrSyntax)
		case i+1 >= len(l.Tokens):
			return RedirectSpec{}, errors.Mark(errors.Newf("missing file after %q", tok), ErrSyntax)
		}

		return RedirectSpec{
			Argv:      l.slice(0, i).Tokens,
			Direction: dir,
			Path:      l.Tokens[i+1],
		}, nil
	}

	return RedirectSpec{}, errors.Mark(errors.New("no redirection operator"), ErrSyntax)
}

// PipeSpec is a two stage pipeline, Left's stdout feeds Right's stdin.
type PipeSpec struct {
	Left  []string
	Right []string
}

// ParsePipe partitions tokens at the | token. Exactly one | is supported.
func ParsePipe(tokens []string) (PipeSpec, error) {
	return NewLine(tokens).Pipe()
}

// Pipe partitions the line at its unquoted |.
func (l Line) Pipe() (PipeSpec, error) {
	idx := -1
	for i, tok := range l.Tokens {
		if tok != OpPipe || !l.isOp(i) {
			continue
		}
		if idx >= 0 {
			return PipeSpec{}, errors.Mark(errors.New("only two stage pipelines are supported"), ErrSyntax)
		}
		idx = i
	}

	switch {
	case idx < 0:
		return PipeSpec{}, errors.Mark(errors.New("no pipe operator"), ErrSyntax)
	case idx == 0:
		return PipeSpec{}, errors.Mark(errors.New("missing command before \"|\""), ErrSyntax)
	case idx == len(l.Tokens)-1:
		return PipeSpec{}, errors.Mark(errors.New("missing command after \"|\""), ErrSyntax)
	}

	return PipeSpec{
		Left:  l.slice(0, idx).Tokens,
		Right: l.Tokens[idx+1:],
	}, nil
}
