package core

import (
	"sort"

	"github.com/josephlewis42/simplesh/core/shell"
)

// ExitCommand stops the read loop.
const ExitCommand = "exit"

// Builtin is a command handled by the shell rather than a child process.
type Builtin struct {
	Name string
	Help string
}

// ListBuiltins returns the builtins sorted by name.
func ListBuiltins() []Builtin {
	out := []Builtin{
		{Name: shell.OpHistory, Help: "run the previous command line again"},
		{Name: ExitCommand, Help: "stop reading commands"},
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}
