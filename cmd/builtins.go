package cmd

import (
	"fmt"

	"github.com/josephlewis42/simplesh/core"
	"github.com/spf13/cobra"
)

var builtinsCmd = &cobra.Command{
	Use:   "builtins",
	Short: "Show the commands handled by the shell itself.",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, builtin := range core.ListBuiltins() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", builtin.Name, builtin.Help)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(builtinsCmd)
}
