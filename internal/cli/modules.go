package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"jamfwatch/internal/source"
)

// newModulesCmd creates the `modules` command.
// Usage: jamfwatch modules
func newModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the available collection modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listModules(source.Builtin(), cmd.OutOrStdout())
		},
	}
}

func listModules(registry *source.Registry, out io.Writer) error {
	for _, a := range registry.All() {
		fmt.Fprintf(out, "%-16s %s/\n", a.Name(), a.Category())
	}
	return nil
}
