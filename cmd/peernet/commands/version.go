package commands

import (
	"fmt"
	"runtime"

	"github.com/mosaicnetworks/peernet/src/version"
	"github.com/spf13/cobra"
)

// VersionCmd prints the peernet release, and with --verbose the Go runtime
// the binary was built with.
var VersionCmd = newVersionCmd()

func newVersionCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the peernet release",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "peernet", version.Version)
			if verbose {
				fmt.Fprintf(out, "go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			}
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Also print the Go runtime")

	return cmd
}
