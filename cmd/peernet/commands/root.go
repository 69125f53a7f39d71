package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for peernet
var RootCmd = &cobra.Command{
	Use:              "peernet",
	Short:            "peer-to-peer overlay simulator and emulator",
	TraverseChildren: true,
}
