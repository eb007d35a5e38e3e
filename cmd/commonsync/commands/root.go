package commands

import (
	"github.com/commonsnetwork/commonsync/src/config"
	"github.com/spf13/cobra"
)

var _config = config.NewDefaultConfig()

//RootCmd is the root command for commonsync
var RootCmd = &cobra.Command{
	Use:              "commonsync",
	Short:            "commonsync node",
	TraverseChildren: true,
}
