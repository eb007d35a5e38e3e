package commands

import (
	"fmt"

	"github.com/commonsnetwork/commonsync/src/audit"
	"github.com/spf13/cobra"
)

//NewVerifyCmd returns the command that verifies an audit log's hash chain
func NewVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [file]",
		Short: "Verify the hash chain of an audit log file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  verify,
	}

	return cmd
}

func verify(cmd *cobra.Command, args []string) error {
	path := _config.AuditFile()
	if len(args) == 1 {
		path = args[0]
	}

	if !audit.VerifyFile(path) {
		return fmt.Errorf("%s: hash chain INVALID", path)
	}

	fmt.Printf("%s: hash chain valid\n", path)

	return nil
}
