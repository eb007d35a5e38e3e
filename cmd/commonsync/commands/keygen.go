package commands

import (
	"fmt"

	"github.com/commonsnetwork/commonsync/src/commons"
	"github.com/commonsnetwork/commonsync/src/crypto/keys"
	"github.com/spf13/cobra"
)

//NewKeygenCmd produces a KeygenCmd which creates an encrypted key pair
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create new key pair",
		RunE:  keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

//AddKeygenFlags adds flags to the keygen command
func AddKeygenFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.DataDir, "Directory where the encrypted key and its envelope secret will be written")
}

func keygen(cmd *cobra.Command, args []string) error {
	datadir, err := cmd.Flags().GetString("datadir")
	if err != nil {
		return err
	}

	key, err := commons.Keygen(datadir)
	if err != nil {
		return err
	}

	fmt.Printf("Your encrypted key has been saved under: %s\n", datadir)
	fmt.Printf("DID: %s\n", keys.DIDFromPrivateKey(key))
	fmt.Printf("PublicKey: %s\n", keys.PublicKeyHex(keys.PublicKey(key)))

	return nil
}
